package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/utils"
)

// PhraseRule maps a transcript substring to a sentiment and lexical
// friction score.
type PhraseRule struct {
	Phrase    string  `yaml:"phrase"`
	Sentiment string  `yaml:"sentiment"`
	Score     float64 `yaml:"score"`
}

type ServiceConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	MinBackoff  time.Duration `yaml:"min_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	JitterFrac  float64       `yaml:"jitter_frac"`
}

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	DBPath   string `yaml:"db_path"`
	WorkDir  string `yaml:"work_dir"`

	// Detection knobs. Emotion scores and phrase rules have defaults
	// matching the product's shipped tables; both are deploy-tunable.
	FrictionThreshold float64            `yaml:"friction_threshold"`
	EmotionScores     map[string]float64 `yaml:"emotion_scores"`
	EmotionSentiment  map[string]string  `yaml:"emotion_sentiment"`
	FrictionPhrases   []PhraseRule       `yaml:"friction_phrases"`

	// Diagnosis knobs.
	RecallK              int     `yaml:"recall_k"`
	EscalationSimilarity float64 `yaml:"escalation_similarity"`

	// Concurrency and retry.
	Workers     int            `yaml:"workers"`
	QueueSize   int            `yaml:"queue_size"`
	ServiceCaps map[string]int `yaml:"service_caps"`
	Retry       RetryConfig    `yaml:"retry"`

	// External collaborators.
	Prosody   ServiceConfig `yaml:"prosody"`
	Vision    ServiceConfig `yaml:"vision"`
	Reasoning ServiceConfig `yaml:"reasoning"`
	Research  ServiceConfig `yaml:"research"`
	Mockup    ServiceConfig `yaml:"mockup"`

	// Optional cross-instance dashboard bus.
	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
}

// Default returns the built-in configuration. Score and phrase tables
// mirror the shipped detector tuning.
func Default() Config {
	return Config{
		HTTPAddr:          ":8080",
		DBPath:            "lumina.db",
		WorkDir:           "uploads",
		FrictionThreshold: 0.6,
		EmotionScores: map[string]float64{
			"Frustrated": 0.85,
			"Angry":      0.85,
			"Confused":   0.75,
			"Uncertain":  0.75,
			"Hesitant":   0.65,
			"Anxious":    0.65,
			"Neutral":    0.2,
			"Happy":      0.2,
			"Calm":       0.2,
		},
		EmotionSentiment: map[string]string{
			"Frustrated": "Frustrated",
			"Angry":      "Frustrated",
			"Confused":   "Confused",
			"Uncertain":  "Confused",
			"Hesitant":   "Hesitant",
			"Anxious":    "Hesitant",
			"Neutral":    "Neutral",
			"Happy":      "Neutral",
			"Calm":       "Neutral",
		},
		FrictionPhrases: []PhraseRule{
			{Phrase: "can't figure", Sentiment: "Confused", Score: 0.80},
			{Phrase: "can't seem to", Sentiment: "Confused", Score: 0.75},
			{Phrase: "don't see", Sentiment: "Confused", Score: 0.75},
			{Phrase: "don't know how", Sentiment: "Confused", Score: 0.75},
			{Phrase: "confusing", Sentiment: "Confused", Score: 0.80},
			{Phrase: "confused", Sentiment: "Confused", Score: 0.80},
			{Phrase: "where is", Sentiment: "Confused", Score: 0.70},
			{Phrase: "where do i", Sentiment: "Confused", Score: 0.70},
			{Phrase: "how do i", Sentiment: "Confused", Score: 0.65},
			{Phrase: "not working", Sentiment: "Frustrated", Score: 0.80},
			{Phrase: "doesn't work", Sentiment: "Frustrated", Score: 0.80},
			{Phrase: "broken", Sentiment: "Frustrated", Score: 0.85},
			{Phrase: "frustrating", Sentiment: "Frustrated", Score: 0.85},
			{Phrase: "annoying", Sentiment: "Frustrated", Score: 0.80},
			{Phrase: "what the", Sentiment: "Frustrated", Score: 0.75},
			{Phrase: "makes no sense", Sentiment: "Frustrated", Score: 0.80},
			{Phrase: "no idea", Sentiment: "Confused", Score: 0.75},
			{Phrase: "impossible", Sentiment: "Frustrated", Score: 0.85},
			{Phrase: "stuck", Sentiment: "Frustrated", Score: 0.75},
			{Phrase: "give up", Sentiment: "Frustrated", Score: 0.90},
		},
		RecallK:              5,
		EscalationSimilarity: 0.55,
		Workers:              4,
		QueueSize:            256,
		ServiceCaps: map[string]int{
			"prosody":   4,
			"vision":    2,
			"reasoning": 2,
			"research":  2,
			"mockup":    1,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			MinBackoff:  time.Second,
			MaxBackoff:  30 * time.Second,
			JitterFrac:  0.20,
		},
		Prosody:      ServiceConfig{Timeout: 120 * time.Second},
		Vision:       ServiceConfig{Timeout: 60 * time.Second},
		Reasoning:    ServiceConfig{Timeout: 60 * time.Second},
		Research:     ServiceConfig{Timeout: 60 * time.Second},
		Mockup:       ServiceConfig{Timeout: 120 * time.Second},
		RedisChannel: "dashboard",
	}
}

// Load builds the config from defaults, an optional yaml file, then env
// overrides.
func Load(path string, log *logger.Logger) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
			if log != nil {
				log.Debug("Config file not found, using defaults", "path", path)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg, log)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, log *logger.Logger) {
	cfg.HTTPAddr = utils.GetEnv("HTTP_ADDR", cfg.HTTPAddr, log)
	cfg.DBPath = utils.GetEnv("DB_PATH", cfg.DBPath, log)
	cfg.WorkDir = utils.GetEnv("WORK_DIR", cfg.WorkDir, log)
	cfg.FrictionThreshold = utils.GetEnvAsFloat("FRICTION_THRESHOLD", cfg.FrictionThreshold, log)
	cfg.EscalationSimilarity = utils.GetEnvAsFloat("ESCALATION_SIMILARITY", cfg.EscalationSimilarity, log)
	cfg.RecallK = utils.GetEnvAsInt("RECALL_K", cfg.RecallK, log)
	cfg.Workers = utils.GetEnvAsInt("PIPELINE_WORKERS", cfg.Workers, log)
	cfg.QueueSize = utils.GetEnvAsInt("PIPELINE_QUEUE_SIZE", cfg.QueueSize, log)
	cfg.Retry.MaxAttempts = utils.GetEnvAsInt("RETRY_MAX_ATTEMPTS", cfg.Retry.MaxAttempts, log)
	cfg.RedisAddr = utils.GetEnv("REDIS_ADDR", cfg.RedisAddr, log)
	cfg.RedisChannel = utils.GetEnv("REDIS_CHANNEL", cfg.RedisChannel, log)

	cfg.Prosody.BaseURL = utils.GetEnv("PROSODY_BASE_URL", cfg.Prosody.BaseURL, log)
	cfg.Prosody.APIKey = utils.GetEnv("PROSODY_API_KEY", cfg.Prosody.APIKey, log)
	cfg.Vision.BaseURL = utils.GetEnv("VISION_BASE_URL", cfg.Vision.BaseURL, log)
	cfg.Vision.APIKey = utils.GetEnv("VISION_API_KEY", cfg.Vision.APIKey, log)
	cfg.Reasoning.BaseURL = utils.GetEnv("REASONING_BASE_URL", cfg.Reasoning.BaseURL, log)
	cfg.Reasoning.APIKey = utils.GetEnv("REASONING_API_KEY", cfg.Reasoning.APIKey, log)
	cfg.Research.BaseURL = utils.GetEnv("RESEARCH_BASE_URL", cfg.Research.BaseURL, log)
	cfg.Research.APIKey = utils.GetEnv("RESEARCH_API_KEY", cfg.Research.APIKey, log)
	cfg.Mockup.BaseURL = utils.GetEnv("MOCKUP_BASE_URL", cfg.Mockup.BaseURL, log)
	cfg.Mockup.APIKey = utils.GetEnv("MOCKUP_API_KEY", cfg.Mockup.APIKey, log)
}

func (c Config) Validate() error {
	if c.FrictionThreshold <= 0 || c.FrictionThreshold >= 1 {
		return fmt.Errorf("friction_threshold must be in (0,1), got %v", c.FrictionThreshold)
	}
	if c.EscalationSimilarity <= 0 || c.EscalationSimilarity > 1 {
		return fmt.Errorf("escalation_similarity must be in (0,1], got %v", c.EscalationSimilarity)
	}
	if c.RecallK <= 0 {
		return fmt.Errorf("recall_k must be positive, got %d", c.RecallK)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	return nil
}
