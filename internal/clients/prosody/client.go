// Package prosody talks to the speech analysis service that diarizes a
// waveform and labels each utterance with a vocal emotion.
package prosody

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/svcerr"
)

type Utterance struct {
	Text    string `json:"text"`
	Emotion string `json:"emotion"`
	StartMs int64  `json:"start_ms"`
	Speaker string `json:"speaker,omitempty"`
}

// ChunkAnalysis is the wire result for one audio chunk. VoiceScore and
// TextScore are the service's own estimates; the detector recomputes
// both deterministically from Utterances and the transcript.
type ChunkAnalysis struct {
	Utterances []Utterance `json:"utterances"`
	Text       string      `json:"text"`
	VoiceScore float64     `json:"voice_score,omitempty"`
	TextScore  float64     `json:"text_score,omitempty"`
	DurationMs int64       `json:"duration_ms,omitempty"`
}

type Client interface {
	AnalyzeChunk(ctx context.Context, waveformRef, transcript string) (*ChunkAnalysis, error)
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type client struct {
	log  *logger.Logger
	cfg  Config
	http *http.Client
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("missing prosody base URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &client{
		log:  log.With("client", "ProsodyClient"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type analyzeRequest struct {
	WaveformRef        string `json:"waveform_ref"`
	Transcript         string `json:"transcript,omitempty"`
	SpeakerDiarization bool   `json:"speaker_diarization"`
	EmotionSignal      bool   `json:"emotion_signal"`
}

func (c *client) AnalyzeChunk(ctx context.Context, waveformRef, transcript string) (*ChunkAnalysis, error) {
	if strings.TrimSpace(waveformRef) == "" {
		return nil, svcerr.Permanentf("prosody", "waveformRef required")
	}
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/analyze"
	out, err := doJSON[ChunkAnalysis](c, ctx, u, analyzeRequest{
		WaveformRef:        waveformRef,
		Transcript:         transcript,
		SpeakerDiarization: true,
		EmotionSignal:      true,
	})
	if err != nil {
		return nil, err
	}
	c.log.Debug("Chunk analyzed", "utterances", len(out.Utterances))
	return out, nil
}

func doJSON[T any](c *client, ctx context.Context, url string, body any) (*T, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, svcerr.Permanentf("prosody", "encode request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, &buf)
	if err != nil {
		return nil, svcerr.Permanentf("prosody", "build request: %v", err)
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &svcerr.TransientError{Service: "prosody", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if err := svcerr.FromStatus("prosody", resp.StatusCode, string(raw)); err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, svcerr.Permanentf("prosody", "decode: %v; raw=%s", err, string(raw))
	}
	return &out, nil
}
