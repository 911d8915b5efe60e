package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/luminaux/lumina-backend/internal/clients/prosody"
	"github.com/luminaux/lumina-backend/internal/config"
	"github.com/luminaux/lumina-backend/internal/domain"
	"github.com/luminaux/lumina-backend/internal/extcall"
	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/svcerr"
)

// Detector fuses the prosodic and lexical signals for one chunk. The
// two scorers run concurrently and are joined before the fusion
// decision; the stronger signal always wins, never a blend.
type Detector struct {
	log     *logger.Logger
	cfg     config.Config
	prosody prosody.Client
	caller  *extcall.Caller
}

func NewDetector(log *logger.Logger, cfg config.Config, pc prosody.Client, caller *extcall.Caller) *Detector {
	return &Detector{
		log:     log.With("component", "FrictionDetector"),
		cfg:     cfg,
		prosody: pc,
		caller:  caller,
	}
}

type voiceResult struct {
	score     float64
	sentiment string
	quote     string
	offsetSec float64
}

type textResult struct {
	score     float64
	sentiment string
	quote     string
}

// Detect scores one chunk. The returned event is nil when the fused
// score does not clear the threshold; the score is always returned for
// status reporting.
func (d *Detector) Detect(ctx context.Context, chunk domain.AudioChunk) (*domain.FrictionEvent, domain.FrictionScore, error) {
	var (
		voice voiceResult
		text  textResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := d.scoreVoice(gctx, chunk)
		if err != nil {
			// Voice degrades to silence; the lexical signal still counts.
			if svcerr.IsPermanent(err) {
				d.log.Warn("Prosody unavailable, scoring voice as zero",
					"session_id", chunk.SessionID, "chunk_index", chunk.ChunkIndex, "error", err)
				return nil
			}
			return err
		}
		voice = v
		return nil
	})
	g.Go(func() error {
		text = d.scoreText(chunk.Transcript)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, domain.FrictionScore{}, err
	}

	score := fuse(voice, text)
	if score.FusedScore <= d.cfg.FrictionThreshold {
		return nil, score, nil
	}

	timestamp := chunk.StartTime
	if score.WinningSignal == domain.SignalVoice {
		timestamp += voice.offsetSec
	}
	event := &domain.FrictionEvent{
		ID:         uuid.New(),
		SessionID:  chunk.SessionID,
		ChunkIndex: chunk.ChunkIndex,
		Timestamp:  timestamp,
		Score:      score,
		Excerpt:    score.Quote,
		VideoRef:   chunk.VideoRef,
		CreatedAt:  time.Now().UTC(),
	}
	d.log.Info("Friction detected",
		"session_id", chunk.SessionID,
		"chunk_index", chunk.ChunkIndex,
		"fused_score", score.FusedScore,
		"winning_signal", score.WinningSignal,
		"sentiment", score.Sentiment,
	)
	return event, score, nil
}

// fuse applies maximum-takes-all. Ties go to voice: the prosodic signal
// carries the timestamp of the spike.
func fuse(voice voiceResult, text textResult) domain.FrictionScore {
	score := domain.FrictionScore{
		VoiceScore: voice.score,
		TextScore:  text.score,
	}
	if text.score > voice.score {
		score.FusedScore = text.score
		score.WinningSignal = domain.SignalText
		score.Sentiment = text.sentiment
		score.Quote = text.quote
	} else {
		score.FusedScore = voice.score
		score.WinningSignal = domain.SignalVoice
		score.Sentiment = voice.sentiment
		score.Quote = voice.quote
	}
	if score.Sentiment == "" {
		score.Sentiment = "Neutral"
	}
	return score
}

// scoreVoice maps each diarized utterance's emotion through the lookup
// table and takes the maximum. Utterances spanning chunk boundaries are
// scored per chunk; no cross-chunk smoothing.
func (d *Detector) scoreVoice(ctx context.Context, chunk domain.AudioChunk) (voiceResult, error) {
	var analysis *prosody.ChunkAnalysis
	err := d.caller.Do(ctx, "prosody", func(ctx context.Context) error {
		a, err := d.prosody.AnalyzeChunk(ctx, chunk.WaveformRef, chunk.Transcript)
		if err != nil {
			return err
		}
		analysis = a
		return nil
	})
	if err != nil {
		return voiceResult{}, err
	}

	best := voiceResult{sentiment: "Neutral"}
	for _, utt := range analysis.Utterances {
		s, ok := d.cfg.EmotionScores[utt.Emotion]
		if !ok {
			s = 0.3
		}
		if s > best.score {
			best.score = s
			best.quote = utt.Text
			best.offsetSec = float64(utt.StartMs) / 1000.0
			if sent, ok := d.cfg.EmotionSentiment[utt.Emotion]; ok {
				best.sentiment = sent
			} else {
				best.sentiment = "Neutral"
			}
		}
	}
	return best, nil
}

// scoreText scans the transcript for friction phrases and keeps the
// strongest match.
func (d *Detector) scoreText(transcript string) textResult {
	lower := strings.ToLower(transcript)
	best := textResult{sentiment: "Neutral", quote: transcript}
	for _, rule := range d.cfg.FrictionPhrases {
		if strings.Contains(lower, rule.Phrase) && rule.Score > best.score {
			best.score = rule.Score
			best.sentiment = rule.Sentiment
		}
	}
	return best
}
