package pipeline

import (
	"context"
	"fmt"

	"github.com/luminaux/lumina-backend/internal/clients/vision"
	"github.com/luminaux/lumina-backend/internal/domain"
	"github.com/luminaux/lumina-backend/internal/extcall"
	"github.com/luminaux/lumina-backend/internal/frames"
	"github.com/luminaux/lumina-backend/internal/logger"
)

// Enricher attaches visual context to a friction event. Any extraction
// or vision failure degrades the event instead of aborting it: the
// caller gets a nil context plus the error for status accounting.
type Enricher struct {
	log    *logger.Logger
	frames frames.Extractor
	vision vision.Client
	caller *extcall.Caller
}

func NewEnricher(log *logger.Logger, fx frames.Extractor, vc vision.Client, caller *extcall.Caller) *Enricher {
	return &Enricher{
		log:    log.With("component", "VisualEnricher"),
		frames: fx,
		vision: vc,
		caller: caller,
	}
}

func (e *Enricher) Enrich(ctx context.Context, event *domain.FrictionEvent) (*domain.VisualContext, error) {
	framePath, err := e.frames.ExtractAt(ctx, event.VideoRef, event.Timestamp)
	if err != nil {
		e.log.Warn("Frame extraction failed, event degrades",
			"event_id", event.ID, "timestamp", event.Timestamp, "error", err)
		return nil, err
	}

	frameContext := fmt.Sprintf("User said: %q (sentiment: %s, score: %.2f, signal: %s)",
		event.Excerpt, event.Score.Sentiment, event.Score.FusedScore, event.Score.WinningSignal)

	var analysis *vision.FrameAnalysis
	err = e.caller.Do(ctx, "vision", func(ctx context.Context) error {
		a, err := e.vision.AnalyzeFrame(ctx, framePath, frameContext)
		if err != nil {
			return err
		}
		analysis = a
		return nil
	})
	if err != nil {
		e.log.Warn("Vision analysis failed, event degrades",
			"event_id", event.ID, "error", err)
		return nil, err
	}

	return &domain.VisualContext{
		FrictionEventID: event.ID,
		Element:         analysis.Element,
		Page:            analysis.Page,
		Description:     analysis.Description,
		FramePath:       framePath,
	}, nil
}
