package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/luminaux/lumina-backend/internal/clients/reasoning"
	"github.com/luminaux/lumina-backend/internal/config"
	"github.com/luminaux/lumina-backend/internal/domain"
	"github.com/luminaux/lumina-backend/internal/extcall"
	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/memory"
)

// Reflector runs root-cause diagnosis: recall past learnings, ask the
// reasoning model, then apply the escalation rule. Recall and escalation
// are deterministic given identical inputs and store state; only the
// model call is not.
type Reflector struct {
	log       *logger.Logger
	cfg       config.Config
	memories  memory.Store
	reasoning reasoning.Client
	caller    *extcall.Caller
}

func NewReflector(log *logger.Logger, cfg config.Config, store memory.Store, rc reasoning.Client, caller *extcall.Caller) *Reflector {
	return &Reflector{
		log:       log.With("component", "Reflector"),
		cfg:       cfg,
		memories:  store,
		reasoning: rc,
		caller:    caller,
	}
}

// Diagnose produces the immutable Diagnosis for an event. visualContext
// may be nil (degraded event); the diagnosis is still produced.
func (r *Reflector) Diagnose(ctx context.Context, event *domain.FrictionEvent, vc *domain.VisualContext) (*domain.Diagnosis, error) {
	query := buildRecallQuery(event, vc)

	recalled, err := r.memories.Recall(ctx, query, r.cfg.RecallK)
	if err != nil {
		// Degraded, not fatal: diagnose with an empty memory set.
		r.log.Warn("Memory recall failed, diagnosing without past learnings",
			"event_id", event.ID, "error", err)
		recalled = nil
	}

	req := reasoning.DiagnoseRequest{
		Timestamp:     event.Timestamp,
		Sentiment:     event.Score.Sentiment,
		Score:         event.Score.FusedScore,
		WinningSignal: event.Score.WinningSignal,
		UserQuote:     event.Excerpt,
	}
	if vc != nil {
		req.Element = vc.Element
		req.Page = vc.Page
		req.Description = vc.Description
	}
	for _, m := range recalled {
		req.PastLearnings = append(req.PastLearnings, m.Memory.Payload)
	}

	var base *reasoning.BaseDiagnosis
	err = r.caller.Do(ctx, "reasoning", func(ctx context.Context) error {
		b, err := r.reasoning.Diagnose(ctx, req)
		if err != nil {
			return err
		}
		base = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	diag := &domain.Diagnosis{
		FrictionEventID: event.ID,
		Category:        base.Category,
		Severity:        base.BaseSeverity,
		RootCause:       base.RootCause,
		FixSuggestion:   base.FixSuggestion,
		Degraded:        vc == nil,
		CreatedAt:       time.Now().UTC(),
	}

	if ref, ok := r.escalationMatch(recalled, base.Category, vc); ok {
		diag.Severity = minInt(base.BaseSeverity+1, domain.SeverityMax)
		diag.ReferencePatternID = ref.String()
		r.log.Info("Recurring pattern, severity escalated",
			"event_id", event.ID,
			"base_severity", base.BaseSeverity,
			"severity", diag.Severity,
			"reference_pattern_id", diag.ReferencePatternID,
		)
	}
	return diag, nil
}

// buildRecallQuery is the deterministic subject used for similarity
// search. Shape mirrors the per-event memory subjects so recurring
// issues land close together.
func buildRecallQuery(event *domain.FrictionEvent, vc *domain.VisualContext) string {
	if vc != nil {
		return fmt.Sprintf("%s issue on %s page, element: %s. User said: %q",
			event.Score.Sentiment, vc.Page, vc.Element, event.Excerpt)
	}
	return fmt.Sprintf("%s issue. User said: %q", event.Score.Sentiment, event.Excerpt)
}

// escalationMatch finds the single best recalled memory matching the
// diagnosis on category, page, and element above the similarity
// threshold. Recall order is similarity-descending, so the first match
// is the best one.
func (r *Reflector) escalationMatch(recalled []domain.RecalledMemory, category string, vc *domain.VisualContext) (uuid.UUID, bool) {
	if vc == nil || category == "" || vc.Page == "" || vc.Element == "" {
		return uuid.Nil, false
	}
	for _, m := range recalled {
		if m.Similarity <= r.cfg.EscalationSimilarity {
			continue
		}
		if m.Memory.Category == category && m.Memory.Page == vc.Page && m.Memory.Element == vc.Element {
			return m.Memory.ID, true
		}
	}
	return uuid.Nil, false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
