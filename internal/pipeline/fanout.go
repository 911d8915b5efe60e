package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/luminaux/lumina-backend/internal/clients/mockup"
	"github.com/luminaux/lumina-backend/internal/clients/research"
	"github.com/luminaux/lumina-backend/internal/data/repos/cards"
	"github.com/luminaux/lumina-backend/internal/domain"
	"github.com/luminaux/lumina-backend/internal/extcall"
	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/memory"
)

// Fanout runs the three post-publish enrichment tasks. They are
// detached from the publish path, unordered, and independent; each
// patches only its own card fields, so concurrent completions never
// conflict. Replaying a completed patch leaves the card unchanged.
type Fanout struct {
	log       *logger.Logger
	research  research.Client
	mockups   mockup.Client
	memories  memory.Store
	cards     cards.CardRepo
	caller    *extcall.Caller
	publisher Publisher
}

func NewFanout(log *logger.Logger, rc research.Client, mc mockup.Client, store memory.Store, repo cards.CardRepo, caller *extcall.Caller, publisher Publisher) *Fanout {
	return &Fanout{
		log:       log.With("component", "EnrichmentFanout"),
		research:  rc,
		mockups:   mc,
		memories:  store,
		cards:     repo,
		caller:    caller,
		publisher: publisher,
	}
}

// Dispatch fires the three tasks on their own goroutines and returns
// immediately. onTaskDone runs once per task, success or not, and is
// how the orchestrator tracks pending enrichments. ctx is the session
// context: cancellation suppresses pending patches without retracting
// the published card.
func (f *Fanout) Dispatch(ctx context.Context, event *domain.FrictionEvent, vc *domain.VisualContext, diag *domain.Diagnosis, onTaskDone func()) {
	run := func(name string, task func(ctx context.Context)) {
		go func() {
			defer onTaskDone()
			defer func() {
				if r := recover(); r != nil {
					f.log.Error("Enrichment task panic", "task", name, "event_id", event.ID, "panic", r)
				}
			}()
			task(ctx)
		}()
	}
	run("benchmark", func(ctx context.Context) { f.runBenchmark(ctx, event, diag) })
	run("mockup", func(ctx context.Context) { f.runMockup(ctx, event, vc, diag) })
	run("memory", func(ctx context.Context) { f.runMemoryWrite(ctx, event, vc, diag) })
}

func (f *Fanout) runBenchmark(ctx context.Context, event *domain.FrictionEvent, diag *domain.Diagnosis) {
	var bench *domain.Benchmark
	err := f.caller.Do(ctx, "research", func(ctx context.Context) error {
		b, err := f.research.Research(ctx, diag.Category, diag.RootCause)
		if err != nil {
			return err
		}
		bench = b
		return nil
	})
	if err != nil {
		// Partial-success state: the card simply stays benchmark-less.
		f.log.Warn("Benchmark research failed, card stays without benchmark",
			"event_id", event.ID, "error", err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	if err := f.cards.PatchBenchmark(ctx, event.ID, *bench); err != nil {
		f.log.Warn("Benchmark patch failed", "event_id", event.ID, "error", err)
		return
	}
	f.publisher.CardPatched(event.ID, "benchmark", bench)
	f.log.Info("Benchmark attached", "event_id", event.ID, "source", bench.Source)
}

func (f *Fanout) runMockup(ctx context.Context, event *domain.FrictionEvent, vc *domain.VisualContext, diag *domain.Diagnosis) {
	if vc == nil || vc.FramePath == "" {
		// No frame to redraw. Visible terminal state, not an error.
		f.setMockup(ctx, event.ID, domain.MockupFailed, "")
		return
	}
	f.setMockup(ctx, event.ID, domain.MockupGenerating, "")

	var img []byte
	err := f.caller.Do(ctx, "mockup", func(ctx context.Context) error {
		b, err := f.mockups.SynthesizeMockup(ctx, vc.FramePath, diag.RootCause, diag.FixSuggestion)
		if err != nil {
			return err
		}
		img = b
		return nil
	})
	if err != nil {
		f.log.Warn("Mockup synthesis failed", "event_id", event.ID, "error", err)
		f.setMockup(ctx, event.ID, domain.MockupFailed, "")
		return
	}
	ref := mockupPath(vc.FramePath)
	if err := os.WriteFile(ref, img, 0o644); err != nil {
		f.log.Warn("Mockup write failed", "event_id", event.ID, "error", err)
		f.setMockup(ctx, event.ID, domain.MockupFailed, "")
		return
	}
	f.setMockup(ctx, event.ID, domain.MockupReady, ref)
}

func (f *Fanout) setMockup(ctx context.Context, eventID uuid.UUID, status, ref string) {
	if ctx.Err() != nil {
		return
	}
	if err := f.cards.PatchMockup(ctx, eventID, status, ref); err != nil {
		f.log.Warn("Mockup status patch failed", "event_id", eventID, "status", status, "error", err)
		return
	}
	f.publisher.CardPatched(eventID, "mockup_status", status)
	if ref != "" {
		f.publisher.CardPatched(eventID, "mockup_image_ref", ref)
	}
}

func (f *Fanout) runMemoryWrite(ctx context.Context, event *domain.FrictionEvent, vc *domain.VisualContext, diag *domain.Diagnosis) {
	if ctx.Err() != nil {
		return
	}
	m := insightMemory(event, vc, diag)
	if _, err := f.memories.Store(ctx, m); err != nil {
		// Dropped insight, logged, never blocks anything.
		f.log.Warn("Insight memory write failed, dropping",
			"event_id", event.ID, "error", err)
		return
	}
	f.log.Debug("Insight memory stored", "event_id", event.ID, "memory_id", m.ID)
}

// insightMemory builds the PER_EVENT memory for an insight. The id is
// derived from the event id so a replayed write is the same row.
func insightMemory(event *domain.FrictionEvent, vc *domain.VisualContext, diag *domain.Diagnosis) domain.Memory {
	page, element := "", ""
	if vc != nil {
		page, element = vc.Page, vc.Element
	}
	subject := fmt.Sprintf("%s %s issue on %s page, element: %s. User said: %q",
		event.Score.Sentiment, diag.Category, page, element, event.Excerpt)
	payload := fmt.Sprintf("%s %s issue on %s page, element: %s. Root cause: %s. Suggested fix: %s. User quote: %q",
		strings.ToUpper(domain.SeverityLabel(diag.Severity)), diag.Category, page, element,
		diag.RootCause, diag.FixSuggestion, event.Excerpt)

	return domain.Memory{
		ID:               uuid.NewSHA1(event.ID, []byte("per-event-insight")),
		Kind:             domain.MemoryKindPerEvent,
		EmbeddingSubject: subject,
		Payload:          payload,
		SessionID:        event.SessionID,
		Category:         diag.Category,
		Page:             page,
		Element:          element,
		Severity:         diag.Severity,
	}
}

func mockupPath(framePath string) string {
	ext := ".jpg"
	if i := strings.LastIndex(framePath, "."); i >= 0 {
		ext = framePath[i:]
	}
	return strings.TrimSuffix(framePath, ext) + ".mockup" + ext
}
