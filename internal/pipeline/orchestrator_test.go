package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/luminaux/lumina-backend/internal/clients/prosody"
	"github.com/luminaux/lumina-backend/internal/clients/reasoning"
	"github.com/luminaux/lumina-backend/internal/domain"
)

func awaitCompleted(t *testing.T, o *Orchestrator, sessionID string) domain.PipelineStatus {
	t.Helper()
	waitFor(t, 3*time.Second, func() bool {
		st, ok := o.Status(sessionID)
		return ok && st.State == domain.SessionCompleted
	}, "session "+sessionID+" to complete")
	st, _ := o.Status(sessionID)
	return st
}

func TestOrchestratorPublishesCardPerFrictionChunk(t *testing.T) {
	r := newRig(t, testConfig())
	o := r.orchestrator(t)

	transcripts := []string{
		"this checkout is so confusing",
		"okay that part looks fine",
		"the pay button is not working",
	}
	for i, tr := range transcripts {
		if err := o.SubmitChunk(chunkOf("sess-1", i, tr)); err != nil {
			t.Fatalf("SubmitChunk %d: %v", i, err)
		}
	}
	if err := o.CompleteSession("sess-1"); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}

	st := awaitCompleted(t, o, "sess-1")
	if st.ChunksReceived != 3 || st.ChunksDiagnosed != 3 {
		t.Fatalf("chunk accounting = %d received / %d diagnosed, want 3 / 3", st.ChunksReceived, st.ChunksDiagnosed)
	}
	if st.EventsDetected != 2 {
		t.Fatalf("events detected = %d, want 2", st.EventsDetected)
	}
	if !st.SummaryWritten {
		t.Fatal("summary must be written on completion")
	}

	waitFor(t, 3*time.Second, func() bool {
		st, _ := o.Status("sess-1")
		return st.EnrichmentsPending == 0
	}, "enrichments to drain")

	cards, err := r.cards.ListBySession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("published %d cards, want 2", len(cards))
	}
	if r.publisher.publishedCount() != 2 {
		t.Fatalf("broadcast %d card publishes, want 2", r.publisher.publishedCount())
	}
}

func TestOrchestratorSummaryFiresExactlyOnceUnderRacingCompletions(t *testing.T) {
	r := newRig(t, testConfig())
	o := r.orchestrator(t)

	const chunks = 8
	for i := 0; i < chunks; i++ {
		if err := o.SubmitChunk(chunkOf("sess-race", i, "this page is broken again")); err != nil {
			t.Fatalf("SubmitChunk %d: %v", i, err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = o.CompleteSession("sess-race")
		}()
	}
	wg.Wait()

	awaitCompleted(t, o, "sess-race")
	waitFor(t, 3*time.Second, func() bool {
		st, _ := o.Status("sess-race")
		return st.EnrichmentsPending == 0
	}, "enrichments to drain")

	mems, err := r.memories.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	summaries := 0
	for _, m := range mems {
		if m.Kind == domain.MemoryKindSessionSummary && m.SessionID == "sess-race" {
			summaries++
		}
	}
	if summaries != 1 {
		t.Fatalf("wrote %d session summaries, want exactly 1", summaries)
	}
}

func TestOrchestratorZeroChunkSessionCompletes(t *testing.T) {
	r := newRig(t, testConfig())
	o := r.orchestrator(t)

	if err := o.CompleteSession("sess-empty"); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	st := awaitCompleted(t, o, "sess-empty")
	if st.ChunksReceived != 0 || st.EventsDetected != 0 {
		t.Fatalf("empty session status = %+v", st)
	}

	mems, _ := r.memories.ListAll(context.Background())
	if len(mems) != 1 || mems[0].Kind != domain.MemoryKindSessionSummary {
		t.Fatalf("empty session must still get its summary memory, got %v", mems)
	}
}

func TestOrchestratorFrameFailureStillPublishesDegradedCard(t *testing.T) {
	r := newRig(t, testConfig())
	r.frames.err = permanentErr("ffmpeg")
	o := r.orchestrator(t)

	if err := o.SubmitChunk(chunkOf("sess-deg", 0, "this form is impossible")); err != nil {
		t.Fatalf("SubmitChunk: %v", err)
	}
	if err := o.CompleteSession("sess-deg"); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}

	st := awaitCompleted(t, o, "sess-deg")
	if st.DegradedEvents != 1 {
		t.Fatalf("degraded events = %d, want 1", st.DegradedEvents)
	}

	waitFor(t, 3*time.Second, func() bool {
		cards, _ := r.cards.ListBySession(context.Background(), "sess-deg")
		return len(cards) == 1
	}, "degraded card to publish")
	cards, _ := r.cards.ListBySession(context.Background(), "sess-deg")
	if cards[0].Page != "" || cards[0].Element != "" {
		t.Fatalf("degraded card carries visual context: %+v", cards[0])
	}
}

func TestOrchestratorDiagnosisFailureIsDegradedButTerminal(t *testing.T) {
	r := newRig(t, testConfig())
	r.reasoning.err = permanentErr("reasoning")
	o := r.orchestrator(t)

	if err := o.SubmitChunk(chunkOf("sess-nodiag", 0, "this form is impossible")); err != nil {
		t.Fatalf("SubmitChunk: %v", err)
	}
	if err := o.CompleteSession("sess-nodiag"); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}

	st := awaitCompleted(t, o, "sess-nodiag")
	if st.EventsDetected != 1 || st.DiagnosesCompleted != 0 {
		t.Fatalf("status = %+v, want the event counted but no diagnosis", st)
	}
	cards, _ := r.cards.ListBySession(context.Background(), "sess-nodiag")
	if len(cards) != 0 {
		t.Fatalf("no card expected without a diagnosis, got %d", len(cards))
	}
}

func TestOrchestratorIgnoresDuplicateChunks(t *testing.T) {
	r := newRig(t, testConfig())
	o := r.orchestrator(t)

	chunk := chunkOf("sess-dup", 0, "okay that looks fine")
	if err := o.SubmitChunk(chunk); err != nil {
		t.Fatalf("SubmitChunk: %v", err)
	}
	if err := o.SubmitChunk(chunk); err != nil {
		t.Fatalf("duplicate SubmitChunk must be a silent no-op: %v", err)
	}
	if err := o.CompleteSession("sess-dup"); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	st := awaitCompleted(t, o, "sess-dup")
	if st.ChunksReceived != 1 {
		t.Fatalf("chunks received = %d, duplicate must not count", st.ChunksReceived)
	}
}

func TestOrchestratorRejectsChunksAfterCompletion(t *testing.T) {
	r := newRig(t, testConfig())
	o := r.orchestrator(t)

	if err := o.CompleteSession("sess-late"); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	if err := o.SubmitChunk(chunkOf("sess-late", 0, "too late")); err == nil {
		t.Fatal("chunk after completion must be rejected")
	}
}

func TestOrchestratorCancelStopsSession(t *testing.T) {
	r := newRig(t, testConfig())
	o := r.orchestrator(t)

	if err := o.SubmitChunk(chunkOf("sess-cancel", 0, "okay that looks fine")); err != nil {
		t.Fatalf("SubmitChunk: %v", err)
	}
	if err := o.CancelSession("sess-cancel"); err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
	st, ok := o.Status("sess-cancel")
	if !ok || st.State != domain.SessionCancelled {
		t.Fatalf("state = %q, want cancelled", st.State)
	}
	if err := o.SubmitChunk(chunkOf("sess-cancel", 1, "more audio")); err == nil {
		t.Fatal("cancelled session must reject new chunks")
	}
}

func TestOrchestratorPanicIsIsolatedToOneSession(t *testing.T) {
	r := newRig(t, testConfig())
	r.reflector.reasoning = &panickingReasoning{inner: r.reasoning, trigger: "broken"}
	o := r.orchestrator(t)

	if err := o.SubmitChunk(chunkOf("sess-bad", 0, "this page is broken")); err != nil {
		t.Fatalf("SubmitChunk bad: %v", err)
	}
	if err := o.SubmitChunk(chunkOf("sess-good", 0, "this form is impossible")); err != nil {
		t.Fatalf("SubmitChunk good: %v", err)
	}
	if err := o.CompleteSession("sess-good"); err != nil {
		t.Fatalf("CompleteSession good: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		st, ok := o.Status("sess-bad")
		return ok && st.State == domain.SessionFailed
	}, "bad session to fail")

	st := awaitCompleted(t, o, "sess-good")
	if st.EventsDetected != 1 {
		t.Fatalf("healthy session status = %+v", st)
	}
	if err := o.SubmitChunk(chunkOf("sess-bad", 1, "more audio")); err == nil {
		t.Fatal("failed session must reject new chunks")
	}
}

// panickingReasoning blows up when the user quote carries its trigger
// word and delegates otherwise. Diagnose requests carry no session id,
// so the trigger stands in for one.
type panickingReasoning struct {
	inner   reasoning.Client
	trigger string
}

func (p *panickingReasoning) Diagnose(ctx context.Context, req reasoning.DiagnoseRequest) (*reasoning.BaseDiagnosis, error) {
	if strings.Contains(req.UserQuote, p.trigger) {
		panic("synthetic reasoning fault")
	}
	return p.inner.Diagnose(ctx, req)
}

func TestOrchestratorQueueFullRejectionAllowsRetry(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1
	r := newRig(t, cfg)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	r.prosody.fn = func(ctx context.Context, ref, tr string) (*prosody.ChunkAnalysis, error) {
		once.Do(func() { close(started) })
		<-release
		return &prosody.ChunkAnalysis{
			Utterances: []prosody.Utterance{{Text: tr, Emotion: "Calm", StartMs: 500}},
		}, nil
	}
	o := r.orchestrator(t)

	// Chunk 0 occupies the only worker, chunk 1 fills the queue.
	if err := o.SubmitChunk(chunkOf("sess-1", 0, "quiet chunk")); err != nil {
		t.Fatalf("chunk 0: %v", err)
	}
	<-started
	if err := o.SubmitChunk(chunkOf("sess-1", 1, "quiet chunk")); err != nil {
		t.Fatalf("chunk 1: %v", err)
	}

	if err := o.SubmitChunk(chunkOf("sess-1", 2, "quiet chunk")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("full queue must reject with ErrQueueFull, got %v", err)
	}
	st, _ := o.Status("sess-1")
	if st.ChunksReceived != 2 {
		t.Fatalf("rejected chunk counted as received: %d, want 2", st.ChunksReceived)
	}

	close(release)
	waitFor(t, 3*time.Second, func() bool {
		return o.SubmitChunk(chunkOf("sess-1", 2, "quiet chunk")) == nil
	}, "queue capacity for the resubmitted chunk")

	if err := o.CompleteSession("sess-1"); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	st = awaitCompleted(t, o, "sess-1")
	if st.ChunksReceived != 3 || st.ChunksDiagnosed != 3 {
		t.Fatalf("chunk accounting = %d received / %d diagnosed, want 3 / 3", st.ChunksReceived, st.ChunksDiagnosed)
	}
	if !st.SummaryWritten {
		t.Fatal("summary must fire after the retried chunk is diagnosed")
	}
}
