package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/luminaux/lumina-backend/internal/clients/prosody"
	"github.com/luminaux/lumina-backend/internal/clients/reasoning"
	"github.com/luminaux/lumina-backend/internal/clients/vision"
	"github.com/luminaux/lumina-backend/internal/config"
	"github.com/luminaux/lumina-backend/internal/domain"
	"github.com/luminaux/lumina-backend/internal/extcall"
	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/memory"
	"github.com/luminaux/lumina-backend/internal/svcerr"
)

// -------------------- collaborator fakes --------------------

type fakeProsody struct {
	fn func(ctx context.Context, waveformRef, transcript string) (*prosody.ChunkAnalysis, error)
}

func (f *fakeProsody) AnalyzeChunk(ctx context.Context, waveformRef, transcript string) (*prosody.ChunkAnalysis, error) {
	return f.fn(ctx, waveformRef, transcript)
}

func calmProsody() *fakeProsody {
	return &fakeProsody{fn: func(ctx context.Context, ref, tr string) (*prosody.ChunkAnalysis, error) {
		return &prosody.ChunkAnalysis{
			Utterances: []prosody.Utterance{{Text: tr, Emotion: "Calm", StartMs: 500}},
		}, nil
	}}
}

func emotionProsody(emotion string) *fakeProsody {
	return &fakeProsody{fn: func(ctx context.Context, ref, tr string) (*prosody.ChunkAnalysis, error) {
		return &prosody.ChunkAnalysis{
			Utterances: []prosody.Utterance{{Text: tr, Emotion: emotion, StartMs: 1500}},
		}, nil
	}}
}

type fakeVision struct {
	analysis *vision.FrameAnalysis
	err      error
}

func (f *fakeVision) AnalyzeFrame(ctx context.Context, framePath, frameContext string) (*vision.FrameAnalysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.analysis, nil
}

type fakeFrames struct {
	path string
	err  error
}

func (f *fakeFrames) ExtractAt(ctx context.Context, videoRef string, timestamp float64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.path, nil
}

type fakeReasoning struct {
	mu   sync.Mutex
	base reasoning.BaseDiagnosis
	err  error
	reqs []reasoning.DiagnoseRequest
}

func (f *fakeReasoning) Diagnose(ctx context.Context, req reasoning.DiagnoseRequest) (*reasoning.BaseDiagnosis, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := f.base
	return &out, nil
}

type fakeResearch struct {
	bench *domain.Benchmark
	err   error
}

func (f *fakeResearch) Research(ctx context.Context, category, rootCause string) (*domain.Benchmark, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bench, nil
}

type fakeMockup struct {
	img []byte
	err error
}

func (f *fakeMockup) SynthesizeMockup(ctx context.Context, framePath, rootCause, fixSuggestion string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.img, nil
}

// -------------------- card repo fake --------------------

type memCardRepo struct {
	mu       sync.Mutex
	cards    map[uuid.UUID]*domain.Card
	publishN map[uuid.UUID]int
}

func newMemCardRepo() *memCardRepo {
	return &memCardRepo{
		cards:    map[uuid.UUID]*domain.Card{},
		publishN: map[uuid.UUID]int{},
	}
}

func (r *memCardRepo) Publish(ctx context.Context, card *domain.Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishN[card.FrictionEventID]++
	if _, exists := r.cards[card.FrictionEventID]; exists {
		return nil
	}
	cp := *card
	cp.PublishedAt = time.Now().UTC()
	r.cards[card.FrictionEventID] = &cp
	return nil
}

func (r *memCardRepo) GetByEventID(ctx context.Context, eventID uuid.UUID) (*domain.Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[eventID]
	if !ok {
		return nil, fmt.Errorf("card %s not found", eventID)
	}
	cp := *c
	return &cp, nil
}

func (r *memCardRepo) ListBySession(ctx context.Context, sessionID string) ([]domain.Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Card
	for _, c := range r.cards {
		if c.SessionID == sessionID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *memCardRepo) ListAll(ctx context.Context) ([]domain.Card, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Card
	for _, c := range r.cards {
		out = append(out, *c)
	}
	return out, nil
}

func (r *memCardRepo) PatchBenchmark(ctx context.Context, eventID uuid.UUID, b domain.Benchmark) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cards[eventID]; ok {
		c.BenchmarkSource = b.Source
		c.BenchmarkText = b.Recommendation
	}
	return nil
}

func (r *memCardRepo) SetMockupStatus(ctx context.Context, eventID uuid.UUID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cards[eventID]; ok {
		c.MockupStatus = status
	}
	return nil
}

func (r *memCardRepo) PatchMockup(ctx context.Context, eventID uuid.UUID, status, imageRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cards[eventID]; ok {
		c.MockupStatus = status
		c.MockupImageRef = imageRef
	}
	return nil
}

func (r *memCardRepo) card(t *testing.T, eventID uuid.UUID) domain.Card {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[eventID]
	if !ok {
		t.Fatalf("card %s not found", eventID)
	}
	return *c
}

// -------------------- publisher fake --------------------

type capturedPatch struct {
	eventID uuid.UUID
	field   string
	value   any
}

type capturePublisher struct {
	mu        sync.Mutex
	published []domain.Card
	patches   []capturedPatch
	statuses  []domain.PipelineStatus
}

func (p *capturePublisher) CardPublished(card domain.Card) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, card)
}

func (p *capturePublisher) CardPatched(eventID uuid.UUID, field string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.patches = append(p.patches, capturedPatch{eventID: eventID, field: field, value: value})
}

func (p *capturePublisher) StatusUpdate(status domain.PipelineStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, status)
}

func (p *capturePublisher) publishedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

// -------------------- rig --------------------

type rig struct {
	cfg       config.Config
	caller    *extcall.Caller
	prosody   *fakeProsody
	vision    *fakeVision
	frames    *fakeFrames
	reasoning *fakeReasoning
	research  *fakeResearch
	mockup    *fakeMockup
	memories  memory.Store
	cards     *memCardRepo
	publisher *capturePublisher

	detector   *Detector
	enricher   *Enricher
	reflector  *Reflector
	curator    *Curator
	fanout     *Fanout
	summarizer *Summarizer
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Workers = 4
	cfg.Retry = config.RetryConfig{
		MaxAttempts: 2,
		MinBackoff:  time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
		JitterFrac:  0.1,
	}
	return cfg
}

func newRig(t *testing.T, cfg config.Config) *rig {
	t.Helper()
	log := logger.NewNop()
	store, err := memory.New(log, nil)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	r := &rig{
		cfg:     cfg,
		caller:  extcall.New(log, cfg.Retry, cfg.ServiceCaps),
		prosody: calmProsody(),
		vision: &fakeVision{analysis: &vision.FrameAnalysis{
			Element: "Pay Button", Page: "Checkout", Description: "button lacks affordance",
		}},
		frames: &fakeFrames{path: "/tmp/frame.jpg"},
		reasoning: &fakeReasoning{base: reasoning.BaseDiagnosis{
			Category: "navigation", RootCause: "hidden primary action",
			FixSuggestion: "raise button contrast", BaseSeverity: 3,
		}},
		research: &fakeResearch{bench: &domain.Benchmark{
			Source: "NN/g", Recommendation: "keep primary CTA visible", Examples: []string{"Stripe"},
		}},
		mockup:    &fakeMockup{img: []byte("img")},
		memories:  store,
		cards:     newMemCardRepo(),
		publisher: &capturePublisher{},
	}
	r.detector = NewDetector(log, cfg, r.prosody, r.caller)
	r.enricher = NewEnricher(log, r.frames, r.vision, r.caller)
	r.reflector = NewReflector(log, cfg, store, r.reasoning, r.caller)
	r.curator = NewCurator(log, r.cards, r.publisher)
	r.fanout = NewFanout(log, r.research, r.mockup, store, r.cards, r.caller, r.publisher)
	r.summarizer = NewSummarizer(log, store)
	return r
}

func (r *rig) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o := NewOrchestrator(logger.NewNop(), r.cfg, r.detector, r.enricher, r.reflector,
		r.curator, r.fanout, r.summarizer, r.publisher)
	o.Start(context.Background())
	t.Cleanup(o.Stop)
	return o
}

func chunkOf(sessionID string, index int, transcript string) domain.AudioChunk {
	return domain.AudioChunk{
		SessionID:   sessionID,
		ChunkIndex:  index,
		WaveformRef: "wave.wav",
		Transcript:  transcript,
		StartTime:   float64(index) * 10,
		EndTime:     float64(index)*10 + 10,
		VideoRef:    "video.mp4",
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func permanentErr(service string) error {
	return svcerr.Permanentf(service, "boom")
}
