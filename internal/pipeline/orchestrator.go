package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luminaux/lumina-backend/internal/config"
	"github.com/luminaux/lumina-backend/internal/domain"
	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/svcerr"
)

// Orchestrator owns the chunk queue, the worker pool, and per-session
// state. Each chunk runs detect→enrich→diagnose→publish on a worker;
// enrichment fan-out detaches after publish; the session summary fires
// once all chunks of a terminal session have completed diagnosis.
type Orchestrator struct {
	log        *logger.Logger
	cfg        config.Config
	detector   *Detector
	enricher   *Enricher
	reflector  *Reflector
	curator    *Curator
	fanout     *Fanout
	summarizer *Summarizer
	publisher  Publisher

	queue   chan chunkJob
	mu      sync.RWMutex
	sessions map[string]*sessionState

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrSessionClosed  = errors.New("session closed")
	ErrQueueFull      = errors.New("pipeline queue full")
)

type chunkJob struct {
	sess  *sessionState
	chunk domain.AudioChunk
}

type sessionState struct {
	mu     sync.Mutex
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	status       domain.PipelineStatus
	seenChunks   map[int]bool
	records      []eventRecord
	summaryFired bool
}

func NewOrchestrator(
	log *logger.Logger,
	cfg config.Config,
	detector *Detector,
	enricher *Enricher,
	reflector *Reflector,
	curator *Curator,
	fanout *Fanout,
	summarizer *Summarizer,
	publisher Publisher,
) *Orchestrator {
	return &Orchestrator{
		log:        log.With("component", "Orchestrator"),
		cfg:        cfg,
		detector:   detector,
		enricher:   enricher,
		reflector:  reflector,
		curator:    curator,
		fanout:     fanout,
		summarizer: summarizer,
		publisher:  publisher,
		queue:      make(chan chunkJob, cfg.QueueSize),
		sessions:   make(map[string]*sessionState),
	}
}

// Start spins up the worker pool. Workers pull chunk jobs off the
// queue; nothing they do can block the dispatch path.
func (o *Orchestrator) Start(ctx context.Context) {
	o.rootCtx, o.cancel = context.WithCancel(ctx)
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker(i)
	}
	o.log.Info("Orchestrator started", "workers", o.cfg.Workers)
}

// Stop cancels everything and waits for the workers to drain.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

func (o *Orchestrator) worker(n int) {
	defer o.wg.Done()
	for {
		select {
		case <-o.rootCtx.Done():
			return
		case job := <-o.queue:
			o.runChunk(job)
		}
	}
}

// runChunk isolates one chunk pipeline. A panic is an orchestrator
// fault fatal to the owning session only.
func (o *Orchestrator) runChunk(job chunkJob) {
	defer func() {
		if r := recover(); r != nil {
			fault := &svcerr.OrchestratorFault{
				SessionID: job.sess.id,
				Err:       fmt.Errorf("chunk %d pipeline panic: %v", job.chunk.ChunkIndex, r),
			}
			o.log.Error("Session pipeline fault", "session_id", job.sess.id, "error", fault)
			o.failSession(job.sess, fault)
		}
	}()
	o.processChunk(job.sess, job.chunk)
}

// -------------------- ingestion surface --------------------

// SubmitChunk enqueues one chunk for processing, creating the session
// on first sight.
func (o *Orchestrator) SubmitChunk(chunk domain.AudioChunk) error {
	if chunk.SessionID == "" {
		return fmt.Errorf("session id required")
	}
	if chunk.ChunkIndex < 0 {
		return fmt.Errorf("chunk index must be >= 0")
	}
	sess := o.getOrCreateSession(chunk.SessionID)

	sess.mu.Lock()
	switch sess.status.State {
	case domain.SessionFailed, domain.SessionCancelled:
		sess.mu.Unlock()
		return fmt.Errorf("session %s is %s: %w", sess.id, sess.status.State, ErrSessionClosed)
	}
	if sess.status.Terminal {
		sess.mu.Unlock()
		return fmt.Errorf("session %s already complete: %w", sess.id, ErrSessionClosed)
	}
	if sess.seenChunks[chunk.ChunkIndex] {
		sess.mu.Unlock()
		o.log.Warn("Duplicate chunk ignored", "session_id", sess.id, "chunk_index", chunk.ChunkIndex)
		return nil
	}
	sess.seenChunks[chunk.ChunkIndex] = true
	sess.status.ChunksReceived++

	// The enqueue must land while the chunk is still marked seen, or a
	// concurrent duplicate could slip in; on a full queue the marks are
	// rolled back so an upstream retry of this index is accepted.
	select {
	case o.queue <- chunkJob{sess: sess, chunk: chunk}:
	default:
		delete(sess.seenChunks, chunk.ChunkIndex)
		sess.status.ChunksReceived--
		sess.mu.Unlock()
		return ErrQueueFull
	}
	status := snapshot(sess)
	sess.mu.Unlock()
	o.publisher.StatusUpdate(status)
	return nil
}

// CompleteSession records the upstream terminal marker and re-evaluates
// the summary barrier (the last diagnosis may already be in).
func (o *Orchestrator) CompleteSession(sessionID string) error {
	sess, ok := o.getSession(sessionID)
	if !ok {
		// A session may legitimately complete with zero chunks.
		sess = o.getOrCreateSession(sessionID)
	}
	sess.mu.Lock()
	sess.status.Terminal = true
	status := snapshot(sess)
	sess.mu.Unlock()
	o.publisher.StatusUpdate(status)
	o.checkBarrier(sess)
	return nil
}

// CancelSession stops a session's in-flight work cooperatively. Cards
// already published stay visible; pending patches are suppressed.
func (o *Orchestrator) CancelSession(sessionID string) error {
	sess, ok := o.getSession(sessionID)
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrUnknownSession)
	}
	sess.mu.Lock()
	if sess.status.State == domain.SessionActive {
		sess.status.State = domain.SessionCancelled
	}
	status := snapshot(sess)
	sess.mu.Unlock()
	sess.cancel()
	o.publisher.StatusUpdate(status)
	o.log.Info("Session cancelled", "session_id", sessionID)
	return nil
}

// Status returns the read-only projection for the dashboard.
func (o *Orchestrator) Status(sessionID string) (domain.PipelineStatus, bool) {
	sess, ok := o.getSession(sessionID)
	if !ok {
		return domain.PipelineStatus{}, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return snapshot(sess), true
}

func (o *Orchestrator) getSession(id string) (*sessionState, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	sess, ok := o.sessions[id]
	return sess, ok
}

func (o *Orchestrator) getOrCreateSession(id string) *sessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sess, ok := o.sessions[id]; ok {
		return sess
	}
	ctx, cancel := context.WithCancel(o.rootCtx)
	sess := &sessionState{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		status: domain.PipelineStatus{
			SessionID: id,
			State:     domain.SessionActive,
		},
		seenChunks: make(map[int]bool),
	}
	o.sessions[id] = sess
	o.log.Info("Session started", "session_id", id)
	return sess
}

// -------------------- per-chunk pipeline --------------------

func (o *Orchestrator) processChunk(sess *sessionState, chunk domain.AudioChunk) {
	if sess.ctx.Err() != nil {
		return
	}
	log := o.log.With("session_id", sess.id, "chunk_index", chunk.ChunkIndex)

	event, _, err := o.detector.Detect(sess.ctx, chunk)
	if err != nil {
		if sess.ctx.Err() != nil {
			return
		}
		log.Warn("Detection failed, chunk terminal without event", "error", err)
		o.chunkDiagnosed(sess, nil)
		return
	}
	if event == nil {
		// Below threshold: the chunk is discarded, not stored.
		o.chunkDiagnosed(sess, nil)
		return
	}

	sess.mu.Lock()
	sess.status.EventsDetected++
	status := snapshot(sess)
	sess.mu.Unlock()
	o.publisher.StatusUpdate(status)

	vc, enrichErr := o.enricher.Enrich(sess.ctx, event)
	if enrichErr != nil {
		if sess.ctx.Err() != nil {
			return
		}
		sess.mu.Lock()
		sess.status.DegradedEvents++
		sess.mu.Unlock()
	}

	diag, err := o.reflector.Diagnose(sess.ctx, event, vc)
	if err != nil {
		if sess.ctx.Err() != nil {
			return
		}
		// Degraded-but-terminal: no card for this event, the session
		// keeps going and the barrier still counts the chunk.
		log.Warn("Diagnosis failed, event dropped", "event_id", event.ID, "error", err)
		o.chunkDiagnosed(sess, nil)
		return
	}

	if _, err := o.curator.Publish(sess.ctx, event, vc, diag); err != nil {
		if sess.ctx.Err() != nil {
			return
		}
		log.Error("Card publish failed", "event_id", event.ID, "error", err)
		o.chunkDiagnosed(sess, nil)
		return
	}

	rec := eventRecord{Sentiment: event.Score.Sentiment, Category: diag.Category}
	if vc != nil {
		rec.Page = vc.Page
	}

	sess.mu.Lock()
	sess.status.EnrichmentsPending += 3
	sess.mu.Unlock()
	o.fanout.Dispatch(sess.ctx, event, vc, diag, func() { o.enrichmentDone(sess) })

	o.chunkDiagnosed(sess, &rec)
}

// chunkDiagnosed marks one chunk as having reached diagnosis completion
// (or a degraded terminal state) and re-evaluates the summary barrier.
func (o *Orchestrator) chunkDiagnosed(sess *sessionState, rec *eventRecord) {
	sess.mu.Lock()
	sess.status.ChunksDiagnosed++
	if rec != nil {
		sess.status.DiagnosesCompleted++
		sess.records = append(sess.records, *rec)
	}
	status := snapshot(sess)
	sess.mu.Unlock()
	o.publisher.StatusUpdate(status)
	o.checkBarrier(sess)
}

func (o *Orchestrator) enrichmentDone(sess *sessionState) {
	sess.mu.Lock()
	if sess.status.EnrichmentsPending > 0 {
		sess.status.EnrichmentsPending--
	}
	status := snapshot(sess)
	sess.mu.Unlock()
	o.publisher.StatusUpdate(status)
}

// checkBarrier fires the session summary exactly once, when the session
// is terminal and every received chunk has completed diagnosis.
// Enrichment completion is deliberately not part of the condition.
func (o *Orchestrator) checkBarrier(sess *sessionState) {
	sess.mu.Lock()
	ready := sess.status.Terminal &&
		sess.status.State == domain.SessionActive &&
		sess.status.ChunksDiagnosed == sess.status.ChunksReceived &&
		!sess.summaryFired
	if !ready {
		sess.mu.Unlock()
		return
	}
	sess.summaryFired = true
	chunkCount := sess.status.ChunksReceived
	records := make([]eventRecord, len(sess.records))
	copy(records, sess.records)
	sess.mu.Unlock()

	if _, err := o.summarizer.Summarize(sess.ctx, sess.id, chunkCount, records); err != nil {
		o.log.Warn("Session summary memory write failed", "session_id", sess.id, "error", err)
	}

	sess.mu.Lock()
	sess.status.SummaryWritten = true
	sess.status.State = domain.SessionCompleted
	status := snapshot(sess)
	sess.mu.Unlock()
	o.publisher.StatusUpdate(status)
	o.log.Info("Session completed", "session_id", sess.id, "chunks", chunkCount, "events", status.EventsDetected)
}

func (o *Orchestrator) failSession(sess *sessionState, fault error) {
	sess.mu.Lock()
	sess.status.State = domain.SessionFailed
	status := snapshot(sess)
	sess.mu.Unlock()
	sess.cancel()
	o.publisher.StatusUpdate(status)
}

func snapshot(sess *sessionState) domain.PipelineStatus {
	st := sess.status
	st.UpdatedAt = time.Now().UTC()
	return st
}
