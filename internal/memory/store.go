// Package memory implements the append-only memory store with
// similarity recall. Vectors live in an in-process index guarded by a
// RWMutex; recall reads a point-in-time snapshot and never blocks a
// concurrent append. An optional journal repo makes memories survive
// restarts.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/luminaux/lumina-backend/internal/data/repos/memories"
	"github.com/luminaux/lumina-backend/internal/domain"
	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/svcerr"
)

type Store interface {
	// Store appends a memory and returns its id. The memory is
	// recall-eligible the moment Store returns.
	Store(ctx context.Context, m domain.Memory) (uuid.UUID, error)
	// Recall returns the top-k most similar memories, best first.
	Recall(ctx context.Context, query string, k int) ([]domain.RecalledMemory, error)
	ListAll(ctx context.Context) ([]domain.Memory, error)
}

type entry struct {
	mem domain.Memory
	vec []float32
}

type store struct {
	log     *logger.Logger
	journal memories.MemoryRepo // nil means in-memory only

	mu      sync.RWMutex
	entries []entry
}

// New builds the store, re-indexing any journaled memories.
func New(log *logger.Logger, journal memories.MemoryRepo) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	s := &store{
		log:     log.With("component", "MemoryStore"),
		journal: journal,
	}
	if journal != nil {
		rows, err := journal.ListAll(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load memory journal: %w", err)
		}
		for _, m := range rows {
			s.entries = append(s.entries, entry{mem: m, vec: embed(m.EmbeddingSubject)})
		}
		s.log.Info("Memory journal loaded", "memories", len(rows))
	}
	return s, nil
}

func (s *store) Store(ctx context.Context, m domain.Memory) (uuid.UUID, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.EmbeddingSubject == "" {
		return uuid.Nil, &svcerr.MemoryStoreError{Op: "store", Err: fmt.Errorf("empty embedding subject")}
	}

	if s.journal != nil {
		if err := s.journal.Append(ctx, &m); err != nil {
			return uuid.Nil, &svcerr.MemoryStoreError{Op: "store", Err: err}
		}
	}

	s.mu.Lock()
	// Replayed writes reuse their deterministic id; the journal already
	// ignored the duplicate, so the index must too.
	for _, e := range s.entries {
		if e.mem.ID == m.ID {
			s.mu.Unlock()
			return m.ID, nil
		}
	}
	s.entries = append(s.entries, entry{mem: m, vec: embed(m.EmbeddingSubject)})
	s.mu.Unlock()

	s.log.Debug("Memory stored", "id", m.ID, "kind", m.Kind, "session_id", m.SessionID)
	return m.ID, nil
}

func (s *store) Recall(ctx context.Context, query string, k int) ([]domain.RecalledMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, &svcerr.MemoryStoreError{Op: "recall", Err: err}
	}
	if k <= 0 {
		return nil, nil
	}
	qv := embed(query)

	s.mu.RLock()
	snapshot := make([]entry, len(s.entries))
	copy(snapshot, s.entries)
	s.mu.RUnlock()

	out := make([]domain.RecalledMemory, 0, len(snapshot))
	for _, e := range snapshot {
		out = append(out, domain.RecalledMemory{
			Memory:     e.mem,
			Similarity: cosine(qv, e.vec),
		})
	}
	// Deterministic order: similarity desc, then insertion time, then id.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if !out[i].Memory.CreatedAt.Equal(out[j].Memory.CreatedAt) {
			return out[i].Memory.CreatedAt.Before(out[j].Memory.CreatedAt)
		}
		return out[i].Memory.ID.String() < out[j].Memory.ID.String()
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *store) ListAll(ctx context.Context) ([]domain.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Memory, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.mem)
	}
	return out, nil
}
