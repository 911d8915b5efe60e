package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/luminaux/lumina-backend/internal/domain"
	"github.com/luminaux/lumina-backend/internal/logger"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := New(logger.NewNop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestStoreThenRecallRanksBySimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	checkout, err := s.Store(ctx, domain.Memory{
		Kind:             domain.MemoryKindPerEvent,
		EmbeddingSubject: "Frustrated navigation issue on Checkout page element Pay Button",
		Payload:          "checkout insight",
		SessionID:        "s1",
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := s.Store(ctx, domain.Memory{
		Kind:             domain.MemoryKindPerEvent,
		EmbeddingSubject: "Confused labeling issue on Settings page element Language Dropdown",
		Payload:          "settings insight",
		SessionID:        "s1",
	}); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := s.Recall(ctx, "Frustrated issue on Checkout page element Pay Button", 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 recalled memories, got %d", len(got))
	}
	if got[0].Memory.ID != checkout {
		t.Fatalf("expected checkout memory ranked first, got %s", got[0].Memory.Payload)
	}
	if got[0].Similarity <= got[1].Similarity {
		t.Fatalf("similarities not descending: %v then %v", got[0].Similarity, got[1].Similarity)
	}
}

func TestRecallIsDeterministic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := s.Store(ctx, domain.Memory{
			Kind:             domain.MemoryKindPerEvent,
			EmbeddingSubject: fmt.Sprintf("issue number %d on page Checkout", i),
			Payload:          fmt.Sprintf("p%d", i),
			SessionID:        "s1",
		}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	first, err := s.Recall(ctx, "issue on page Checkout", 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := s.Recall(ctx, "issue on page Checkout", 5)
		if err != nil {
			t.Fatalf("recall: %v", err)
		}
		if len(again) != len(first) {
			t.Fatalf("non-deterministic recall length")
		}
		for j := range again {
			if again[j].Memory.ID != first[j].Memory.ID {
				t.Fatalf("non-deterministic recall order at %d", j)
			}
		}
	}
}

func TestRecallTopKBound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		if _, err := s.Store(ctx, domain.Memory{
			Kind:             domain.MemoryKindPerEvent,
			EmbeddingSubject: fmt.Sprintf("memory %d", i),
			Payload:          "x",
			SessionID:        "s1",
		}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	got, err := s.Recall(ctx, "memory", 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected k=5 results, got %d", len(got))
	}
}

func TestStoredMemoryImmediatelyRecallable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, err := s.Store(ctx, domain.Memory{
		Kind:             domain.MemoryKindPerEvent,
		EmbeddingSubject: "Frustrated feedback issue on Cart page",
		Payload:          "same session memory",
		SessionID:        "s1",
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	got, err := s.Recall(ctx, "Frustrated feedback issue on Cart page", 1)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(got) != 1 || got[0].Memory.ID != id {
		t.Fatalf("memory written in-session not recall-eligible")
	}
}

func TestConcurrentAppendsAndRecalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Store(ctx, domain.Memory{
				Kind:             domain.MemoryKindPerEvent,
				EmbeddingSubject: fmt.Sprintf("concurrent memory %d", i),
				Payload:          "x",
				SessionID:        "s1",
			})
		}(i)
		go func() {
			defer wg.Done()
			if _, err := s.Recall(ctx, "concurrent memory", 5); err != nil {
				t.Errorf("recall under write load: %v", err)
			}
		}()
	}
	wg.Wait()
	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 20 {
		t.Fatalf("expected 20 memories after concurrent appends, got %d", len(all))
	}
}

func TestEmbedDeterministicAndNormalized(t *testing.T) {
	a := embed("Checkout Pay Button frustration")
	b := embed("Checkout Pay Button frustration")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at dim %d", i)
		}
	}
	if sim := cosine(a, b); sim < 0.999 || sim > 1.001 {
		t.Fatalf("self-similarity should be 1, got %v", sim)
	}
}
