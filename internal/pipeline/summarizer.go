package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/luminaux/lumina-backend/internal/domain"
	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/memory"
)

// eventRecord is what the summarizer needs from each diagnosed event.
type eventRecord struct {
	Page      string
	Sentiment string
	Category  string
}

// Summarizer aggregates a finished session into one SESSION_SUMMARY
// memory. The orchestrator guarantees it runs exactly once per session.
type Summarizer struct {
	log      *logger.Logger
	memories memory.Store
}

func NewSummarizer(log *logger.Logger, store memory.Store) *Summarizer {
	return &Summarizer{
		log:      log.With("component", "SessionSummarizer"),
		memories: store,
	}
}

// Summarize builds the rollup and writes its memory. Sessions with zero
// friction events still produce a summary with zero counts.
func (s *Summarizer) Summarize(ctx context.Context, sessionID string, chunkCount int, records []eventRecord) (*domain.SessionSummary, error) {
	summary := buildSummary(sessionID, chunkCount, records)

	m := domain.Memory{
		ID:               uuid.NewSHA1(uuid.NameSpaceOID, []byte("session-summary:"+sessionID)),
		Kind:             domain.MemoryKindSessionSummary,
		EmbeddingSubject: summarySubject(summary),
		Payload:          summaryMessage(summary),
		SessionID:        sessionID,
		CreatedAt:        summary.CreatedAt,
	}
	if _, err := s.memories.Store(ctx, m); err != nil {
		return summary, err
	}
	s.log.Info("Session summary stored",
		"session_id", sessionID,
		"event_count", summary.EventCount,
		"dominant_sentiment", summary.DominantSentiment,
	)
	return summary, nil
}

func buildSummary(sessionID string, chunkCount int, records []eventRecord) *domain.SessionSummary {
	pageCounts := map[string]int{}
	sentimentCounts := map[string]int{}
	categoryCounts := map[string]int{}
	for _, r := range records {
		page := r.Page
		if page == "" {
			page = "unknown"
		}
		pageCounts[page]++
		sentimentCounts[r.Sentiment]++
		if r.Category != "" {
			categoryCounts[r.Category]++
		}
	}
	return &domain.SessionSummary{
		SessionID:           sessionID,
		EventCount:          len(records),
		ChunkCount:          chunkCount,
		PageCounts:          pageCounts,
		DominantSentiment:   topKey(sentimentCounts, "Neutral"),
		RecurringCategories: recurring(categoryCounts),
		CreatedAt:           time.Now().UTC(),
	}
}

func summarySubject(sum *domain.SessionSummary) string {
	return fmt.Sprintf("session summary: %d friction events, top page %s, dominant sentiment %s",
		sum.EventCount, topKey(sum.PageCounts, "unknown"), sum.DominantSentiment)
}

func summaryMessage(sum *domain.SessionSummary) string {
	parts := []string{
		fmt.Sprintf("Session processed %d friction events across %d chunks.", sum.EventCount, sum.ChunkCount),
	}
	if sum.EventCount > 0 {
		topPage := topKey(sum.PageCounts, "unknown")
		parts = append(parts, fmt.Sprintf("Most problematic page: %s (%d/%d events).",
			topPage, sum.PageCounts[topPage], sum.EventCount))
		for _, page := range sortedKeysByCount(sum.PageCounts) {
			parts = append(parts, fmt.Sprintf("- %s: %d friction events", page, sum.PageCounts[page]))
		}
	}
	parts = append(parts, fmt.Sprintf("Dominant user sentiment: %s.", sum.DominantSentiment))
	if len(sum.RecurringCategories) > 0 {
		parts = append(parts, "Recurring categories: "+strings.Join(sum.RecurringCategories, ", ")+".")
	}
	return strings.Join(parts, " ")
}

// topKey picks the highest-count key, breaking ties alphabetically so
// the summary is stable.
func topKey(counts map[string]int, fallback string) string {
	best, bestCount := fallback, 0
	for _, k := range sortedKeys(counts) {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return best
}

func recurring(categoryCounts map[string]int) []string {
	var out []string
	for _, k := range sortedKeysByCount(categoryCounts) {
		if categoryCounts[k] >= 2 {
			out = append(out, k)
		}
	}
	return out
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysByCount(m map[string]int) []string {
	keys := sortedKeys(m)
	sort.SliceStable(keys, func(i, j int) bool {
		return m[keys[i]] > m[keys[j]]
	})
	return keys
}
