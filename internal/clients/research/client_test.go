package research

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/svcerr"
)

func testClient(t *testing.T, baseURL string) Client {
	t.Helper()
	c, err := New(logger.NewNop(), Config{
		BaseURL:      baseURL,
		APIKey:       "test-key",
		PollInterval: time.Millisecond,
		MaxPolls:     3,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestResearchCreatesTaskAndPollsToCompletion(t *testing.T) {
	var polls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/v1/research":
			if r.Header.Get("X-API-Key") != "test-key" {
				t.Errorf("missing api key header")
			}
			json.NewEncoder(w).Encode(map[string]any{"task_id": "t1", "status": "running"})
		case r.Method == "GET" && r.URL.Path == "/v1/research/t1":
			n := atomic.AddInt64(&polls, 1)
			if n < 2 {
				json.NewEncoder(w).Encode(map[string]any{"task_id": "t1", "status": "running"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"task_id": "t1",
				"status":  "completed",
				"output": map[string]any{
					"source":         "Baymard Institute",
					"recommendation": "keep the primary CTA above the fold",
					"examples":       []string{"Stripe", "Shopify"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	bench, err := testClient(t, srv.URL).Research(context.Background(), "navigation", "hidden primary action")
	if err != nil {
		t.Fatalf("Research: %v", err)
	}
	if bench.Source != "Baymard Institute" {
		t.Fatalf("source = %q", bench.Source)
	}
	if bench.Recommendation == "" || len(bench.Examples) != 2 {
		t.Fatalf("benchmark = %+v", bench)
	}
	if atomic.LoadInt64(&polls) != 2 {
		t.Fatalf("polled %d times, want 2", polls)
	}
}

func TestResearchFailedTaskIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"task_id": "t1", "status": "failed"})
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Research(context.Background(), "navigation", "hidden primary action")
	if !svcerr.IsPermanent(err) {
		t.Fatalf("failed task must be permanent, got %v", err)
	}
}

func TestResearchPollBudgetExhaustionIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"task_id": "t1", "status": "running"})
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Research(context.Background(), "navigation", "hidden primary action")
	if !svcerr.IsPermanent(err) {
		t.Fatalf("poll exhaustion must be permanent, got %v", err)
	}
}

func TestResearchEmptySourceGetsFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"task_id": "t1",
			"status":  "completed",
			"output":  map[string]any{"recommendation": "use inline validation"},
		})
	}))
	defer srv.Close()

	bench, err := testClient(t, srv.URL).Research(context.Background(), "forms", "late validation")
	if err != nil {
		t.Fatalf("Research: %v", err)
	}
	if bench.Source != "Industry Research" {
		t.Fatalf("source = %q, want the fallback", bench.Source)
	}
}

func TestResearchEmptyRecommendationIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"task_id": "t1",
			"status":  "completed",
			"output":  map[string]any{"source": "NN/g"},
		})
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Research(context.Background(), "forms", "late validation")
	if !svcerr.IsPermanent(err) {
		t.Fatalf("empty recommendation must be permanent, got %v", err)
	}
}

func TestResearchServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Research(context.Background(), "forms", "late validation")
	if !svcerr.IsTransient(err) {
		t.Fatalf("503 must be transient, got %v", err)
	}
}
