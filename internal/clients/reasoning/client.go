// Package reasoning calls the root-cause diagnosis model. The model sees
// the friction event, any visual context, and the recalled memories, and
// returns a structured base diagnosis. Its content is non-deterministic;
// everything around it is not.
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/luminaux/lumina-backend/internal/domain"
	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/svcerr"
)

type DiagnoseRequest struct {
	Timestamp     float64  `json:"timestamp"`
	Sentiment     string   `json:"sentiment"`
	Score         float64  `json:"score"`
	WinningSignal string   `json:"winning_signal"`
	UserQuote     string   `json:"user_quote"`
	Element       string   `json:"element,omitempty"`
	Page          string   `json:"page,omitempty"`
	Description   string   `json:"description,omitempty"`
	PastLearnings []string `json:"past_learnings,omitempty"`
}

type BaseDiagnosis struct {
	Category      string `json:"category"`
	RootCause     string `json:"root_cause"`
	FixSuggestion string `json:"suggested_fix"`
	BaseSeverity  int    `json:"base_severity"`
}

type Client interface {
	Diagnose(ctx context.Context, req DiagnoseRequest) (*BaseDiagnosis, error)
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type client struct {
	log  *logger.Logger
	cfg  Config
	http *http.Client
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("missing reasoning base URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &client{
		log:  log.With("client", "ReasoningClient"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *client) Diagnose(ctx context.Context, req DiagnoseRequest) (*BaseDiagnosis, error) {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/diagnose"
	raw, err := c.post(ctx, u, req)
	if err != nil {
		return nil, err
	}
	text := stripFences(string(raw))
	var out BaseDiagnosis
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, svcerr.Permanentf("reasoning", "decode: %v; raw=%s", err, text)
	}
	if strings.TrimSpace(out.RootCause) == "" {
		return nil, svcerr.Permanentf("reasoning", "empty root cause")
	}
	if out.BaseSeverity < domain.SeverityMin {
		out.BaseSeverity = domain.SeverityMin
	}
	if out.BaseSeverity > domain.SeverityMax {
		out.BaseSeverity = domain.SeverityMax
	}
	c.log.Debug("Diagnosis received", "category", out.Category, "base_severity", out.BaseSeverity)
	return &out, nil
}

func (c *client) post(ctx context.Context, url string, body any) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, svcerr.Permanentf("reasoning", "encode request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, &buf)
	if err != nil {
		return nil, svcerr.Permanentf("reasoning", "build request: %v", err)
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &svcerr.TransientError{Service: "reasoning", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if err := svcerr.FromStatus("reasoning", resp.StatusCode, string(raw)); err != nil {
		return nil, err
	}
	return raw, nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if i := strings.Index(text, "\n"); i >= 0 {
			text = text[i+1:]
		}
	}
	text = strings.TrimSpace(text)
	if strings.HasSuffix(text, "```") {
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
	}
	return strings.TrimSpace(text)
}
