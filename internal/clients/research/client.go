// Package research queries the benchmark research service. The service
// runs tasks asynchronously, so the client creates a task and polls it
// until completion within a bounded budget.
package research

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

type Client interface {
	Research(ctx context.Context, category, rootCause string) (*domain.Benchmark, error)
}

type Config struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxPolls     int
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
		return nil, fmt.Errorf("missing research base URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 15
	}
	return &client{
		log:  log.With("client", "ResearchClient"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type createRequest struct {
	Query string `json:"query"`
}

type taskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Output struct {
		Source         string   `json:"source"`
		Recommendation string   `json:"recommendation"`
		Examples       []string `json:"examples"`
	} `json:"output"`
}

func (c *client) Research(ctx context.Context, category, rootCause string) (*domain.Benchmark, error) {
	query := fmt.Sprintf(
		"Research UX best practices for solving: %s. Category: %s. "+
			"Reference how top-tier apps handle this with specific examples.",
		rootCause, category)

	base := strings.TrimRight(c.cfg.BaseURL, "/")
	task, err := c.doJSON(ctx, "POST", base+"/v1/research", createRequest{Query: query})
	if err != nil {
		return nil, err
	}

	polls := 0
	for task.Status != "completed" && task.Status != "failed" {
		polls++
		if polls > c.cfg.MaxPolls {
			return nil, svcerr.Permanentf("research", "task %s timed out after %d polls", task.TaskID, c.cfg.MaxPolls)
		}
		if err := sleepCtx(ctx, c.cfg.PollInterval); err != nil {
			return nil, err
		}
		task, err = c.doJSON(ctx, "GET", base+"/v1/research/"+task.TaskID, nil)
		if err != nil {
			return nil, err
		}
	}
	if task.Status == "failed" {
		return nil, svcerr.Permanentf("research", "task %s failed", task.TaskID)
	}
	if strings.TrimSpace(task.Output.Recommendation) == "" {
		return nil, svcerr.Permanentf("research", "task %s returned no recommendation", task.TaskID)
	}

	source := task.Output.Source
	if strings.TrimSpace(source) == "" {
		source = "Industry Research"
	}
	c.log.Debug("Benchmark research done", "task_id", task.TaskID, "source", source, "polls", polls)
	return &domain.Benchmark{
		Source:         source,
		Recommendation: task.Output.Recommendation,
		Examples:       task.Output.Examples,
	}, nil
}

func (c *client) doJSON(ctx context.Context, method, url string, body any) (*taskResponse, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, svcerr.Permanentf("research", "encode request: %v", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, svcerr.Permanentf("research", "build request: %v", err)
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &svcerr.TransientError{Service: "research", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if err := svcerr.FromStatus("research", resp.StatusCode, string(raw)); err != nil {
		return nil, err
	}
	var out taskResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, svcerr.Permanentf("research", "decode: %v; raw=%s", err, string(raw))
	}
	return &out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
