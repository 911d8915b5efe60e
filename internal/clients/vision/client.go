// Package vision sends a frame captured at a friction instant to the
// visual analysis service and asks which UI element the user was
// struggling with.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/svcerr"
)

type FrameAnalysis struct {
	Element     string `json:"detected_element"`
	Page        string `json:"page"`
	Description string `json:"description"`
}

type Client interface {
	AnalyzeFrame(ctx context.Context, framePath, frameContext string) (*FrameAnalysis, error)
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
		return nil, fmt.Errorf("missing vision base URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &client{
		log:  log.With("client", "VisionClient"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type analyzeRequest struct {
	ImageData string `json:"image_data"` // data URL, base64
	Context   string `json:"context"`
}

func (c *client) AnalyzeFrame(ctx context.Context, framePath, frameContext string) (*FrameAnalysis, error) {
	raw, err := os.ReadFile(framePath)
	if err != nil {
		return nil, &svcerr.ExtractionError{Err: fmt.Errorf("read frame %s: %w", framePath, err)}
	}
	mime := "image/jpeg"
	if strings.EqualFold(filepath.Ext(framePath), ".png") {
		mime = "image/png"
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(raw)

	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/analyze-frame"
	body, err := c.post(ctx, u, analyzeRequest{ImageData: dataURL, Context: frameContext})
	if err != nil {
		return nil, err
	}

	// The model sometimes wraps its JSON in markdown fences.
	text := stripFences(string(body))
	var out FrameAnalysis
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, svcerr.Permanentf("vision", "decode: %v; raw=%s", err, text)
	}
	if strings.TrimSpace(out.Element) == "" && strings.TrimSpace(out.Page) == "" {
		return nil, svcerr.Permanentf("vision", "empty analysis")
	}
	c.log.Debug("Frame analyzed", "element", out.Element, "page", out.Page)
	return &out, nil
}

func (c *client) post(ctx context.Context, url string, body any) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, svcerr.Permanentf("vision", "encode request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, &buf)
	if err != nil {
		return nil, svcerr.Permanentf("vision", "build request: %v", err)
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &svcerr.TransientError{Service: "vision", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if err := svcerr.FromStatus("vision", resp.StatusCode, string(raw)); err != nil {
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
	if strings.HasSuffix(strings.TrimSpace(text), "```") {
		text = strings.TrimSpace(text)
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
	}
	return strings.TrimSpace(text)
}
