// Package mockup calls the image synthesis service that redraws a
// captured frame with the suggested fix applied.
package mockup

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

type Client interface {
	// SynthesizeMockup returns the generated image bytes.
	SynthesizeMockup(ctx context.Context, framePath, rootCause, fixSuggestion string) ([]byte, error)
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
		return nil, fmt.Errorf("missing mockup base URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &client{
		log:  log.With("client", "MockupClient"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type synthesizeRequest struct {
	ImageData     string `json:"image_data"`
	RootCause     string `json:"root_cause"`
	FixSuggestion string `json:"fix_suggestion"`
}

type synthesizeResponse struct {
	ImageData string `json:"image_data"` // base64
}

func (c *client) SynthesizeMockup(ctx context.Context, framePath, rootCause, fixSuggestion string) ([]byte, error) {
	frame, err := os.ReadFile(framePath)
	if err != nil {
		return nil, &svcerr.ExtractionError{Err: fmt.Errorf("read frame %s: %w", framePath, err)}
	}
	mime := "image/jpeg"
	if strings.EqualFold(filepath.Ext(framePath), ".png") {
		mime = "image/png"
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(synthesizeRequest{
		ImageData:     "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(frame),
		RootCause:     rootCause,
		FixSuggestion: fixSuggestion,
	}); err != nil {
		return nil, svcerr.Permanentf("mockup", "encode request: %v", err)
	}

	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/synthesize"
	req, err := http.NewRequestWithContext(ctx, "POST", u, &buf)
	if err != nil {
		return nil, svcerr.Permanentf("mockup", "build request: %v", err)
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &svcerr.TransientError{Service: "mockup", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if err := svcerr.FromStatus("mockup", resp.StatusCode, string(raw)); err != nil {
		return nil, err
	}
	var out synthesizeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, svcerr.Permanentf("mockup", "decode: %v", err)
	}
	data := out.ImageData
	if i := strings.Index(data, ";base64,"); i >= 0 {
		data = data[i+len(";base64,"):]
	}
	img, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, svcerr.Permanentf("mockup", "decode image: %v", err)
	}
	if len(img) == 0 {
		return nil, svcerr.Permanentf("mockup", "empty image")
	}
	c.log.Debug("Mockup synthesized", "bytes", len(img))
	return img, nil
}
