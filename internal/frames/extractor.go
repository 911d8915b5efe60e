// Package frames extracts stills from session recordings with ffmpeg.
package frames

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/luminaux/lumina-backend/internal/logger"
	"github.com/luminaux/lumina-backend/internal/svcerr"
)

type Extractor interface {
	// ExtractAt grabs the frame nearest to timestamp (seconds) and
	// returns its path.
	ExtractAt(ctx context.Context, videoRef string, timestamp float64) (string, error)
}

type extractor struct {
	log        *logger.Logger
	ffmpegPath string
	outDir     string
	timeout    time.Duration
}

func NewExtractor(log *logger.Logger, outDir string) (Extractor, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if outDir == "" {
		outDir = os.TempDir()
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", outDir, err)
	}
	return &extractor{
		log:        log.With("component", "FrameExtractor"),
		ffmpegPath: "ffmpeg",
		outDir:     outDir,
		timeout:    30 * time.Second,
	}, nil
}

func (e *extractor) ExtractAt(ctx context.Context, videoRef string, timestamp float64) (string, error) {
	if videoRef == "" {
		return "", &svcerr.ExtractionError{Err: fmt.Errorf("videoRef required")}
	}
	if _, err := os.Stat(videoRef); err != nil {
		return "", &svcerr.ExtractionError{Err: fmt.Errorf("video missing: %w", err)}
	}

	outPath := filepath.Join(e.outDir, fmt.Sprintf("frame_%s_%.1f.jpg", filepath.Base(videoRef), timestamp))

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := []string{
		"-ss", fmt.Sprintf("%.3f", timestamp),
		"-i", videoRef,
		"-frames:v", "1",
		"-q:v", "2",
		"-y",
		outPath,
	}
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", &svcerr.ExtractionError{Err: fmt.Errorf("ffmpeg extract frame: %w; out=%s", err, string(out))}
	}
	if _, err := os.Stat(outPath); err != nil {
		return "", &svcerr.ExtractionError{Err: fmt.Errorf("frame output missing at %s", outPath)}
	}
	e.log.Debug("Frame extracted", "video", videoRef, "timestamp", timestamp, "frame", outPath)
	return outPath, nil
}
