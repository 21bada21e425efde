// Package media wraps the external ffmpeg processor used for clip synthesis,
// stitching and continuity frame extraction.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"storyreel/internal/infra"
)

var (
	// ErrProcessor marks a non-zero exit or launch failure of the media processor.
	ErrProcessor = errors.New("media processor failed")
	// ErrExtraction marks a failed continuity frame extraction.
	ErrExtraction = errors.New("frame extraction failed")
)

// Runner executes one media processor invocation and returns its diagnostic
// output. A non-nil error wraps ErrProcessor.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// Options configures an FFmpeg runner.
type Options struct {
	Path    string
	Timeout time.Duration
	Logger  *infra.Logger
}

// FFmpeg runs the ffmpeg binary.
type FFmpeg struct {
	path    string
	timeout time.Duration
	logger  infra.Logger
}

func NewFFmpeg(opts Options) *FFmpeg {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{
		path:    path,
		timeout: opts.Timeout,
		logger:  infra.LoggerOrNop(opts.Logger),
	}
}

// Run invokes ffmpeg with "-y" prepended to args. Stderr is returned for
// logging and never surfaced to API callers.
func (f *FFmpeg) Run(ctx context.Context, args ...string) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	full := append([]string{"-y"}, args...)
	cmd := exec.CommandContext(ctx, f.path, full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	output := stderr.Bytes()
	if err != nil {
		f.logger.Debug().Err(err).Dur("elapsed", time.Since(start)).Msg("ffmpeg exited with error")
		return output, fmt.Errorf("%w: %v", ErrProcessor, err)
	}
	f.logger.Debug().Dur("elapsed", time.Since(start)).Msg("ffmpeg finished")
	return output, nil
}

// ExtractLastFrame writes the final frame of videoPath to outPath.
func ExtractLastFrame(ctx context.Context, r Runner, videoPath, outPath string) error {
	if _, err := os.Stat(videoPath); err != nil {
		return fmt.Errorf("%w: source video: %v", ErrExtraction, err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("%w: ensure directory: %v", ErrExtraction, err)
	}
	out, err := r.Run(ctx, "-sseof", "-0.1", "-i", videoPath, "-frames:v", "1", "-q:v", "2", outPath)
	if err != nil {
		return fmt.Errorf("%w: %v: %s", ErrExtraction, err, tail(out, 512))
	}
	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("%w: no frame written to %s", ErrExtraction, filepath.Base(outPath))
	}
	return nil
}

var imageMIME = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
}

// DataURI encodes the image at path as a base64 data URI.
func DataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mime, ok := imageMIME[strings.ToLower(filepath.Ext(path))]
	if !ok {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// Tail returns at most n trailing bytes of processor output for log lines.
func Tail(out []byte, n int) string {
	return tail(out, n)
}

func tail(out []byte, n int) string {
	s := strings.TrimSpace(string(out))
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
