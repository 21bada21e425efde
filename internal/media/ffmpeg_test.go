package media

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

type fakeRunner struct {
	args  []string
	write []byte
	out   []byte
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	f.args = args
	if f.err != nil {
		return f.out, f.err
	}
	if f.write != nil {
		if err := os.WriteFile(args[len(args)-1], f.write, 0o644); err != nil {
			return nil, err
		}
	}
	return f.out, nil
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestExtractLastFrame(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "shot_1.mp4")
	writeFile(t, video, []byte("video"))
	out := filepath.Join(dir, "frames", "last.png")

	runner := &fakeRunner{write: []byte("png")}
	if err := ExtractLastFrame(context.Background(), runner, video, out); err != nil {
		t.Fatalf("ExtractLastFrame: %v", err)
	}
	want := []string{"-sseof", "-0.1", "-i", video, "-frames:v", "1", "-q:v", "2", out}
	if strings.Join(runner.args, " ") != strings.Join(want, " ") {
		t.Fatalf("args = %v, want %v", runner.args, want)
	}
}

func TestExtractLastFrameFailures(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "shot_1.mp4")
	writeFile(t, video, []byte("video"))

	tests := []struct {
		name   string
		video  string
		runner *fakeRunner
	}{
		{name: "missing source", video: filepath.Join(dir, "missing.mp4"), runner: &fakeRunner{write: []byte("png")}},
		{name: "processor error", video: video, runner: &fakeRunner{err: ErrProcessor, out: []byte("moov atom not found")}},
		{name: "no output written", video: video, runner: &fakeRunner{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ExtractLastFrame(context.Background(), tc.runner, tc.video, filepath.Join(t.TempDir(), "last.png"))
			if !errors.Is(err, ErrExtraction) {
				t.Fatalf("expected ErrExtraction, got %v", err)
			}
		})
	}
}

func TestDataURI(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "frame.png")
	jpg := filepath.Join(dir, "frame.JPG")
	writeFile(t, png, []byte("abc"))
	writeFile(t, jpg, []byte("abc"))

	got, err := DataURI(png)
	if err != nil {
		t.Fatalf("DataURI: %v", err)
	}
	if got != "data:image/png;base64,YWJj" {
		t.Fatalf("png data uri = %q", got)
	}
	got, _ = DataURI(jpg)
	if !strings.HasPrefix(got, "data:image/jpeg;base64,") {
		t.Fatalf("jpg data uri = %q", got)
	}
	if _, err := DataURI(filepath.Join(dir, "missing.png")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFFmpegRunWrapsExitError(t *testing.T) {
	bin, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false binary not available")
	}
	ff := NewFFmpeg(Options{Path: bin})
	if _, err := ff.Run(context.Background(), "-i", "nothing"); !errors.Is(err, ErrProcessor) {
		t.Fatalf("expected ErrProcessor, got %v", err)
	}
}

func TestFFmpegRunMissingBinary(t *testing.T) {
	ff := NewFFmpeg(Options{Path: filepath.Join(t.TempDir(), "no-ffmpeg")})
	if _, err := ff.Run(context.Background()); !errors.Is(err, ErrProcessor) {
		t.Fatalf("expected ErrProcessor, got %v", err)
	}
}

func TestTail(t *testing.T) {
	if got := Tail([]byte("  abcdef \n"), 3); got != "def" {
		t.Fatalf("Tail = %q", got)
	}
}
