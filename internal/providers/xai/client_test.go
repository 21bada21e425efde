package xai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"storyreel/internal/domain"
	"storyreel/internal/storage"
)

type fakeService struct {
	t        *testing.T
	mu       sync.Mutex
	submit   func(w http.ResponseWriter, body map[string]any)
	statuses []string // replies to successive polls; "" means HTTP 502
	polls    int
	payload  map[string]any
	auth     string
	server   *httptest.Server
}

func newFakeService(t *testing.T) *fakeService {
	f := &fakeService{t: t}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/videos/generations", f.handleSubmit)
	mux.HandleFunc("POST /v1/images/generations", f.handleSubmit)
	mux.HandleFunc("GET /v1/videos/generations/{id}", f.handlePoll)
	mux.HandleFunc("GET /files/out", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("media-bytes"))
	})
	mux.HandleFunc("GET /files/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeService) handleSubmit(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	f.mu.Lock()
	f.payload = body
	f.auth = r.Header.Get("Authorization")
	f.mu.Unlock()
	f.submit(w, body)
}

func (f *fakeService) handlePoll(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	idx := f.polls
	f.polls++
	f.mu.Unlock()
	if r.PathValue("id") != "job-1" {
		http.NotFound(w, r)
		return
	}
	status := "processing"
	if idx < len(f.statuses) {
		status = f.statuses[idx]
	}
	if status == "" {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	reply := map[string]any{"status": status}
	if status == "succeeded" || status == "completed" {
		reply["data"] = []any{map[string]any{"url": f.server.URL + "/files/out"}}
	}
	writeJSON(w, reply)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, f *fakeService, kind Kind, apiKey string) (*Client, *storage.FileStore) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	client, err := NewClient(Options{
		Kind:         kind,
		APIKey:       apiKey,
		BaseURL:      f.server.URL + "/v1",
		Store:        store,
		PollInterval: time.Millisecond,
		PollTimeout:  20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, store
}

func TestGenerateImageDirectURL(t *testing.T) {
	f := newFakeService(t)
	f.submit = func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, map[string]any{"data": []any{map[string]any{"url": f.server.URL + "/files/out"}}})
	}
	client, store := newTestClient(t, f, KindImage, "key-1")

	path, err := client.Generate(context.Background(), Request{ShotID: 7, Prompt: "a lighthouse at dusk"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if path != "images/shot_7.png" {
		t.Fatalf("path = %q", path)
	}
	data, _ := store.Read(path)
	if string(data) != "media-bytes" {
		t.Fatalf("stored %q", data)
	}
	if f.auth != "Bearer key-1" {
		t.Fatalf("authorization = %q", f.auth)
	}
	if f.payload["model"] != "grok-2-image" || f.payload["response_format"] != "url" || f.payload["aspect_ratio"] != "9:16" {
		t.Fatalf("unexpected payload %v", f.payload)
	}
	if _, ok := f.payload["resolution"]; ok {
		t.Fatal("image payload should not carry resolution")
	}
	if f.polls != 0 {
		t.Fatalf("expected no polling, got %d polls", f.polls)
	}
}

func TestGenerateVideoPollsUntilSucceeded(t *testing.T) {
	f := newFakeService(t)
	f.submit = func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, map[string]any{"request_id": "job-1"})
	}
	f.statuses = []string{"processing", "", "succeeded"}
	client, store := newTestClient(t, f, KindVideo, "key")

	path, err := client.Generate(context.Background(), Request{
		ShotID:         3,
		Prompt:         "slow dolly in",
		Duration:       6,
		ReferenceImage: &domain.ImageRef{DataURI: "data:image/png;base64,AAAA"},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if path != "videos/shot_3.mp4" {
		t.Fatalf("path = %q", path)
	}
	if !store.Exists(path) {
		t.Fatal("video not stored")
	}
	if f.polls != 3 {
		t.Fatalf("polls = %d, want 3 (poll errors are tolerated)", f.polls)
	}
	if f.payload["resolution"] != "720p" || f.payload["duration"] != float64(6) || f.payload["image_url"] != "data:image/png;base64,AAAA" {
		t.Fatalf("unexpected payload %v", f.payload)
	}
}

func TestGenerateStorageKeyReference(t *testing.T) {
	f := newFakeService(t)
	f.submit = func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, map[string]any{"data": []any{map[string]any{"url": f.server.URL + "/files/out"}}})
	}
	client, store := newTestClient(t, f, KindVideo, "key")
	if _, err := store.Write(context.Background(), "images/shot_1.png", []byte("abc")); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Generate(context.Background(), Request{ShotID: 1, Prompt: "p", ReferenceImage: &domain.ImageRef{StorageKey: "images/shot_1.png"}}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if f.payload["image_url"] != "data:image/png;base64,YWJj" {
		t.Fatalf("image_url = %v", f.payload["image_url"])
	}
	if f.payload["duration"] != float64(domain.DefaultVideoDuration) {
		t.Fatalf("duration = %v", f.payload["duration"])
	}
}

func TestGenerateFailures(t *testing.T) {
	tests := []struct {
		name     string
		submit   func(f *fakeService) func(http.ResponseWriter, map[string]any)
		statuses []string
		want     error
	}{
		{
			name: "submission rejected",
			submit: func(f *fakeService) func(http.ResponseWriter, map[string]any) {
				return func(w http.ResponseWriter, _ map[string]any) { http.Error(w, "quota", http.StatusTooManyRequests) }
			},
			want: ErrTransport,
		},
		{
			name: "no job id",
			submit: func(f *fakeService) func(http.ResponseWriter, map[string]any) {
				return func(w http.ResponseWriter, _ map[string]any) { writeJSON(w, map[string]any{"status": "queued"}) }
			},
			want: ErrMalformedResponse,
		},
		{
			name: "job failed",
			submit: func(f *fakeService) func(http.ResponseWriter, map[string]any) {
				return func(w http.ResponseWriter, _ map[string]any) { writeJSON(w, map[string]any{"id": "job-1"}) }
			},
			statuses: []string{"processing", "failed"},
			want:     ErrJobFailed,
		},
		{
			name: "never finishes",
			submit: func(f *fakeService) func(http.ResponseWriter, map[string]any) {
				return func(w http.ResponseWriter, _ map[string]any) { writeJSON(w, map[string]any{"id": "job-1"}) }
			},
			want: ErrTimeout,
		},
		{
			name: "download fails",
			submit: func(f *fakeService) func(http.ResponseWriter, map[string]any) {
				return func(w http.ResponseWriter, _ map[string]any) {
					writeJSON(w, map[string]any{"data": []any{map[string]any{"url": f.server.URL + "/files/broken"}}})
				}
			},
			want: ErrTransport,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeService(t)
			f.submit = tc.submit(f)
			f.statuses = tc.statuses
			client, store := newTestClient(t, f, KindVideo, "key")
			path, err := client.Generate(context.Background(), Request{ShotID: 9, Prompt: "p"})
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if path != "" {
				t.Fatalf("expected empty path, got %q", path)
			}
			if store.Exists("videos/shot_9.mp4") {
				t.Fatal("no file should be stored on failure")
			}
		})
	}
}

func TestGenerateMissingAPIKey(t *testing.T) {
	f := newFakeService(t)
	f.submit = func(w http.ResponseWriter, body map[string]any) {
		t.Error("should not submit without a key")
	}
	client, _ := newTestClient(t, f, KindImage, "")
	if _, err := client.Generate(context.Background(), Request{ShotID: 1, Prompt: "p"}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v", err)
	}
}

func TestGenerateKeyFuncFallback(t *testing.T) {
	f := newFakeService(t)
	f.submit = func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, map[string]any{"data": []any{map[string]any{"url": f.server.URL + "/files/out"}}})
	}
	store, _ := storage.NewFileStore(t.TempDir(), "")
	client, err := NewClient(Options{
		BaseURL: f.server.URL + "/v1",
		Store:   store,
		KeyFunc: func(ctx context.Context) (string, error) { return " stored-key ", nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Generate(context.Background(), Request{ShotID: 2, Prompt: "p"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasSuffix(f.auth, "stored-key") {
		t.Fatalf("authorization = %q", f.auth)
	}
}

func TestGenerateSubmitTransportError(t *testing.T) {
	store, _ := storage.NewFileStore(t.TempDir(), "")
	client, err := NewClient(Options{APIKey: "k", BaseURL: "http://127.0.0.1:1/v1", Store: store})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Generate(context.Background(), Request{ShotID: 1, Prompt: "p"}); !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

func TestNewClientDefaults(t *testing.T) {
	store, _ := storage.NewFileStore(t.TempDir(), "")
	video, err := NewClient(Options{Kind: KindVideo, Store: store})
	if err != nil {
		t.Fatal(err)
	}
	if video.Model() != "grok-imagine-video" || video.endpoint != "https://api.x.ai/v1/videos/generations" {
		t.Fatalf("video defaults: %s %s", video.Model(), video.endpoint)
	}
	if _, err := NewClient(Options{Kind: "audio", Store: store}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if _, err := NewClient(Options{}); err == nil {
		t.Fatal("expected error without store")
	}
}

func TestGenerateKeyOverride(t *testing.T) {
	f := newFakeService(t)
	f.submit = func(w http.ResponseWriter, body map[string]any) {
		writeJSON(w, map[string]any{"data": []any{map[string]any{"url": f.server.URL + "/files/out"}}})
	}
	client, store := newTestClient(t, f, KindImage, "key")
	path, err := client.Generate(context.Background(), Request{Prompt: "overhead map", Key: "shot_maps/scene_4_shot_map.png"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if path != "shot_maps/scene_4_shot_map.png" || !store.Exists(path) {
		t.Fatalf("path = %q", path)
	}
}
