package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"storyreel/internal/domain"
	"storyreel/internal/http/handlers"
	"storyreel/internal/pipeline"
)

type fakePipeline struct {
	calls []string
	err   error
}

func (f *fakePipeline) ack(op string, id int64) (pipeline.Ack, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s:%d", op, id))
	if f.err != nil {
		return pipeline.Ack{}, f.err
	}
	return pipeline.Ack{OK: true, ShotID: id, Shots: 1}, nil
}

func (f *fakePipeline) GenerateShotImage(_ context.Context, id int64) (pipeline.Ack, error) {
	return f.ack("image", id)
}

func (f *fakePipeline) GenerateShotVideo(_ context.Context, id int64) (pipeline.Ack, error) {
	return f.ack("video", id)
}

func (f *fakePipeline) GenerateSceneVideos(_ context.Context, id int64) (pipeline.Ack, error) {
	return f.ack("sequence", id)
}

func (f *fakePipeline) GenerateStoryImages(_ context.Context, id int64) (pipeline.Ack, error) {
	return f.ack("story-images", id)
}

func (f *fakePipeline) GenerateStoryVideos(_ context.Context, id int64) (pipeline.Ack, error) {
	return f.ack("story-videos", id)
}

func (f *fakePipeline) Compose(_ context.Context, id int64) (pipeline.Ack, error) {
	return f.ack("compose", id)
}

func (f *fakePipeline) ShotMap(_ context.Context, id int64) (pipeline.Ack, error) {
	return f.ack("shot-map", id)
}

func (f *fakePipeline) Transitions(_ context.Context, id int64) ([]domain.TransitionSuggestion, error) {
	f.calls = append(f.calls, fmt.Sprintf("transitions:%d", id))
	if f.err != nil {
		return nil, f.err
	}
	return []domain.TransitionSuggestion{{FromShotID: 1, ToShotID: 2, Type: domain.TransitionCut}}, nil
}

func newServer(p *fakePipeline, ping func(context.Context) error) http.Handler {
	app := &handlers.App{Pipeline: p, Ping: ping, Logger: zerolog.Nop()}
	return NewRouter(app, Options{RateLimitPerMin: 100})
}

func TestTriggerRoutes(t *testing.T) {
	tests := []struct {
		path string
		call string
	}{
		{"/v1/shots/7/generate", "image:7"},
		{"/v1/shots/7/generate-video", "video:7"},
		{"/v1/scenes/3/generate-video-sequence", "sequence:3"},
		{"/v1/scenes/3/compose", "compose:3"},
		{"/v1/scenes/3/shot-map", "shot-map:3"},
		{"/v1/stories/1/generate-all", "story-images:1"},
		{"/v1/stories/1/generate-all-videos", "story-videos:1"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			p := &fakePipeline{}
			rec := httptest.NewRecorder()
			newServer(p, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, nil))
			if rec.Code != http.StatusAccepted {
				t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
			}
			if len(p.calls) != 1 || p.calls[0] != tt.call {
				t.Fatalf("calls = %v", p.calls)
			}
			var ack pipeline.Ack
			if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil || !ack.OK {
				t.Fatalf("ack = %s (%v)", rec.Body.String(), err)
			}
		})
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not found", fmt.Errorf("shot 9: %w", domain.ErrNotFound), http.StatusNotFound},
		{"in flight", domain.ErrAlreadyInProgress, http.StatusConflict},
		{"no shots", domain.ErrNoShots, http.StatusBadRequest},
		{"no images", domain.ErrNoImages, http.StatusBadRequest},
		{"bad order", domain.ErrInvalidSequence, http.StatusUnprocessableEntity},
		{"unexpected", errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newServer(&fakePipeline{err: tt.err}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/scenes/9/compose", nil))
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d", rec.Code, tt.code)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["detail"] == "" {
				t.Fatalf("body = %s", rec.Body.String())
			}
			if tt.code == http.StatusInternalServerError && body["detail"] != "internal error" {
				t.Fatalf("internal error leaked: %s", body["detail"])
			}
		})
	}
}

func TestInvalidID(t *testing.T) {
	p := &fakePipeline{}
	for _, path := range []string{"/v1/shots/abc/generate", "/v1/shots/0/generate"} {
		rec := httptest.NewRecorder()
		newServer(p, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
	}
	if len(p.calls) != 0 {
		t.Fatalf("pipeline called for invalid ids: %v", p.calls)
	}
}

func TestTransitionsRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(&fakePipeline{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/scenes/4/transitions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		SceneID     int64                         `json:"scene_id"`
		Suggestions []domain.TransitionSuggestion `json:"suggestions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.SceneID != 4 || len(body.Suggestions) != 1 {
		t.Fatalf("body = %+v", body)
	}
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(&fakePipeline{}, func(context.Context) error { return nil }).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthy status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	newServer(&fakePipeline{}, func(context.Context) error { return errors.New("down") }).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d", rec.Code)
	}
}

func TestProgressSocketUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(&fakePipeline{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ws", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetOnTriggerNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(&fakePipeline{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/scenes/1/compose", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}
