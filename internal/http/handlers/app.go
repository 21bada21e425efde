package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"storyreel/internal/domain"
	"storyreel/internal/pipeline"
)

// Pipeline is the trigger surface served over HTTP.
type Pipeline interface {
	GenerateShotImage(ctx context.Context, shotID int64) (pipeline.Ack, error)
	GenerateShotVideo(ctx context.Context, shotID int64) (pipeline.Ack, error)
	GenerateSceneVideos(ctx context.Context, sceneID int64) (pipeline.Ack, error)
	GenerateStoryImages(ctx context.Context, storyID int64) (pipeline.Ack, error)
	GenerateStoryVideos(ctx context.Context, storyID int64) (pipeline.Ack, error)
	Compose(ctx context.Context, sceneID int64) (pipeline.Ack, error)
	ShotMap(ctx context.Context, sceneID int64) (pipeline.Ack, error)
	Transitions(ctx context.Context, sceneID int64) ([]domain.TransitionSuggestion, error)
}

type App struct {
	Pipeline Pipeline
	// Progress serves the websocket upgrade.
	Progress http.Handler
	// Ping checks the database; nil skips the check.
	Ping   func(ctx context.Context) error
	Logger zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) detail(w http.ResponseWriter, code int, msg string) {
	a.json(w, code, map[string]string{"detail": msg})
}

// fail maps domain errors to status codes. Anything unexpected is logged and
// reported as 500 without internals.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.detail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyInProgress):
		a.detail(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNoShots):
		a.detail(w, http.StatusBadRequest, "No shots in scene")
	case errors.Is(err, domain.ErrNoImages):
		a.detail(w, http.StatusBadRequest, "No shots have images yet")
	case errors.Is(err, domain.ErrInvalidSequence):
		a.detail(w, http.StatusUnprocessableEntity, err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("handler failed")
		a.detail(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *App) id(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		a.detail(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// trigger adapts a pipeline operation to a 202 handler.
func (a *App) trigger(op func(ctx context.Context, id int64) (pipeline.Ack, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := a.id(w, r)
		if !ok {
			return
		}
		ack, err := op(r.Context(), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		a.json(w, http.StatusAccepted, ack)
	}
}
