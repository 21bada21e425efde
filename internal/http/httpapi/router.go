package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"storyreel/internal/http/handlers"
	mw "storyreel/internal/middleware"
)

type Options struct {
	CORSOrigins     []string
	RateLimitPerMin int
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		mw.RequestID(app.Logger),
		middleware.RealIP,
		middleware.Recoverer,
		mw.Logger(app.Logger),
		mw.CORS(opts.CORSOrigins),
	)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", app.Health)
		r.Get("/ws", app.ProgressSocket)
		r.Get("/scenes/{id}/transitions", app.SceneTransitions)

		// Triggers spend upstream quota, so they share one limiter.
		r.Group(func(r chi.Router) {
			r.Use(mw.RateLimit(opts.RateLimitPerMin, time.Minute))
			r.Post("/shots/{id}/generate", app.GenerateShot)
			r.Post("/shots/{id}/generate-video", app.GenerateShotVideo)
			r.Post("/scenes/{id}/generate-video-sequence", app.GenerateSceneVideoSequence)
			r.Post("/scenes/{id}/compose", app.ComposeScene)
			r.Post("/scenes/{id}/shot-map", app.SceneShotMap)
			r.Post("/stories/{id}/generate-all", app.GenerateAll)
			r.Post("/stories/{id}/generate-all-videos", app.GenerateAllVideos)
		})
	})

	return r
}
