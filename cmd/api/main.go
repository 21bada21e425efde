package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"storyreel/internal/adapter/repo"
	"storyreel/internal/background"
	"storyreel/internal/compose"
	"storyreel/internal/continuity"
	"storyreel/internal/dispatch"
	"storyreel/internal/events"
	"storyreel/internal/http/handlers"
	"storyreel/internal/http/httpapi"
	"storyreel/internal/infra"
	"storyreel/internal/infra/credentials"
	"storyreel/internal/media"
	"storyreel/internal/pipeline"
	"storyreel/internal/prompt"
	"storyreel/internal/providers/xai"
	"storyreel/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()
	sql := infra.NewSQLRunner(dbpool, logger)

	files, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage")
	}

	// An empty XAI_API_KEY falls back to the key stored by cmd/apikey.
	creds := credentials.NewStore(sql)
	keyFunc := func(ctx context.Context) (string, error) {
		return creds.ResolveXAIAPIKey(ctx, cfg.XAIAPIKey)
	}
	newClient := func(kind xai.Kind, model string) *xai.Client {
		c, err := xai.NewClient(xai.Options{
			Kind:         kind,
			KeyFunc:      keyFunc,
			BaseURL:      cfg.XAIBaseURL,
			Model:        model,
			Store:        files,
			Logger:       &logger,
			PollInterval: cfg.PollInterval,
			PollTimeout:  cfg.PollTimeout,
		})
		if err != nil {
			logger.Fatal().Err(err).Str("kind", string(kind)).Msg("failed to build xai client")
		}
		return c
	}

	hub := events.NewHub(&logger)
	statuses := repo.NewStatusRepository(sql)
	queue, err := dispatch.New(dispatch.Options{
		Images:       newClient(xai.KindImage, cfg.XAIImageModel),
		Videos:       newClient(xai.KindVideo, cfg.XAIVideoModel),
		Store:        statuses,
		Broadcaster:  hub,
		ImageCeiling: cfg.ImageConcurrency,
		VideoCeiling: cfg.VideoConcurrency,
		MinSpacing:   cfg.AdmissionSpacing,
		Logger:       &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build dispatch queue")
	}

	ffmpeg := media.NewFFmpeg(media.Options{Path: cfg.FFmpegPath, Logger: &logger})
	chainer, err := continuity.New(continuity.Options{
		Queue:       queue,
		Processor:   ffmpeg,
		Store:       files,
		Broadcaster: hub,
		Logger:      &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build continuity chainer")
	}

	profile, err := compose.LoadProfile(cfg.RenderProfilePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load render profile")
	}
	assembler, err := compose.New(compose.Options{
		Profile:   profile,
		Processor: ffmpeg,
		Store:     files,
		Logger:    &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build assembler")
	}

	var matcher prompt.Matcher = prompt.SubstringMatcher{}
	if cfg.PromptMatch == "word" {
		matcher = prompt.WordMatcher{}
	}
	runner := background.New(&logger)
	svc, err := pipeline.New(pipeline.Options{
		Scenes:      repo.NewSceneRepository(sql),
		Styles:      repo.NewStyleRepository(sql),
		Store:       statuses,
		Queue:       queue,
		Chainer:     chainer,
		Assembler:   assembler,
		Runner:      runner,
		Broadcaster: hub,
		Matcher:     matcher,
		Logger:      &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build pipeline")
	}

	app := &handlers.App{
		Pipeline: svc,
		Progress: hub,
		Ping:     dbpool.Ping,
		Logger:   logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("background work still running at shutdown")
	}
	logger.Info().Msg("server stopped")
}
