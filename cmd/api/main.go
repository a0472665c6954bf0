package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bobarin/reels/internal/api"
	"github.com/bobarin/reels/internal/config"
	"github.com/bobarin/reels/internal/db"
	"github.com/bobarin/reels/internal/logging"
	"github.com/bobarin/reels/internal/queue"
	"github.com/bobarin/reels/internal/services"
	"github.com/bobarin/reels/internal/storage"
	"github.com/bobarin/reels/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.WithComponent("main")
		l.Fatal().Err(err).Msg("failed to load config")
	}

	logging.Configure(logging.Config{Level: cfg.LogLevel, Service: "reels"})
	log := logging.WithComponent("main")
	log.Info().Msg("starting reels api")

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()
	log.Info().Msg("connected to database")

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to queue")
	}
	defer q.Close()
	log.Info().Msg("connected to redis queue")

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	stor, err := storage.New(rootCtx, storage.Config{
		Endpoint:        cfg.R2Endpoint,
		AccessKeyID:     cfg.R2AccessKeyID,
		SecretAccessKey: cfg.R2SecretAccessKey,
		Bucket:          cfg.R2Bucket,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise storage")
	}
	log.Info().Str("bucket", cfg.R2Bucket).Msg("initialised r2 storage")

	handler := api.NewHandler(database, q, stor)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Info().Msg("api key authentication enabled")
	} else {
		log.Warn().Msg("no BACKEND_API_KEY set, api is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var workers sync.WaitGroup
	if cfg.WorkerEnabled {
		ffmpegSvc, err := services.NewFFmpegService(cfg.RenderTempDir)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to prepare render temp dir")
		}
		analyzer := services.NewAnalyzer(ffmpegSvc)
		fal := services.NewFalClient(cfg.FalBaseURL, cfg.FalKey)

		narrative, err := services.NewNarrativeService(rootCtx, cfg.GeminiKey, cfg.NarrativeModel, database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create narrative client")
		}

		w := worker.New(worker.Deps{
			Queue:       q,
			Storage:     stor,
			Content:     database,
			Billing:     database,
			Transcriber: services.NewTranscriptionService(fal, cfg.TranscriptionModel, database),
			Analyzer:    analyzer,
			Narrative:   narrative,
			Music:       services.NewMusicService(fal, cfg.MusicModel, database),
			Copywriter:  services.NewCopywriterService(cfg.OpenAIKey, cfg.CopyModel, database),
			Renderer:    services.NewComposer(ffmpegSvc, analyzer),
			WorkDirs:    ffmpegSvc,
		}, worker.Options{
			TranscriptionConcurrency: cfg.TranscriptionConcurrency,
			LoudnessWindowSec:        cfg.LoudnessWindowSec,
			RenderCreditCost:         cfg.RenderCreditCost,
			CleanupStaleAfter:        cfg.CleanupStaleAfter,
		})

		sweep, err := w.StartCleanup(rootCtx, cfg.CleanupSchedule)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to schedule cleanup sweep")
		}
		defer func() { <-sweep.Stop().Done() }()

		workers.Add(1)
		go func() {
			defer workers.Done()
			w.Start(rootCtx, cfg.MaxConcurrentJobs)
		}()
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("api server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	// In-flight renders see the cancellation and requeue themselves.
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	workers.Wait()

	log.Info().Msg("server exited")
}
