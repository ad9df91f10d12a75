package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sunrunner/internal/adapter/repo"
	"sunrunner/internal/geomath"
	httphandlers "sunrunner/internal/http/handlers"
	"sunrunner/internal/http/httpapi"
	"sunrunner/internal/infra"
	"sunrunner/internal/runner"
	"sunrunner/internal/upstream"
	"sunrunner/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		// Logger depends on config; this is the one pre-logger exit.
		os.Stderr.WriteString("worker: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.WorkerID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("db connection failed")
	}
	defer pool.Close()

	runnerSQL := infra.NewSQLRunner(pool, logger)
	tasks := repo.NewTaskRepository(runnerSQL)
	credits := repo.NewCreditRepository(runnerSQL)

	encoder, err := upstream.NewRSAEncoder(cfg.UpstreamRSAKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("upstream encoder setup failed")
	}
	client, err := upstream.NewClient(upstream.Options{
		BaseURL:    cfg.UpstreamBaseURL,
		Encoder:    encoder,
		HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("upstream client setup failed")
	}

	engine := runner.NewEngine(client, geomath.NewSampler(nil), logger)
	loop := worker.New(worker.Options{
		Store:          tasks,
		Credits:        credits,
		Engine:         engine,
		Logger:         logger,
		PollingDelay:   cfg.PollingDelay,
		RateLimitDelay: cfg.RateLimitDelay,
		MaxAttempts:    cfg.MaxAttempts,
	})

	opsServer := infra.NewHTTPServer(cfg, httpapi.NewRouter(httphandlers.NewApp(cfg.WorkerID, loop.Stats())))
	go func() {
		logger.Info().Msgf("ops listening on :%s", cfg.OpsPort)
		if err := opsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("ops server failed")
		}
	}()

	err = loop.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = opsServer.Shutdown(shutdownCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker stopped with error")
	}
	logger.Info().Msg("worker stopped")
}
