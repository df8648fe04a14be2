package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/missedcall-ai-platform/cmd/mainconfig"
	"github.com/wolfman30/missedcall-ai-platform/internal/api/router"
	"github.com/wolfman30/missedcall-ai-platform/internal/app/bootstrap"
	"github.com/wolfman30/missedcall-ai-platform/internal/clinic"
	appconfig "github.com/wolfman30/missedcall-ai-platform/internal/config"
	"github.com/wolfman30/missedcall-ai-platform/internal/followup"
	"github.com/wolfman30/missedcall-ai-platform/internal/messaging"
	"github.com/wolfman30/missedcall-ai-platform/internal/onboarding"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting missedcall-ai-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("Server exited gracefully")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	svc, err := bootstrap.Build(ctx, cfg, awsCfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	// The memory queue only exists in this process, so its consumer must too.
	var worker *followup.Worker
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	if cfg.UseMemoryQueue {
		worker = svc.NewWorker()
		worker.Start(workerCtx)
		logger.Info("in-process follow-up worker started", "workers", cfg.WorkerCount)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(svc),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	if worker != nil {
		cancelWorker()
		done := make(chan struct{})
		go func() {
			worker.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			logger.Error("follow-up worker shutdown timed out")
		}
	}
	logger.Info("server stopped")
	return nil
}

func newRouter(svc *bootstrap.Services) http.Handler {
	cfg, logger := svc.Config, svc.Logger
	messagingHandler := messaging.NewHandler(messaging.HandlerDeps{
		Ingestor:     svc.Ingestor,
		Replier:      svc.Engine,
		Voicemail:    svc.Publisher,
		Claimer:      svc.Claimer,
		Validator:    bootstrap.BuildSignatureValidator(cfg, logger),
		Voice:        bootstrap.BuildVoiceResponder(cfg),
		Metrics:      svc.Metrics,
		Logger:       logger,
		ReplyTimeout: cfg.ReplyTimeout,
	})

	routerCfg := &router.Config{
		Logger:           logger,
		MessagingHandler: messagingHandler,
		AdminAuthSecret:  cfg.AdminJWTSecret,
		MetricsHandler:   promhttp.HandlerFor(svc.Registry, promhttp.HandlerOpts{}),
		RateLimitRPS:     cfg.RateLimitRPS,
		RateLimitBurst:   cfg.RateLimitBurst,
	}
	if svc.ClinicStore != nil {
		scraper := onboarding.NewScraper(nil, logger)
		if svc.ClinicCache != nil {
			routerCfg.ClinicHandler = clinic.NewHandler(svc.ClinicStore, svc.ClinicCache, scraper, logger)
		} else {
			routerCfg.ClinicHandler = clinic.NewHandler(svc.ClinicStore, nil, scraper, logger)
		}
	}
	if svc.Jobs != nil {
		routerCfg.JobsHandler = followup.NewHandler(svc.Jobs, logger)
	}
	return router.New(routerCfg)
}
