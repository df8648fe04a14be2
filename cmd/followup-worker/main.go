package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfman30/missedcall-ai-platform/cmd/mainconfig"
	"github.com/wolfman30/missedcall-ai-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/missedcall-ai-platform/internal/config"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.UseMemoryQueue {
		logger.Error("followup worker needs SQS; the memory queue is consumed by the API process")
		os.Exit(1)
	}

	awsConfig, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	svc, err := bootstrap.Build(context.Background(), cfg, awsConfig, logger)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	worker := svc.NewWorker()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker.Start(ctx)
	logger.Info("followup worker started", "workers", cfg.WorkerCount, "queue", cfg.JobsQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down followup worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("followup worker stopped")
	case <-doneCtx.Done():
		logger.Error("followup worker shutdown timed out", "error", doneCtx.Err())
	}
}
