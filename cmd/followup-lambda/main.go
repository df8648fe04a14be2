package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/missedcall-ai-platform/cmd/mainconfig"
	"github.com/wolfman30/missedcall-ai-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/missedcall-ai-platform/internal/config"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

type jobProcessor interface {
	Process(ctx context.Context, body string) error
}

type handler struct {
	processor jobProcessor
	logger    *logging.Logger
}

// handle runs each SQS record and reports only the requeued ones, so the
// rest of the batch is deleted. Requires ReportBatchItemFailures on the
// event source mapping.
func (h *handler) handle(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, record := range evt.Records {
		if err := h.processor.Process(ctx, record.Body); err != nil {
			h.logger.Warn("followup job failed; returning to queue", "message_id", record.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}
	return resp, nil
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()
	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	svc, err := bootstrap.Build(ctx, cfg, awsConfig, logger)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		os.Exit(1)
	}

	h := &handler{processor: svc.NewWorker(), logger: logger}
	lambda.Start(h.handle)
}
