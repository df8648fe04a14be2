package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

type scriptedProcessor struct {
	failures map[string]error
	seen     []string
}

func (p *scriptedProcessor) Process(_ context.Context, body string) error {
	p.seen = append(p.seen, body)
	return p.failures[body]
}

func TestHandleReportsOnlyFailedRecords(t *testing.T) {
	proc := &scriptedProcessor{failures: map[string]error{
		"job-2": errors.New("thread busy"),
	}}
	h := &handler{processor: proc, logger: logging.New("error")}

	resp, err := h.handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: "job-1"},
		{MessageId: "m2", Body: "job-2"},
		{MessageId: "m3", Body: "job-3"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(proc.seen) != 3 {
		t.Fatalf("expected all records processed, got %v", proc.seen)
	}
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m2" {
		t.Fatalf("unexpected batch failures: %+v", resp.BatchItemFailures)
	}
}

func TestHandleEmptyBatch(t *testing.T) {
	h := &handler{processor: &scriptedProcessor{}, logger: logging.New("error")}
	resp, err := h.handle(context.Background(), events.SQSEvent{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("expected no failures, got %+v", resp.BatchItemFailures)
	}
}
