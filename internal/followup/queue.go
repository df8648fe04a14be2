package followup

import (
	"context"
	"time"
)

// Queue is the transport shared by the memory and SQS queues. A positive
// delay hides the message from receivers until it elapses.
type Queue interface {
	Send(ctx context.Context, body string, delay time.Duration) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}
