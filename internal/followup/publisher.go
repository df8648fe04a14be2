package followup

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/missedcall-ai-platform/internal/calls"
	"github.com/wolfman30/missedcall-ai-platform/internal/voicemail"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

// Publisher enqueues follow-up and voicemail jobs for asynchronous processing.
type Publisher struct {
	queue  Queue
	jobs   JobRecorder
	now    func() time.Time
	logger *logging.Logger
}

var _ calls.FollowUpEnqueuer = (*Publisher)(nil)

// NewPublisher creates a queue-backed publisher. jobs may be nil to skip status tracking.
func NewPublisher(queue Queue, jobs JobRecorder, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("followup: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		jobs:   jobs,
		now:    time.Now,
		logger: logger,
	}
}

// EnqueueFollowUp publishes a compose job for a newly logged missed call.
func (p *Publisher) EnqueueFollowUp(ctx context.Context, req calls.DispatchRequest) error {
	return p.enqueue(ctx, jobPayload{Kind: jobKindCompose, FollowUp: &req}, 0)
}

// EnqueueVoicemail publishes a voicemail relay job.
func (p *Publisher) EnqueueVoicemail(ctx context.Context, req voicemail.Request) error {
	return p.enqueue(ctx, jobPayload{Kind: jobKindVoicemail, Voicemail: &req}, 0)
}

// ScheduleDelivery publishes a deliver job that becomes visible at d.DeliverAt.
func (p *Publisher) ScheduleDelivery(ctx context.Context, jobID string, d Delivery) error {
	return p.enqueue(ctx, jobPayload{ID: jobID, Kind: jobKindDeliver, Delivery: &d}, d.DeliverAt.Sub(p.now()))
}

func (p *Publisher) enqueue(ctx context.Context, payload jobPayload, delay time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	payload.TrackStatus = p.jobs != nil
	payload, body, err := encodePayload(payload)
	if err != nil {
		return err
	}

	if p.jobs != nil && payload.Kind != jobKindDeliver {
		record := &JobRecord{JobID: payload.ID, Kind: string(payload.Kind), CallID: payload.callID()}
		if err := p.jobs.PutPending(ctx, record); err != nil {
			p.logger.Warn("failed to record pending job", "job_id", payload.ID, "kind", payload.Kind, "error", err)
		}
	}

	if err := p.queue.Send(ctx, body, delay); err != nil {
		return fmt.Errorf("followup: failed to enqueue job: %w", err)
	}
	p.logger.Debug("followup job enqueued", "job_id", payload.ID, "kind", payload.Kind, "delay", delay.String())
	return nil
}
