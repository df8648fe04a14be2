package followup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/missedcall-ai-platform/internal/calls"
	"github.com/wolfman30/missedcall-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/missedcall-ai-platform/internal/voicemail"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
	// deliveries this close to DeliverAt are sent rather than re-enqueued.
	deliverySlack = time.Second
)

// errRequeue marks failures the queue should redeliver, like a lost handoff to the deliver stage.
var errRequeue = errors.New("followup: job should be redelivered")

type followUpDispatcher interface {
	Compose(ctx context.Context, req calls.DispatchRequest) (*Delivery, error)
	Deliver(ctx context.Context, d Delivery) (*DeliveryResult, error)
}

type deliveryScheduler interface {
	ScheduleDelivery(ctx context.Context, jobID string, d Delivery) error
}

type voicemailRelay interface {
	Relay(ctx context.Context, req voicemail.Request) error
}

// Worker consumes follow-up and voicemail jobs from the queue.
type Worker struct {
	dispatcher followUpDispatcher
	scheduler  deliveryScheduler
	relay      voicemailRelay
	queue      Queue
	jobs       JobUpdater
	metrics    *metrics.Metrics
	logger     *logging.Logger
	now        func() time.Time

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	jobs             JobUpdater
	metrics          *metrics.Metrics
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithJobUpdater persists job outcomes.
func WithJobUpdater(jobs JobUpdater) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.jobs = jobs
	}
}

func WithWorkerMetrics(m *metrics.Metrics) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.metrics = m
	}
}

// NewWorker builds a consumer. relay may be nil when voicemail relays are disabled.
func NewWorker(dispatcher followUpDispatcher, scheduler deliveryScheduler, relay voicemailRelay, queue Queue, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if dispatcher == nil {
		panic("followup: dispatcher cannot be nil")
	}
	if scheduler == nil {
		panic("followup: delivery scheduler cannot be nil")
	}
	if queue == nil {
		panic("followup: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		dispatcher: dispatcher,
		scheduler:  scheduler,
		relay:      relay,
		queue:      queue,
		jobs:       cfg.jobs,
		metrics:    cfg.metrics,
		logger:     logger,
		now:        time.Now,
		cfg:        cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("followup worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("followup worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive followup jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg QueueMessage) {
	if err := w.Process(ctx, msg.Body); errors.Is(err, errRequeue) {
		// left on the queue; SQS redelivers after the visibility timeout
		return
	}
	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

// Process runs one job body. Only errors worth a redelivery are returned;
// everything else is logged and recorded on the job.
func (w *Worker) Process(ctx context.Context, body string) error {
	payload, err := decodePayload(body)
	if err != nil {
		w.logger.Error("failed to decode followup job", "error", err)
		w.metrics.ObserveJob("unknown", "invalid")
		return nil
	}
	log := w.logger.With("job_id", payload.ID, "kind", payload.Kind, "call_sid", payload.callID())
	log.Debug("worker processing job")

	var result string
	switch payload.Kind {
	case jobKindCompose:
		result, err = w.compose(ctx, payload)
	case jobKindDeliver:
		result, err = w.deliver(ctx, payload)
	case jobKindVoicemail:
		if w.relay == nil {
			err = errors.New("followup: voicemail relay not configured")
			break
		}
		err = w.relay.Relay(ctx, *payload.Voicemail)
		if errors.Is(err, voicemail.ErrNotifyFailed) {
			err = fmt.Errorf("%w: %w", errRequeue, err)
		}
		result = "relayed"
	}

	switch {
	case errors.Is(err, errRequeue):
		log.Warn("followup job will be redelivered", "error", err)
		w.metrics.ObserveJob(string(payload.Kind), "requeued")
		return err
	case err != nil:
		log.Error("followup job failed", "error", err)
		w.metrics.ObserveJob(string(payload.Kind), "failed")
		if payload.TrackStatus && w.jobs != nil {
			if storeErr := w.jobs.MarkFailed(ctx, payload.ID, err.Error()); storeErr != nil {
				log.Error("failed to update job status", "error", storeErr)
			}
		}
		return nil
	}

	w.metrics.ObserveJob(string(payload.Kind), "ok")
	if payload.TrackStatus && w.jobs != nil && result != "" {
		if storeErr := w.jobs.MarkCompleted(ctx, payload.ID, result); storeErr != nil {
			log.Error("failed to update job status", "error", storeErr)
		}
	}
	return nil
}

// compose drafts the message and hands it to the deliver stage on a queue timer.
// It returns an empty result because the job completes at delivery.
func (w *Worker) compose(ctx context.Context, payload jobPayload) (string, error) {
	delivery, err := w.dispatcher.Compose(ctx, *payload.FollowUp)
	if err != nil {
		return "", err
	}
	if err := w.scheduler.ScheduleDelivery(ctx, payload.ID, *delivery); err != nil {
		return "", fmt.Errorf("%w: schedule delivery: %w", errRequeue, err)
	}
	if payload.TrackStatus && w.jobs != nil {
		if err := w.jobs.MarkScheduled(ctx, payload.ID, *delivery); err != nil {
			w.logger.Warn("failed to record scheduled delivery", "job_id", payload.ID, "error", err)
		}
	}
	return "", nil
}

// deliver sends a due delivery or pushes an early one back onto the queue.
func (w *Worker) deliver(ctx context.Context, payload jobPayload) (string, error) {
	d := *payload.Delivery
	if remaining := d.DeliverAt.Sub(w.now()); remaining > deliverySlack {
		if err := w.scheduler.ScheduleDelivery(ctx, payload.ID, d); err != nil {
			return "", fmt.Errorf("%w: reschedule delivery: %w", errRequeue, err)
		}
		w.logger.Debug("delivery not due yet, rescheduled", "job_id", payload.ID, "remaining", remaining.String())
		return "", nil
	}
	res, err := w.dispatcher.Deliver(ctx, d)
	if err != nil {
		return "", err
	}
	switch {
	case res.Duplicate:
		return "duplicate", nil
	case res.ProviderMessageID != "":
		return res.ProviderMessageID, nil
	}
	return "sent", nil
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete followup job", "error", err)
	}
}
