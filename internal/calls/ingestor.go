package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/missedcall-ai-platform/internal/clinic"
	"github.com/wolfman30/missedcall-ai-platform/internal/events"
	"github.com/wolfman30/missedcall-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/missedcall-ai-platform/internal/phone"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ingestTracer = otel.Tracer("missedcall.calls")

// ErrInvalidEvent is returned when a status callback is missing required fields.
var ErrInvalidEvent = errors.New("calls: invalid call event")

const defaultEnqueueTimeout = 3 * time.Second

// CallEvent is a normalized call status callback.
type CallEvent struct {
	CallID      string
	From        string
	To          string
	Status      string
	Duration    time.Duration
	HasDuration bool
}

// Validate reports whether the event carries every field the ingestor needs.
func (e CallEvent) Validate() error {
	var missing []string
	if strings.TrimSpace(e.CallID) == "" {
		missing = append(missing, "CallSid")
	}
	if strings.TrimSpace(e.From) == "" {
		missing = append(missing, "From")
	}
	if strings.TrimSpace(e.To) == "" {
		missing = append(missing, "To")
	}
	if strings.TrimSpace(e.Status) == "" {
		missing = append(missing, "CallStatus")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidEvent, strings.Join(missing, ", "))
	}
	return nil
}

// DispatchRequest asks the follow-up pipeline to handle a newly logged missed call.
type DispatchRequest struct {
	CallID        string `json:"call_id"`
	PatientNumber string `json:"patient_number"`
	RoutingNumber string `json:"routing_number"`
	ClinicName    string `json:"clinic_name"`
}

// FollowUpEnqueuer hands a follow-up off to the job queue.
type FollowUpEnqueuer interface {
	EnqueueFollowUp(ctx context.Context, req DispatchRequest) error
}

// IngestResult describes what Ingest did with one callback.
type IngestResult struct {
	Missed   bool
	Created  bool
	Enqueued bool
	Outcome  Outcome
	Clinic   *clinic.Clinic
	Record   *MissedCall
}

// Ingestor turns call status callbacks into missed-call records and follow-up jobs.
type Ingestor struct {
	store          Store
	directory      clinic.Directory
	enqueuer       FollowUpEnqueuer
	claimer        events.Claimer
	classifier     Classifier
	enqueueTimeout time.Duration
	metrics        *metrics.Metrics
	logger         *logging.Logger
	now            func() time.Time
}

// IngestorOption customizes an Ingestor.
type IngestorOption func(*Ingestor)

func WithClassifier(c Classifier) IngestorOption {
	return func(i *Ingestor) { i.classifier = c }
}

func WithEnqueueTimeout(d time.Duration) IngestorOption {
	return func(i *Ingestor) {
		if d > 0 {
			i.enqueueTimeout = d
		}
	}
}

// WithEnqueueClaimer records successful enqueues so a callback retried after a
// failed enqueue re-drives the follow-up while the record is still Pending.
func WithEnqueueClaimer(c events.Claimer) IngestorOption {
	return func(i *Ingestor) { i.claimer = c }
}

func WithIngestorMetrics(m *metrics.Metrics) IngestorOption {
	return func(i *Ingestor) { i.metrics = m }
}

func NewIngestor(store Store, directory clinic.Directory, enqueuer FollowUpEnqueuer, logger *logging.Logger, opts ...IngestorOption) *Ingestor {
	if store == nil {
		panic("calls: store required")
	}
	if enqueuer == nil {
		panic("calls: follow-up enqueuer required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	i := &Ingestor{
		store:          store,
		directory:      directory,
		enqueuer:       enqueuer,
		classifier:     Classifier{MinTalkTime: DefaultMinTalkTime},
		enqueueTimeout: defaultEnqueueTimeout,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest classifies the callback and, for a missed call, records it once and
// enqueues its follow-up. Duplicate callbacks for the same call id are no-ops,
// except that with an enqueue claimer they retry a follow-up that never made it
// onto the queue.
func (i *Ingestor) Ingest(ctx context.Context, evt CallEvent) (*IngestResult, error) {
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	ctx, span := ingestTracer.Start(ctx, "calls.ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("call.sid", evt.CallID),
		attribute.String("call.status", evt.Status),
	)

	outcome := i.classifier.Classify(evt.Status, evt.Duration, evt.HasDuration)
	result := &IngestResult{Outcome: outcome}
	if outcome != OutcomeMissed {
		i.logger.Debug("call not missed", "call_sid", evt.CallID, "status", evt.Status, "outcome", outcome)
		return result, nil
	}
	result.Missed = true

	patient := phone.NormalizeE164(evt.From)
	routing := phone.NormalizeE164(evt.To)

	c, found := clinic.Resolve(ctx, i.directory, routing, i.logger)
	result.Clinic = c
	span.SetAttributes(attribute.Bool("clinic.found", found))

	record := &MissedCall{
		CallID:        evt.CallID,
		PatientNumber: patient,
		RoutingNumber: routing,
		Outcome:       OutcomeMissed,
		ClinicName:    c.Name,
		FollowUpState: FollowUpPending,
		CreatedAt:     i.now(),
	}
	created, err := i.store.Create(ctx, record)
	if err != nil {
		i.metrics.ObserveMissedCall("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "create missed call")
		return nil, fmt.Errorf("calls: log missed call: %w", err)
	}
	result.Record = record
	result.Created = created
	if !created {
		i.metrics.ObserveMissedCall("duplicate")
		if i.claimer == nil {
			i.logger.Info("duplicate missed call callback ignored", "call_sid", evt.CallID)
			return result, nil
		}
		stored, err := i.store.GetByCallID(ctx, evt.CallID)
		if err != nil || stored.FollowUpState != FollowUpPending {
			i.logger.Info("duplicate missed call callback ignored", "call_sid", evt.CallID)
			return result, nil
		}
		result.Record = stored
	} else {
		i.metrics.ObserveMissedCall("created")
		i.logger.Info("missed call logged",
			"call_sid", evt.CallID,
			"patient", phone.Mask(patient),
			"routing_number", routing,
			"clinic", c.Name,
		)
	}

	enqueued, err := i.enqueue(ctx, result.Record)
	if err != nil {
		// The record is already durable; the webhook still succeeds.
		span.RecordError(err)
	}
	result.Enqueued = enqueued
	return result, nil
}

// enqueue hands rec to the queue with a bounded context. With a claimer it
// enqueues at most once per call; the claim is dropped again on failure.
func (i *Ingestor) enqueue(ctx context.Context, rec *MissedCall) (bool, error) {
	if i.claimer != nil {
		claimed, err := i.claimer.MarkProcessed(ctx, events.ScopeFollowUpEnqueue, rec.CallID)
		switch {
		case err != nil:
			i.logger.Warn("enqueue claim unavailable, enqueueing anyway", "call_sid", rec.CallID, "error", err)
		case !claimed:
			i.logger.Info("follow-up already enqueued", "call_sid", rec.CallID)
			return false, nil
		}
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, i.enqueueTimeout)
	defer cancel()
	err := i.enqueuer.EnqueueFollowUp(enqueueCtx, DispatchRequest{
		CallID:        rec.CallID,
		PatientNumber: rec.PatientNumber,
		RoutingNumber: rec.RoutingNumber,
		ClinicName:    rec.ClinicName,
	})
	if err != nil {
		i.metrics.ObserveFollowUp("enqueue", "failed")
		i.logger.Error("failed to enqueue follow-up", "call_sid", rec.CallID, "error", err)
		if i.claimer != nil {
			if relErr := i.claimer.Release(context.WithoutCancel(ctx), events.ScopeFollowUpEnqueue, rec.CallID); relErr != nil {
				i.logger.Error("failed to release enqueue claim", "call_sid", rec.CallID, "error", relErr)
			}
		}
		return false, err
	}
	i.metrics.ObserveFollowUp("enqueue", "ok")
	return true, nil
}
