package followup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/missedcall-ai-platform/internal/calls"
	"github.com/wolfman30/missedcall-ai-platform/internal/clinic"
	"github.com/wolfman30/missedcall-ai-platform/internal/conversation"
	"github.com/wolfman30/missedcall-ai-platform/internal/events"
	"github.com/wolfman30/missedcall-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/missedcall-ai-platform/internal/phone"
	"github.com/wolfman30/missedcall-ai-platform/internal/retry"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

var dispatcherTracer = otel.Tracer("missedcall.followup")

var (
	// ErrPlaceholderText means the model kept emitting template markers after a regeneration.
	ErrPlaceholderText = errors.New("followup: drafted message contains placeholders")
	ErrInvalidRequest  = errors.New("followup: invalid dispatch request")
)

// DispatcherConfig tunes composition and the post-send record lookup.
type DispatcherConfig struct {
	DefaultDelay   time.Duration
	LookupBuffer   time.Duration
	LookupAttempts int
	LookupDelay    time.Duration
	Model          string
	MaxTokens      int32
	Temperature    float32
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.DefaultDelay <= 0 {
		c.DefaultDelay = 30 * time.Second
	}
	if c.LookupBuffer < 0 {
		c.LookupBuffer = 0
	}
	if c.LookupAttempts <= 0 {
		c.LookupAttempts = 5
	}
	if c.LookupDelay <= 0 {
		c.LookupDelay = 2 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 120
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.5
	}
	return c
}

// DefaultDispatcherConfig mirrors the production timings: 3s buffer, then 5 lookups 2s apart.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{LookupBuffer: 3 * time.Second}.withDefaults()
}

// DispatcherDeps wires a Dispatcher. Claimer is optional outside production.
type DispatcherDeps struct {
	Directory clinic.Directory
	Calls     calls.Store
	LLM       conversation.LLMClient
	Messenger conversation.ReplyMessenger
	Claimer   events.Claimer
	Metrics   *metrics.Metrics
	Logger    *logging.Logger
}

// DeliveryResult reports what Deliver did.
type DeliveryResult struct {
	Sent              bool
	Duplicate         bool
	Recorded          bool
	ProviderMessageID string
}

// Dispatcher drafts the follow-up SMS and, once due, sends it and marks the record.
type Dispatcher struct {
	directory clinic.Directory
	calls     calls.Store
	llm       conversation.LLMClient
	messenger conversation.ReplyMessenger
	claimer   events.Claimer
	metrics   *metrics.Metrics
	logger    *logging.Logger
	cfg       DispatcherConfig
	now       func() time.Time
}

func NewDispatcher(deps DispatcherDeps, cfg DispatcherConfig) *Dispatcher {
	if deps.Calls == nil {
		panic("followup: call store cannot be nil")
	}
	if deps.LLM == nil {
		panic("followup: llm client cannot be nil")
	}
	if deps.Messenger == nil {
		panic("followup: messenger cannot be nil")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	return &Dispatcher{
		directory: deps.Directory,
		calls:     deps.Calls,
		llm:       deps.LLM,
		messenger: deps.Messenger,
		claimer:   deps.Claimer,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}
}

// Compose drafts the follow-up for req and stamps when it should go out.
func (d *Dispatcher) Compose(ctx context.Context, req calls.DispatchRequest) (*Delivery, error) {
	if req.CallID == "" || req.PatientNumber == "" || req.RoutingNumber == "" {
		return nil, ErrInvalidRequest
	}
	ctx, span := dispatcherTracer.Start(ctx, "followup.compose")
	defer span.End()
	span.SetAttributes(attribute.String("call.sid", req.CallID))

	c, found := clinic.Resolve(ctx, d.directory, req.RoutingNumber, d.logger)
	name := strings.TrimSpace(req.ClinicName)
	if found || name == "" {
		name = c.DisplayName(clinic.PlaceholderName)
	}
	span.SetAttributes(attribute.Bool("clinic.found", found))

	// The placeholder name is a record snapshot only; patients get the generic name.
	promptName := name
	if !found {
		promptName = conversation.DefaultClinicName
	}
	body, err := d.draft(ctx, promptName, c.EnrichmentContext)
	if err != nil {
		span.RecordError(err)
		d.metrics.ObserveFollowUp("compose", "failed")
		d.logger.Error("failed to compose follow-up", "call_sid", req.CallID, "error", err)
		return nil, err
	}
	body = appendBookingLink(body, c.BookingURL)

	delay := c.FollowUpDelay(d.cfg.DefaultDelay)
	d.metrics.ObserveFollowUp("compose", "ok")
	d.logger.Info("follow-up composed",
		"call_sid", req.CallID,
		"clinic", name,
		"delay", delay.String(),
	)
	return &Delivery{
		CallID:        req.CallID,
		PatientNumber: req.PatientNumber,
		RoutingNumber: req.RoutingNumber,
		ClinicName:    name,
		Body:          body,
		DeliverAt:     d.now().Add(delay).UTC(),
	}, nil
}

// Preview drafts the message a patient of c would receive without touching
// any call record.
func (d *Dispatcher) Preview(ctx context.Context, c *clinic.Clinic) (string, error) {
	if c == nil {
		return "", ErrInvalidRequest
	}
	body, err := d.draft(ctx, c.DisplayName(clinic.PlaceholderName), c.EnrichmentContext)
	if err != nil {
		return "", err
	}
	return appendBookingLink(body, c.BookingURL), nil
}

// draft asks the model once and regenerates a single time when the text still has placeholders.
func (d *Dispatcher) draft(ctx context.Context, clinicName, enrichment string) (string, error) {
	req := conversation.LLMRequest{
		Model:  d.cfg.Model,
		System: buildComposeSystem(clinicName, enrichment),
		Messages: []conversation.ChatMessage{
			{Role: conversation.ChatRoleUser, Content: fmt.Sprintf(composeUserPrompt, clinicName)},
		},
		MaxTokens:   d.cfg.MaxTokens,
		Temperature: d.cfg.Temperature,
	}

	for attempt := 0; attempt < 2; attempt++ {
		resp, err := d.llm.Complete(ctx, req)
		if err != nil {
			return "", fmt.Errorf("followup: generate message: %w", err)
		}
		text := strings.TrimSpace(resp.Text)
		if text != "" && !conversation.ContainsPlaceholder(text) {
			return text, nil
		}
		d.logger.Warn("follow-up draft rejected, regenerating", "attempt", attempt+1, "empty", text == "")
		req.Messages = append(req.Messages,
			conversation.ChatMessage{Role: conversation.ChatRoleAssistant, Content: text},
			conversation.ChatMessage{Role: conversation.ChatRoleUser, Content: regenerateHint},
		)
	}
	return "", ErrPlaceholderText
}

// Deliver sends the follow-up once per call and moves the record to Completed.
// A record that cannot be found after the lookup budget is logged and counted,
// and the delivery still counts as done since the patient already got the SMS.
func (d *Dispatcher) Deliver(ctx context.Context, del Delivery) (*DeliveryResult, error) {
	ctx, span := dispatcherTracer.Start(ctx, "followup.deliver")
	defer span.End()
	span.SetAttributes(attribute.String("call.sid", del.CallID))

	if d.claimer != nil {
		ok, err := d.claimer.MarkProcessed(ctx, events.ScopeFollowUp, del.CallID)
		if err != nil {
			return nil, fmt.Errorf("followup: claim delivery: %w", err)
		}
		if !ok {
			d.logger.Info("follow-up already sent, skipping", "call_sid", del.CallID)
			d.metrics.ObserveFollowUp("deliver", "duplicate")
			return &DeliveryResult{Duplicate: true}, nil
		}
	}

	sent, err := d.messenger.SendReply(ctx, conversation.OutboundReply{
		CallID: del.CallID,
		To:     del.PatientNumber,
		From:   del.RoutingNumber,
		Body:   del.Body,
	})
	if err != nil {
		span.RecordError(err)
		d.releaseClaim(del.CallID)
		d.metrics.ObserveFollowUp("deliver", "failed")
		d.logger.Error("failed to send follow-up sms", "call_sid", del.CallID, "patient", phone.Mask(del.PatientNumber), "error", err)
		return nil, fmt.Errorf("followup: send sms: %w", err)
	}
	sentAt := d.now().UTC()
	d.metrics.ObserveFollowUp("deliver", "sent")
	result := &DeliveryResult{Sent: true, ProviderMessageID: sent.ProviderMessageID}

	record, err := d.locateRecord(ctx, del.CallID)
	if err != nil {
		span.SetAttributes(attribute.Bool("followup.record_missing", true))
		d.metrics.ObserveLookupInconsistency()
		d.logger.Error("missed call record not found after sending follow-up",
			"call_sid", del.CallID,
			"attempts", d.cfg.LookupAttempts,
			"error", err,
		)
		return result, nil
	}

	updated, err := d.calls.MarkFollowUpCompleted(ctx, record.CallID, calls.FollowUpResult{
		Message: del.Body,
		SentAt:  sentAt,
		Status:  calls.DeliveryStatusSent,
		Channel: calls.FollowUpChannelSMS,
	})
	if err != nil {
		span.RecordError(err)
		d.logger.Error("failed to mark follow-up completed", "call_sid", del.CallID, "error", err)
		return result, nil
	}
	if !updated {
		d.logger.Warn("missed call was not pending when follow-up completed", "call_sid", del.CallID)
	}
	result.Recorded = updated
	d.logger.Info("follow-up delivered", "call_sid", del.CallID, "message_sid", sent.ProviderMessageID)
	return result, nil
}

// locateRecord tolerates read-after-write lag: a buffer, bounded retries on
// not-found, then one direct re-query.
func (d *Dispatcher) locateRecord(ctx context.Context, callID string) (*calls.MissedCall, error) {
	policy := retry.Policy{
		Attempts:     d.cfg.LookupAttempts,
		Delay:        d.cfg.LookupDelay,
		InitialDelay: d.cfg.LookupBuffer,
		Retryable: func(err error) bool {
			return errors.Is(err, calls.ErrNotFound)
		},
		OnRetry: func(attempt int, err error, next time.Duration) {
			d.logger.Warn("missed call record not visible yet", "call_sid", callID, "attempt", attempt, "next", next.String())
		},
	}
	record, err := retry.Do(ctx, policy, func(ctx context.Context) (*calls.MissedCall, error) {
		return d.calls.GetByCallID(ctx, callID)
	})
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, retry.ErrExhausted) {
		return nil, err
	}

	record, directErr := d.calls.GetByCallID(ctx, callID)
	if directErr != nil {
		return nil, errors.Join(err, directErr)
	}
	d.logger.Warn("missed call record found by direct re-query after retries", "call_sid", callID)
	return record, nil
}

func (d *Dispatcher) releaseClaim(callID string) {
	if d.claimer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.claimer.Release(ctx, events.ScopeFollowUp, callID); err != nil {
		d.logger.Error("failed to release follow-up claim", "call_sid", callID, "error", err)
	}
}
