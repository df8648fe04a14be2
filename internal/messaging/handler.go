package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/missedcall-ai-platform/internal/calls"
	"github.com/wolfman30/missedcall-ai-platform/internal/conversation"
	"github.com/wolfman30/missedcall-ai-platform/internal/events"
	"github.com/wolfman30/missedcall-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/missedcall-ai-platform/internal/voicemail"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

var twilioTracer = otel.Tracer("missedcall.messaging.twilio")

const (
	routeVoice     = "voice"
	routeRecording = "recording"
	routeSMS       = "sms"

	defaultReplyTimeout   = 12 * time.Second
	defaultEnqueueTimeout = 3 * time.Second
)

type callIngestor interface {
	Ingest(ctx context.Context, evt calls.CallEvent) (*calls.IngestResult, error)
}

type replier interface {
	Reply(ctx context.Context, msg conversation.InboundMessage) (*conversation.ReplyResult, error)
}

// VoicemailEnqueuer hands recordings to the background relay.
type VoicemailEnqueuer interface {
	EnqueueVoicemail(ctx context.Context, req voicemail.Request) error
}

// HandlerDeps wires the webhook handler. Validator and Claimer are optional.
type HandlerDeps struct {
	Ingestor     callIngestor
	Replier      replier
	Voicemail    VoicemailEnqueuer
	Claimer      events.Claimer
	Validator    *SignatureValidator
	Voice        *VoiceResponder
	Metrics      *metrics.Metrics
	Logger       *logging.Logger
	ReplyTimeout time.Duration
}

// Handler serves the Twilio webhooks.
type Handler struct {
	ingestor     callIngestor
	replier      replier
	voicemail    VoicemailEnqueuer
	claimer      events.Claimer
	validator    *SignatureValidator
	voice        *VoiceResponder
	metrics      *metrics.Metrics
	logger       *logging.Logger
	replyTimeout time.Duration
}

func NewHandler(deps HandlerDeps) *Handler {
	if deps.Ingestor == nil {
		panic("messaging: call ingestor cannot be nil")
	}
	if deps.Replier == nil {
		panic("messaging: reply engine cannot be nil")
	}
	if deps.Voicemail == nil {
		panic("messaging: voicemail enqueuer cannot be nil")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Voice == nil {
		deps.Voice = NewVoiceResponder(VoiceConfig{})
	}
	if deps.ReplyTimeout <= 0 {
		deps.ReplyTimeout = defaultReplyTimeout
	}
	return &Handler{
		ingestor:     deps.Ingestor,
		replier:      deps.Replier,
		voicemail:    deps.Voicemail,
		claimer:      deps.Claimer,
		validator:    deps.Validator,
		voice:        deps.Voice,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		replyTimeout: deps.ReplyTimeout,
	}
}

// CallStatus handles POST /webhooks/twilio/voice.
func (h *Handler) CallStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := twilioTracer.Start(r.Context(), "messaging.twilio.voice")
	defer span.End()
	defer h.observeLatency(routeVoice, time.Now())

	if !h.authorized(w, r, routeVoice) {
		return
	}
	evt, err := ParseCallStatus(r)
	if err != nil {
		h.logger.Warn("invalid twilio voice payload", "error", err)
		h.metrics.ObserveWebhook(routeVoice, "bad_request")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.String("twilio.call_sid", evt.CallID),
		attribute.String("twilio.call_status", evt.Status),
	)

	res, err := h.ingestor.Ingest(ctx, evt)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("failed to ingest call status", "call_sid", evt.CallID, "error", err)
		if errors.Is(err, calls.ErrInvalidEvent) {
			h.metrics.ObserveWebhook(routeVoice, "bad_request")
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		h.metrics.ObserveWebhook(routeVoice, "error")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var doc string
	if res.Missed {
		destination := ""
		if res.Clinic != nil {
			destination = res.Clinic.DestinationNumber
		}
		doc, err = h.voice.MissedCall(destination)
	} else {
		doc, err = h.voice.Empty()
	}
	if err != nil {
		span.RecordError(err)
		h.logger.Error("failed to render twiml", "call_sid", evt.CallID, "error", err)
		h.metrics.ObserveWebhook(routeVoice, "error")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	h.metrics.ObserveWebhook(routeVoice, "ok")
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

// RecordingReady handles POST /webhooks/twilio/recording.
func (h *Handler) RecordingReady(w http.ResponseWriter, r *http.Request) {
	ctx, span := twilioTracer.Start(r.Context(), "messaging.twilio.recording")
	defer span.End()
	defer h.observeLatency(routeRecording, time.Now())

	if !h.authorized(w, r, routeRecording) {
		return
	}
	req, err := ParseRecording(r)
	if err != nil {
		h.logger.Warn("no recording url in twilio webhook", "error", err)
		h.metrics.ObserveWebhook(routeRecording, "bad_request")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "No recording URL"})
		return
	}
	span.SetAttributes(attribute.String("twilio.call_sid", req.CallID))

	enqueueCtx, cancel := context.WithTimeout(ctx, defaultEnqueueTimeout)
	defer cancel()
	if err := h.voicemail.EnqueueVoicemail(enqueueCtx, req); err != nil {
		span.RecordError(err)
		h.logger.Error("failed to enqueue voicemail relay", "call_sid", req.CallID, "error", err)
		h.metrics.ObserveWebhook(routeRecording, "error")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Server error"})
		return
	}

	h.metrics.ObserveWebhook(routeRecording, "ok")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// InboundMessage handles POST /webhooks/twilio/sms.
func (h *Handler) InboundMessage(w http.ResponseWriter, r *http.Request) {
	ctx, span := twilioTracer.Start(r.Context(), "messaging.twilio.sms")
	defer span.End()
	defer h.observeLatency(routeSMS, time.Now())

	if !h.authorized(w, r, routeSMS) {
		return
	}
	msg, err := ParseInboundMessage(r)
	if err != nil {
		h.logger.Warn("invalid twilio sms payload", "error", err)
		h.metrics.ObserveWebhook(routeSMS, "bad_request")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("twilio.message_sid", msg.MessageSID))

	claimed := false
	if msg.MessageSID != "" && h.claimer != nil {
		ok, err := h.claimer.MarkProcessed(ctx, events.ScopeTwilioMessage, msg.MessageSID)
		switch {
		case err != nil:
			h.logger.Error("failed to claim message sid, continuing without idempotency", "message_sid", msg.MessageSID, "error", err)
		case !ok:
			h.logger.Info("duplicate inbound message ignored", "message_sid", msg.MessageSID)
			h.metrics.ObserveWebhook(routeSMS, "duplicate")
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "duplicate": true})
			return
		default:
			claimed = true
		}
	}

	replyCtx, cancel := context.WithTimeout(ctx, h.replyTimeout)
	defer cancel()
	if _, err := h.replier.Reply(replyCtx, msg); err != nil {
		span.RecordError(err)
		if claimed {
			h.release(msg.MessageSID)
		}
		if errors.Is(err, conversation.ErrInvalidMessage) {
			h.metrics.ObserveWebhook(routeSMS, "bad_request")
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		h.logger.Error("error in AI reply handler", "message_sid", msg.MessageSID, "error", err)
		h.metrics.ObserveWebhook(routeSMS, "error")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to process message"})
		return
	}

	h.metrics.ObserveWebhook(routeSMS, "ok")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// HealthCheck returns a simple health check response.
func (h *Handler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) authorized(w http.ResponseWriter, r *http.Request, route string) bool {
	if h.validator == nil {
		return true
	}
	if h.validator.Validate(r) {
		return true
	}
	h.logger.Warn("invalid twilio signature", "route", route)
	h.metrics.ObserveWebhook(route, "unauthorized")
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}

// release frees a claimed message sid so Twilio's retry can run the reply again.
func (h *Handler) release(messageSID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.claimer.Release(ctx, events.ScopeTwilioMessage, messageSID); err != nil {
		h.logger.Error("failed to release message sid", "message_sid", messageSID, "error", err)
	}
}

func (h *Handler) observeLatency(route string, start time.Time) {
	h.metrics.ObserveWebhookLatency(route, time.Since(start).Seconds())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
