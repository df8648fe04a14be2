package voicemail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/missedcall-ai-platform/internal/archive"
	"github.com/wolfman30/missedcall-ai-platform/internal/calls"
	"github.com/wolfman30/missedcall-ai-platform/internal/clinic"
	"github.com/wolfman30/missedcall-ai-platform/internal/events"
	"github.com/wolfman30/missedcall-ai-platform/internal/notify"
	"github.com/wolfman30/missedcall-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/missedcall-ai-platform/internal/phone"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

var relayTracer = otel.Tracer("missedcall.voicemail")

// ErrNotifyFailed wraps transient email failures. The claim is released, so the
// job should be redelivered.
var ErrNotifyFailed = errors.New("voicemail: staff notification failed")

// Request is a recording-ready callback queued for relay.
type Request struct {
	CallID       string `json:"call_id"`
	From         string `json:"from"`
	To           string `json:"to"`
	RecordingURL string `json:"recording_url"`
}

type recordingFetcher interface {
	Fetch(ctx context.Context, recordingURL string) ([]byte, error)
}

type staffNotifier interface {
	NotifyVoicemail(ctx context.Context, vm notify.Voicemail) error
}

// RelayDeps wires a Relay. Fetcher and Store are optional together: without
// them staff get the provider's recording link.
type RelayDeps struct {
	Fetcher   recordingFetcher
	Store     archive.ObjectStore
	Notifier  staffNotifier
	Directory clinic.Directory
	Calls     calls.Store
	Claimer   events.Claimer
	Metrics   *metrics.Metrics
	Logger    *logging.Logger
}

// Relay copies a recording to object storage and emails staff the link.
type Relay struct {
	fetcher   recordingFetcher
	store     archive.ObjectStore
	notifier  staffNotifier
	directory clinic.Directory
	calls     calls.Store
	claimer   events.Claimer
	metrics   *metrics.Metrics
	logger    *logging.Logger
}

func NewRelay(deps RelayDeps) *Relay {
	if deps.Notifier == nil {
		panic("voicemail: staff notifier required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	return &Relay{
		fetcher:   deps.Fetcher,
		store:     deps.Store,
		notifier:  deps.Notifier,
		directory: deps.Directory,
		calls:     deps.Calls,
		claimer:   deps.Claimer,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}
}

// Relay handles one recording. A redelivered request for the same call is a no-op
// once the email went out.
func (r *Relay) Relay(ctx context.Context, req Request) error {
	if strings.TrimSpace(req.RecordingURL) == "" {
		return errors.New("voicemail: recording url required")
	}
	ctx, span := relayTracer.Start(ctx, "voicemail.relay")
	defer span.End()
	span.SetAttributes(attribute.String("call.sid", req.CallID))

	if r.claimer != nil && req.CallID != "" {
		ok, err := r.claimer.MarkProcessed(ctx, events.ScopeVoicemail, req.CallID)
		if err != nil {
			return fmt.Errorf("voicemail: claim: %w", err)
		}
		if !ok {
			r.logger.Info("voicemail already relayed", "call_sid", req.CallID)
			r.metrics.ObserveVoicemail("duplicate")
			return nil
		}
	}

	routing := phone.NormalizeE164(req.To)
	c, _ := clinic.Resolve(ctx, r.directory, routing, r.logger)
	link := r.archive(ctx, req, routing)

	err := r.notifier.NotifyVoicemail(ctx, notify.Voicemail{
		CallID:     req.CallID,
		From:       req.From,
		To:         req.To,
		ClinicName: c.Name,
		Recipient:  c.NotificationEmail,
		Link:       link,
	})
	if err != nil {
		span.RecordError(err)
		r.metrics.ObserveVoicemail("notify_failed")
		r.releaseClaim(req.CallID)
		if errors.Is(err, notify.ErrNoRecipient) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrNotifyFailed, err)
	}
	r.metrics.ObserveVoicemail("sent")

	if r.calls != nil && req.CallID != "" {
		if err := r.calls.SetRecordingURL(ctx, req.CallID, link); err != nil && !errors.Is(err, calls.ErrNotFound) {
			r.logger.Warn("failed to record voicemail link on missed call", "call_sid", req.CallID, "error", err)
		}
	}
	return nil
}

// archive returns the stored object's URL, or the provider link when storage is off or fails.
func (r *Relay) archive(ctx context.Context, req Request, routing string) string {
	providerLink := MP3URL(req.RecordingURL)
	if r.store == nil || r.fetcher == nil {
		return providerLink
	}
	audio, err := r.fetcher.Fetch(ctx, req.RecordingURL)
	if err != nil {
		r.metrics.ObserveVoicemail("fetch_failed")
		r.logger.Warn("failed to fetch recording, linking provider url", "call_sid", req.CallID, "error", err)
		return providerLink
	}
	url, err := r.store.Put(ctx, archive.VoicemailKey(routing, req.CallID), "audio/mpeg", audio)
	if err != nil {
		r.metrics.ObserveVoicemail("archive_failed")
		r.logger.Warn("failed to archive recording, linking provider url", "call_sid", req.CallID, "error", err)
		return providerLink
	}
	r.metrics.ObserveVoicemail("archived")
	return url
}

func (r *Relay) releaseClaim(callID string) {
	if r.claimer == nil || callID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.claimer.Release(ctx, events.ScopeVoicemail, callID); err != nil {
		r.logger.Error("failed to release voicemail claim", "call_sid", callID, "error", err)
	}
}
