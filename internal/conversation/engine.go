package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/missedcall-ai-platform/internal/calls"
	"github.com/wolfman30/missedcall-ai-platform/internal/clinic"
	"github.com/wolfman30/missedcall-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/missedcall-ai-platform/internal/phone"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var engineTracer = otel.Tracer("missedcall.conversation")

var (
	// ErrNoThread means no missed call exists for the patient and routing number.
	ErrNoThread = errors.New("conversation: no missed call thread for sender")
	// ErrInvalidMessage is returned for inbound messages missing From, To or Body.
	ErrInvalidMessage = errors.New("conversation: invalid inbound message")
	// ErrEmptyReply is returned when the model produced nothing sendable.
	ErrEmptyReply = errors.New("conversation: empty reply")
)

const (
	defaultReplyCap     = 5
	defaultHistoryLimit = 10
	defaultMaxTokens    = 150
	blockedReplyText    = "Thanks for your message! Please call our office and our team will be happy to help."
)

// InboundMessage is a patient text received on a clinic routing number.
type InboundMessage struct {
	From       string
	To         string
	Body       string
	MessageSID string
}

// ReplyResult reports what the engine sent and whether the exchange was logged.
type ReplyResult struct {
	Reply   string
	Capped  bool
	CallID  string
	Logged  bool
	Skipped string
}

// EngineConfig tunes the reply loop.
type EngineConfig struct {
	ReplyCap     int
	HistoryLimit int
	Model        string
	MaxTokens    int32
	Temperature  float32
}

// Engine answers inbound patient texts and logs each exchange to the missed call's thread.
type Engine struct {
	directory clinic.Directory
	calls     calls.Store
	threads   calls.ThreadStore
	locker    calls.ThreadLocker
	llm       LLMClient
	messenger ReplyMessenger
	cfg       EngineConfig
	metrics   *metrics.Metrics
	logger    *logging.Logger
	now       func() time.Time
}

// EngineDeps groups the engine's collaborators.
type EngineDeps struct {
	Directory clinic.Directory
	Calls     calls.Store
	Threads   calls.ThreadStore
	Locker    calls.ThreadLocker
	LLM       LLMClient
	Messenger ReplyMessenger
	Metrics   *metrics.Metrics
	Logger    *logging.Logger
}

func NewEngine(deps EngineDeps, cfg EngineConfig) *Engine {
	if deps.Calls == nil || deps.Threads == nil {
		panic("conversation: call and thread stores required")
	}
	if deps.LLM == nil {
		panic("conversation: llm client required")
	}
	if deps.Messenger == nil {
		panic("conversation: reply messenger required")
	}
	if deps.Locker == nil {
		deps.Locker = calls.NewLocalThreadLocker()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if cfg.ReplyCap <= 0 {
		cfg.ReplyCap = defaultReplyCap
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.4
	}
	return &Engine{
		directory: deps.Directory,
		calls:     deps.Calls,
		threads:   deps.Threads,
		locker:    deps.Locker,
		llm:       deps.LLM,
		messenger: deps.Messenger,
		cfg:       cfg,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Reply drafts and sends an answer to msg, then appends the exchange to the
// owning thread. A missing thread never blocks the reply.
func (e *Engine) Reply(ctx context.Context, msg InboundMessage) (*ReplyResult, error) {
	body := strings.TrimSpace(msg.Body)
	if strings.TrimSpace(msg.From) == "" || strings.TrimSpace(msg.To) == "" || body == "" {
		return nil, ErrInvalidMessage
	}
	ctx, span := engineTracer.Start(ctx, "conversation.reply")
	defer span.End()

	patient := phone.NormalizeE164(msg.From)
	routing := phone.NormalizeE164(msg.To)
	span.SetAttributes(attribute.String("routing_number", routing))

	rc := ReplyContext{ClinicName: DefaultClinicName}
	if c, found := clinic.Resolve(ctx, e.directory, routing, e.logger); found {
		rc = ReplyContext{
			ClinicName:        c.DisplayName(DefaultClinicName),
			BookingURL:        c.BookingURL,
			EnrichmentContext: c.EnrichmentContext,
		}
	}

	callID, err := e.resolveThread(ctx, patient, routing)
	if err != nil && !errors.Is(err, ErrNoThread) {
		e.logger.Error("thread lookup failed", "patient", phone.Mask(patient), "routing_number", routing, "error", err)
	}
	var thread calls.Thread
	// An unreadable thread cannot prove the cap is unreached, so it redirects.
	threadUnreadable := false
	if callID != "" {
		entries, err := e.threads.Entries(ctx, callID)
		if err != nil {
			e.logger.Error("failed to load thread; redirecting to booking", "call_sid", callID, "error", err)
			threadUnreadable = true
			entries = nil
		}
		thread = calls.Thread{CallID: callID, Entries: entries}
	}

	result := &ReplyResult{CallID: callID}
	if threadUnreadable || thread.Count(calls.RoleAssistant) >= e.cfg.ReplyCap {
		result.Reply = RedirectMessage(rc.BookingURL)
		result.Capped = true
	} else {
		reply, err := e.draft(ctx, rc, thread, body)
		if err != nil {
			e.metrics.ObserveReply("ai", "llm_error")
			span.RecordError(err)
			span.SetStatus(codes.Error, "draft reply")
			return nil, err
		}
		result.Reply = reply
	}
	kind := "ai"
	if result.Capped {
		kind = "redirect"
	}

	if _, err := e.messenger.SendReply(ctx, OutboundReply{CallID: callID, To: patient, From: routing, Body: result.Reply}); err != nil {
		e.metrics.ObserveReply(kind, "send_error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "send reply")
		return nil, fmt.Errorf("conversation: send reply: %w", err)
	}
	e.metrics.ObserveReply(kind, "sent")
	e.logger.Info("reply sent",
		"call_sid", callID,
		"patient", phone.Mask(patient),
		"routing_number", routing,
		"capped", result.Capped,
	)

	if callID == "" {
		e.metrics.ObserveThreadLog("no_thread")
		e.logger.Warn("no missed call thread for inbound message, exchange not logged",
			"patient", phone.Mask(patient), "routing_number", routing)
		result.Skipped = "no_thread"
		return result, nil
	}

	logged, err := e.logExchange(ctx, callID, body, result.Reply)
	switch {
	case err != nil:
		// The reply is already out; a retry would text the patient twice.
		e.metrics.ObserveThreadLog("error")
		span.RecordError(err)
		e.logger.Error("failed to log conversation exchange", "call_sid", callID, "error", err)
		result.Skipped = "error"
	case !logged:
		e.metrics.ObserveThreadLog("duplicate")
		e.logger.Info("duplicate inbound message, exchange not logged", "call_sid", callID)
		result.Skipped = "duplicate"
	default:
		e.metrics.ObserveThreadLog("logged")
		result.Logged = true
	}
	return result, nil
}

// resolveThread picks the most recent missed call for the pair.
func (e *Engine) resolveThread(ctx context.Context, patient, routing string) (string, error) {
	rec, err := e.calls.LatestForPatient(ctx, patient, routing)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			return "", ErrNoThread
		}
		return "", fmt.Errorf("conversation: resolve thread: %w", err)
	}
	return rec.CallID, nil
}

func (e *Engine) draft(ctx context.Context, rc ReplyContext, thread calls.Thread, body string) (string, error) {
	history := thread.Recent(e.cfg.HistoryLimit)
	messages := make([]ChatMessage, 0, len(history)+1)
	for _, entry := range history {
		role := ChatRoleUser
		if entry.Role == calls.RoleAssistant {
			role = ChatRoleAssistant
		}
		messages = append(messages, ChatMessage{Role: role, Content: entry.Text})
	}
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: body})

	resp, err := e.llm.Complete(ctx, LLMRequest{
		Model:       e.cfg.Model,
		System:      buildReplySystemPrompt(rc),
		Messages:    messages,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("conversation: generate reply: %w", err)
	}
	reply := strings.TrimSpace(resp.Text)
	if reply == "" {
		return "", ErrEmptyReply
	}

	guard := ScanOutputForLeaks(reply)
	if guard.Leaked {
		e.logger.Warn("reply failed output guard", "reasons", guard.Reasons)
		reply = strings.TrimSpace(guard.Sanitized)
		if reply == "" {
			reply = blockedReplyText
		}
	}
	return reply, nil
}

// logExchange appends the patient and assistant entries under the thread lock.
// It reports false when the inbound text repeats the latest patient entry.
func (e *Engine) logExchange(ctx context.Context, callID, inbound, reply string) (bool, error) {
	unlock, err := e.locker.Lock(ctx, callID)
	if err != nil {
		return false, fmt.Errorf("conversation: lock thread: %w", err)
	}
	defer unlock()

	for attempt := 0; attempt < 2; attempt++ {
		entries, err := e.threads.Entries(ctx, callID)
		if err != nil {
			return false, fmt.Errorf("conversation: read thread: %w", err)
		}
		thread := calls.Thread{CallID: callID, Entries: entries}
		if last := thread.LastEntry(calls.RolePatient); last != nil && strings.TrimSpace(last.Text) == inbound {
			return false, nil
		}

		now := e.now()
		_, err = e.threads.AppendEntries(ctx, callID, thread.LastSequence(), []calls.ConversationEntry{
			{Role: calls.RolePatient, Text: inbound, CreatedAt: now},
			{Role: calls.RoleAssistant, Text: reply, CreatedAt: now},
		})
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, calls.ErrSequenceConflict) {
			return false, err
		}
		e.logger.Warn("conversation sequence conflict, retrying", "call_sid", callID, "attempt", attempt+1)
	}
	return false, calls.ErrSequenceConflict
}
