package messaging

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/missedcall-ai-platform/internal/conversation"
	"github.com/wolfman30/missedcall-ai-platform/internal/phone"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

const (
	SMSProviderTwilio = "twilio"
	SMSProviderLog    = "log"
)

// ProviderSelectionConfig captures the credentials required to build the outbound messenger.
type ProviderSelectionConfig struct {
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
}

// BuildReplyMessenger returns the Twilio sender when credentials exist and a
// log-only sender otherwise, along with the provider name.
func BuildReplyMessenger(cfg ProviderSelectionConfig, logger *logging.Logger) (conversation.ReplyMessenger, string) {
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.TwilioAccountSID) != "" && strings.TrimSpace(cfg.TwilioAuthToken) != "" {
		return NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger), SMSProviderTwilio
	}
	logger.Warn("twilio credentials missing, outbound sms will only be logged")
	return NewLogSender(logger), SMSProviderLog
}

// LogSender records outbound messages instead of sending them. Used in development.
type LogSender struct {
	logger *logging.Logger
}

func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) SendReply(_ context.Context, msg conversation.OutboundReply) (conversation.SendResult, error) {
	id := "LOG" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.logger.Info("sms (log only)",
		"call_sid", msg.CallID,
		"to", phone.Mask(msg.To),
		"from", msg.From,
		"body", msg.Body,
		"message_sid", id,
	)
	return conversation.SendResult{ProviderMessageID: id, Status: "logged"}, nil
}
