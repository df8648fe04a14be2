package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/missedcall-ai-platform/internal/conversation"
	"github.com/wolfman30/missedcall-ai-platform/internal/phone"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

var twilioSendTracer = otel.Tracer("missedcall.messaging.twilio_send")

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioSender posts SMS messages through the Twilio REST API.
type TwilioSender struct {
	api    messageCreator
	from   string
	logger *logging.Logger
}

var _ conversation.ReplyMessenger = (*TwilioSender)(nil)

// NewTwilioSender builds a sender; defaultFrom is used when a reply has no From.
func NewTwilioSender(accountSID, authToken, defaultFrom string, logger *logging.Logger) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return newTwilioSender(client.Api, defaultFrom, logger)
}

func newTwilioSender(api messageCreator, defaultFrom string, logger *logging.Logger) *TwilioSender {
	if api == nil {
		panic("messaging: twilio api required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioSender{api: api, from: defaultFrom, logger: logger}
}

// SendReply sends one SMS. Failures are returned to the caller without retry.
func (s *TwilioSender) SendReply(ctx context.Context, msg conversation.OutboundReply) (conversation.SendResult, error) {
	if msg.To == "" {
		return conversation.SendResult{}, errors.New("messaging: to required")
	}
	if msg.From == "" {
		msg.From = s.from
	}
	if msg.From == "" {
		return conversation.SendResult{}, errors.New("messaging: from required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return conversation.SendResult{}, errors.New("messaging: body required")
	}
	if err := ctx.Err(); err != nil {
		return conversation.SendResult{}, err
	}

	_, span := twilioSendTracer.Start(ctx, "messaging.twilio.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("twilio.call_sid", msg.CallID),
		attribute.String("twilio.from", msg.From),
	)

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(msg.To)
	params.SetFrom(msg.From)
	params.SetBody(msg.Body)

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create message")
		return conversation.SendResult{}, fmt.Errorf("messaging: twilio send: %w", err)
	}

	result := conversation.SendResult{}
	if resp != nil {
		if resp.Sid != nil {
			result.ProviderMessageID = *resp.Sid
		}
		if resp.Status != nil {
			result.Status = *resp.Status
		}
	}
	s.logger.Info("twilio sms sent",
		"call_sid", msg.CallID,
		"to", phone.Mask(msg.To),
		"message_sid", result.ProviderMessageID,
	)
	return result, nil
}
