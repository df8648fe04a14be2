package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig configures the SES sender. ConfigurationSet is optional and only
// needed when bounce and delivery events are tracked in SES.
type SESConfig struct {
	FromEmail        string
	FromName         string
	ConfigurationSet string
}

// SESSender delivers voicemail alerts through the SES v2 API.
type SESSender struct {
	client sesAPI
	from   string
	cfgSet string
	logger *logging.Logger
}

// NewSESSender returns nil without a client or from address.
func NewSESSender(client sesAPI, cfg SESConfig, logger *logging.Logger) *SESSender {
	from := strings.TrimSpace(cfg.FromEmail)
	if client == nil || from == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	name := strings.TrimSpace(cfg.FromName)
	if name == "" {
		name = defaultFromName
	}
	return &SESSender{
		client: client,
		from:   formatAddress(name, from),
		cfgSet: strings.TrimSpace(cfg.ConfigurationSet),
		logger: logger,
	}
}

func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: SES client not configured")
	}

	body := &types.Body{Text: utf8Content(msg.Body), Html: utf8Content(msg.HTML)}
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{formatAddress(msg.ToName, msg.To)}},
		Content: &types.EmailContent{
			Simple: &types.Message{Subject: utf8Content(msg.Subject), Body: body},
		},
	}
	if s.cfgSet != "" {
		input.ConfigurationSetName = aws.String(s.cfgSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("SES send failed", "error", err, "to", msg.To)
		return fmt.Errorf("notify: SES send failed: %w", err)
	}
	s.logger.Info("email sent via SES", "to", msg.To, "message_id", aws.ToString(out.MessageId))
	return nil
}

func formatAddress(name, addr string) string {
	if name = strings.TrimSpace(name); name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", name, addr)
}

// utf8Content returns nil for empty parts so SES omits them.
func utf8Content(data string) *types.Content {
	if data == "" {
		return nil
	}
	return &types.Content{Data: aws.String(data), Charset: aws.String("UTF-8")}
}

var _ EmailSender = (*SESSender)(nil)
