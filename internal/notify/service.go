package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

// ErrNoRecipient means neither the clinic nor the fallback address is configured.
var ErrNoRecipient = errors.New("notify: no staff email configured")

// Voicemail describes a recording staff should listen to.
type Voicemail struct {
	CallID     string
	From       string
	To         string
	ClinicName string
	// Recipient overrides the service's fallback address, usually the clinic's notification email.
	Recipient string
	Link      string
}

// Service sends staff notifications.
type Service struct {
	email      EmailSender
	fallbackTo string
	logger     *logging.Logger
}

// NewService sends to fallbackTo when a notification has no recipient of its own.
func NewService(email EmailSender, fallbackTo string, logger *logging.Logger) *Service {
	if email == nil {
		panic("notify: email sender required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, fallbackTo: strings.TrimSpace(fallbackTo), logger: logger}
}

// NotifyVoicemail emails staff a link to a new voicemail.
func (s *Service) NotifyVoicemail(ctx context.Context, vm Voicemail) error {
	to := strings.TrimSpace(vm.Recipient)
	if to == "" {
		to = s.fallbackTo
	}
	if to == "" {
		return ErrNoRecipient
	}

	var body strings.Builder
	fmt.Fprintf(&body, "You received a voicemail from %s to %s", vm.From, vm.To)
	if name := strings.TrimSpace(vm.ClinicName); name != "" {
		fmt.Fprintf(&body, " (%s)", name)
	}
	fmt.Fprintf(&body, ".\n\nListen to it here: %s\n\nCall SID: %s", vm.Link, vm.CallID)

	msg := EmailMessage{
		To:      to,
		Subject: "New Voicemail from " + vm.From,
		Body:    body.String(),
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: voicemail email: %w", err)
	}
	s.logger.Info("voicemail notification sent", "call_sid", vm.CallID, "to", to)
	return nil
}
