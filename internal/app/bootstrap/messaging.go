package bootstrap

import (
	appconfig "github.com/wolfman30/missedcall-ai-platform/internal/config"
	"github.com/wolfman30/missedcall-ai-platform/internal/conversation"
	"github.com/wolfman30/missedcall-ai-platform/internal/messaging"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

// BuildOutboundMessenger returns the SMS sender and the provider name it chose.
func BuildOutboundMessenger(cfg *appconfig.Config, logger *logging.Logger) (conversation.ReplyMessenger, string) {
	if cfg == nil {
		return messaging.NewLogSender(logger), messaging.SMSProviderLog
	}
	return messaging.BuildReplyMessenger(messaging.ProviderSelectionConfig{
		TwilioAccountSID: cfg.TwilioAccountSID,
		TwilioAuthToken:  cfg.TwilioAuthToken,
		TwilioFromNumber: cfg.TwilioFromNumber,
	}, logger)
}

// BuildVoiceResponder maps the voice settings onto the TwiML renderer.
func BuildVoiceResponder(cfg *appconfig.Config) *messaging.VoiceResponder {
	return messaging.NewVoiceResponder(messaging.VoiceConfig{
		Mode:          cfg.VoiceMode,
		PauseSeconds:  cfg.VoicemailPauseSeconds,
		MaxSeconds:    cfg.VoicemailMaxSeconds,
		Prompt:        cfg.VoicemailPrompt,
		PublicBaseURL: cfg.PublicBaseURL,
	})
}

// BuildSignatureValidator returns nil when validation is off or no token is set.
func BuildSignatureValidator(cfg *appconfig.Config, logger *logging.Logger) *messaging.SignatureValidator {
	if !cfg.ValidateTwilioSignature {
		return nil
	}
	if cfg.TwilioAuthToken == "" {
		if logger != nil {
			logger.Warn("twilio signature validation requested without an auth token; skipping")
		}
		return nil
	}
	return messaging.NewSignatureValidator(cfg.TwilioAuthToken, cfg.PublicBaseURL)
}
