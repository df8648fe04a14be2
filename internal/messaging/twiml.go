package messaging

import (
	"strconv"
	"strings"

	"github.com/twilio/twilio-go/twiml"
)

const (
	VoiceModeVoicemail = "voicemail"
	VoiceModeForward   = "forward"

	defaultVoicemailPrompt = "Thank you for calling. Please leave a message after the beep."
)

// VoiceConfig controls the TwiML returned for a missed call.
type VoiceConfig struct {
	Mode          string
	PauseSeconds  int
	MaxSeconds    int
	Prompt        string
	PublicBaseURL string
}

// VoiceResponder renders TwiML documents for status callbacks.
type VoiceResponder struct {
	cfg VoiceConfig
}

func NewVoiceResponder(cfg VoiceConfig) *VoiceResponder {
	if cfg.Mode == "" {
		cfg.Mode = VoiceModeVoicemail
	}
	if cfg.PauseSeconds < 0 {
		cfg.PauseSeconds = 0
	}
	if cfg.MaxSeconds <= 0 {
		cfg.MaxSeconds = 30
	}
	if strings.TrimSpace(cfg.Prompt) == "" {
		cfg.Prompt = defaultVoicemailPrompt
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &VoiceResponder{cfg: cfg}
}

// Empty is the no-op response for calls that were not missed.
func (v *VoiceResponder) Empty() (string, error) {
	return twiml.Voice(nil)
}

// MissedCall forwards to destination in forward mode, otherwise records a voicemail.
func (v *VoiceResponder) MissedCall(destination string) (string, error) {
	if v.cfg.Mode == VoiceModeForward && strings.TrimSpace(destination) != "" {
		return twiml.Voice([]twiml.Element{
			&twiml.VoiceDial{Number: strings.TrimSpace(destination)},
		})
	}

	var verbs []twiml.Element
	if v.cfg.PauseSeconds > 0 {
		verbs = append(verbs, &twiml.VoicePause{Length: strconv.Itoa(v.cfg.PauseSeconds)})
	}
	verbs = append(verbs,
		&twiml.VoiceSay{Message: v.cfg.Prompt},
		&twiml.VoiceRecord{
			MaxLength: strconv.Itoa(v.cfg.MaxSeconds),
			Action:    v.cfg.PublicBaseURL + "/webhooks/twilio/recording",
		},
	)
	return twiml.Voice(verbs)
}
