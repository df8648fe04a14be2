// Package messaging handles Twilio webhooks and outbound SMS.
package messaging

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	twclient "github.com/twilio/twilio-go/client"

	"github.com/wolfman30/missedcall-ai-platform/internal/calls"
	"github.com/wolfman30/missedcall-ai-platform/internal/conversation"
	"github.com/wolfman30/missedcall-ai-platform/internal/voicemail"
)

const signatureHeader = "X-Twilio-Signature"

// SignatureValidator checks X-Twilio-Signature against the auth token.
type SignatureValidator struct {
	validator twclient.RequestValidator
	baseURL   string
}

// NewSignatureValidator signs against baseURL+path when baseURL is set, since
// requests behind a load balancer do not see the public host.
func NewSignatureValidator(authToken, publicBaseURL string) *SignatureValidator {
	return &SignatureValidator{
		validator: twclient.NewRequestValidator(authToken),
		baseURL:   strings.TrimRight(publicBaseURL, "/"),
	}
}

// Validate parses the form and reports whether the signature matches.
func (v *SignatureValidator) Validate(r *http.Request) bool {
	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for key := range r.PostForm {
		params[key] = r.PostForm.Get(key)
	}
	return v.validator.Validate(v.webhookURL(r), params, signature)
}

func (v *SignatureValidator) webhookURL(r *http.Request) string {
	if v.baseURL != "" {
		return v.baseURL + r.URL.RequestURI()
	}
	return buildAbsoluteURL(r)
}

func buildAbsoluteURL(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	if r.URL.Scheme != "" {
		return r.URL.String()
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}

var errMissingFields = errors.New("messaging: missing required twilio fields")

// ParseCallStatus reads a voice status callback form.
func ParseCallStatus(r *http.Request) (calls.CallEvent, error) {
	if err := r.ParseForm(); err != nil {
		return calls.CallEvent{}, fmt.Errorf("messaging: parse form: %w", err)
	}
	evt := calls.CallEvent{
		CallID: strings.TrimSpace(r.FormValue("CallSid")),
		From:   strings.TrimSpace(r.FormValue("From")),
		To:     strings.TrimSpace(r.FormValue("To")),
		Status: strings.ToLower(strings.TrimSpace(r.FormValue("CallStatus"))),
	}
	if raw := strings.TrimSpace(r.FormValue("CallDuration")); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
			evt.Duration = time.Duration(secs) * time.Second
			evt.HasDuration = true
		}
	}
	if err := evt.Validate(); err != nil {
		return evt, err
	}
	return evt, nil
}

// ParseRecording reads a recording-ready callback form.
func ParseRecording(r *http.Request) (voicemail.Request, error) {
	if err := r.ParseForm(); err != nil {
		return voicemail.Request{}, fmt.Errorf("messaging: parse form: %w", err)
	}
	req := voicemail.Request{
		CallID:       strings.TrimSpace(r.FormValue("CallSid")),
		From:         strings.TrimSpace(r.FormValue("From")),
		To:           strings.TrimSpace(r.FormValue("To")),
		RecordingURL: strings.TrimSpace(r.FormValue("RecordingUrl")),
	}
	if req.RecordingURL == "" {
		return req, fmt.Errorf("%w: RecordingUrl", errMissingFields)
	}
	return req, nil
}

// ParseInboundMessage reads an inbound SMS webhook form.
func ParseInboundMessage(r *http.Request) (conversation.InboundMessage, error) {
	if err := r.ParseForm(); err != nil {
		return conversation.InboundMessage{}, fmt.Errorf("messaging: parse form: %w", err)
	}
	msg := conversation.InboundMessage{
		MessageSID: strings.TrimSpace(r.FormValue("MessageSid")),
		From:       strings.TrimSpace(r.FormValue("From")),
		To:         strings.TrimSpace(r.FormValue("To")),
		Body:       r.FormValue("Body"),
	}
	if msg.From == "" || msg.To == "" || strings.TrimSpace(msg.Body) == "" {
		return msg, errMissingFields
	}
	return msg, nil
}
