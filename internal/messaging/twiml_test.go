package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoiceResponderVoicemail(t *testing.T) {
	v := NewVoiceResponder(VoiceConfig{PauseSeconds: 2, MaxSeconds: 60, PublicBaseURL: "https://hooks.example.com/"})

	doc, err := v.MissedCall("+15550001111")
	require.NoError(t, err)
	assert.Contains(t, doc, `<Pause length="2"`)
	assert.Contains(t, doc, defaultVoicemailPrompt)
	assert.Contains(t, doc, `maxLength="60"`)
	assert.Contains(t, doc, `action="https://hooks.example.com/webhooks/twilio/recording"`)
	assert.NotContains(t, doc, "<Dial")
}

func TestVoiceResponderDefaults(t *testing.T) {
	v := NewVoiceResponder(VoiceConfig{PauseSeconds: -1})

	doc, err := v.MissedCall("")
	require.NoError(t, err)
	assert.NotContains(t, doc, "<Pause")
	assert.Contains(t, doc, `maxLength="30"`)
}

func TestVoiceResponderForward(t *testing.T) {
	v := NewVoiceResponder(VoiceConfig{Mode: VoiceModeForward, Prompt: "Please hold."})

	doc, err := v.MissedCall(" +15550001111 ")
	require.NoError(t, err)
	assert.Contains(t, doc, "<Dial")
	assert.Contains(t, doc, "+15550001111")

	// without a destination there is nothing to dial
	doc, err = v.MissedCall("")
	require.NoError(t, err)
	assert.Contains(t, doc, "Please hold.")
	assert.Contains(t, doc, "<Record")
}

func TestVoiceResponderEmpty(t *testing.T) {
	doc, err := NewVoiceResponder(VoiceConfig{}).Empty()
	require.NoError(t, err)
	assert.Contains(t, doc, "<Response")
	assert.NotContains(t, doc, "<Say")
}
