package voicemail

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/missedcall-ai-platform/internal/calls"
	"github.com/wolfman30/missedcall-ai-platform/internal/clinic"
	"github.com/wolfman30/missedcall-ai-platform/internal/events"
	"github.com/wolfman30/missedcall-ai-platform/internal/notify"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

type stubFetcher struct {
	body []byte
	err  error
	urls []string
}

func (s *stubFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	s.urls = append(s.urls, url)
	return s.body, s.err
}

type stubObjectStore struct {
	key         string
	contentType string
	body        []byte
	err         error
}

func (s *stubObjectStore) Put(_ context.Context, key, contentType string, body []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.key, s.contentType, s.body = key, contentType, body
	return "https://bucket.example/" + key, nil
}

type recordingNotifier struct {
	sent []notify.Voicemail
	err  error
}

func (r *recordingNotifier) NotifyVoicemail(_ context.Context, vm notify.Voicemail) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, vm)
	return nil
}

type singleClinic struct {
	clinic *clinic.Clinic
}

func (s singleClinic) FindByRoutingNumber(_ context.Context, routing string) (*clinic.Clinic, error) {
	if s.clinic == nil || s.clinic.RoutingNumber != routing {
		return nil, clinic.ErrNotFound
	}
	return s.clinic, nil
}

func testRequest() Request {
	return Request{
		CallID:       "CA100",
		From:         "+15551234567",
		To:           "+15559876543",
		RecordingURL: "https://api.twilio.com/2010-04-01/Accounts/AC1/Recordings/RE1",
	}
}

func seedCall(t *testing.T, store *calls.MemoryStore) {
	t.Helper()
	_, err := store.Create(context.Background(), &calls.MissedCall{
		CallID:        "CA100",
		PatientNumber: "+15551234567",
		RoutingNumber: "+15559876543",
		Outcome:       calls.OutcomeMissed,
		FollowUpState: calls.FollowUpPending,
	})
	require.NoError(t, err)
}

func TestRelayArchivesAndNotifies(t *testing.T) {
	store := calls.NewMemoryStore()
	seedCall(t, store)
	fetcher := &stubFetcher{body: []byte("mp3")}
	objects := &stubObjectStore{}
	notifier := &recordingNotifier{}
	relay := NewRelay(RelayDeps{
		Fetcher:  fetcher,
		Store:    objects,
		Notifier: notifier,
		Directory: singleClinic{clinic: &clinic.Clinic{
			Name:              "Bright Smiles",
			RoutingNumber:     "+15559876543",
			NotificationEmail: "front@brightsmiles.example",
		}},
		Calls:  store,
		Logger: logging.New("error"),
	})

	require.NoError(t, relay.Relay(context.Background(), testRequest()))

	assert.Equal(t, "voicemails/15559876543/CA100.mp3", objects.key)
	assert.Equal(t, "audio/mpeg", objects.contentType)
	require.Len(t, notifier.sent, 1)
	sent := notifier.sent[0]
	assert.Equal(t, "front@brightsmiles.example", sent.Recipient)
	assert.Equal(t, "Bright Smiles", sent.ClinicName)
	assert.Equal(t, "https://bucket.example/voicemails/15559876543/CA100.mp3", sent.Link)

	call, err := store.GetByCallID(context.Background(), "CA100")
	require.NoError(t, err)
	assert.Equal(t, sent.Link, call.RecordingURL)
}

func TestRelayFallsBackToProviderLink(t *testing.T) {
	cases := map[string]RelayDeps{
		"no storage":    {},
		"fetch fails":   {Fetcher: &stubFetcher{err: errors.New("timeout")}, Store: &stubObjectStore{}},
		"archive fails": {Fetcher: &stubFetcher{body: []byte("mp3")}, Store: &stubObjectStore{err: errors.New("denied")}},
	}
	for name, deps := range cases {
		t.Run(name, func(t *testing.T) {
			notifier := &recordingNotifier{}
			deps.Notifier = notifier
			deps.Logger = logging.New("error")
			relay := NewRelay(deps)

			require.NoError(t, relay.Relay(context.Background(), testRequest()))
			require.Len(t, notifier.sent, 1)
			assert.Equal(t, testRequest().RecordingURL+".mp3", notifier.sent[0].Link)
			assert.Equal(t, clinic.PlaceholderName, notifier.sent[0].ClinicName)
			assert.Empty(t, notifier.sent[0].Recipient)
		})
	}
}

func TestRelaySkipsRedeliveredRecording(t *testing.T) {
	notifier := &recordingNotifier{}
	relay := NewRelay(RelayDeps{
		Notifier: notifier,
		Claimer:  events.NewMemoryProcessedStore(),
		Logger:   logging.New("error"),
	})

	require.NoError(t, relay.Relay(context.Background(), testRequest()))
	require.NoError(t, relay.Relay(context.Background(), testRequest()))
	assert.Len(t, notifier.sent, 1)
}

func TestRelayReleasesClaimWhenNotifyFails(t *testing.T) {
	claims := events.NewMemoryProcessedStore()
	notifier := &recordingNotifier{err: notify.ErrNoRecipient}
	relay := NewRelay(RelayDeps{
		Notifier: notifier,
		Claimer:  claims,
		Logger:   logging.New("error"),
	})

	err := relay.Relay(context.Background(), testRequest())
	require.ErrorIs(t, err, notify.ErrNoRecipient)
	assert.NotErrorIs(t, err, ErrNotifyFailed)

	notifier.err = nil
	require.NoError(t, relay.Relay(context.Background(), testRequest()))
	assert.Len(t, notifier.sent, 1)
}

func TestRelayTransientNotifyFailureIsRetryable(t *testing.T) {
	claims := events.NewMemoryProcessedStore()
	notifier := &recordingNotifier{err: errors.New("sendgrid: 503")}
	relay := NewRelay(RelayDeps{
		Notifier: notifier,
		Claimer:  claims,
		Logger:   logging.New("error"),
	})

	err := relay.Relay(context.Background(), testRequest())
	require.ErrorIs(t, err, ErrNotifyFailed)

	notifier.err = nil
	require.NoError(t, relay.Relay(context.Background(), testRequest()))
	assert.Len(t, notifier.sent, 1)
}

func TestRelayUnknownCallStillNotifies(t *testing.T) {
	notifier := &recordingNotifier{}
	relay := NewRelay(RelayDeps{
		Notifier: notifier,
		Calls:    calls.NewMemoryStore(),
		Logger:   logging.New("error"),
	})
	require.NoError(t, relay.Relay(context.Background(), testRequest()))
	assert.Len(t, notifier.sent, 1)
}

func TestRelayRequiresRecordingURL(t *testing.T) {
	relay := NewRelay(RelayDeps{Notifier: &recordingNotifier{}, Logger: logging.New("error")})
	req := testRequest()
	req.RecordingURL = " "
	assert.Error(t, relay.Relay(context.Background(), req))
}
