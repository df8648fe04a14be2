// Package voicemail archives missed-call recordings and emails staff a link.
package voicemail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/missedcall-ai-platform/internal/retry"
)

const (
	defaultFetchTimeout = 20 * time.Second
	maxRecordingBytes   = 25 << 20
)

// errRecordingNotReady marks a 404 from the provider, which happens briefly after a recording completes.
var errRecordingNotReady = errors.New("voicemail: recording not ready")

// MP3URL returns the provider's mp3 rendition of a recording URL.
func MP3URL(recordingURL string) string {
	u := strings.TrimSpace(recordingURL)
	if strings.HasSuffix(strings.ToLower(u), ".mp3") {
		return u
	}
	return u + ".mp3"
}

// HTTPFetcher downloads recordings with the provider's basic auth.
type HTTPFetcher struct {
	client   *http.Client
	username string
	password string
	policy   retry.Policy
}

func NewHTTPFetcher(accountSID, authToken string) *HTTPFetcher {
	return &HTTPFetcher{
		client:   &http.Client{Timeout: defaultFetchTimeout},
		username: accountSID,
		password: authToken,
		policy: retry.Policy{
			Attempts: 3,
			Delay:    time.Second,
			Retryable: func(err error) bool {
				return errors.Is(err, errRecordingNotReady)
			},
		},
	}
}

// Fetch returns the mp3 bytes for recordingURL.
func (f *HTTPFetcher) Fetch(ctx context.Context, recordingURL string) ([]byte, error) {
	url := MP3URL(recordingURL)
	return retry.Do(ctx, f.policy, func(ctx context.Context) ([]byte, error) {
		return f.fetchOnce(ctx, url)
	})
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("voicemail: build request: %w", err)
	}
	if f.username != "" {
		req.SetBasicAuth(f.username, f.password)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voicemail: fetch recording: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errRecordingNotReady
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("voicemail: fetch recording: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordingBytes))
	if err != nil {
		return nil, fmt.Errorf("voicemail: read recording: %w", err)
	}
	return body, nil
}
