// Package archive stores voicemail recordings in object storage.
package archive

import (
	"context"
	"fmt"
	"strings"
)

const (
	ProviderS3  = "s3"
	ProviderGCS = "gcs"
)

// ObjectStore writes an object and returns a URL staff can open.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// VoicemailKey is the object key for a call's recording.
func VoicemailKey(routingNumber, callID string) string {
	routing := strings.TrimPrefix(strings.TrimSpace(routingNumber), "+")
	if routing == "" {
		routing = "unknown"
	}
	return fmt.Sprintf("voicemails/%s/%s.mp3", routing, callID)
}

func publicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
