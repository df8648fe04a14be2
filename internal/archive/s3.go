package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store puts objects in one bucket.
type S3Store struct {
	client  S3API
	bucket  string
	baseURL string
	logger  *logging.Logger
}

// NewS3Store links objects under publicBaseURL, or the bucket's virtual-hosted URL when empty.
func NewS3Store(client S3API, bucket, region, publicBaseURL string, logger *logging.Logger) *S3Store {
	if client == nil {
		panic("archive: s3 client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if publicBaseURL == "" {
		if region == "" {
			region = "us-east-1"
		}
		publicBaseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return &S3Store{client: client, bucket: bucket, baseURL: publicBaseURL, logger: logger}
}

func (s *S3Store) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("archive: s3 put %s: %w", key, err)
	}
	s.logger.Info("stored object in s3", "bucket", s.bucket, "key", key, "bytes", len(body))
	return publicURL(s.baseURL, key), nil
}
