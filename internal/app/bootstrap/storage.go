package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/wolfman30/missedcall-ai-platform/internal/archive"
	appconfig "github.com/wolfman30/missedcall-ai-platform/internal/config"
	"github.com/wolfman30/missedcall-ai-platform/internal/notify"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

// BuildObjectStore returns the voicemail archive, or nil when no bucket is configured.
// Without an archive the relay emails the provider's recording link.
func BuildObjectStore(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (archive.ObjectStore, error) {
	provider := cfg.StorageProvider
	if provider == "" {
		switch {
		case cfg.S3Bucket != "":
			provider = archive.ProviderS3
		case cfg.GCSBucket != "":
			provider = archive.ProviderGCS
		}
	}

	switch provider {
	case archive.ProviderS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("bootstrap: S3_BUCKET required for s3 storage")
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.AWSEndpointOverride != "" {
				o.BaseEndpoint = aws.String(cfg.AWSEndpointOverride)
				o.UsePathStyle = true
			}
		})
		return archive.NewS3Store(client, cfg.S3Bucket, cfg.AWSRegion, cfg.S3PublicBaseURL, logger), nil
	case archive.ProviderGCS:
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("bootstrap: GCS_BUCKET required for gcs storage")
		}
		return archive.NewGCSStore(ctx, cfg.GCSBucket, logger)
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown storage provider %q", provider)
	}
}

// BuildNotifier wires the staff email service with SendGrid, SES or the stub sender.
func BuildNotifier(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*notify.Service, string) {
	var ses *notify.SESSender
	if strings.TrimSpace(cfg.SESFromEmail) != "" {
		client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
			if cfg.AWSEndpointOverride != "" {
				o.BaseEndpoint = aws.String(cfg.AWSEndpointOverride)
			}
		})
		ses = notify.NewSESSender(client, notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
	}
	sender, provider := notify.BuildEmailSender(notify.SelectionConfig{
		Provider: cfg.EmailProvider,
		SendGrid: notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		},
		SES: ses,
	}, logger)
	return notify.NewService(sender, cfg.VoicemailNotifyEmail, logger), provider
}
