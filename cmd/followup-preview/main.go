package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/wolfman30/missedcall-ai-platform/cmd/mainconfig"
	"github.com/wolfman30/missedcall-ai-platform/internal/app/bootstrap"
	"github.com/wolfman30/missedcall-ai-platform/internal/clinic"
	appconfig "github.com/wolfman30/missedcall-ai-platform/internal/config"
	"github.com/wolfman30/missedcall-ai-platform/internal/onboarding"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

// followup-preview prints the SMS a patient would get for a clinic, using the
// configured LLM provider. The clinic comes from the directory when -routing
// is set, otherwise from the flags.
func main() {
	routing := flag.String("routing", "", "routing number to look up in the clinic directory")
	name := flag.String("name", "", "clinic name when not using the directory")
	booking := flag.String("booking-url", "", "booking link to append")
	website := flag.String("website", "", "clinic website to scrape for context")
	timeout := flag.Duration("timeout", 45*time.Second, "overall timeout")
	flag.Parse()

	cfg := appconfig.Load()
	cfg.UseMemoryQueue = true
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, cfg, logger, *routing, &clinic.Clinic{
		Name:       *name,
		BookingURL: *booking,
		WebsiteURL: *website,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "preview failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, routing string, c *clinic.Clinic) error {
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	svc, err := bootstrap.Build(ctx, cfg, awsCfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	if routing != "" {
		found, ok := clinic.Resolve(ctx, svc.Directory, routing, logger)
		if !ok {
			return fmt.Errorf("no clinic for routing number %s", routing)
		}
		c = found
	}
	if c.EnrichmentContext == "" && c.WebsiteURL != "" {
		enrichment, err := onboarding.NewScraper(nil, logger).Enrich(ctx, c.WebsiteURL)
		switch {
		case errors.Is(err, onboarding.ErrInvalidURL):
			return err
		case err != nil:
			logger.Warn("website enrichment failed; drafting without it", "error", err)
		default:
			c.EnrichmentContext = enrichment
			fmt.Printf("--- context from %s ---\n%s\n\n", c.WebsiteURL, enrichment)
		}
	}

	start := time.Now()
	body, err := svc.Dispatcher.Preview(ctx, c)
	if err != nil {
		return err
	}
	fmt.Printf("--- follow-up for %s (%s) ---\n%s\n", c.DisplayName(clinic.PlaceholderName), time.Since(start).Round(time.Millisecond), body)
	return nil
}
