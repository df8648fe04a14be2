package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/missedcall-ai-platform/internal/clinic"
	"github.com/wolfman30/missedcall-ai-platform/internal/followup"
	httpmiddleware "github.com/wolfman30/missedcall-ai-platform/internal/http/middleware"
	"github.com/wolfman30/missedcall-ai-platform/internal/messaging"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger           *logging.Logger
	MessagingHandler *messaging.Handler
	ClinicHandler    *clinic.Handler
	JobsHandler      *followup.Handler
	AdminAuthSecret  string
	MetricsHandler   http.Handler
	RateLimitRPS     float64
	RateLimitBurst   int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	if cfg == nil || cfg.MessagingHandler == nil {
		panic("router: messaging handler required")
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", cfg.MessagingHandler.HealthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Twilio webhooks; signature checks happen inside the handler.
	r.Route("/webhooks/twilio", func(twilio chi.Router) {
		twilio.Use(httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
		twilio.Post("/voice", cfg.MessagingHandler.CallStatus)
		twilio.Post("/recording", cfg.MessagingHandler.RecordingReady)
		twilio.Post("/sms", cfg.MessagingHandler.InboundMessage)
	})

	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(middleware.Compress(5))
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret, cfg.Logger))
			if cfg.ClinicHandler != nil {
				admin.Mount("/clinics", cfg.ClinicHandler.Routes())
			}
			if cfg.JobsHandler != nil {
				admin.Get("/jobs/{jobID}", cfg.JobsHandler.JobStatus)
			}
		})
	}

	return r
}
