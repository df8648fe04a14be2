package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/missedcall-ai-platform/internal/phone"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

// AdminStore is the write side used by the admin surface.
type AdminStore interface {
	Directory
	Upsert(ctx context.Context, c *Clinic) error
	UpdateEnrichment(ctx context.Context, routingNumber, enrichment string) error
}

// Enricher turns a clinic website into enrichment context text.
type Enricher interface {
	Enrich(ctx context.Context, websiteURL string) (string, error)
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, routingNumber string) error
}

// Handler provides admin endpoints for clinic records.
type Handler struct {
	store    AdminStore
	cache    cacheInvalidator
	enricher Enricher
	logger   *logging.Logger
}

// NewHandler creates the admin clinic handler. cache and enricher are optional.
func NewHandler(store AdminStore, cache cacheInvalidator, enricher Enricher, logger *logging.Logger) *Handler {
	if store == nil {
		panic("clinic: admin store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, cache: cache, enricher: enricher, logger: logger}
}

// Routes returns a chi router with clinic admin routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{routingNumber}", h.GetClinic)
	r.Put("/{routingNumber}", h.PutClinic)
	r.Post("/{routingNumber}/enrich", h.EnrichClinic)
	return r
}

// GetClinic returns one clinic.
// GET /admin/clinics/{routingNumber}
func (h *Handler) GetClinic(w http.ResponseWriter, r *http.Request) {
	routing := phone.NormalizeE164(chi.URLParam(r, "routingNumber"))
	if routing == "" {
		writeError(w, http.StatusBadRequest, "routing number required")
		return
	}
	c, err := h.store.FindByRoutingNumber(r.Context(), routing)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "clinic not found")
			return
		}
		h.logger.Error("failed to load clinic", "routing_number", routing, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// PutClinic creates or replaces a clinic.
// PUT /admin/clinics/{routingNumber}
func (h *Handler) PutClinic(w http.ResponseWriter, r *http.Request) {
	routing := phone.NormalizeE164(chi.URLParam(r, "routingNumber"))
	if routing == "" {
		writeError(w, http.StatusBadRequest, "routing number required")
		return
	}
	var req Clinic
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.RoutingNumber = routing
	req.Name = strings.TrimSpace(req.Name)
	req.DestinationNumber = phone.NormalizeE164(req.DestinationNumber)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	if req.FollowUpDelayMinutes < 0 {
		writeError(w, http.StatusBadRequest, "follow_up_delay_minutes must not be negative")
		return
	}
	if err := h.store.Upsert(r.Context(), &req); err != nil {
		h.logger.Error("failed to upsert clinic", "routing_number", routing, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.invalidate(r.Context(), routing)
	writeJSON(w, http.StatusOK, req)
}

type enrichRequest struct {
	WebsiteURL string `json:"website_url"`
}

// EnrichClinic scrapes the clinic website and stores the result as enrichment context.
// POST /admin/clinics/{routingNumber}/enrich
func (h *Handler) EnrichClinic(w http.ResponseWriter, r *http.Request) {
	if h.enricher == nil {
		writeError(w, http.StatusNotImplemented, "enrichment disabled")
		return
	}
	routing := phone.NormalizeE164(chi.URLParam(r, "routingNumber"))
	if routing == "" {
		writeError(w, http.StatusBadRequest, "routing number required")
		return
	}
	var req enrichRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	c, err := h.store.FindByRoutingNumber(r.Context(), routing)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "clinic not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	site := strings.TrimSpace(req.WebsiteURL)
	if site == "" {
		site = c.WebsiteURL
	}
	if site == "" {
		writeError(w, http.StatusBadRequest, "website_url required")
		return
	}
	enrichment, err := h.enricher.Enrich(r.Context(), site)
	if err != nil {
		h.logger.Warn("clinic enrichment failed", "routing_number", routing, "website", site, "error", err)
		writeError(w, http.StatusBadGateway, "failed to scrape website")
		return
	}
	if err := h.store.UpdateEnrichment(r.Context(), routing, enrichment); err != nil {
		h.logger.Error("failed to store enrichment", "routing_number", routing, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.invalidate(r.Context(), routing)
	writeJSON(w, http.StatusOK, map[string]string{
		"routing_number":     routing,
		"enrichment_context": enrichment,
	})
}

func (h *Handler) invalidate(ctx context.Context, routing string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(ctx, routing); err != nil {
		h.logger.Warn("failed to invalidate clinic cache", "routing_number", routing, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
