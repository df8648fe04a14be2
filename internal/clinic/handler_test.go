package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

type memoryAdminStore struct {
	clinics     map[string]*Clinic
	enrichments map[string]string
}

func newMemoryAdminStore() *memoryAdminStore {
	return &memoryAdminStore{clinics: map[string]*Clinic{}, enrichments: map[string]string{}}
}

func (m *memoryAdminStore) FindByRoutingNumber(_ context.Context, routing string) (*Clinic, error) {
	c, ok := m.clinics[routing]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *memoryAdminStore) Upsert(_ context.Context, c *Clinic) error {
	c.ID = "id-" + c.RoutingNumber
	m.clinics[c.RoutingNumber] = c
	return nil
}

func (m *memoryAdminStore) UpdateEnrichment(_ context.Context, routing, enrichment string) error {
	if _, ok := m.clinics[routing]; !ok {
		return ErrNotFound
	}
	m.enrichments[routing] = enrichment
	return nil
}

type recordingInvalidator struct{ keys []string }

func (r *recordingInvalidator) Invalidate(_ context.Context, routing string) error {
	r.keys = append(r.keys, routing)
	return nil
}

type stubEnricher struct {
	text string
	err  error
	url  string
}

func (s *stubEnricher) Enrich(_ context.Context, url string) (string, error) {
	s.url = url
	return s.text, s.err
}

func newTestRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Mount("/admin/clinics", h.Routes())
	return r
}

func TestHandlerPutAndGetClinic(t *testing.T) {
	store := newMemoryAdminStore()
	inv := &recordingInvalidator{}
	router := newTestRouter(NewHandler(store, inv, nil, nil))

	body := `{"name":"Bright Smiles","booking_url":"https://book.example.com","follow_up_delay_minutes":0.5,"destination_number":"(555) 000-1111"}`
	req := httptest.NewRequest(http.MethodPut, "/admin/clinics/+15559876543", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	saved := store.clinics["+15559876543"]
	if saved == nil || saved.DestinationNumber != "+15550001111" {
		t.Fatalf("expected normalized clinic saved, got %+v", saved)
	}
	if len(inv.keys) != 1 || inv.keys[0] != "+15559876543" {
		t.Fatalf("expected cache invalidation, got %v", inv.keys)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/clinics/15559876543", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got Clinic
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "Bright Smiles" || got.FollowUpDelayMinutes != 0.5 {
		t.Fatalf("unexpected clinic %+v", got)
	}
}

func TestHandlerValidation(t *testing.T) {
	router := newTestRouter(NewHandler(newMemoryAdminStore(), nil, nil, nil))

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing name", http.MethodPut, "/admin/clinics/+15559876543", `{"booking_url":"x"}`, http.StatusBadRequest},
		{"negative delay", http.MethodPut, "/admin/clinics/+15559876543", `{"name":"x","follow_up_delay_minutes":-2}`, http.StatusBadRequest},
		{"bad json", http.MethodPut, "/admin/clinics/+15559876543", `{`, http.StatusBadRequest},
		{"unknown clinic", http.MethodGet, "/admin/clinics/+15550000000", "", http.StatusNotFound},
		{"enrich disabled", http.MethodPost, "/admin/clinics/+15559876543/enrich", "", http.StatusNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandlerEnrichClinic(t *testing.T) {
	store := newMemoryAdminStore()
	store.clinics["+15559876543"] = &Clinic{Name: "Bright Smiles", RoutingNumber: "+15559876543", WebsiteURL: "https://brightsmiles.example.com"}
	enricher := &stubEnricher{text: "Hours: Mon-Fri 8am-5pm"}
	inv := &recordingInvalidator{}
	router := newTestRouter(NewHandler(store, inv, enricher, nil))

	req := httptest.NewRequest(http.MethodPost, "/admin/clinics/+15559876543/enrich", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if enricher.url != "https://brightsmiles.example.com" {
		t.Fatalf("expected stored website to be scraped, got %q", enricher.url)
	}
	if store.enrichments["+15559876543"] != "Hours: Mon-Fri 8am-5pm" {
		t.Fatalf("expected enrichment stored, got %v", store.enrichments)
	}
	if len(inv.keys) != 1 {
		t.Fatalf("expected cache invalidation")
	}

	enricher.err = errors.New("timeout")
	req = httptest.NewRequest(http.MethodPost, "/admin/clinics/+15559876543/enrich", strings.NewReader(`{"website_url":"https://other.example.com"}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on scrape failure, got %d", rec.Code)
	}
	if enricher.url != "https://other.example.com" {
		t.Fatalf("expected request website to win, got %q", enricher.url)
	}
}
