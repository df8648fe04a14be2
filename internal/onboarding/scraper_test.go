package onboarding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

const homePage = `<html><head><title>Home | Bright Smile Dental</title></head><body>
<header><a href="tel:+15125550100">Call</a></header>
<div class="footer-address"><span>123 Main Street</span><span>Austin, TX 78701</span></div>
<ul><li>Mon-Fri: 8:00am - 5:00pm</li><li>Sat: 9:00am - 1:00pm</li><li>Sun: Closed</li></ul>
<p>We offer Teeth Whitening and Invisalign.</p>
<a href="mailto:front@brightsmile.example?subject=hi">Email</a>
<script>var hours = "Mon 1:00-2:00";</script>
</body></html>`

func newSiteServer(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, ".xml") {
			w.Header().Set("Content-Type", "application/xml")
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestScrapeExtractsClinicDetails(t *testing.T) {
	var srv *httptest.Server
	pages := map[string]string{"/": homePage, "/contact-us": `<html><body><p>Contact us today</p></body></html>`}
	srv = newSiteServer(t, pages)
	pages["/sitemap.xml"] = `<?xml version="1.0"?><urlset>
<url><loc>` + srv.URL + `/contact-us</loc></url>
<url><loc>` + srv.URL + `/services/root-canal-therapy/</loc></url>
</urlset>`

	scraper := NewScraper(srv.Client(), logging.Default())
	info, err := scraper.Scrape(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}

	if info.Name != "Bright Smile Dental" {
		t.Fatalf("name = %q", info.Name)
	}
	if info.Address != "123 Main Street Austin, TX 78701" {
		t.Fatalf("address = %q", info.Address)
	}
	if info.Phone != "+15125550100" {
		t.Fatalf("phone = %q", info.Phone)
	}
	if info.Email != "front@brightsmile.example" {
		t.Fatalf("email = %q", info.Email)
	}
	wantHours := []string{"Mon-Fri: 8:00am - 5:00pm", "Sat: 9:00am - 1:00pm"}
	if !reflect.DeepEqual(info.Hours, wantHours) {
		t.Fatalf("hours = %#v", info.Hours)
	}
	wantServices := []string{"Root Canal Therapy", "Teeth Whitening", "Invisalign"}
	if !reflect.DeepEqual(info.Services, wantServices) {
		t.Fatalf("services = %#v", info.Services)
	}
	if len(info.Sources) != 2 || !strings.HasSuffix(info.Sources[1], "/contact-us") {
		t.Fatalf("sources = %#v", info.Sources)
	}
}

func TestEnrichFormatsContext(t *testing.T) {
	srv := newSiteServer(t, map[string]string{
		"/": `<html><head><title>Lakeside Family Dentistry</title></head><body>
<address>400 Lake Road, Madison, WI</address>
<p>Services: Cleanings, Crowns, Dentures</p>
</body></html>`,
	})

	text, err := NewScraper(srv.Client(), nil).Enrich(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	want := "Clinic: Lakeside Family Dentistry\n" +
		"Address: 400 Lake Road, Madison, WI\n" +
		"Services: Cleanings, Crowns, Dentures"
	if text != want {
		t.Fatalf("unexpected context:\n%s", text)
	}
}

func TestScrapeFallsBackToStreetPattern(t *testing.T) {
	srv := newSiteServer(t, map[string]string{
		"/": `<html><body><p>Visit us at 88 Oak Avenue | Suite 2</p></body></html>`,
	})

	info, err := NewScraper(srv.Client(), nil).Scrape(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	if info.Address != "88 Oak Avenue" {
		t.Fatalf("address = %q", info.Address)
	}
}

func TestScrapeHomepageFailure(t *testing.T) {
	srv := newSiteServer(t, map[string]string{})
	if _, err := NewScraper(srv.Client(), nil).Scrape(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error when homepage is missing")
	}
}

func TestScrapeInvalidURL(t *testing.T) {
	_, err := NewScraper(nil, nil).Scrape(context.Background(), "   ")
	if !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"brightsmile.example":                  "https://brightsmile.example",
		"https://brightsmile.example/?utm=x#a": "https://brightsmile.example",
		"http://brightsmile.example/dental/":   "http://brightsmile.example/dental",
	}
	for in, want := range cases {
		got, err := normalizeURL(in)
		if err != nil {
			t.Fatalf("normalizeURL(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("normalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractClinicName(t *testing.T) {
	if got := extractClinicName("Contact Us | Smiles On Main – Austin"); got != "Smiles On Main" {
		t.Fatalf("got %q", got)
	}
}
