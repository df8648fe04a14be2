// Package onboarding scrapes clinic websites into enrichment context for the reply prompts.
package onboarding

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

const (
	scrapeTimeout   = 15 * time.Second
	scrapeUserAgent = "Mozilla/5.0 (compatible; MissedCallAssistant/1.0)"
	maxPageBytes    = 3 << 20
	maxServices     = 12
	maxHoursLines   = 7
)

var (
	ErrInvalidURL = errors.New("onboarding: invalid website_url")

	emailPattern   = regexp.MustCompile(`[\w._%+\-]+@[\w.\-]+\.[A-Za-z]{2,}`)
	phonePattern   = regexp.MustCompile(`\+?1?[\s\-.(]*\d{3}[\s\-.)]*\d{3}[\s\-.]*\d{4}`)
	clockPattern   = regexp.MustCompile(`\d{1,2}(:\d{2})?\s*(am|pm|AM|PM)?\s*[-–]\s*\d{1,2}(:\d{2})?\s*(am|pm|AM|PM)?`)
	dayPattern     = regexp.MustCompile(`(?i)\b(mon|tue|wed|thu|fri|sat|sun)[a-z]*\b`)
	streetPattern  = regexp.MustCompile(`\d{1,5}\s+[\w .]+\s(Street|St\.?|Avenue|Ave\.?|Road|Rd\.?|Boulevard|Blvd\.?|Highway|Hwy|Drive|Dr\.?|Lane|Ln\.?|Way|Parkway|Pkwy)\b[^|]{0,60}`)
	servicesHeader = regexp.MustCompile(`(?i)services:?\s*([A-Za-z\s,&]+)`)
)

var dentalServices = []string{
	"Cleanings", "Exams", "Teeth Whitening", "Invisalign", "Orthodontics", "Dental Implants",
	"Crowns", "Bridges", "Veneers", "Root Canal", "Fillings", "Extractions", "Wisdom Teeth",
	"Dentures", "Emergency", "Pediatric", "Periodontal", "Sedation", "Sealants", "Night Guards",
}

// WebsiteInfo is what the scraper could find on a clinic's site.
type WebsiteInfo struct {
	Name     string   `json:"name,omitempty"`
	Address  string   `json:"address,omitempty"`
	Phone    string   `json:"phone,omitempty"`
	Email    string   `json:"email,omitempty"`
	Hours    []string `json:"hours,omitempty"`
	Services []string `json:"services,omitempty"`
	Sources  []string `json:"sources,omitempty"`
}

// Context renders the info as the plain-text block injected into prompts.
func (w *WebsiteInfo) Context() string {
	if w == nil {
		return ""
	}
	var b strings.Builder
	line := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}
	line("Clinic", w.Name)
	line("Address", w.Address)
	line("Phone", w.Phone)
	line("Email", w.Email)
	line("Hours", strings.Join(w.Hours, "; "))
	line("Services", strings.Join(w.Services, ", "))
	return strings.TrimSpace(b.String())
}

// Scraper fetches a clinic homepage plus its contact and services pages.
type Scraper struct {
	client *http.Client
	logger *logging.Logger
}

// NewScraper uses client when given, otherwise a client with a 15s timeout.
func NewScraper(client *http.Client, logger *logging.Logger) *Scraper {
	if client == nil {
		client = &http.Client{Timeout: scrapeTimeout}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scraper{client: client, logger: logger}
}

// Enrich scrapes websiteURL and returns the prompt context text.
func (s *Scraper) Enrich(ctx context.Context, websiteURL string) (string, error) {
	info, err := s.Scrape(ctx, websiteURL)
	if err != nil {
		return "", err
	}
	text := info.Context()
	if text == "" {
		return "", fmt.Errorf("onboarding: nothing useful found on %s", websiteURL)
	}
	return text, nil
}

// Scrape collects clinic details. Missing contact or services pages are not errors.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (*WebsiteInfo, error) {
	baseURL, err := normalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	home, err := s.fetchPage(ctx, baseURL)
	if err != nil {
		return nil, fmt.Errorf("onboarding: fetch homepage: %w", err)
	}
	pages := []*page{home}
	sources := []string{baseURL}

	sitemap := s.sitemapURLs(ctx, baseURL)
	for _, candidate := range []string{
		firstNonEmpty(pickFirstURLContaining(sitemap, "contact"), joinURL(baseURL, "/contact")),
		firstNonEmpty(pickFirstURLContaining(sitemap, "/services"), joinURL(baseURL, "/services")),
	} {
		p, err := s.fetchPage(ctx, candidate)
		if err != nil {
			s.logger.Debug("optional page unavailable", "url", candidate, "error", err)
			continue
		}
		pages = append(pages, p)
		sources = append(sources, candidate)
	}

	info := &WebsiteInfo{
		Name:    firstNonEmpty(extractClinicName(home.title), deriveNameFromHost(baseURL)),
		Sources: sources,
	}
	for _, p := range pages {
		if info.Address == "" {
			info.Address = p.address()
		}
		if info.Phone == "" {
			info.Phone = firstNonEmpty(p.phone, strings.TrimSpace(phonePattern.FindString(p.text())))
		}
		if info.Email == "" {
			info.Email = firstNonEmpty(p.email, emailPattern.FindString(p.text()))
		}
		if len(info.Hours) == 0 {
			info.Hours = p.hours()
		}
	}
	info.Services = collectServices(sitemap, pages)
	return info, nil
}

// page is the parts of one HTML document the scraper reads.
type page struct {
	title     string
	blocks    []string
	addresses []string
	phone     string
	email     string
}

func (p *page) text() string {
	return strings.Join(p.blocks, " ")
}

func (p *page) address() string {
	for _, a := range p.addresses {
		if a = collapseSpace(a); a != "" && len(a) < 200 {
			return a
		}
	}
	return strings.TrimSpace(streetPattern.FindString(p.text()))
}

func (p *page) hours() []string {
	var lines []string
	for _, block := range p.blocks {
		lower := strings.ToLower(block)
		if len(block) > 100 || strings.Contains(lower, "confirm") {
			continue
		}
		if clockPattern.MatchString(block) && (dayPattern.MatchString(block) || strings.Contains(lower, "hours")) {
			lines = append(lines, block)
			if len(lines) == maxHoursLines {
				break
			}
		}
	}
	return lines
}

func (s *Scraper) fetchPage(ctx context.Context, target string) (*page, error) {
	body, err := s.fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	doc, err := html.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("onboarding: parse %s: %w", target, err)
	}
	return parsePage(doc), nil
}

func (s *Scraper) fetch(ctx context.Context, target string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", scrapeUserAgent)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("onboarding: fetch %s: %s", target, resp.Status)
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, maxPageBytes), resp.Body}, nil
}

type sitemapURLSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

func (s *Scraper) sitemapURLs(ctx context.Context, baseURL string) []string {
	body, err := s.fetch(ctx, joinURL(baseURL, "/sitemap.xml"))
	if err != nil {
		return nil
	}
	defer body.Close()
	var sitemap sitemapURLSet
	if err := xml.NewDecoder(body).Decode(&sitemap); err != nil {
		return nil
	}
	urls := make([]string, 0, len(sitemap.URLs))
	for _, entry := range sitemap.URLs {
		if loc := strings.TrimSpace(entry.Loc); loc != "" {
			urls = append(urls, loc)
		}
	}
	return urls
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Td: true, atom.Th: true, atom.Span: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Address: true, atom.Section: true, atom.Footer: true, atom.Header: true, atom.Dd: true, atom.Dt: true,
}

// parsePage walks the DOM once. Each block element contributes its own direct text
// so nested layout wrappers do not repeat content.
func parsePage(doc *html.Node) *page {
	p := &page{}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			case atom.Title:
				if p.title == "" {
					p.title = collapseSpace(nodeText(n))
				}
				return
			case atom.A:
				href := strings.TrimSpace(attr(n, "href"))
				switch {
				case strings.HasPrefix(href, "tel:") && p.phone == "":
					p.phone = strings.TrimPrefix(href, "tel:")
				case strings.HasPrefix(href, "mailto:") && p.email == "":
					p.email = strings.SplitN(strings.TrimPrefix(href, "mailto:"), "?", 2)[0]
				case strings.Contains(href, "maps.google") || strings.Contains(href, "goo.gl/maps") || strings.Contains(href, "/maps"):
					p.addresses = append(p.addresses, nodeText(n))
				}
			}
			if n.DataAtom == atom.Address || attr(n, "itemprop") == "address" ||
				strings.Contains(strings.ToLower(attr(n, "class")), "address") ||
				strings.Contains(strings.ToLower(attr(n, "id")), "address") {
				// itemprop and <address> come first; class matches are weaker hints
				if n.DataAtom == atom.Address || attr(n, "itemprop") == "address" {
					p.addresses = append([]string{nodeText(n)}, p.addresses...)
				} else {
					p.addresses = append(p.addresses, nodeText(n))
				}
			}
			if blockElements[n.DataAtom] {
				if text := collapseSpace(directText(n)); text != "" {
					p.blocks = append(p.blocks, text)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return p
}

// directText joins text children and inline descendants, stopping at nested blocks.
func directText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case c.Type == html.TextNode:
			b.WriteString(c.Data)
			b.WriteByte(' ')
		case c.Type == html.ElementNode && !blockElements[c.DataAtom] && c.DataAtom != atom.Script && c.DataAtom != atom.Style:
			b.WriteString(directText(c))
			b.WriteByte(' ')
		}
	}
	return b.String()
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return collapseSpace(b.String())
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func collectServices(sitemap []string, pages []*page) []string {
	var services []string
	seen := map[string]bool{}
	add := func(name string) {
		name = titleize(name)
		key := strings.ToLower(name)
		if len(name) <= 2 || seen[key] || strings.Contains(key, "service") || len(services) >= maxServices {
			return
		}
		seen[key] = true
		services = append(services, name)
	}

	for _, raw := range sitemap {
		parsed, err := url.Parse(raw)
		if err != nil || !strings.Contains(parsed.Path, "/services/") {
			continue
		}
		add(strings.ReplaceAll(path.Base(strings.TrimSuffix(parsed.Path, "/")), "-", " "))
	}
	for _, p := range pages {
		text := p.text()
		if m := servicesHeader.FindStringSubmatch(text); len(m) == 2 {
			for _, part := range strings.Split(m[1], ",") {
				if part = strings.TrimSpace(part); len(part) < 40 {
					add(part)
				}
			}
		}
		lower := strings.ToLower(text)
		for _, name := range dentalServices {
			if strings.Contains(lower, strings.ToLower(name)) {
				add(name)
			}
		}
	}
	return services
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", ErrInvalidURL
	}
	parsed.Fragment = ""
	parsed.RawQuery = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}

func extractClinicName(title string) string {
	best := ""
	for _, part := range strings.FieldsFunc(title, func(r rune) bool { return r == '|' || r == '–' }) {
		part = strings.TrimSpace(part)
		lower := strings.ToLower(part)
		if part == "" || strings.Contains(lower, "contact") || strings.Contains(lower, "services") || lower == "home" {
			continue
		}
		if len(part) > len(best) {
			best = part
		}
	}
	return best
}

func deriveNameFromHost(baseURL string) string {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(parsed.Hostname(), "www.")
	if i := strings.LastIndex(host, "."); i > 0 {
		host = host[:i]
	}
	return titleize(strings.NewReplacer("-", " ", ".", " ").Replace(host))
}

func pickFirstURLContaining(urls []string, keyword string) string {
	keyword = strings.ToLower(keyword)
	for _, candidate := range urls {
		if strings.Contains(strings.ToLower(candidate), keyword) {
			return strings.TrimRight(candidate, "/")
		}
	}
	return ""
}

func joinURL(base, suffix string) string {
	return strings.TrimRight(base, "/") + suffix
}

func titleize(raw string) string {
	words := strings.Fields(raw)
	for i, w := range words {
		lower := strings.ToLower(w)
		words[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(words, " ")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
