package clinic

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

// PlaceholderName is the clinic name recorded when the routing number has no directory entry.
const PlaceholderName = "Unknown Clinic"

// ErrNotFound indicates no clinic owns the routing number.
var ErrNotFound = errors.New("clinic: not found")

// Clinic is one client practice, keyed by the number patients dial.
type Clinic struct {
	ID                   string    `json:"id,omitempty"`
	Name                 string    `json:"name"`
	RoutingNumber        string    `json:"routing_number"`
	DestinationNumber    string    `json:"destination_number,omitempty"`
	BookingURL           string    `json:"booking_url,omitempty"`
	FollowUpDelayMinutes float64   `json:"follow_up_delay_minutes"`
	EnrichmentContext    string    `json:"enrichment_context,omitempty"`
	WebsiteURL           string    `json:"website_url,omitempty"`
	NotificationEmail    string    `json:"notification_email,omitempty"`
	CreatedAt            time.Time `json:"created_at,omitempty"`
	UpdatedAt            time.Time `json:"updated_at,omitempty"`
}

// Directory resolves clinics by routing number.
type Directory interface {
	FindByRoutingNumber(ctx context.Context, routingNumber string) (*Clinic, error)
}

// Placeholder is the context used when a routing number is not (yet) in the directory.
func Placeholder(routingNumber string) *Clinic {
	return &Clinic{Name: PlaceholderName, RoutingNumber: routingNumber}
}

// FollowUpDelay converts the fractional-minute setting to a duration.
// Zero or negative settings fall back to the provided default.
func (c *Clinic) FollowUpDelay(fallback time.Duration) time.Duration {
	if c == nil || c.FollowUpDelayMinutes <= 0 {
		return fallback
	}
	return time.Duration(c.FollowUpDelayMinutes * float64(time.Minute))
}

// DisplayName returns the clinic name or def when blank.
func (c *Clinic) DisplayName(def string) string {
	if c == nil || strings.TrimSpace(c.Name) == "" {
		return def
	}
	return strings.TrimSpace(c.Name)
}

// Resolve looks up the clinic and degrades to the placeholder on any miss or error.
// The boolean reports whether a real directory entry was found.
func Resolve(ctx context.Context, dir Directory, routingNumber string, logger *logging.Logger) (*Clinic, bool) {
	if logger == nil {
		logger = logging.Default()
	}
	if dir == nil {
		return Placeholder(routingNumber), false
	}
	c, err := dir.FindByRoutingNumber(ctx, routingNumber)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.Warn("clinic not found for routing number", "routing_number", routingNumber)
		} else {
			logger.Error("clinic lookup failed", "routing_number", routingNumber, "error", err)
		}
		return Placeholder(routingNumber), false
	}
	if c == nil {
		return Placeholder(routingNumber), false
	}
	return c, true
}
