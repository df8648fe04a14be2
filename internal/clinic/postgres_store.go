package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the durable clinic directory.
type PostgresStore struct {
	db pgxQuerier
}

// NewPostgresStore wraps a pgx pool (or anything with Exec/QueryRow).
func NewPostgresStore(db pgxQuerier) *PostgresStore {
	if db == nil {
		panic("clinic: pgx pool required")
	}
	return &PostgresStore{db: db}
}

const clinicColumns = `id::text, name, routing_number, COALESCE(destination_number, ''), COALESCE(booking_url, ''),
	follow_up_delay_minutes, COALESCE(enrichment_context, ''), COALESCE(website_url, ''),
	COALESCE(notification_email, ''), created_at, updated_at`

// FindByRoutingNumber is a point read by equality on routing_number.
func (s *PostgresStore) FindByRoutingNumber(ctx context.Context, routingNumber string) (*Clinic, error) {
	routingNumber = strings.TrimSpace(routingNumber)
	if routingNumber == "" {
		return nil, ErrNotFound
	}
	query := `SELECT ` + clinicColumns + ` FROM clinics WHERE routing_number = $1`
	var c Clinic
	err := s.db.QueryRow(ctx, query, routingNumber).Scan(
		&c.ID, &c.Name, &c.RoutingNumber, &c.DestinationNumber, &c.BookingURL,
		&c.FollowUpDelayMinutes, &c.EnrichmentContext, &c.WebsiteURL,
		&c.NotificationEmail, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("clinic: find by routing number: %w", err)
	}
	return &c, nil
}

// Upsert creates or replaces the clinic owning c.RoutingNumber.
func (s *PostgresStore) Upsert(ctx context.Context, c *Clinic) error {
	if c == nil || strings.TrimSpace(c.RoutingNumber) == "" {
		return errors.New("clinic: routing number required")
	}
	query := `
		INSERT INTO clinics (name, routing_number, destination_number, booking_url, follow_up_delay_minutes,
			enrichment_context, website_url, notification_email)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''))
		ON CONFLICT (routing_number) DO UPDATE SET
			name = EXCLUDED.name,
			destination_number = EXCLUDED.destination_number,
			booking_url = EXCLUDED.booking_url,
			follow_up_delay_minutes = EXCLUDED.follow_up_delay_minutes,
			enrichment_context = COALESCE(EXCLUDED.enrichment_context, clinics.enrichment_context),
			website_url = EXCLUDED.website_url,
			notification_email = EXCLUDED.notification_email,
			updated_at = now()
		RETURNING id::text, created_at, updated_at
	`
	err := s.db.QueryRow(ctx, query,
		c.Name, c.RoutingNumber, c.DestinationNumber, c.BookingURL, c.FollowUpDelayMinutes,
		c.EnrichmentContext, c.WebsiteURL, c.NotificationEmail,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("clinic: upsert: %w", err)
	}
	return nil
}

// UpdateEnrichment replaces the scraped hours/address/services text.
func (s *PostgresStore) UpdateEnrichment(ctx context.Context, routingNumber, enrichment string) error {
	query := `UPDATE clinics SET enrichment_context = $2, updated_at = now() WHERE routing_number = $1`
	ct, err := s.db.Exec(ctx, query, routingNumber, enrichment)
	if err != nil {
		return fmt.Errorf("clinic: update enrichment: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
