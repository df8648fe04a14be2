// Package events tracks provider events and internal actions that must run at most once.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Scopes used as the provider column.
const (
	ScopeTwilioMessage   = "twilio:message"
	ScopeFollowUp        = "followup"
	ScopeFollowUpEnqueue = "followup:enqueue"
	ScopeVoicemail       = "voicemail"
)

// Claimer records that an event is being or has been handled.
type Claimer interface {
	// MarkProcessed claims eventID under provider, returning false if it was already claimed.
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
	// Release drops a claim so a retried delivery can run again.
	Release(ctx context.Context, provider, eventID string) error
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore records webhook events that were already handled.
type ProcessedStore struct {
	pool rowQuerier
}

var _ Claimer = (*ProcessedStore)(nil)

func NewProcessedStore(pool rowQuerier) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

// AlreadyProcessed checks if we've seen this provider event id.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	query := `SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2`
	var exists int
	if err := s.pool.QueryRow(ctx, query, provider, eventID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}

// MarkProcessed inserts an event id for the provider, returning false if it already exists.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	query := `
		INSERT INTO processed_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (s *ProcessedStore) Release(ctx context.Context, provider, eventID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE provider = $1 AND event_id = $2`, provider, eventID); err != nil {
		return fmt.Errorf("events: release processed: %w", err)
	}
	return nil
}

// MemoryProcessedStore is the in-process Claimer used with the memory queue.
type MemoryProcessedStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

var _ Claimer = (*MemoryProcessedStore)(nil)

func NewMemoryProcessedStore() *MemoryProcessedStore {
	return &MemoryProcessedStore{seen: make(map[string]struct{})}
}

func (m *MemoryProcessedStore) MarkProcessed(_ context.Context, provider, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := provider + "|" + eventID
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = struct{}{}
	return true, nil
}

func (m *MemoryProcessedStore) Release(_ context.Context, provider, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, provider+"|"+eventID)
	return nil
}
