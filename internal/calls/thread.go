package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Role identifies who wrote a conversation entry.
type Role string

const (
	RolePatient   Role = "patient"
	RoleAssistant Role = "assistant"
)

// ErrSequenceConflict means another writer appended to the thread first.
var ErrSequenceConflict = errors.New("calls: conversation sequence conflict")

// ConversationEntry is one immutable message in a missed call's thread.
type ConversationEntry struct {
	CallID    string    `json:"call_id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Sequence  int       `json:"sequence"`
}

// ThreadStore persists conversation entries ordered by sequence.
type ThreadStore interface {
	// Entries returns the thread in ascending sequence order.
	Entries(ctx context.Context, callID string) ([]ConversationEntry, error)
	// AppendEntries writes entries with sequences afterSequence+1, +2, ... only if the
	// thread's last sequence is still afterSequence. Otherwise it returns ErrSequenceConflict.
	AppendEntries(ctx context.Context, callID string, afterSequence int, entries []ConversationEntry) ([]ConversationEntry, error)
}

// Thread is a read snapshot used to make logging and reply-cap decisions.
type Thread struct {
	CallID  string
	Entries []ConversationEntry
}

// LastSequence is 0 for an empty thread.
func (t Thread) LastSequence() int {
	if len(t.Entries) == 0 {
		return 0
	}
	return t.Entries[len(t.Entries)-1].Sequence
}

// LastEntry returns the newest entry written by role, or nil.
func (t Thread) LastEntry(role Role) *ConversationEntry {
	for i := len(t.Entries) - 1; i >= 0; i-- {
		if t.Entries[i].Role == role {
			entry := t.Entries[i]
			return &entry
		}
	}
	return nil
}

// Count returns how many entries role wrote.
func (t Thread) Count(role Role) int {
	n := 0
	for _, e := range t.Entries {
		if e.Role == role {
			n++
		}
	}
	return n
}

// Recent returns at most n of the newest entries, oldest first.
func (t Thread) Recent(n int) []ConversationEntry {
	if n <= 0 || n >= len(t.Entries) {
		return t.Entries
	}
	return t.Entries[len(t.Entries)-n:]
}

func numberEntries(callID string, afterSequence int, entries []ConversationEntry) []ConversationEntry {
	out := make([]ConversationEntry, len(entries))
	now := time.Now().UTC()
	for i, e := range entries {
		e.CallID = callID
		e.Sequence = afterSequence + i + 1
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		out[i] = e
	}
	return out
}

// PostgresThreadStore keeps entries in conversation_entries with PRIMARY KEY (call_id, sequence).
type PostgresThreadStore struct {
	db PgxPool
}

var _ ThreadStore = (*PostgresThreadStore)(nil)

func NewPostgresThreadStore(db PgxPool) *PostgresThreadStore {
	if db == nil {
		panic("calls: pgx pool required")
	}
	return &PostgresThreadStore{db: db}
}

func (s *PostgresThreadStore) Entries(ctx context.Context, callID string) ([]ConversationEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT call_id, role, text, created_at, sequence
		FROM conversation_entries
		WHERE call_id = $1
		ORDER BY sequence ASC`, callID)
	if err != nil {
		return nil, fmt.Errorf("calls: list conversation entries: %w", err)
	}
	defer rows.Close()

	var entries []ConversationEntry
	for rows.Next() {
		var (
			e    ConversationEntry
			role string
		)
		if err := rows.Scan(&e.CallID, &role, &e.Text, &e.CreatedAt, &e.Sequence); err != nil {
			return nil, fmt.Errorf("calls: scan conversation entry: %w", err)
		}
		e.Role = Role(role)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calls: iterate conversation entries: %w", err)
	}
	return entries, nil
}

// AppendEntries inserts the batch in one transaction. The first insert is
// conditional on the current max sequence, and the primary key rejects any
// concurrent writer that slipped in between.
func (s *PostgresThreadStore) AppendEntries(ctx context.Context, callID string, afterSequence int, entries []ConversationEntry) ([]ConversationEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	numbered := numberEntries(callID, afterSequence, entries)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("calls: begin append: %w", err)
	}

	first := numbered[0]
	ct, err := tx.Exec(ctx, `
		INSERT INTO conversation_entries (call_id, sequence, role, text, created_at)
		SELECT $1, $2, $3, $4, $5
		WHERE COALESCE((SELECT MAX(sequence) FROM conversation_entries WHERE call_id = $1), 0) = $6`,
		callID, first.Sequence, string(first.Role), first.Text, first.CreatedAt, afterSequence,
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, classifyAppendErr(err)
	}
	if ct.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return nil, ErrSequenceConflict
	}

	for _, e := range numbered[1:] {
		if _, err := tx.Exec(ctx, `
			INSERT INTO conversation_entries (call_id, sequence, role, text, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			callID, e.Sequence, string(e.Role), e.Text, e.CreatedAt,
		); err != nil {
			_ = tx.Rollback(ctx)
			return nil, classifyAppendErr(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyAppendErr(err)
	}
	return numbered, nil
}

func classifyAppendErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrSequenceConflict
	}
	if errors.Is(err, pgx.ErrTxCommitRollback) {
		return ErrSequenceConflict
	}
	return fmt.Errorf("calls: append conversation entries: %w", err)
}
