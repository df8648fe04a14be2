package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
)

func TestThreadHelpers(t *testing.T) {
	th := Thread{CallID: "CA1", Entries: []ConversationEntry{
		{Role: RolePatient, Text: "hi", Sequence: 1},
		{Role: RoleAssistant, Text: "hello", Sequence: 2},
		{Role: RolePatient, Text: "open saturday?", Sequence: 3},
		{Role: RoleAssistant, Text: "yes", Sequence: 4},
	}}

	if th.LastSequence() != 4 {
		t.Fatalf("expected last sequence 4, got %d", th.LastSequence())
	}
	if e := th.LastEntry(RolePatient); e == nil || e.Text != "open saturday?" {
		t.Fatalf("unexpected last patient entry %+v", e)
	}
	if th.Count(RoleAssistant) != 2 {
		t.Fatalf("expected 2 assistant entries, got %d", th.Count(RoleAssistant))
	}
	if recent := th.Recent(2); len(recent) != 2 || recent[0].Sequence != 3 {
		t.Fatalf("unexpected recent entries %+v", recent)
	}
	if (Thread{}).LastSequence() != 0 || (Thread{}).LastEntry(RolePatient) != nil {
		t.Fatal("expected empty thread helpers to return zero values")
	}
}

func TestPostgresThreadStoreEntries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewPostgresThreadStore(mock)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT call_id, role, text, created_at, sequence\\s+FROM conversation_entries").
		WithArgs("CA1").
		WillReturnRows(pgxmock.NewRows([]string{"call_id", "role", "text", "created_at", "sequence"}).
			AddRow("CA1", "patient", "hi", now, 1).
			AddRow("CA1", "assistant", "hello", now, 2))

	entries, err := store.Entries(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 || entries[0].Role != RolePatient || entries[1].Sequence != 2 {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresThreadStoreAppendEntriesNumbersGaplessly(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewPostgresThreadStore(mock)
	now := time.Now().UTC()
	batch := []ConversationEntry{
		{Role: RolePatient, Text: "Do you take Delta Dental?", CreatedAt: now},
		{Role: RoleAssistant, Text: "Yes, we do.", CreatedAt: now},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO conversation_entries .* WHERE COALESCE").
		WithArgs("CA1", 3, "patient", "Do you take Delta Dental?", now, 2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO conversation_entries .* VALUES").
		WithArgs("CA1", 4, "assistant", "Yes, we do.", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	written, err := store.AppendEntries(context.Background(), "CA1", 2, batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(written) != 2 || written[0].Sequence != 3 || written[1].Sequence != 4 {
		t.Fatalf("unexpected sequences %+v", written)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresThreadStoreAppendEntriesConflicts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewPostgresThreadStore(mock)
	now := time.Now().UTC()
	batch := []ConversationEntry{
		{Role: RolePatient, Text: "hi", CreatedAt: now},
		{Role: RoleAssistant, Text: "hello", CreatedAt: now},
	}

	// Stale afterSequence: the conditional insert writes nothing.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO conversation_entries .* WHERE COALESCE").
		WithArgs("CA1", 1, "patient", "hi", now, 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectRollback()

	if _, err := store.AppendEntries(context.Background(), "CA1", 0, batch); !errors.Is(err, ErrSequenceConflict) {
		t.Fatalf("expected ErrSequenceConflict, got %v", err)
	}

	// Concurrent writer claimed the second slot: unique violation.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO conversation_entries .* WHERE COALESCE").
		WithArgs("CA1", 1, "patient", "hi", now, 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO conversation_entries .* VALUES").
		WithArgs("CA1", 2, "assistant", "hello", now).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	if _, err := store.AppendEntries(context.Background(), "CA1", 0, batch); !errors.Is(err, ErrSequenceConflict) {
		t.Fatalf("expected ErrSequenceConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMemoryStoreAppendEntriesConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.AppendEntries(ctx, "CA1", 0, []ConversationEntry{{Role: RolePatient, Text: "hi"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.AppendEntries(ctx, "CA1", 0, []ConversationEntry{{Role: RolePatient, Text: "again"}}); !errors.Is(err, ErrSequenceConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	entries, _ := store.Entries(ctx, "CA1")
	if len(entries) != 1 || entries[0].Sequence != 1 {
		t.Fatalf("unexpected entries %+v", entries)
	}
}
