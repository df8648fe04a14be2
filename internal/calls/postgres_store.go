package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool used by the stores.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists missed calls in the missed_calls table.
type PostgresStore struct {
	db PgxPool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db PgxPool) *PostgresStore {
	if db == nil {
		panic("calls: pgx pool required")
	}
	return &PostgresStore{db: db}
}

const missedCallColumns = `call_id, patient_number, routing_number, outcome, clinic_name, follow_up_state,
	COALESCE(follow_up_channel, ''), COALESCE(last_ai_message, ''), last_ai_message_at,
	COALESCE(last_ai_message_status, ''), COALESCE(recording_url, ''), created_at`

func scanMissedCall(row pgx.Row) (*MissedCall, error) {
	var (
		c       MissedCall
		outcome string
		state   string
	)
	err := row.Scan(
		&c.CallID, &c.PatientNumber, &c.RoutingNumber, &outcome, &c.ClinicName, &state,
		&c.FollowUpChannel, &c.LastAIMessage, &c.LastAIMessageAt,
		&c.LastAIMessageStatus, &c.RecordingURL, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Outcome = Outcome(outcome)
	c.FollowUpState = FollowUpState(state)
	return &c, nil
}

// Create inserts keyed by call_id; a retried callback hits the conflict and writes nothing.
func (s *PostgresStore) Create(ctx context.Context, call *MissedCall) (bool, error) {
	if call == nil || strings.TrimSpace(call.CallID) == "" {
		return false, errors.New("calls: call id required")
	}
	if call.FollowUpState == "" {
		call.FollowUpState = FollowUpPending
	}
	if call.Outcome == "" {
		call.Outcome = OutcomeMissed
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO missed_calls (call_id, patient_number, routing_number, outcome, clinic_name, follow_up_state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (call_id) DO NOTHING
	`
	ct, err := s.db.Exec(ctx, query,
		call.CallID, call.PatientNumber, call.RoutingNumber, string(call.Outcome),
		call.ClinicName, string(call.FollowUpState), call.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("calls: create missed call: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetByCallID(ctx context.Context, callID string) (*MissedCall, error) {
	query := `SELECT ` + missedCallColumns + ` FROM missed_calls WHERE call_id = $1`
	c, err := scanMissedCall(s.db.QueryRow(ctx, query, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("calls: get missed call: %w", err)
	}
	return c, nil
}

// MarkFollowUpCompleted only touches Pending rows so the state never moves backwards.
func (s *PostgresStore) MarkFollowUpCompleted(ctx context.Context, callID string, result FollowUpResult) (bool, error) {
	if result.Channel == "" {
		result.Channel = FollowUpChannelSMS
	}
	if result.Status == "" {
		result.Status = DeliveryStatusSent
	}
	if result.SentAt.IsZero() {
		result.SentAt = time.Now().UTC()
	}
	query := `
		UPDATE missed_calls
		SET follow_up_state = $2, follow_up_channel = $3, last_ai_message = $4,
			last_ai_message_at = $5, last_ai_message_status = $6
		WHERE call_id = $1 AND follow_up_state = 'Pending'
	`
	ct, err := s.db.Exec(ctx, query, callID, string(FollowUpCompleted), result.Channel, result.Message, result.SentAt, result.Status)
	if err != nil {
		return false, fmt.Errorf("calls: mark follow-up completed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (s *PostgresStore) LatestForPatient(ctx context.Context, patientNumber, routingNumber string) (*MissedCall, error) {
	query := `SELECT ` + missedCallColumns + ` FROM missed_calls
		WHERE patient_number = $1 AND routing_number = $2
		ORDER BY created_at DESC
		LIMIT 1`
	c, err := scanMissedCall(s.db.QueryRow(ctx, query, patientNumber, routingNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("calls: latest missed call: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) SetRecordingURL(ctx context.Context, callID, url string) error {
	ct, err := s.db.Exec(ctx, `UPDATE missed_calls SET recording_url = $2 WHERE call_id = $1`, callID, url)
	if err != nil {
		return fmt.Errorf("calls: set recording url: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
