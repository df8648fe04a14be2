// Package calls owns missed-call records and their conversation threads.
package calls

import (
	"context"
	"errors"
	"time"
)

// Outcome is the classified result of a call.
type Outcome string

const (
	OutcomeMissed   Outcome = "missed"
	OutcomeAnswered Outcome = "answered"
	// OutcomePending covers non-terminal statuses such as ringing.
	OutcomePending Outcome = "pending"
)

// FollowUpState only ever moves Pending -> Completed.
type FollowUpState string

const (
	FollowUpPending   FollowUpState = "Pending"
	FollowUpCompleted FollowUpState = "Completed"
)

const (
	FollowUpChannelSMS = "sms"
	DeliveryStatusSent = "sent"
)

var ErrNotFound = errors.New("calls: missed call not found")

// MissedCall is one unanswered inbound call, keyed by the provider call id.
type MissedCall struct {
	CallID              string        `json:"call_id"`
	PatientNumber       string        `json:"patient_number"`
	RoutingNumber       string        `json:"routing_number"`
	Outcome             Outcome       `json:"outcome"`
	ClinicName          string        `json:"clinic_name"`
	FollowUpState       FollowUpState `json:"follow_up_state"`
	FollowUpChannel     string        `json:"follow_up_channel,omitempty"`
	LastAIMessage       string        `json:"last_ai_message,omitempty"`
	LastAIMessageAt     *time.Time    `json:"last_ai_message_at,omitempty"`
	LastAIMessageStatus string        `json:"last_ai_message_status,omitempty"`
	RecordingURL        string        `json:"recording_url,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
}

// FollowUpResult is what the dispatcher stores once the SMS went out.
type FollowUpResult struct {
	Message string
	SentAt  time.Time
	Status  string
	Channel string
}

// Store persists missed calls.
type Store interface {
	// Create inserts the record unless one already exists for CallID. It reports whether a row was written.
	Create(ctx context.Context, call *MissedCall) (bool, error)
	GetByCallID(ctx context.Context, callID string) (*MissedCall, error)
	// MarkFollowUpCompleted moves a Pending record to Completed. It reports false when the record was not Pending.
	MarkFollowUpCompleted(ctx context.Context, callID string, result FollowUpResult) (bool, error)
	// LatestForPatient returns the most recently created record for the patient/routing pair.
	LatestForPatient(ctx context.Context, patientNumber, routingNumber string) (*MissedCall, error)
	SetRecordingURL(ctx context.Context, callID, url string) error
}
