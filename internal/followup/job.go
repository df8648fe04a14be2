// Package followup composes and delivers the AI follow-up SMS for missed calls,
// and carries voicemail relays, through a delayed job queue.
package followup

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/missedcall-ai-platform/internal/calls"
	"github.com/wolfman30/missedcall-ai-platform/internal/voicemail"
)

type jobKind string

const (
	jobKindCompose   jobKind = "followup.compose"
	jobKindDeliver   jobKind = "followup.deliver"
	jobKindVoicemail jobKind = "voicemail.relay"
)

// Delivery is a composed follow-up waiting for its send time.
type Delivery struct {
	CallID        string    `json:"call_id" dynamodbav:"callId"`
	PatientNumber string    `json:"patient_number" dynamodbav:"patientNumber"`
	RoutingNumber string    `json:"routing_number" dynamodbav:"routingNumber"`
	ClinicName    string    `json:"clinic_name" dynamodbav:"clinicName"`
	Body          string    `json:"body" dynamodbav:"body"`
	DeliverAt     time.Time `json:"deliver_at" dynamodbav:"deliverAt"`
}

type jobPayload struct {
	ID          string                 `json:"id"`
	Kind        jobKind                `json:"kind"`
	FollowUp    *calls.DispatchRequest `json:"follow_up,omitempty"`
	Delivery    *Delivery              `json:"delivery,omitempty"`
	Voicemail   *voicemail.Request     `json:"voicemail,omitempty"`
	TrackStatus bool                   `json:"track_status"`
}

func (p jobPayload) callID() string {
	switch {
	case p.FollowUp != nil:
		return p.FollowUp.CallID
	case p.Delivery != nil:
		return p.Delivery.CallID
	case p.Voicemail != nil:
		return p.Voicemail.CallID
	}
	return ""
}

func encodePayload(payload jobPayload) (jobPayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return jobPayload{}, "", fmt.Errorf("followup: failed to encode payload: %w", err)
	}
	return payload, string(body), nil
}

func decodePayload(body string) (jobPayload, error) {
	var payload jobPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return jobPayload{}, fmt.Errorf("followup: failed to decode payload: %w", err)
	}
	switch payload.Kind {
	case jobKindCompose:
		if payload.FollowUp == nil {
			return payload, fmt.Errorf("followup: %s job without follow_up", payload.Kind)
		}
	case jobKindDeliver:
		if payload.Delivery == nil {
			return payload, fmt.Errorf("followup: %s job without delivery", payload.Kind)
		}
	case jobKindVoicemail:
		if payload.Voicemail == nil {
			return payload, fmt.Errorf("followup: %s job without voicemail", payload.Kind)
		}
	default:
		return payload, fmt.Errorf("followup: unknown job kind %q", payload.Kind)
	}
	return payload, nil
}
