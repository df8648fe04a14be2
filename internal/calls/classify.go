package calls

import (
	"strings"
	"time"
)

// Twilio CallStatus values.
const (
	StatusQueued     = "queued"
	StatusInitiated  = "initiated"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusNoAnswer   = "no-answer"
	StatusBusy       = "busy"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// DefaultMinTalkTime is the shortest completed call treated as a real conversation.
const DefaultMinTalkTime = 10 * time.Second

// Classifier decides whether a status callback describes a missed call.
type Classifier struct {
	// MinTalkTime: completed calls shorter than this count as accidental pickups.
	MinTalkTime time.Duration
}

// Classify maps a provider status (and talk time, when known) to an outcome.
func (c Classifier) Classify(status string, duration time.Duration, hasDuration bool) Outcome {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusNoAnswer, StatusBusy, StatusFailed, StatusCanceled:
		return OutcomeMissed
	case StatusCompleted:
		minTalk := c.MinTalkTime
		if minTalk <= 0 {
			minTalk = DefaultMinTalkTime
		}
		if hasDuration && duration < minTalk {
			return OutcomeMissed
		}
		return OutcomeAnswered
	default:
		return OutcomePending
	}
}
