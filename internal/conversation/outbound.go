package conversation

import "context"

// ReplyMessenger delivers text messages to a patient.
type ReplyMessenger interface {
	SendReply(ctx context.Context, reply OutboundReply) (SendResult, error)
}

// OutboundReply carries the data required to push a message to the patient.
type OutboundReply struct {
	CallID string
	To     string
	From   string
	Body   string
}

// SendResult is the provider's acknowledgement.
type SendResult struct {
	ProviderMessageID string
	Status            string
}
