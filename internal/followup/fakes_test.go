package followup

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/missedcall-ai-platform/internal/clinic"
	"github.com/wolfman30/missedcall-ai-platform/internal/conversation"
)

type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	requests  []conversation.LLMRequest
}

func (s *scriptedLLM) Complete(_ context.Context, req conversation.LLMRequest) (conversation.LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return conversation.LLMResponse{}, s.err
	}
	if len(s.responses) == 0 {
		return conversation.LLMResponse{}, errors.New("no scripted response")
	}
	text := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return conversation.LLMResponse{Text: text}, nil
}

type recordingMessenger struct {
	mu   sync.Mutex
	sent []conversation.OutboundReply
	err  error
}

func (m *recordingMessenger) SendReply(_ context.Context, reply conversation.OutboundReply) (conversation.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return conversation.SendResult{}, m.err
	}
	m.sent = append(m.sent, reply)
	return conversation.SendResult{ProviderMessageID: "SM-test", Status: "queued"}, nil
}

func (m *recordingMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type mapDirectory map[string]*clinic.Clinic

func (d mapDirectory) FindByRoutingNumber(_ context.Context, routing string) (*clinic.Clinic, error) {
	if c, ok := d[routing]; ok {
		return c, nil
	}
	return nil, clinic.ErrNotFound
}

func counterValue(reg *prometheus.Registry, name string) float64 {
	families, err := reg.Gather()
	if err != nil {
		return -1
	}
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}
