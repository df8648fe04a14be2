package calls

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store and ThreadStore for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	calls   map[string]*MissedCall
	threads map[string][]ConversationEntry
	// hidden call ids are created but not yet readable, to exercise read-after-write races.
	hidden map[string]int
}

var (
	_ Store       = (*MemoryStore)(nil)
	_ ThreadStore = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls:   make(map[string]*MissedCall),
		threads: make(map[string][]ConversationEntry),
		hidden:  make(map[string]int),
	}
}

// HideFor makes the next n reads of callID miss, simulating an eventually consistent replica.
func (m *MemoryStore) HideFor(callID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hidden[callID] = n
}

func (m *MemoryStore) Create(_ context.Context, call *MissedCall) (bool, error) {
	if call == nil || call.CallID == "" {
		return false, errors.New("calls: call id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.calls[call.CallID]; exists {
		return false, nil
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
	stored := *call
	m.calls[call.CallID] = &stored
	return true, nil
}

func (m *MemoryStore) GetByCallID(_ context.Context, callID string) (*MissedCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := m.hidden[callID]; n != 0 {
		if n > 0 {
			m.hidden[callID] = n - 1
		}
		return nil, ErrNotFound
	}
	c, ok := m.calls[callID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

func (m *MemoryStore) MarkFollowUpCompleted(_ context.Context, callID string, result FollowUpResult) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok || c.FollowUpState != FollowUpPending {
		return false, nil
	}
	if result.Channel == "" {
		result.Channel = FollowUpChannelSMS
	}
	if result.Status == "" {
		result.Status = DeliveryStatusSent
	}
	sentAt := result.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	c.FollowUpState = FollowUpCompleted
	c.FollowUpChannel = result.Channel
	c.LastAIMessage = result.Message
	c.LastAIMessageAt = &sentAt
	c.LastAIMessageStatus = result.Status
	return true, nil
}

func (m *MemoryStore) LatestForPatient(_ context.Context, patientNumber, routingNumber string) (*MissedCall, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *MissedCall
	for _, c := range m.calls {
		if c.PatientNumber != patientNumber || c.RoutingNumber != routingNumber {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	out := *latest
	return &out, nil
}

func (m *MemoryStore) SetRecordingURL(_ context.Context, callID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.RecordingURL = url
	return nil
}

// Count returns how many missed calls are stored.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

func (m *MemoryStore) Entries(_ context.Context, callID string) ([]ConversationEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := append([]ConversationEntry(nil), m.threads[callID]...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })
	return entries, nil
}

func (m *MemoryStore) AppendEntries(_ context.Context, callID string, afterSequence int, entries []ConversationEntry) ([]ConversationEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	thread := m.threads[callID]
	last := 0
	if len(thread) > 0 {
		last = thread[len(thread)-1].Sequence
	}
	if last != afterSequence {
		return nil, ErrSequenceConflict
	}
	numbered := numberEntries(callID, afterSequence, entries)
	m.threads[callID] = append(thread, numbered...)
	return numbered, nil
}
