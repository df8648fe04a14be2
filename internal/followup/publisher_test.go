package followup

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/wolfman30/missedcall-ai-platform/internal/voicemail"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

type sentMessage struct {
	body  string
	delay time.Duration
}

type stubQueue struct {
	sent []sentMessage
	err  error
}

func (s *stubQueue) Send(_ context.Context, body string, delay time.Duration) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{body: body, delay: delay})
	return nil
}

func (s *stubQueue) Receive(context.Context, int, int) ([]QueueMessage, error) {
	return nil, context.Canceled
}

func (s *stubQueue) Delete(context.Context, string) error {
	return nil
}

type memoryJobs struct {
	records   map[string]*JobRecord
	scheduled map[string]Delivery
}

func newMemoryJobs() *memoryJobs {
	return &memoryJobs{records: map[string]*JobRecord{}, scheduled: map[string]Delivery{}}
}

func (m *memoryJobs) PutPending(_ context.Context, job *JobRecord) error {
	job.Status = JobStatusPending
	m.records[job.JobID] = job
	return nil
}

func (m *memoryJobs) GetJob(_ context.Context, jobID string) (*JobRecord, error) {
	if r, ok := m.records[jobID]; ok {
		return r, nil
	}
	return nil, ErrJobNotFound
}

func (m *memoryJobs) MarkScheduled(_ context.Context, jobID string, d Delivery) error {
	m.scheduled[jobID] = d
	return nil
}

func (m *memoryJobs) MarkCompleted(_ context.Context, jobID string, result string) error {
	if r, ok := m.records[jobID]; ok {
		r.Status, r.Result = JobStatusCompleted, result
	}
	return nil
}

func (m *memoryJobs) MarkFailed(_ context.Context, jobID string, errMsg string) error {
	if r, ok := m.records[jobID]; ok {
		r.Status, r.ErrorMessage = JobStatusFailed, errMsg
	}
	return nil
}

func TestPublisherEnqueueFollowUp(t *testing.T) {
	queue := &stubQueue{}
	jobs := newMemoryJobs()
	publisher := NewPublisher(queue, jobs, logging.Default())

	if err := publisher.EnqueueFollowUp(context.Background(), dispatchRequest()); err != nil {
		t.Fatalf("enqueue returned error: %v", err)
	}
	if len(queue.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(queue.sent))
	}
	if queue.sent[0].delay != 0 {
		t.Fatalf("compose jobs run immediately, got delay %s", queue.sent[0].delay)
	}

	var payload jobPayload
	if err := json.Unmarshal([]byte(queue.sent[0].body), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.Kind != jobKindCompose || payload.FollowUp.CallID != testCallID {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if !payload.TrackStatus {
		t.Fatal("expected status tracking with a job store")
	}
	record, err := jobs.GetJob(context.Background(), payload.ID)
	if err != nil || record.CallID != testCallID || record.Kind != string(jobKindCompose) {
		t.Fatalf("expected pending job record, got %+v %v", record, err)
	}
}

func TestPublisherEnqueueVoicemail(t *testing.T) {
	queue := &stubQueue{}
	publisher := NewPublisher(queue, nil, nil)

	req := voicemail.Request{CallID: testCallID, RecordingURL: "https://api.twilio.com/RE1"}
	if err := publisher.EnqueueVoicemail(context.Background(), req); err != nil {
		t.Fatalf("enqueue returned error: %v", err)
	}
	payload, err := decodePayload(queue.sent[0].body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Kind != jobKindVoicemail || payload.Voicemail.RecordingURL != req.RecordingURL {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.TrackStatus {
		t.Fatal("no tracking without a job store")
	}
}

func TestPublisherScheduleDeliveryUsesQueueDelay(t *testing.T) {
	queue := &stubQueue{}
	publisher := NewPublisher(queue, nil, nil)
	publisher.now = func() time.Time { return fixedNow }

	d := delivery()
	d.DeliverAt = fixedNow.Add(30 * time.Second)
	if err := publisher.ScheduleDelivery(context.Background(), "job-1", d); err != nil {
		t.Fatalf("schedule returned error: %v", err)
	}
	if queue.sent[0].delay != 30*time.Second {
		t.Fatalf("expected 30s queue delay, got %s", queue.sent[0].delay)
	}
	payload, _ := decodePayload(queue.sent[0].body)
	if payload.ID != "job-1" || payload.Kind != jobKindDeliver {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestDecodePayloadRejectsMalformedJobs(t *testing.T) {
	for _, body := range []string{
		"not json",
		`{"id":"1","kind":"followup.compose"}`,
		`{"id":"1","kind":"followup.deliver"}`,
		`{"id":"1","kind":"voicemail.relay"}`,
		`{"id":"1","kind":"mystery"}`,
	} {
		if _, err := decodePayload(body); err == nil {
			t.Errorf("expected error for %s", body)
		}
	}
}
