package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/missedcall-ai-platform/internal/clinic"
	"github.com/wolfman30/missedcall-ai-platform/internal/events"
	"github.com/wolfman30/missedcall-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

type recordingEnqueuer struct {
	mu       sync.Mutex
	requests []DispatchRequest
	err      error
}

func (r *recordingEnqueuer) EnqueueFollowUp(ctx context.Context, req DispatchRequest) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("enqueue without deadline")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return r.err
}

func (r *recordingEnqueuer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

type mapDirectory map[string]*clinic.Clinic

func (d mapDirectory) FindByRoutingNumber(_ context.Context, number string) (*clinic.Clinic, error) {
	if c, ok := d[number]; ok {
		return c, nil
	}
	return nil, clinic.ErrNotFound
}

func newTestIngestor(t *testing.T, dir clinic.Directory, enq FollowUpEnqueuer) (*Ingestor, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	ing := NewIngestor(store, dir, enq, logging.Default(),
		WithIngestorMetrics(metrics.New(prometheus.NewRegistry())),
		WithEnqueueTimeout(time.Second),
	)
	return ing, store
}

func TestIngestorDuplicateCallbacksCreateOneRecord(t *testing.T) {
	dir := mapDirectory{"+15559876543": {Name: "Bright Smiles", RoutingNumber: "+15559876543"}}
	enq := &recordingEnqueuer{}
	ing, store := newTestIngestor(t, dir, enq)

	evt := CallEvent{CallID: "CA123", From: "+15551234567", To: "+15559876543", Status: StatusNoAnswer}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ing.Ingest(context.Background(), evt)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.Count())
	assert.Equal(t, 1, enq.count())

	rec, err := store.GetByCallID(context.Background(), "CA123")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMissed, rec.Outcome)
	assert.Equal(t, FollowUpPending, rec.FollowUpState)
	assert.Equal(t, "Bright Smiles", rec.ClinicName)
}

func TestIngestorUnknownClinicUsesPlaceholder(t *testing.T) {
	enq := &recordingEnqueuer{}
	ing, store := newTestIngestor(t, mapDirectory{}, enq)

	res, err := ing.Ingest(context.Background(), CallEvent{
		CallID: "CA1", From: "5551234567", To: "+15550000000", Status: StatusBusy,
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.True(t, res.Enqueued)

	rec, err := store.GetByCallID(context.Background(), "CA1")
	require.NoError(t, err)
	assert.Equal(t, clinic.PlaceholderName, rec.ClinicName)
	assert.Equal(t, "+15551234567", rec.PatientNumber)

	require.Equal(t, 1, enq.count())
	assert.Equal(t, clinic.PlaceholderName, enq.requests[0].ClinicName)
}

func TestIngestorIgnoresAnsweredCalls(t *testing.T) {
	enq := &recordingEnqueuer{}
	ing, store := newTestIngestor(t, mapDirectory{}, enq)

	for _, evt := range []CallEvent{
		{CallID: "CA1", From: "+15551234567", To: "+15559876543", Status: StatusRinging},
		{CallID: "CA2", From: "+15551234567", To: "+15559876543", Status: StatusCompleted, Duration: 90 * time.Second, HasDuration: true},
	} {
		res, err := ing.Ingest(context.Background(), evt)
		require.NoError(t, err)
		assert.False(t, res.Missed)
	}
	assert.Zero(t, store.Count())
	assert.Zero(t, enq.count())
}

func TestIngestorEnqueueFailureStillSucceeds(t *testing.T) {
	enq := &recordingEnqueuer{err: errors.New("queue down")}
	ing, store := newTestIngestor(t, mapDirectory{}, enq)

	res, err := ing.Ingest(context.Background(), CallEvent{
		CallID: "CA1", From: "+15551234567", To: "+15559876543", Status: StatusFailed,
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.Enqueued)
	assert.Equal(t, 1, store.Count())
}

func TestIngestorRejectsInvalidEvent(t *testing.T) {
	ing, _ := newTestIngestor(t, mapDirectory{}, &recordingEnqueuer{})
	_, err := ing.Ingest(context.Background(), CallEvent{From: "+15551234567", Status: StatusBusy})
	require.ErrorIs(t, err, ErrInvalidEvent)
	assert.Contains(t, err.Error(), "CallSid")
	assert.Contains(t, err.Error(), "To")
}

func TestIngestorRetriedCallbackRedrivesFailedEnqueue(t *testing.T) {
	enq := &recordingEnqueuer{err: errors.New("queue down")}
	store := NewMemoryStore()
	ing := NewIngestor(store, mapDirectory{}, enq, logging.Default(),
		WithEnqueueTimeout(time.Second),
		WithEnqueueClaimer(events.NewMemoryProcessedStore()),
	)
	evt := CallEvent{CallID: "CA9", From: "+15551234567", To: "+15559876543", Status: StatusNoAnswer}

	res, err := ing.Ingest(context.Background(), evt)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.Enqueued)

	enq.mu.Lock()
	enq.err = nil
	enq.mu.Unlock()

	res, err = ing.Ingest(context.Background(), evt)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.True(t, res.Enqueued)
	assert.Equal(t, "CA9", enq.requests[1].CallID)

	res, err = ing.Ingest(context.Background(), evt)
	require.NoError(t, err)
	assert.False(t, res.Enqueued)
	assert.Equal(t, 2, enq.count())
	assert.Equal(t, 1, store.Count())
}

func TestIngestorDoesNotRedriveCompletedCall(t *testing.T) {
	enq := &recordingEnqueuer{err: errors.New("queue down")}
	store := NewMemoryStore()
	ing := NewIngestor(store, mapDirectory{}, enq, logging.Default(),
		WithEnqueueClaimer(events.NewMemoryProcessedStore()),
	)
	evt := CallEvent{CallID: "CA10", From: "+15551234567", To: "+15559876543", Status: StatusBusy}

	_, err := ing.Ingest(context.Background(), evt)
	require.NoError(t, err)
	ok, err := store.MarkFollowUpCompleted(context.Background(), "CA10", FollowUpResult{Message: "hi", Status: "sent", Channel: "sms"})
	require.NoError(t, err)
	require.True(t, ok)

	enq.mu.Lock()
	enq.err = nil
	enq.mu.Unlock()
	res, err := ing.Ingest(context.Background(), evt)
	require.NoError(t, err)
	assert.False(t, res.Enqueued)
	assert.Equal(t, 1, enq.count())
}
