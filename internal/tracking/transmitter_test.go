package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-tracker/internal/models"
	"fleet-tracker/internal/session"
)

type staticSessions struct {
	mu   sync.Mutex
	sess *session.Session
}

func (s *staticSessions) Current(context.Context) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil, false
	}
	c := *s.sess
	return &c, true
}

func (s *staticSessions) set(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = sess
}

func signedIn() *staticSessions {
	return &staticSessions{sess: &session.Session{Token: "tok", DriverID: "driver-1"}}
}

type fakeIngestor struct {
	mu        sync.Mutex
	sendErr   error
	batchErr  error
	sent      []models.LocationUpload
	batches   [][]models.LocationUpload
	sendCalls int
}

func (f *fakeIngestor) Send(_ context.Context, _ *session.Session, u models.LocationUpload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, u)
	return nil
}

func (f *fakeIngestor) SendBatch(_ context.Context, _ *session.Session, batch []models.LocationUpload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return f.batchErr
	}
	f.batches = append(f.batches, append([]models.LocationUpload(nil), batch...))
	return nil
}

func (f *fakeIngestor) fail(send, batch error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = send
	f.batchErr = batch
}

func txUpload(ts int64) models.LocationUpload {
	return models.LocationUpload{
		PositionSample: models.PositionSample{Latitude: 10, Longitude: 20, Accuracy: 5, Timestamp: ts, Source: models.SourceDevice},
		ShiftID:        "shift-1",
		DriverID:       "driver-1",
	}
}

func timestamps(batch []models.LocationUpload) []int64 {
	out := make([]int64, len(batch))
	for i, u := range batch {
		out[i] = u.Timestamp
	}
	return out
}

func TestTransmit_NoSessionQueues(t *testing.T) {
	ctx := context.Background()
	ingestor := &fakeIngestor{}
	queue := NewMemoryQueue()
	tx := NewTransmitter(&staticSessions{}, ingestor, queue)

	assert.False(t, tx.Transmit(ctx, txUpload(1)))

	assert.Zero(t, ingestor.sendCalls)
	assert.Equal(t, 1, tx.Pending(ctx))
}

func TestTransmit_SendFailureQueuesOnce(t *testing.T) {
	ctx := context.Background()
	ingestor := &fakeIngestor{sendErr: errors.New("503")}
	queue := NewMemoryQueue()
	tx := NewTransmitter(signedIn(), ingestor, queue)

	assert.False(t, tx.Transmit(ctx, txUpload(1)))

	pending, err := queue.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(1), pending[0].Timestamp)
	assert.False(t, pending[0].IsOfflineSync, "queued entries keep their live shape")
}

func TestTransmit_SuccessFlushesQueueAsOfflineBatch(t *testing.T) {
	ctx := context.Background()
	ingestor := &fakeIngestor{}
	sessions := &staticSessions{}
	tx := NewTransmitter(sessions, ingestor, NewMemoryQueue())

	tx.Transmit(ctx, txUpload(1))
	tx.Transmit(ctx, txUpload(2))
	sessions.set(&session.Session{Token: "tok", DriverID: "driver-1"})

	assert.True(t, tx.Transmit(ctx, txUpload(3)))

	require.Len(t, ingestor.sent, 1)
	assert.Equal(t, int64(3), ingestor.sent[0].Timestamp)
	assert.False(t, ingestor.sent[0].IsOfflineSync)

	require.Len(t, ingestor.batches, 1)
	assert.Equal(t, []int64{1, 2}, timestamps(ingestor.batches[0]))
	for _, u := range ingestor.batches[0] {
		assert.True(t, u.IsOfflineSync)
	}
	assert.Zero(t, tx.Pending(ctx))
}

func TestFlush_FailureRequeuesInOrder(t *testing.T) {
	ctx := context.Background()
	ingestor := &fakeIngestor{}
	sessions := &staticSessions{}
	queue := NewMemoryQueue()
	tx := NewTransmitter(sessions, ingestor, queue)

	for ts := int64(1); ts <= 3; ts++ {
		tx.Transmit(ctx, txUpload(ts))
	}
	sessions.set(&session.Session{Token: "tok"})
	ingestor.fail(nil, errors.New("timeout"))

	n, err := tx.Flush(ctx)
	require.Error(t, err)
	assert.Zero(t, n)

	// A fix queued after the failed flush lands behind the restored batch
	require.NoError(t, queue.Enqueue(ctx, txUpload(4)))
	pending, err := queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, timestamps(pending))
	for _, u := range pending {
		assert.False(t, u.IsOfflineSync)
	}
}

func TestFlush_WithoutSessionLeavesQueue(t *testing.T) {
	ctx := context.Background()
	queue := NewMemoryQueue()
	tx := NewTransmitter(&staticSessions{}, &fakeIngestor{}, queue)
	tx.Transmit(ctx, txUpload(1))

	n, err := tx.Flush(ctx)

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, tx.Pending(ctx))
}

func TestFlush_EmptyQueueSendsNothing(t *testing.T) {
	ingestor := &fakeIngestor{}
	tx := NewTransmitter(signedIn(), ingestor, NewMemoryQueue())

	n, err := tx.Flush(context.Background())

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, ingestor.batches)
}

func TestTransmit_CancelledContextStillQueues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tx := NewTransmitter(signedIn(), &fakeIngestor{sendErr: context.Canceled}, NewMemoryQueue())

	assert.False(t, tx.Transmit(ctx, txUpload(1)))
	assert.Equal(t, 1, tx.Pending(context.Background()))
}

// cappedIngestor rejects oversized batches the way the ingestion endpoint
// does and can fail one batch by position
type cappedIngestor struct {
	fakeIngestor
	max       int
	failBatch int // 1-based, 0 never fails
	calls     int
}

func (c *cappedIngestor) SendBatch(ctx context.Context, sess *session.Session, batch []models.LocationUpload) error {
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.mu.Unlock()

	if len(batch) > c.max {
		return errors.New("400: batch too large")
	}
	if call == c.failBatch {
		return errors.New("503")
	}
	return c.fakeIngestor.SendBatch(ctx, sess, batch)
}

func TestFlush_SplitsBacklogAtServerCap(t *testing.T) {
	ctx := context.Background()
	ingestor := &cappedIngestor{max: models.MaxLocationBatch}
	queue := NewMemoryQueue()
	for ts := int64(1); ts <= models.MaxLocationBatch+1; ts++ {
		require.NoError(t, queue.Enqueue(ctx, txUpload(ts)))
	}
	tx := NewTransmitter(signedIn(), ingestor, queue)

	n, err := tx.Flush(ctx)

	require.NoError(t, err)
	assert.Equal(t, models.MaxLocationBatch+1, n)
	require.Len(t, ingestor.batches, 2)
	assert.Len(t, ingestor.batches[0], models.MaxLocationBatch)
	assert.Equal(t, []int64{models.MaxLocationBatch + 1}, timestamps(ingestor.batches[1]))
	assert.Equal(t, int64(1), ingestor.batches[0][0].Timestamp)
	assert.Zero(t, tx.Pending(ctx))
}

func TestFlush_FailedChunkRequeuesRemainder(t *testing.T) {
	ctx := context.Background()
	ingestor := &cappedIngestor{max: 2, failBatch: 2}
	queue := NewMemoryQueue()
	for ts := int64(1); ts <= 5; ts++ {
		require.NoError(t, queue.Enqueue(ctx, txUpload(ts)))
	}
	tx := NewTransmitter(signedIn(), ingestor, queue, WithBatchSize(2))

	n, err := tx.Flush(ctx)

	require.Error(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, ingestor.batches, 1)
	assert.Equal(t, []int64{1, 2}, timestamps(ingestor.batches[0]))

	pending, err := queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 5}, timestamps(pending))
	for _, u := range pending {
		assert.False(t, u.IsOfflineSync)
	}
}

func TestWithBatchSize_IgnoresNonPositive(t *testing.T) {
	tx := NewTransmitter(signedIn(), &fakeIngestor{}, NewMemoryQueue(), WithBatchSize(0))
	assert.Equal(t, models.MaxLocationBatch, tx.batchSize)
}
