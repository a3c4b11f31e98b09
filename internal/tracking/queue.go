package tracking

import (
	"context"
	"sync"

	"fleet-tracker/internal/models"
)

// Queue holds uploads that could not be transmitted, in capture order
type Queue interface {
	// Enqueue appends an upload to the back of the queue
	Enqueue(ctx context.Context, u models.LocationUpload) error

	// Drain removes and returns the whole queue as one ordered batch
	Drain(ctx context.Context) ([]models.LocationUpload, error)

	// Requeue puts a drained batch back at the front, preserving its order
	Requeue(ctx context.Context, batch []models.LocationUpload) error

	// Len returns the number of queued uploads
	Len(ctx context.Context) (int, error)
}

// MemoryQueue is an unbounded in-process queue. Its contents are lost when
// the process exits.
type MemoryQueue struct {
	mu    sync.Mutex
	items []models.LocationUpload
}

// NewMemoryQueue creates an empty queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, u models.LocationUpload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, u)
	return nil
}

func (q *MemoryQueue) Drain(context.Context) ([]models.LocationUpload, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.items
	q.items = nil
	return batch, nil
}

func (q *MemoryQueue) Requeue(_ context.Context, batch []models.LocationUpload) error {
	if len(batch) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]models.LocationUpload, 0, len(batch)+len(q.items))
	items = append(items, batch...)
	q.items = append(items, q.items...)
	return nil
}

func (q *MemoryQueue) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}
