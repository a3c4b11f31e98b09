package tracking

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"fleet-tracker/internal/models"
	"fleet-tracker/internal/session"
)

// Ingestor is the position ingestion endpoint. Each call succeeds or fails
// as a whole.
type Ingestor interface {
	Send(ctx context.Context, sess *session.Session, u models.LocationUpload) error
	SendBatch(ctx context.Context, sess *session.Session, batch []models.LocationUpload) error
}

// Transmitter delivers uploads, parking them in the queue whenever delivery
// is not possible
type Transmitter struct {
	sessions  session.Provider
	ingestor  Ingestor
	queue     Queue
	batchSize int
}

// TransmitterOption configures a Transmitter
type TransmitterOption func(*Transmitter)

// WithBatchSize caps the number of fixes sent per offline batch. It must not
// exceed what the ingestion endpoint accepts.
func WithBatchSize(n int) TransmitterOption {
	return func(t *Transmitter) {
		if n > 0 {
			t.batchSize = n
		}
	}
}

// NewTransmitter creates a transmitter
func NewTransmitter(sessions session.Provider, ingestor Ingestor, queue Queue, opts ...TransmitterOption) *Transmitter {
	t := &Transmitter{
		sessions:  sessions,
		ingestor:  ingestor,
		queue:     queue,
		batchSize: models.MaxLocationBatch,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transmit sends u live. It never fails: without a session, or when the send
// fails, u is queued for the next flush. It reports whether the live send
// succeeded. After a successful send the queue is flushed.
func (t *Transmitter) Transmit(ctx context.Context, u models.LocationUpload) bool {
	u.IsOfflineSync = false

	sess, ok := t.sessions.Current(ctx)
	if !ok {
		log.WithField("shift_id", u.ShiftID).Debug("no session, queueing fix")
		t.park(ctx, u)
		return false
	}

	if err := t.ingestor.Send(ctx, sess, u); err != nil {
		log.WithFields(log.Fields{"shift_id": u.ShiftID, "timestamp": u.Timestamp}).
			Warnf("⚠️  location send failed, queued for retry: %v", err)
		t.park(ctx, u)
		return false
	}

	if _, err := t.Flush(ctx); err != nil {
		log.WithError(err).Debug("offline flush after live send failed")
	}
	return true
}

// park enqueues u even when ctx is already cancelled, so a send aborted by a
// pause is not lost
func (t *Transmitter) park(ctx context.Context, u models.LocationUpload) {
	if err := t.queue.Enqueue(context.WithoutCancel(ctx), u); err != nil {
		log.WithError(err).Errorf("❌ failed to queue fix for shift %s", u.ShiftID)
	}
}

// Flush sends the queue as offline-sync batches of at most batchSize fixes,
// oldest first. It stops at the first failed batch and puts that batch and
// everything after it back at the front of the queue unchanged. It returns
// how many fixes were delivered.
func (t *Transmitter) Flush(ctx context.Context) (int, error) {
	sess, ok := t.sessions.Current(ctx)
	if !ok {
		return 0, nil
	}

	queued, err := t.queue.Drain(ctx)
	if err != nil {
		return 0, err
	}
	if len(queued) == 0 {
		return 0, nil
	}

	sent := 0
	for sent < len(queued) {
		end := min(sent+t.batchSize, len(queued))
		chunk := queued[sent:end]

		replay := make([]models.LocationUpload, len(chunk))
		for i, u := range chunk {
			u.IsOfflineSync = true
			replay[i] = u
		}

		if err := t.ingestor.SendBatch(ctx, sess, replay); err != nil {
			rest := queued[sent:]
			if rqErr := t.queue.Requeue(context.WithoutCancel(ctx), rest); rqErr != nil {
				log.WithError(rqErr).Errorf("❌ failed to requeue %d fixes", len(rest))
			}
			if sent > 0 {
				log.Printf("📤 Synced %d offline fixes before failure", sent)
			}
			return sent, fmt.Errorf("offline batch of %d failed, %d fixes still queued: %w", len(chunk), len(rest), err)
		}
		sent = end
	}

	log.Printf("📤 Synced %d offline fixes", sent)
	return sent, nil
}

// Pending returns the offline queue length, or 0 if it cannot be read
func (t *Transmitter) Pending(ctx context.Context) int {
	n, err := t.queue.Len(ctx)
	if err != nil {
		log.WithError(err).Debug("could not read queue length")
		return 0
	}
	return n
}
