// Package uplink decouples event production from network delivery. The
// detection loop appends events at frame rate; an independent flush loop
// drains the buffer on an interval and ships each drain as one batch.
// Delivery is at least once: a failed batch is re-queued ahead of newer
// events, so order survives retries but a retried-yet-actually-received
// batch may be delivered twice.
package uplink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/skaldera/vigil/internal/domain"
)

// DefaultFlushInterval is the stock spacing between flush attempts.
const DefaultFlushInterval = 3 * time.Second

// ErrNoSender indicates a Flusher was built without a delivery function.
var ErrNoSender = errors.New("uplink: sender required")

// Sender delivers one batch of events for a session. An error means the
// whole batch is considered undelivered and will be retried.
type Sender interface {
	Send(ctx context.Context, sessionID string, events []domain.Event) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, sessionID string, events []domain.Event) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, sessionID string, events []domain.Event) error {
	return f(ctx, sessionID, events)
}

// Buffer is an ordered in-memory event queue with an atomic drain. Append
// never blocks beyond the mutex, so the frame loop is never held up by a
// slow uplink.
type Buffer struct {
	mu     sync.Mutex
	events []domain.Event
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds one event to the tail of the buffer.
func (b *Buffer) Append(event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

// Drain removes and returns the entire current contents as one batch. The
// swap happens under the lock, so events appended concurrently land in the
// next batch, never in a half-owned one.
func (b *Buffer) Drain() []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.events
	b.events = nil
	return batch
}

// Requeue puts a failed batch back at the head of the buffer, ahead of any
// events appended since the drain, preserving original relative order.
func (b *Buffer) Requeue(batch []domain.Event) {
	if len(batch) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(batch, b.events...)
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Flusher periodically drains a buffer and submits each drain as a single
// batch. It runs on its own schedule, independent of the frame loop.
type Flusher struct {
	buffer    *Buffer
	sender    Sender
	sessionID string
	interval  time.Duration
	logger    *slog.Logger
}

// NewFlusher wires a flusher to a buffer and a delivery function.
func NewFlusher(buffer *Buffer, sender Sender, sessionID string, interval time.Duration, logger *slog.Logger) (*Flusher, error) {
	if sender == nil {
		return nil, ErrNoSender
	}
	if buffer == nil {
		buffer = NewBuffer()
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if logger != nil {
		logger = logger.With("component", "uplink")
	}
	return &Flusher{
		buffer:    buffer,
		sender:    sender,
		sessionID: sessionID,
		interval:  interval,
		logger:    logger,
	}, nil
}

// Run flushes on the configured interval until ctx is cancelled, then makes
// one final flush attempt so a clean stop does not strand buffered events.
// Events still undelivered after the final attempt remain in the buffer.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.Flush(context.Background())
			return
		case <-ticker.C:
			f.Flush(ctx)
		}
	}
}

// Flush drains the buffer and submits the batch. On failure the batch is
// requeued in full; nothing is ever dropped.
func (f *Flusher) Flush(ctx context.Context) {
	batch := f.buffer.Drain()
	if len(batch) == 0 {
		return
	}
	if err := f.sender.Send(ctx, f.sessionID, batch); err != nil {
		f.buffer.Requeue(batch)
		if f.logger != nil {
			f.logger.Warn("event batch delivery failed, requeued", "error", err, "count", len(batch))
		}
		return
	}
	if f.logger != nil {
		f.logger.Debug("event batch delivered", "count", len(batch))
	}
}
