package uplink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skaldera/vigil/internal/domain"
)

type captureSender struct {
	mu      sync.Mutex
	batches [][]domain.Event
	failFor int
}

func (s *captureSender) Send(_ context.Context, _ string, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor > 0 {
		s.failFor--
		return errors.New("uplink down")
	}
	batch := make([]domain.Event, len(events))
	copy(batch, events)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *captureSender) delivered() [][]domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

func event(id string, offset int64) domain.Event {
	return domain.Event{ID: id, Type: domain.EventNoFace, OffsetMS: offset}
}

func TestBufferDrainIsAtomicSwap(t *testing.T) {
	buffer := NewBuffer()
	buffer.Append(event("a", 0))
	buffer.Append(event("b", 100))

	batch := buffer.Drain()
	if len(batch) != 2 || batch[0].ID != "a" || batch[1].ID != "b" {
		t.Fatalf("unexpected batch %+v", batch)
	}
	if buffer.Len() != 0 {
		t.Fatalf("expected empty buffer after drain, got %d", buffer.Len())
	}
}

func TestBufferRequeuePreservesOrderAheadOfNewEvents(t *testing.T) {
	buffer := NewBuffer()
	buffer.Append(event("a", 0))
	buffer.Append(event("b", 100))
	batch := buffer.Drain()

	// Events keep arriving while the failed batch waits for retry.
	buffer.Append(event("c", 200))
	buffer.Requeue(batch)

	next := buffer.Drain()
	if len(next) != 3 {
		t.Fatalf("expected 3 events, got %d", len(next))
	}
	for i, want := range []string{"a", "b", "c"} {
		if next[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, next[i].ID)
		}
	}
}

func TestFlusherRetriesFailedBatchesWithoutLoss(t *testing.T) {
	buffer := NewBuffer()
	sender := &captureSender{failFor: 3}
	flusher, err := NewFlusher(buffer, sender, "sess-1", time.Second, nil)
	if err != nil {
		t.Fatalf("new flusher: %v", err)
	}

	// Three flush cycles fail; each cycle also produces one fresh event.
	ids := []string{"a", "b", "c", "d"}
	buffer.Append(event("a", 0))
	for i := 1; i <= 3; i++ {
		flusher.Flush(context.Background())
		buffer.Append(event(ids[i], int64(i)*1000))
	}
	if len(sender.delivered()) != 0 {
		t.Fatalf("expected no deliveries while failing")
	}
	if buffer.Len() != 4 {
		t.Fatalf("expected all 4 events retained, got %d", buffer.Len())
	}

	// The next cycle succeeds and carries everything in original order.
	flusher.Flush(context.Background())
	delivered := sender.delivered()
	if len(delivered) != 1 {
		t.Fatalf("expected one successful batch, got %d", len(delivered))
	}
	if len(delivered[0]) != 4 {
		t.Fatalf("expected 4 events in batch, got %d", len(delivered[0]))
	}
	for i, want := range ids {
		if delivered[0][i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, delivered[0][i].ID)
		}
	}
	if buffer.Len() != 0 {
		t.Fatalf("expected drained buffer, got %d", buffer.Len())
	}
}

func TestFlusherSkipsEmptyBuffer(t *testing.T) {
	sender := &captureSender{}
	flusher, err := NewFlusher(NewBuffer(), sender, "sess-1", time.Second, nil)
	if err != nil {
		t.Fatalf("new flusher: %v", err)
	}
	flusher.Flush(context.Background())
	if len(sender.delivered()) != 0 {
		t.Fatalf("expected no send for empty buffer")
	}
}

func TestFlusherRunDrainsOnCancel(t *testing.T) {
	buffer := NewBuffer()
	sender := &captureSender{}
	flusher, err := NewFlusher(buffer, sender, "sess-1", time.Hour, nil)
	if err != nil {
		t.Fatalf("new flusher: %v", err)
	}
	buffer.Append(event("a", 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		flusher.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("flusher did not stop on cancel")
	}
	if len(sender.delivered()) != 1 {
		t.Fatalf("expected final drain to deliver pending batch")
	}
}

func TestNewFlusherRequiresSender(t *testing.T) {
	if _, err := NewFlusher(NewBuffer(), nil, "sess-1", time.Second, nil); !errors.Is(err, ErrNoSender) {
		t.Fatalf("expected ErrNoSender, got %v", err)
	}
}
