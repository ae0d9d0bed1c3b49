package recorder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nulpointcorp/provider-gateway/internal/store"
)

// stubSink records every batch it receives.
type stubSink struct {
	mu      sync.Mutex
	batches [][]store.Interaction
	closed  bool
}

func (s *stubSink) WriteInteractions(_ context.Context, batch []store.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]store.Interaction, len(batch))
	copy(cp, batch)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *stubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestRecorder_RequiresContextAndSink(t *testing.T) {
	if _, err := New(nil, &stubSink{}, nil); err == nil {
		t.Error("nil context must be rejected")
	}
	if _, err := New(context.Background(), nil, nil); err == nil {
		t.Error("nil sink must be rejected")
	}
}

func TestRecorder_FlushesOnClose(t *testing.T) {
	sink := &stubSink{}
	r, err := New(context.Background(), sink, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 7; i++ {
		r.Record(store.Interaction{IdentityID: "ident-a"})
	}

	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := sink.total(); got != 7 {
		t.Errorf("expected 7 records flushed, got %d", got)
	}
	if !sink.closed {
		t.Error("close must propagate to the sink")
	}
	if r.Dropped() != 0 {
		t.Errorf("nothing should have been dropped, got %d", r.Dropped())
	}
}

func TestRecorder_FlushesFullBatchesBeforeClose(t *testing.T) {
	sink := &stubSink{}
	r, err := New(context.Background(), sink, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Two full batches plus a remainder.
	for i := 0; i < 2*batchSize+5; i++ {
		r.Record(store.Interaction{IdentityID: "ident-a"})
	}

	// Full batches flush without waiting for the ticker.
	deadline := time.After(3 * time.Second)
	for sink.total() < 2*batchSize {
		select {
		case <-deadline:
			t.Fatalf("full batches not flushed in time: %d", sink.total())
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := sink.total(); got != 2*batchSize+5 {
		t.Errorf("expected %d records, got %d", 2*batchSize+5, got)
	}
}

func TestRecorder_PeriodicFlush(t *testing.T) {
	sink := &stubSink{}
	r, err := New(context.Background(), sink, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Close()

	r.Record(store.Interaction{IdentityID: "ident-a"})

	deadline := time.After(3 * time.Second)
	for sink.total() == 0 {
		select {
		case <-deadline:
			t.Fatal("ticker flush never happened")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestRecorder_CloseIsIdempotent(t *testing.T) {
	r, err := New(context.Background(), &stubSink{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
