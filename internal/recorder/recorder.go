// Package recorder implements the non-blocking, batched persistence boundary
// for interaction records.
//
// Records are written to an internal buffered channel and flushed in batches
// by a background goroutine — so audit logging never blocks the request hot
// path. If the channel fills up (> 10 000 records), new records are dropped
// and counted in Dropped.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nulpointcorp/provider-gateway/internal/store"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
	flushTimeout  = 5 * time.Second
)

// Recorder batches interaction records and hands them to a store.Sink.
type Recorder struct {
	ch        chan store.Interaction
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64

	sink    store.Sink
	baseCtx context.Context
	log     *slog.Logger
}

// New starts the background flusher. sink must not be nil; the slog sink is
// the no-dependency default.
func New(ctx context.Context, sink store.Sink, log *slog.Logger) (*Recorder, error) {
	if ctx == nil {
		return nil, fmt.Errorf("recorder: context must not be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("recorder: sink must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	r := &Recorder{
		ch:      make(chan store.Interaction, channelBuffer),
		done:    make(chan struct{}),
		sink:    sink,
		baseCtx: ctx,
		log:     log,
	}

	r.wg.Add(1)
	go r.run()

	return r, nil
}

// Record enqueues an interaction. Never blocks and never fails; a full
// buffer drops the record.
func (r *Recorder) Record(entry store.Interaction) {
	select {
	case r.ch <- entry:
	default:
		atomic.AddInt64(&r.dropped, 1)
	}
}

// Dropped returns the number of records discarded due to a full buffer.
func (r *Recorder) Dropped() int64 {
	return atomic.LoadInt64(&r.dropped)
}

// Close drains the buffer, flushes the final batch, and closes the sink.
// Safe to call multiple times.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
	return r.sink.Close()
}

func (r *Recorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]store.Interaction, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.baseCtx), flushTimeout)
		if err := r.sink.WriteInteractions(ctx, batch); err != nil {
			r.log.Error("interaction_flush_failed",
				slog.Int("batch", len(batch)),
				slog.String("error", err.Error()),
			)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-r.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-r.done:
			for {
				select {
				case entry := <-r.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
