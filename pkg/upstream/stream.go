package upstream

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

const streamBuffer = 16

// Producer feeds deltas into a Stream. send returns false once the stream is
// closed or its context is done; the producer should then return.
type Producer func(ctx context.Context, send func(delta string) bool) error

type streamEvent struct {
	delta string
	err   error
}

// Stream is a lazy, finite, non-restartable sequence of content deltas.
// Recv returns io.EOF after the last delta of a completed response.
type Stream struct {
	ctx       context.Context
	cancel    context.CancelFunc
	events    chan streamEvent
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewStream runs produce in its own goroutine and exposes its output as a Stream.
func NewStream(ctx context.Context, produce Producer) *Stream {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	s := &Stream{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan streamEvent, streamBuffer),
	}

	go func() {
		defer close(s.events)
		send := func(delta string) bool {
			select {
			case s.events <- streamEvent{delta: delta}:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if err := produce(ctx, send); err != nil {
			select {
			case s.events <- streamEvent{err: classify(err)}:
			case <-ctx.Done():
			}
		}
	}()

	return s
}

// Recv blocks for the next delta
func (s *Stream) Recv() (string, error) {
	ev, ok := <-s.events
	if !ok {
		// Producer gave up because the caller went away; never report that as a clean end.
		if err := s.ctx.Err(); err != nil && !s.closed.Load() {
			return "", classify(context.Cause(s.ctx))
		}
		return "", io.EOF
	}
	if ev.err != nil {
		return "", ev.err
	}
	return ev.delta, nil
}

// Close cancels the producer and releases the connection. Safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
	return nil
}
