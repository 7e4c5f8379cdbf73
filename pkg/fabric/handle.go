package fabric

import (
	"context"
	"sync"

	"tdoageoloc/pkg/signal"
)

// ResultHandle is a one-shot, single-consumer handle to a task's eventual
// result. A nil result means the task was dropped, cancelled, or its
// processing function failed (§4.4, §8 invariant 4).
type ResultHandle struct {
	once sync.Once
	ch   chan *signal.Signal
}

func newResultHandle() *ResultHandle {
	return &ResultHandle{ch: make(chan *signal.Signal, 1)}
}

// fulfil resolves the handle exactly once; later calls are no-ops.
func (h *ResultHandle) fulfil(s *signal.Signal) {
	h.once.Do(func() {
		h.ch <- s
		close(h.ch)
	})
}

// Wait blocks until the handle is fulfilled.
func (h *ResultHandle) Wait() *signal.Signal {
	return <-h.ch
}

// WaitContext blocks until the handle is fulfilled or ctx is done.
func (h *ResultHandle) WaitContext(ctx context.Context) (*signal.Signal, error) {
	select {
	case s := <-h.ch:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
