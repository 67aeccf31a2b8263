package status

import (
	"context"
	"sync"
)

// Async delivers reports to a slower sink from its own goroutine so the
// trading loops never wait on delivery. Reports are dropped when the queue
// is full. Reports keep their order and are delivered without the
// caller's cancellation.
type Async struct {
	sink  Sink
	queue chan func()
	done  chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped uint64
}

var _ Sink = (*Async)(nil)

// NewAsync starts delivering to sink with a queue of size reports.
func NewAsync(sink Sink, size int) *Async {
	if size <= 0 {
		size = 1
	}
	a := &Async{
		sink:  sink,
		queue: make(chan func(), size),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for deliver := range a.queue {
		deliver()
	}
}

// Close delivers what is queued and stops the goroutine. Later reports are
// dropped.
func (a *Async) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
	return nil
}

// Dropped is the number of reports lost to a full queue or after Close.
func (a *Async) Dropped() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.dropped
}

func (a *Async) enqueue(kind string, deliver func()) {
	a.mu.RLock()
	if !a.closed {
		select {
		case a.queue <- deliver:
			a.mu.RUnlock()
			return
		default:
		}
	}
	a.mu.RUnlock()

	a.mu.Lock()
	a.dropped++
	a.mu.Unlock()
	log.WithField("type", kind).Debug("status queue full, report dropped")
}

func (a *Async) Status(ctx context.Context, state, msg string) {
	ctx = context.WithoutCancel(ctx)
	a.enqueue("status", func() { a.sink.Status(ctx, state, msg) })
}

func (a *Async) Action(ctx context.Context, action string, details map[string]any) {
	ctx = context.WithoutCancel(ctx)
	a.enqueue("action", func() { a.sink.Action(ctx, action, details) })
}

func (a *Async) Trading(ctx context.Context, u TradingUpdate) {
	ctx = context.WithoutCancel(ctx)
	a.enqueue("trading", func() { a.sink.Trading(ctx, u) })
}

func (a *Async) Heartbeat(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	a.enqueue("heartbeat", func() { a.sink.Heartbeat(ctx) })
}
