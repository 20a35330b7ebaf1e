// Package events implements the dispatcher from §4.J: per-intent
// serialized delivery, cross-intent concurrency, callback failures
// caught and logged but never allowed to roll back a state transition.
//
// Grounded on the reference node's subscription hub (internal/events):
// one worker goroutine per subscription key, fed by a buffered channel,
// so slow or panicking handlers for one intent never block another.
package events

import (
	"sync"

	logiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/log"
	"github.com/Chigala/bitcoin-pay/pkg/types"
)

// Handler processes one event. It must not assume exclusive access to
// anything beyond what it's given; the dispatcher may run handlers for
// different intents concurrently.
type Handler func(types.Event)

// Dispatcher fans events out to registered handlers, one serialized
// worker queue per intent ID.
type Dispatcher struct {
	mu       sync.Mutex
	queues   map[string]chan types.Event
	handlers []Handler
	logger   logiface.Logger
	wg       sync.WaitGroup
	queueLen int
}

// New builds a Dispatcher. queueLen bounds the per-intent backlog; a full
// queue means Emit drops the event and logs — callers already design
// around at-most-once-across-a-crash (§4.J), and the scheduler's next
// reconciliation pass re-derives state.
func New(logger logiface.Logger, queueLen int, handlers ...Handler) *Dispatcher {
	if queueLen <= 0 {
		queueLen = 32
	}
	return &Dispatcher{
		queues:   make(map[string]chan types.Event),
		handlers: handlers,
		logger:   logger,
		queueLen: queueLen,
	}
}

// Emit enqueues ev for delivery. Per-intent ordering is preserved;
// different intents' queues drain concurrently.
func (d *Dispatcher) Emit(ev types.Event) {
	d.mu.Lock()
	q, ok := d.queues[ev.Intent.ID]
	if !ok {
		q = make(chan types.Event, d.queueLen)
		d.queues[ev.Intent.ID] = q
		d.wg.Add(1)
		go d.drain(ev.Intent.ID, q)
	}
	d.mu.Unlock()

	select {
	case q <- ev:
	default:
		d.logger.Warn("events: queue full, dropping event",
			logiface.F("intentId", ev.Intent.ID), logiface.F("kind", ev.Kind))
	}
}

func (d *Dispatcher) drain(intentID string, q chan types.Event) {
	defer d.wg.Done()
	for ev := range q {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev types.Event) {
	for _, h := range d.handlers {
		d.invoke(h, ev)
	}
}

// invoke calls h, recovering a panic so one misbehaving handler can never
// take down the dispatcher or mask the state transition it's reporting.
func (d *Dispatcher) invoke(h Handler, ev types.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("events: handler panicked",
				logiface.F("intentId", ev.Intent.ID), logiface.F("kind", ev.Kind), logiface.F("panic", r))
		}
	}()
	h(ev)
}

// Close closes every per-intent queue created so far and blocks until
// every worker has finished its backlog, for graceful shutdown. It does
// not stop later Emit calls: an event for a new intent starts a fresh
// queue, and an event for an intent whose queue was closed panics.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
