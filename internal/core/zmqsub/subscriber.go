// Package zmqsub implements the push-path half of the dual-source watcher
// (§4.E): ZMQ SUB sockets against a Bitcoin node's hashtx/hashblock/rawtx/
// rawblock/sequence publishers.
//
// No retrieved repo uses a ZMQ library, so this is grounded on
// go-zeromq/zmq4 (the only pure-Go, cgo-free ZMQ binding) used the way the
// reference node's watcher mux package fans out push events: one
// goroutine per topic, a single channel of typed deltas to the caller.
package zmqsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"

	watchercfg "github.com/Chigala/bitcoin-pay/internal/config/watcher"
	logiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/log"
)

// Topic names match the reference node's zmqpubhashtx et al. publisher
// names.
const (
	topicHashTx    = "hashtx"
	topicHashBlock = "hashblock"
	topicRawTx     = "rawtx"
	topicRawBlock  = "rawblock"
	topicSequence  = "sequence"
)

// drainDeadline bounds how long graceful shutdown waits for a slow
// consumer to drain the in-memory backlog before giving up on it (§4.E).
const drainDeadline = 5 * time.Second

// Event is one push notification surfaced to the caller. Kind identifies
// which topic produced it; only the matching field is populated.
type Event struct {
	Kind string // one of the topic* constants
	Hash string // hex txid/blockhash, for hashtx/hashblock
	Raw  []byte // raw tx/block bytes, for rawtx/rawblock
}

// Subscriber owns one SUB socket per configured topic. Per §4.E, a
// topic whose port is unset is never dialed; if every port is unset the
// Subscriber is inert and Run returns immediately.
type Subscriber struct {
	cfg    watchercfg.ZMQConfig
	logger logiface.Logger
	events chan Event
	queue  *eventQueue
}

// New builds a Subscriber. Call Run to start receiving; Events returns the
// channel deltas are published on.
func New(cfg watchercfg.ZMQConfig, logger logiface.Logger) *Subscriber {
	return &Subscriber{cfg: cfg, logger: logger, events: make(chan Event), queue: newEventQueue()}
}

// Events returns the channel of push notifications. Closed when Run
// returns.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

type topicSpec struct {
	name string
	port int
}

// Run dials every configured topic and fans received messages into the
// Events channel until ctx is cancelled. It blocks until all topic
// goroutines exit and the backlog has been forwarded or the drain
// deadline has passed, then closes the channel.
func (s *Subscriber) Run(ctx context.Context) error {
	if s.cfg.Inert() {
		close(s.events)
		return nil
	}

	forwarderDone := make(chan struct{})
	go s.forward(ctx, forwarderDone)
	defer func() {
		s.queue.close()
		<-forwarderDone
		close(s.events)
	}()

	specs := []topicSpec{
		{topicHashTx, s.cfg.HashTxPort},
		{topicHashBlock, s.cfg.HashBlockPort},
		{topicRawTx, s.cfg.RawTxPort},
		{topicRawBlock, s.cfg.RawBlockPort},
		{topicSequence, s.cfg.SequencePort},
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(specs))

	for _, spec := range specs {
		if spec.port == 0 {
			continue
		}
		wg.Add(1)
		go func(spec topicSpec) {
			defer wg.Done()
			if err := s.runTopic(ctx, spec); err != nil {
				errCh <- fmt.Errorf("zmqsub: topic %s: %w", spec.name, err)
			}
		}(spec)
	}

	wg.Wait()
	close(errCh)

	var firstErr error
	for err := range errCh {
		if firstErr == nil {
			firstErr = err
		}
		s.logger.Error("zmq topic subscriber exited", logiface.F("error", err))
	}
	return firstErr
}

// forward drains the in-memory queue into the caller-facing Events
// channel. While the consumer keeps up this is a direct handoff; once ctx
// is cancelled and the consumer is slow, it switches to a deadline-bound
// flush of whatever is left in the queue (§4.E) rather than blocking
// shutdown forever.
func (s *Subscriber) forward(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		ev, ok := s.queue.pop()
		if !ok {
			return
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			s.drainWithDeadline(ev)
			return
		}
	}
}

// drainWithDeadline flushes first plus whatever remains queued, giving up
// once drainDeadline elapses so a permanently stuck consumer cannot hang
// shutdown indefinitely.
func (s *Subscriber) drainWithDeadline(first Event) {
	pending := append([]Event{first}, s.queue.drainAll()...)
	timeout := time.NewTimer(drainDeadline)
	defer timeout.Stop()

	for i, ev := range pending {
		select {
		case s.events <- ev:
		case <-timeout.C:
			s.logger.Warn("zmqsub: shutdown drain deadline exceeded, dropping remaining events",
				logiface.F("dropped", len(pending)-i))
			return
		}
	}
}

func (s *Subscriber) runTopic(ctx context.Context, spec topicSpec) error {
	sock := zmq4.NewSub(ctx)
	defer sock.Close()

	endpoint := fmt.Sprintf("tcp://%s:%d", s.cfg.Host, spec.port)
	if err := sock.Dial(endpoint); err != nil {
		return fmt.Errorf("dialing %s: %w", endpoint, err)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, spec.name); err != nil {
		return fmt.Errorf("subscribing %s: %w", spec.name, err)
	}

	s.logger.Info("zmq subscriber connected", logiface.F("topic", spec.name), logiface.F("endpoint", endpoint))

	for {
		msg, err := sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("recv: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		s.dispatch(spec.name, msg)
	}
}

// dispatch decodes a multipart ZMQ message (topic frame already consumed
// by the subscription filter at the transport level is not guaranteed by
// all node builds, so frame 0 is checked defensively) into a typed Event
// and queues it. Per §4.E there is no back-pressure here: a slow consumer
// makes the queue grow in process memory rather than dropping events.
func (s *Subscriber) dispatch(topic string, msg zmq4.Msg) {
	if len(msg.Frames) == 0 {
		return
	}
	body := msg.Frames[0]
	if len(msg.Frames) > 1 && string(msg.Frames[0]) == topic {
		body = msg.Frames[1]
	}

	var ev Event
	switch topic {
	case topicHashTx, topicHashBlock:
		ev = Event{Kind: topic, Hash: fmt.Sprintf("%x", reverseBytes(body))}
	case topicRawTx, topicRawBlock:
		ev = Event{Kind: topic, Raw: body}
	case topicSequence:
		ev = Event{Kind: topic, Raw: body}
	default:
		return
	}

	s.queue.push(ev)
}

// reverseBytes flips byte order: Bitcoin Core publishes hash{tx,block} in
// internal (little-endian) byte order, but every RPC and display
// convention in this gateway uses big-endian hex.
func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// eventQueue is an unbounded, mutex-guarded FIFO: push never blocks and
// never drops, matching §4.E's "no back-pressure" requirement for the
// push-path consumer.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Event
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, ev)
	q.cond.Signal()
}

// pop blocks until an item is available or the queue is closed and
// drained, in which case ok is false.
func (q *eventQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return Event{}, false
	}
	ev := q.items[0]
	q.items = q.items[1:]
	return ev, true
}

// drainAll returns and clears whatever is currently buffered, without
// waiting for more to arrive.
func (q *eventQueue) drainAll() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
