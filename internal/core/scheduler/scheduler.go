// Package scheduler implements the two cooperative periodic tasks from
// §4.H: a pending-payment poll (fanned out one work unit per intent) and
// an expiry sweep. Both are re-entrancy safe: a tick that is still
// running when the next one fires is skipped, never queued.
//
// Grounded on the reference node's cooperative ticker pair
// (internal/core/scheduler.go: a `time.Ticker` per task, each guarded by
// its own `atomic.Bool` "running" flag rather than a shared worker pool).
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	schedulercfg "github.com/Chigala/bitcoin-pay/internal/config/scheduler"
	"github.com/Chigala/bitcoin-pay/internal/core/infrastructure/metrics"
	"github.com/Chigala/bitcoin-pay/internal/core/intent"
	clockiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/clock"
	logiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/log"
	storageiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/storage"
	"github.com/Chigala/bitcoin-pay/pkg/types"
)

// Reconciler is the subset of reconciler.Reconciler the scheduler drives.
type Reconciler interface {
	Reconcile(ctx context.Context, txid string, confirmationsHint int) error
}

// AddressScanner is the pull path used when a pending intent has no known
// txid yet: ask RPC's listunspent or the indexer for transactions paying
// the intent's address.
type AddressScanner interface {
	ScanAddress(ctx context.Context, address string) (txids []string, err error)
}

// EventEmitter hands an event to the dispatcher (§4.J).
type EventEmitter interface {
	Emit(types.Event)
}

// Scheduler drives the two §4.H tasks.
type Scheduler struct {
	cfg        schedulercfg.Config
	store      storageiface.Core
	reconciler Reconciler
	scanner    AddressScanner
	machine    *intent.Machine
	emitter    EventEmitter
	clock      clockiface.Clock
	logger     logiface.Logger
	metrics    *metrics.Metrics

	pollRunning  atomic.Bool
	sweepRunning atomic.Bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Scheduler.
func New(cfg schedulercfg.Config, store storageiface.Core, reconciler Reconciler, scanner AddressScanner, machine *intent.Machine, emitter EventEmitter, clk clockiface.Clock, logger logiface.Logger) *Scheduler {
	return &Scheduler{
		cfg: cfg, store: store, reconciler: reconciler, scanner: scanner, machine: machine,
		emitter: emitter, clock: clk, logger: logger, stop: make(chan struct{}),
	}
}

// SetMetrics attaches the §12 observability collectors. Optional: left
// unset, every recording call below is a no-op.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Start launches both tickers as background goroutines. Stop must be
// called to release them.
func (s *Scheduler) Start() {
	s.wg.Add(2)
	go s.runTicker(s.cfg.PendingPollInterval, s.tickPendingPoll, &s.pollRunning)
	go s.runTicker(s.cfg.ExpirySweepInterval, s.tickExpirySweep, &s.sweepRunning)
}

// Stop signals both tickers to exit and waits for in-flight ticks to
// finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) runTicker(interval time.Duration, tick func(context.Context), running *atomic.Bool) {
	defer s.wg.Done()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if !running.CompareAndSwap(false, true) {
				s.logger.Warn("scheduler: skipping tick, previous one still running")
				continue
			}
			func() {
				defer running.Store(false)
				tick(context.Background())
			}()
		}
	}
}

// tickPendingPoll implements §4.H task 1: loads every pending|processing
// intent and, per intent, either reconciles the known txid or pulls new
// outputs by address. Errors are logged and swallowed per §7 ("scheduler
// ticks swallow all errors after logging; the next tick re-attempts
// idempotently").
func (s *Scheduler) tickPendingPoll(ctx context.Context) {
	if s.metrics != nil {
		start := s.clock.Now()
		defer func() {
			s.metrics.SchedulerTickSeconds.WithLabelValues("pending_poll").Observe(s.clock.Now().Sub(start).Seconds())
		}()
	}

	intents, err := s.store.ListIntentsByStatus(ctx, types.IntentPending, types.IntentProcessing)
	if err != nil {
		s.logger.Error("scheduler: listing pending intents failed", logiface.F("error", err))
		return
	}

	for _, in := range intents {
		if err := s.pollOne(ctx, in); err != nil {
			s.logger.Warn("scheduler: poll failed", logiface.F("intentId", in.ID), logiface.F("error", err))
		}
	}

	s.recordIntentsByStatus(ctx)
}

// recordIntentsByStatus refreshes the §12 gauge across every lifecycle
// status. Piggybacks on the pending-poll tick rather than its own ticker
// since the gauge only needs to be roughly current, not per-mutation.
func (s *Scheduler) recordIntentsByStatus(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	statuses := []types.IntentStatus{
		types.IntentPending, types.IntentProcessing, types.IntentConfirmed,
		types.IntentExpired, types.IntentFailed,
	}
	for _, status := range statuses {
		intents, err := s.store.ListIntentsByStatus(ctx, status)
		if err != nil {
			continue
		}
		s.metrics.IntentsByStatus.WithLabelValues(string(status)).Set(float64(len(intents)))
	}
}

// pollOne reconciles a single intent, returning the first error
// encountered so ScanNow (the forced, user-facing path) can surface it;
// the periodic tick instead logs and swallows it per §7.
func (s *Scheduler) pollOne(ctx context.Context, in *types.Intent) error {
	if in.AddressID == "" {
		return nil // ensureAssigned hasn't been called yet; nothing to watch
	}

	addr, err := s.store.GetAddressByID(ctx, in.AddressID)
	if err != nil {
		return err
	}

	if obs, err := s.store.LatestObservationForIntent(ctx, in.AddressID); err == nil {
		return s.reconciler.Reconcile(ctx, obs.Txid, obs.Confirmations)
	}

	txids, err := s.scanner.ScanAddress(ctx, addr.Address)
	if err != nil {
		return err
	}
	for _, txid := range txids {
		if err := s.reconciler.Reconcile(ctx, txid, 0); err != nil {
			return err
		}
	}
	return nil
}

// tickExpirySweep implements §4.H task 2: `status=pending AND
// expiresAt<now` transitions to expired.
func (s *Scheduler) tickExpirySweep(ctx context.Context) {
	if s.metrics != nil {
		start := s.clock.Now()
		defer func() {
			s.metrics.SchedulerTickSeconds.WithLabelValues("expiry_sweep").Observe(s.clock.Now().Sub(start).Seconds())
		}()
	}

	expirable, err := s.store.ListExpirable(ctx, s.clock.Now().Unix())
	if err != nil {
		s.logger.Error("scheduler: listing expirable intents failed", logiface.F("error", err))
		return
	}

	for _, in := range expirable {
		ev, err := s.machine.ApplyExpiry(ctx, in.ID)
		if err != nil {
			s.logger.Warn("scheduler: expiry failed", logiface.F("intentId", in.ID), logiface.F("error", err))
			continue
		}
		if ev != nil {
			s.emitter.Emit(*ev)
		}
	}
}

// ScanNow forces an immediate pull-path reconciliation for one intent,
// used by `scanForPayments` / `POST /scan/:id` (§4.I).
func (s *Scheduler) ScanNow(ctx context.Context, in *types.Intent) error {
	return s.pollOne(ctx, in)
}
