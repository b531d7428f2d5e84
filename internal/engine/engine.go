// Package engine runs the event-processing pipeline: one event is fully
// applied to the session and queue tables before the next is accepted,
// while reconciliation, billing and broadcasting run on the side and only
// ever see value copies.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/callwatch/callwatch/internal/ami"
	"github.com/callwatch/callwatch/internal/billing"
	"github.com/callwatch/callwatch/internal/event"
	"github.com/callwatch/callwatch/internal/queuestats"
	"github.com/callwatch/callwatch/internal/reconcile"
	"github.com/callwatch/callwatch/internal/session"
	"github.com/callwatch/callwatch/internal/snapshot"
)

// Refresher asks the event source to re-emit current queue state.
type Refresher interface {
	RequestQueueSnapshot(ctx context.Context) error
}

// Config sets pipeline timings and sizes. Zero values get defaults.
type Config struct {
	BroadcastInterval    time.Duration
	QueueRefreshInterval time.Duration
	EventBuffer          int
	ReconcileBuffer      int
}

func (c Config) withDefaults() Config {
	out := c
	if out.BroadcastInterval <= 0 {
		out.BroadcastInterval = 10 * time.Second
	}
	if out.QueueRefreshInterval <= 0 {
		out.QueueRefreshInterval = 30 * time.Second
	}
	if out.EventBuffer <= 0 {
		out.EventBuffer = 256
	}
	if out.ReconcileBuffer <= 0 {
		out.ReconcileBuffer = 64
	}
	return out
}

// reconcileTimeout bounds each durable write during drain and shutdown.
const reconcileTimeout = 10 * time.Second

// Engine owns the state tables and the pipeline goroutines.
type Engine struct {
	cfg Config

	mu      sync.RWMutex
	tracker *session.Tracker
	queues  *queuestats.Aggregator

	reconciler *reconcile.Reconciler
	billing    *billing.Service
	refresher  Refresher

	broadcaster *snapshot.Broadcaster

	events       chan ami.Event
	terminations chan session.Termination
}

// New creates an Engine. billing and refresher may be nil when those
// collaborators are not wired.
func New(cfg Config, reconciler *reconcile.Reconciler, billingSvc *billing.Service, refresher Refresher, opts ...session.Option) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:          cfg,
		tracker:      session.New(opts...),
		queues:       queuestats.New(),
		reconciler:   reconciler,
		billing:      billingSvc,
		refresher:    refresher,
		events:       make(chan ami.Event, cfg.EventBuffer),
		terminations: make(chan session.Termination, cfg.ReconcileBuffer),
	}
}

// AttachBroadcaster wires the snapshot broadcaster. Must be called before
// Run; it is separate from New because the snapshot builder reads state
// through the engine itself.
func (e *Engine) AttachBroadcaster(b *snapshot.Broadcaster) {
	e.broadcaster = b
}

// Submit hands one raw event to the pipeline in delivery order. Blocks
// when the pipeline is saturated so ordering is never sacrificed.
func (e *Engine) Submit(raw ami.Event) {
	e.events <- raw
}

// ActiveCalls returns value copies of the live call table.
func (e *Engine) ActiveCalls() []session.Call {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tracker.Active()
}

// QueueStats returns value copies of the queue state table.
func (e *Engine) QueueStats() map[string]queuestats.Queue {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.queues.Queues()
}

// Run processes events until ctx is cancelled, then drains pending
// reconciliations before returning. The periodic timers stop with ctx as
// a unit.
func (e *Engine) Run(ctx context.Context) error {
	sched := cron.New()
	if e.broadcaster != nil {
		sched.Schedule(cron.Every(e.cfg.BroadcastInterval), cron.FuncJob(e.broadcaster.Trigger))
	}
	if e.refresher != nil {
		sched.Schedule(cron.Every(e.cfg.QueueRefreshInterval), cron.FuncJob(e.requestQueueRefresh))
	}
	sched.Start()
	defer sched.Stop()

	var wg sync.WaitGroup

	if e.broadcaster != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.broadcaster.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.reconcileWorker()
	}()

	for {
		select {
		case <-ctx.Done():
			close(e.terminations)
			wg.Wait()
			return nil
		case raw := <-e.events:
			e.apply(raw)
		}
	}
}

// apply normalizes and applies one event, then kicks off side effects.
// Runs only on the Run goroutine; the write lock is for readers.
func (e *Engine) apply(raw ami.Event) {
	ev := event.Normalize(raw)
	if ev == nil {
		return
	}

	e.mu.Lock()
	term, sessionChanged := e.tracker.OnEvent(ev)
	queueChanged := e.queues.OnEvent(ev)
	e.mu.Unlock()

	if term != nil {
		select {
		case e.terminations <- *term:
		default:
			// the worker is wedged on a slow store; losing this call from
			// history beats stalling the pipeline
			log.Error().Str("unique_id", term.Call.ID).Msg("reconcile queue full, completion lost")
		}
	}

	if (sessionChanged || queueChanged) && e.broadcaster != nil {
		e.broadcaster.Trigger()
	}
}

// reconcileWorker consumes terminations until the channel closes,
// reconciling each and handing billable completions to billing.
func (e *Engine) reconcileWorker() {
	for term := range e.terminations {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)

		rec, err := e.reconciler.Reconcile(ctx, term)
		if err == nil && e.billing != nil {
			e.billing.MaybeBill(ctx, rec, term.Call)
		}
		cancel()

		if e.broadcaster != nil {
			e.broadcaster.Trigger()
		}
	}
}

func (e *Engine) requestQueueRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.refresher.RequestQueueSnapshot(ctx); err != nil {
		// stale queue data is acceptable, the next tick retries
		log.Warn().Err(err).Msg("queue snapshot refresh request failed")
	}
}
