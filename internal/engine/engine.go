// Package engine wires the ingestion pipeline: validated events flow through
// a worker pool into the subject state store and the aggregation window, and
// relevant state changes trigger zone re-evaluation and viewer fan-out.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Morgan141414/ViewPersonal/internal/compliance"
	"github.com/Morgan141414/ViewPersonal/internal/config"
	"github.com/Morgan141414/ViewPersonal/internal/event"
	"github.com/Morgan141414/ViewPersonal/internal/hub"
	"github.com/Morgan141414/ViewPersonal/internal/insight"
	"github.com/Morgan141414/ViewPersonal/internal/metrics"
	"github.com/Morgan141414/ViewPersonal/internal/state"
)

// PresenceUpdate is the presence.event frame payload. Ingested events and
// sweep-generated away transitions publish the same shape, so viewers decode
// one schema per message type.
type PresenceUpdate struct {
	Subject  string       `json:"subject"`
	Status   event.Status `json:"status"`
	Previous event.Status `json:"previous_status,omitempty"`
	Zone     string       `json:"zone,omitempty"`
	SourceID string       `json:"source_id,omitempty"`
	TS       time.Time    `json:"ts"`
}

// Result is the outcome of processing a single event.
type Result struct {
	EventID      string       `json:"event_id"`
	Duplicate    bool         `json:"duplicate"`
	Status       event.Status `json:"status"`
	Zone         string       `json:"zone,omitempty"`
	StateChanged bool         `json:"state_changed"`
	DurationMs   int64        `json:"duration_ms"`
}

type eventWork struct {
	ev      *event.Event
	resultC chan *Result
}

// Engine processes events and runs the background staleness sweep and the
// periodic compliance re-evaluation.
type Engine struct {
	store   *state.Store
	comp    *compliance.Evaluator
	window  *insight.Window
	recent  *insight.Recent
	hub     *hub.Hub
	pool    *workerPool[*eventWork]
	conf    config.EngineConf
	maxSkew time.Duration
	log     *slog.Logger
}

// New creates an Engine, starts its worker pool, and launches the sweep and
// compliance loops. They stop when ctx is cancelled.
func New(ctx context.Context, store *state.Store, comp *compliance.Evaluator, window *insight.Window, recent *insight.Recent, h *hub.Hub, conf config.EngineConf, maxSkew time.Duration, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		store:   store,
		comp:    comp,
		window:  window,
		recent:  recent,
		hub:     h,
		conf:    conf,
		maxSkew: maxSkew,
		log:     log,
	}
	e.pool = newWorkerPool[*eventWork](ctx, conf.EventWorkers, conf.QueueDepth, func(ctx context.Context, w *eventWork) {
		res := e.processEvent(w.ev)
		if w.resultC != nil {
			w.resultC <- res
		}
	})

	// Floor the intervals: time.NewTicker panics on non-positive durations,
	// and callers constructing EngineConf directly bypass the config defaults.
	sweepEvery := time.Duration(conf.SweepIntervalSec) * time.Second
	if sweepEvery <= 0 {
		sweepEvery = 5 * time.Second
	}
	complianceEvery := time.Duration(conf.ComplianceIntervalS) * time.Second
	if complianceEvery <= 0 {
		complianceEvery = 10 * time.Second
	}
	go e.sweepLoop(ctx, sweepEvery)
	go e.complianceLoop(ctx, complianceEvery)
	return e
}

// Validate applies the envelope contract with the engine's skew bound.
func (e *Engine) Validate(ev *event.Event) error {
	return event.Validate(ev, time.Now().UTC(), e.maxSkew)
}

// ProcessSync validates and processes an event, waiting for the result with
// a bounded deadline. A pipeline stall is retried once (de-duplication makes
// resubmission safe) before surfacing ErrProcessingTimeout.
func (e *Engine) ProcessSync(ctx context.Context, ev *event.Event) (*Result, error) {
	if err := e.Validate(ev); err != nil {
		return nil, err
	}

	timeout := time.Duration(e.conf.EventTimeoutMs) * time.Millisecond
	for attempt := 0; attempt < 2; attempt++ {
		resultC := make(chan *Result, 1)
		if !e.pool.Submit(&eventWork{ev: ev, resultC: resultC}) {
			metrics.EventsDropped.Inc()
			return nil, fmt.Errorf("event queue full (capacity %d)", e.conf.QueueDepth)
		}
		metrics.QueueUtilization.Set(e.QueueUtilization())
		timer := time.NewTimer(timeout)
		select {
		case res := <-resultC:
			timer.Stop()
			return res, nil
		case <-timer.C:
			continue
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, event.ErrProcessingTimeout
}

// ProcessAsync validates and enqueues an event for background processing.
// Returns false when the event is invalid or the queue is full.
func (e *Engine) ProcessAsync(ev *event.Event) bool {
	if err := e.Validate(ev); err != nil {
		metrics.ValidationFailures.WithLabelValues(reason(err)).Inc()
		return false
	}
	if !e.pool.Submit(&eventWork{ev: ev}) {
		metrics.EventsDropped.Inc()
		return false
	}
	metrics.QueueUtilization.Set(e.QueueUtilization())
	return true
}

func reason(err error) string {
	switch {
	case errors.Is(err, event.ErrUnknownEventType):
		return "unknown_event_type"
	case errors.Is(err, event.ErrClockSkewRejected):
		return "clock_skew"
	default:
		return "malformed"
	}
}

// processEvent is the single pipeline stage: state apply, aggregation,
// compliance re-evaluation, viewer fan-out.
func (e *Engine) processEvent(ev *event.Event) *Result {
	start := time.Now()
	now := start.UTC()

	zone := e.comp.ZoneFor(ev)
	change, dup := e.store.Apply(ev, zone)

	res := &Result{EventID: ev.ID, Zone: zone}
	if dup {
		metrics.DuplicateEvents.Inc()
		res.Duplicate = true
		res.DurationMs = time.Since(start).Milliseconds()
		return res
	}

	metrics.EventsIngested.WithLabelValues(string(ev.Type)).Inc()
	res.Status = ev.DeriveStatus()

	// Older-than-current events still count toward history.
	e.window.Record(res.Status, zone, ev.SourceID, ev.TS, now)
	e.recent.Add(ev)

	upd := PresenceUpdate{
		Subject:  ev.Subject(),
		Status:   res.Status,
		Zone:     zone,
		SourceID: ev.SourceID,
		TS:       ev.TS,
	}
	if change != nil {
		upd.Previous = change.Previous
	}
	e.hub.Publish(hub.NewMessage(hub.TypePresenceEvent, upd))

	if change != nil {
		res.StateChanged = true
		metrics.StateChanges.WithLabelValues(string(change.New)).Inc()
		if change.Zone != "" {
			e.evaluateAndNotify(change.Zone, now)
		}
		// A zone move also changes the staffing of the vacated zone; do not
		// leave its verdict stale until the periodic loop.
		if change.PrevZone != "" && change.PrevZone != change.Zone {
			e.evaluateAndNotify(change.PrevZone, now)
		}
	}

	res.DurationMs = time.Since(start).Milliseconds()
	metrics.EventProcessingDuration.Observe(float64(res.DurationMs))
	return res
}

func (e *Engine) evaluateAndNotify(zone string, now time.Time) {
	snap, changed := e.comp.EvaluateZone(zone, now)
	if changed {
		metrics.ZoneTransitions.WithLabelValues(string(snap.State)).Inc()
		e.hub.Publish(hub.NewMessage(hub.TypeComplianceZone, snap))
	}
}

// sweepLoop proactively transitions stale subjects to away and notifies
// viewers. It runs at a coarse interval; the read path applies the same rule
// lazily, so correctness does not depend on sweep frequency.
func (e *Engine) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepOnce(time.Now().UTC())
		}
	}
}

func (e *Engine) sweepOnce(now time.Time) {
	for _, ch := range e.store.Sweep(now) {
		metrics.StateChanges.WithLabelValues(string(ch.New)).Inc()
		e.hub.Publish(hub.NewMessage(hub.TypePresenceEvent, PresenceUpdate{
			Subject:  ch.Subject,
			Status:   ch.New,
			Previous: ch.Previous,
			Zone:     ch.Zone,
			TS:       ch.TS,
		}))
		if ch.Zone != "" {
			e.evaluateAndNotify(ch.Zone, now)
		}
	}
}

// complianceLoop periodically re-evaluates every regulated zone, catching
// violations that no subject event would trigger (nobody present), and
// refreshes viewers with a full snapshot.
func (e *Engine) complianceLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			all, transitions := e.comp.EvaluateAll(now)
			for _, snap := range transitions {
				metrics.ZoneTransitions.WithLabelValues(string(snap.State)).Inc()
				e.hub.Publish(hub.NewMessage(hub.TypeComplianceZone, snap))
			}
			e.hub.Publish(hub.NewMessage(hub.TypeComplianceZones, all))
		}
	}
}

// QueueUtilization returns queue used / capacity (0-1).
func (e *Engine) QueueUtilization() float64 {
	if e.pool.QueueCap() == 0 {
		return 0
	}
	return float64(e.pool.QueueLen()) / float64(e.pool.QueueCap())
}

// Shutdown drains the worker pool gracefully.
func (e *Engine) Shutdown() {
	e.pool.Drain()
}
