// Package orchestrator wires the planner, heater loop, and platform I/O
// together: one cooperative foreground goroutine running the input -> move
// -> heat -> platform order from §4.1, plus a separate timer-driven
// goroutine that steps the current DDA entry, mirroring the real
// firmware's main loop and step ISR.
package orchestrator

import (
	"context"
	"time"

	"motioncore/internal/dda"
	"motioncore/internal/heat"
	"motioncore/internal/move"
	"motioncore/internal/platform"
	"motioncore/internal/tool"
	"motioncore/pkg/log"
	"motioncore/pkg/metrics"
)

// Orchestrator runs the foreground pass and the stepping goroutine.
type Orchestrator struct {
	p    platform.Platform
	move *move.Move
	heat *heat.Heat
	tools *tool.List

	stopEvents chan stopRecord

	log     *log.Logger
	metrics *metrics.MotionMetrics

	idle time.Duration // foreground poll interval when there is nothing to do
}

type stopRecord struct {
	entry  *dda.Entry
	events []dda.StopEvent
}

// Config bundles the subsystems an Orchestrator drives.
type Config struct {
	Platform platform.Platform
	Move     *move.Move
	Heat     *heat.Heat
	Tools    *tool.List
	Metrics  *metrics.MotionMetrics
}

// New creates an Orchestrator over the given subsystems.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		p:          cfg.Platform,
		move:       cfg.Move,
		heat:       cfg.Heat,
		tools:      cfg.Tools,
		stopEvents: make(chan stopRecord, platform.DDARingLength),
		log:        log.New("orchestrator"),
		metrics:    cfg.Metrics,
		idle:       200 * time.Microsecond,
	}
}

// Run drives the foreground pass until ctx is cancelled: hand off/plan/
// ingest via Move, sample heaters via Heat, and apply any endstop events
// the stepping goroutine recorded. It never blocks longer than idle.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		now := o.p.Time()

		for drained := false; !drained; {
			select {
			case rec := <-o.stopEvents:
				o.move.HandleStops(rec.entry, rec.events)
			default:
				drained = true
			}
		}

		o.move.Spin(now)
		if o.heat.Spin(now) {
			o.move.PublishLiveCoordinates()
		}

		if o.metrics != nil {
			o.metrics.UpdateSystemMetrics()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(o.idle):
		}
	}
}

// RunISR drives the stepping goroutine until ctx is cancelled: while the
// DDA ring's head entry is active, call Step on it once per programmed
// interval and forward any endstop events to the foreground via
// stopEvents. It only ever reads dda.Entry fields that Step itself owns.
func (o *Orchestrator) RunISR(ctx context.Context) {
	ring := o.move.DDARing()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entry := ring.Current()
		if entry == nil || !entry.Active() {
			time.Sleep(time.Duration(platform.StandbyInterruptRate * float64(time.Second)))
			continue
		}

		result := entry.Step(o.p)
		if len(result.Stops) > 0 {
			select {
			case o.stopEvents <- stopRecord{entry: entry, events: result.Stops}:
			case <-ctx.Done():
				return
			}
		}

		if result.Done {
			continue
		}

		interval := time.Duration(entry.TimeStep * float64(time.Second))
		if interval <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
