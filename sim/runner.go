package sim

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/milk9111/drivesim/drivelog"
	"github.com/milk9111/drivesim/ecs"
	"github.com/milk9111/drivesim/routes"
	"github.com/milk9111/drivesim/telemetry"
)

// DefaultStep is the fixed simulation step in seconds.
const DefaultStep = 1.0 / 50

const (
	StatusCompleted = "completed"
	StatusTimeout   = "timeout"
	StatusCanceled  = "canceled"
)

// EventSink receives every world event in the order it was raised.
type EventSink func(tick uint64, simTime float64, evt ecs.Event)

// Result summarises a finished run.
type Result struct {
	RunID   int64
	Ticks   uint64
	Elapsed float64
	Status  string
	Events  int
}

// Runner drives a Sim at a fixed step and fans its output out to the
// optional recorders.
type Runner struct {
	Sim *Sim

	// Step is the fixed dt; zero means DefaultStep.
	Step float64
	// Duration caps simulated time; zero runs until every driver is done.
	Duration time.Duration
	// Realtime paces steps against the wall clock.
	Realtime bool
	// StateEvery publishes navigator snapshots every n steps; zero means 5.
	StateEvery int

	Logger  *slog.Logger
	Hub     *telemetry.Hub
	Log     *drivelog.SQLiteLog
	Trace   *drivelog.TraceWriter
	Watcher *routes.Watcher
	Sinks   []EventSink
}

// Run steps the simulation until it finishes, times out or ctx is done.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.Sim == nil {
		return Result{}, errors.New("sim: runner has no sim")
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dt := r.Step
	if dt <= 0 {
		dt = DefaultStep
	}
	stateEvery := uint64(r.StateEvery)
	if stateEvery == 0 {
		stateEvery = 5
	}
	limit := r.Duration.Seconds()

	var res Result
	if r.Log != nil {
		id, err := r.Log.BeginRun(ctx, r.Sim.Scene.Name)
		if err != nil {
			return res, err
		}
		res.RunID = id
	}

	var pace <-chan time.Time
	if r.Realtime {
		ticker := time.NewTicker(time.Duration(dt * float64(time.Second)))
		defer ticker.Stop()
		pace = ticker.C
	}

	var watch <-chan routes.Change
	if r.Watcher != nil {
		watch = r.Watcher.Events
	}

	logger.Info("sim: run", "scene", r.Sim.Scene.Name, "vehicles", len(r.Sim.Vehicles), "dt", dt, "limit", limit)

	status := StatusCompleted
loop:
	for {
		select {
		case <-ctx.Done():
			status = StatusCanceled
			break loop
		case change, ok := <-watch:
			if !ok {
				watch = nil
				continue
			}
			r.reload(logger, change)
			continue
		default:
		}

		if pace != nil {
			select {
			case <-ctx.Done():
				status = StatusCanceled
				break loop
			case <-pace:
			}
		}

		events := r.Sim.Step(dt)
		tick, now := r.Sim.Tick(), r.Sim.Time()
		res.Events += len(events)
		r.publish(logger, tick, now, events, res.RunID)
		r.sample(logger, tick, now, tick%stateEvery == 0)

		if r.Sim.Done() {
			status = StatusCompleted
			break
		}
		if limit > 0 && now >= limit {
			status = StatusTimeout
			break
		}
	}

	res.Ticks = r.Sim.Tick()
	res.Elapsed = r.Sim.Time()
	res.Status = status
	logger.Info("sim: run finished", "status", status, "ticks", res.Ticks, "elapsed", res.Elapsed, "events", res.Events)

	if r.Log != nil {
		// the run row is closed out even when ctx was canceled
		if err := r.Log.EndRun(context.WithoutCancel(ctx), res.RunID, res.Ticks, res.Elapsed, status); err != nil {
			return res, err
		}
	}
	if status == StatusCanceled {
		return res, ctx.Err()
	}
	return res, nil
}

func (r *Runner) publish(logger *slog.Logger, tick uint64, now float64, events []ecs.Event, runID int64) {
	for _, evt := range events {
		logger.Debug("sim: event", "tick", tick, "type", evt.Type, "entity", evt.Entity, "name", evt.Name)
		if r.Hub != nil {
			r.Hub.PublishEvent(tick, now, evt)
		}
		if r.Log != nil {
			r.Log.WriteEvent(runID, tick, now, evt)
		}
		for _, sink := range r.Sinks {
			sink(tick, now, evt)
		}
	}
}

func (r *Runner) sample(logger *slog.Logger, tick uint64, now float64, publishState bool) {
	if r.Trace == nil && (r.Hub == nil || !publishState) {
		return
	}
	for _, st := range r.Sim.States() {
		if r.Hub != nil && publishState {
			r.Hub.PublishState(tick, now, st.Vehicle.Entity, st.Vehicle.Name, st.Nav)
		}
		if r.Trace == nil {
			continue
		}
		err := r.Trace.Write(drivelog.Sample{
			Tick:    tick,
			Time:    now,
			Entity:  uint64(st.Vehicle.Entity),
			Vehicle: st.Vehicle.Name,
			Pos:     st.Transform.Position,
			Yaw:     st.Transform.Yaw,
			Speed:   st.Nav.CurrentSpeed,
			Index:   st.Nav.CurrentIndex,
			Mode:    st.Nav.Mode.String(),
			Reverse: st.Command.Reverse,
			Blocked: st.Nav.Blocked,
		})
		if err != nil {
			logger.Warn("sim: trace write failed", "path", r.Trace.Path(), "err", err)
			r.Trace = nil
			return
		}
	}
}

func (r *Runner) reload(logger *slog.Logger, change routes.Change) {
	switch change.Kind {
	case routes.ChangeScript:
		r.Sim.Scripts.Invalidate(change.Name)
		logger.Info("sim: script changed", "name", change.Name)
	case routes.ChangeRoute:
		n, err := r.Sim.ReloadRoute(change.Name)
		if err != nil {
			logger.Warn("sim: route reload failed", "name", change.Name, "err", err)
			return
		}
		logger.Info("sim: route changed", "name", change.Name, "drivers", n)
	case routes.ChangeScene:
		logger.Info("sim: scene changed; restart the run to apply", "name", change.Name)
	}
}
