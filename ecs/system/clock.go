package system

import (
	"log/slog"

	"github.com/milk9111/drivesim/ecs"
	"github.com/milk9111/drivesim/ecs/component"
)

const (
	ClockCountdown = "countdown"
	ClockGo        = "go"
	ClockFinished  = "finished"
)

// ClockSystem runs the race clock: a whole-second countdown, then elapsed
// time until every started driver has stopped.
type ClockSystem struct {
	logger *slog.Logger
}

func NewClockSystem(logger *slog.Logger) *ClockSystem {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClockSystem{logger: logger}
}

func (s *ClockSystem) Update(w *ecs.World, dt float64) {
	if w == nil {
		return
	}
	e, ok := ecs.First(w, component.RaceClockComponent.Kind())
	if !ok {
		return
	}
	clock, _ := ecs.Get(w, e, component.RaceClockComponent.Kind())
	if clock.Finished {
		return
	}

	if clock.Countdown > 0 {
		clock.DelayTimer += dt
		if clock.DelayTimer < 1 {
			return
		}
		clock.Countdown--
		clock.DelayTimer = 0
		w.Events().Push(ecs.Event{Type: ecs.EventClock, Entity: e, Name: ClockCountdown, Data: clock.Countdown})
		if clock.Countdown > 0 {
			return
		}
	}

	if !clock.Running {
		clock.Running = true
		w.Events().Push(ecs.Event{Type: ecs.EventClock, Entity: e, Name: ClockGo})
		s.logger.Info("clock: go")
		return
	}

	clock.Elapsed += dt
	if !driversDone(w) {
		return
	}
	clock.Running = false
	clock.Finished = true
	s.logger.Info("clock: finished", "elapsed", clock.Elapsed)
	w.Events().Push(ecs.Event{Type: ecs.EventClock, Entity: e, Name: ClockFinished, Data: clock.Elapsed})
}

func driversDone(w *ecs.World) bool {
	started, active := 0, 0
	ecs.ForEach(w, component.DriverComponent.Kind(), func(_ ecs.Entity, d *component.Driver) {
		if !d.Started || d.Nav == nil {
			return
		}
		started++
		if d.Nav.Active() {
			active++
		}
	})
	return started > 0 && active == 0
}
