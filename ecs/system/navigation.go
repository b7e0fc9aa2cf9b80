package system

import (
	"log/slog"
	"math"

	"github.com/milk9111/drivesim/ecs"
	"github.com/milk9111/drivesim/ecs/component"
	"github.com/milk9111/drivesim/nav"
)

// ProbeSource hands out an obstacle probe for a vehicle.
type ProbeSource interface {
	Probe(exclude ecs.Entity) nav.ObstacleProbe
}

// NavigationSystem ticks every driver's navigator and stores the resulting
// motion command for the actuator.
type NavigationSystem struct {
	probes ProbeSource
	logger *slog.Logger
	bound  map[*nav.Navigator]ecs.Entity
}

func NewNavigationSystem(probes ProbeSource, logger *slog.Logger) *NavigationSystem {
	if logger == nil {
		logger = slog.Default()
	}
	return &NavigationSystem{
		probes: probes,
		logger: logger,
		bound:  make(map[*nav.Navigator]ecs.Entity),
	}
}

func (s *NavigationSystem) Update(w *ecs.World, dt float64) {
	if s == nil || w == nil {
		return
	}

	var clock *component.RaceClock
	if e, ok := ecs.First(w, component.RaceClockComponent.Kind()); ok {
		clock, _ = ecs.Get(w, e, component.RaceClockComponent.Kind())
	}

	ecs.ForEach2(w, component.DriverComponent.Kind(), component.TransformComponent.Kind(), func(e ecs.Entity, d *component.Driver, t *component.Transform) {
		if d.Nav == nil {
			return
		}
		s.bind(w, e, d.Nav)

		if !d.Started {
			if !d.AutoStart || !clock.Started() {
				d.Command = nav.MotionCommand{Stop: true}
				return
			}
			if err := d.Nav.Start(d.Path); err != nil {
				s.logger.Warn("navigation: start failed", "entity", e, "route", d.Route, "err", err)
				d.AutoStart = false
				return
			}
			d.Started = true
		}

		var probe nav.ObstacleProbe
		if s.probes != nil {
			probe = s.probes.Probe(e)
		}
		d.Command = d.Nav.Tick(t.Position, Forward(t.Yaw), dt, probe)
	})
}

// bind forwards a navigator's events into the world queue. Each navigator
// is subscribed once even when it moves between entities.
func (s *NavigationSystem) bind(w *ecs.World, e ecs.Entity, n *nav.Navigator) {
	if prev, ok := s.bound[n]; ok {
		if prev != e {
			s.bound[n] = e
		}
		return
	}
	s.bound[n] = e
	n.Subscribe(func(evt nav.Event) {
		owner := s.bound[n]
		s.logger.Debug("navigation: event", "entity", owner, "kind", evt.Kind, "index", evt.Index)
		w.Events().Push(ecs.Event{Type: ecs.EventNavigation, Entity: owner, Name: string(evt.Kind), Data: evt})
	})
}

// Forward is the ground-plane unit vector for yaw.
func Forward(yaw float64) nav.Vec3 {
	return nav.Vec3{X: math.Cos(yaw), Z: math.Sin(yaw)}
}
