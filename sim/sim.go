// Package sim assembles a scene into an ECS world and advances it in fixed
// steps.
//
// Systems run in this order each step: physics, triggers, clock, navigation,
// actuator, steering wheel. Navigation therefore sees the pose produced by
// the previous physics step, and the actuator applies its command before the
// next one.
package sim

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/milk9111/drivesim/ecs"
	"github.com/milk9111/drivesim/ecs/component"
	"github.com/milk9111/drivesim/ecs/system"
	"github.com/milk9111/drivesim/nav"
	"github.com/milk9111/drivesim/routes"
	"github.com/milk9111/drivesim/script"
)

// RouteLoader resolves a route name to a validated route document.
type RouteLoader func(name string) (*routes.RouteSpec, error)

// Options overrides the document sources and logger used by Build. Zero
// fields use the routes package and slog.Default.
type Options struct {
	Logger  *slog.Logger
	Routes  RouteLoader
	Scripts script.Loader
}

// Vehicle is a scene vehicle and the entity it was built into.
type Vehicle struct {
	Entity ecs.Entity
	Name   string
	Route  string
}

// Sim is a built scene ready to step.
type Sim struct {
	Scene    *routes.SceneSpec
	World    *ecs.World
	Vehicles []Vehicle
	Triggers map[string]ecs.Entity
	Clock    ecs.Entity

	Physics *system.PhysicsSystem
	Trigger *system.TriggerSystem
	Scripts *script.Runtime

	scheduler *ecs.Scheduler
	loadRoute RouteLoader
	logger    *slog.Logger

	tick uint64
	time float64
}

// Build creates the world for scene. Every referenced route must load and
// validate.
func Build(scene *routes.SceneSpec, opts Options) (*Sim, error) {
	if scene == nil {
		return nil, fmt.Errorf("sim: nil scene")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loadRoute := opts.Routes
	if loadRoute == nil {
		loadRoute = routes.LoadRoute
	}
	loadScript := opts.Scripts
	if loadScript == nil {
		loadScript = routes.LoadScript
	}

	w := ecs.NewWorld()
	physics := system.NewPhysicsSystem()
	scripts := script.NewRuntime(loadScript)
	triggers := system.NewTriggerSystem(physics, scripts, logger)

	s := &Sim{
		Scene:     scene,
		World:     w,
		Triggers:  make(map[string]ecs.Entity),
		Physics:   physics,
		Trigger:   triggers,
		Scripts:   scripts,
		loadRoute: loadRoute,
		logger:    logger,
		scheduler: ecs.NewScheduler(
			physics,
			triggers,
			system.NewClockSystem(logger),
			system.NewNavigationSystem(physics, logger),
			system.NewActuatorSystem(),
			system.NewSteeringWheelSystem(),
		),
	}

	if scene.Clock != nil {
		s.Clock = ecs.CreateEntity(w)
		if err := ecs.Add(w, s.Clock, component.RaceClockComponent.Kind(), &component.RaceClock{Countdown: scene.Clock.Countdown}); err != nil {
			return nil, fmt.Errorf("sim: clock: %w", err)
		}
	}

	for _, spec := range scene.Vehicles {
		v, err := s.addVehicle(spec)
		if err != nil {
			return nil, err
		}
		s.Vehicles = append(s.Vehicles, v)
	}
	for _, spec := range scene.Obstacles {
		if err := s.addObstacle(spec); err != nil {
			return nil, err
		}
	}
	for _, spec := range scene.Triggers {
		if _, dup := s.Triggers[spec.Name]; dup {
			return nil, fmt.Errorf("sim: duplicate trigger %q", spec.Name)
		}
		e, err := s.addTrigger(spec)
		if err != nil {
			return nil, err
		}
		s.Triggers[spec.Name] = e
	}

	return s, nil
}

func (s *Sim) addVehicle(spec routes.VehicleSpec) (Vehicle, error) {
	cfg, err := spec.NavConfig()
	if err != nil {
		return Vehicle{}, err
	}
	route, err := s.loadRoute(spec.Route)
	if err != nil {
		return Vehicle{}, fmt.Errorf("sim: vehicle %s: %w", spec.Name, err)
	}

	w := s.World
	e := ecs.CreateEntity(w)
	tag := spec.Tag
	if tag == "" {
		tag = "Car"
	}

	if err := addAll(w, e,
		func() error {
			return ecs.Add(w, e, component.TransformComponent.Kind(), &component.Transform{Position: spec.Position, Yaw: spec.Yaw()})
		},
		func() error {
			return ecs.Add(w, e, component.VehicleComponent.Kind(), &component.Vehicle{
				TurnSpeed: cfg.TurnSpeed,
				Width:     spec.Width,
				Length:    spec.Length,
				Mass:      spec.Mass,
			})
		},
		func() error {
			return ecs.Add(w, e, component.TagComponent.Kind(), &component.Tag{Name: tag})
		},
		func() error {
			return ecs.Add(w, e, component.DriverComponent.Kind(), &component.Driver{
				Nav:       nav.New(cfg),
				Route:     spec.Route,
				Path:      route.Path(),
				AutoStart: spec.AutoStarts(),
			})
		},
	); err != nil {
		return Vehicle{}, fmt.Errorf("sim: vehicle %s: %w", spec.Name, err)
	}

	if ws := spec.SteeringWheel; ws != nil {
		wheel := &component.SteeringWheel{
			MaxAngle:           ws.MaxAngle,
			SteeringSpeed:      ws.SteeringSpeed,
			ReturnSpeed:        ws.ReturnSpeed,
			AngularSensitivity: ws.AngularSensitivity,
			DeadZone:           ws.DeadZone,
			Smooth:             ws.Smooth == nil || *ws.Smooth,
		}
		if err := ecs.Add(w, e, component.SteeringWheelComponent.Kind(), wheel); err != nil {
			return Vehicle{}, fmt.Errorf("sim: vehicle %s steering wheel: %w", spec.Name, err)
		}
	}

	s.logger.Debug("sim: vehicle", "entity", e, "name", spec.Name, "route", spec.Route, "waypoints", len(route.Waypoints))
	return Vehicle{Entity: e, Name: spec.Name, Route: spec.Route}, nil
}

func (s *Sim) addObstacle(spec routes.ObstacleSpec) error {
	w := s.World
	e := ecs.CreateEntity(w)
	return addAll(w, e,
		func() error {
			return ecs.Add(w, e, component.TransformComponent.Kind(), &component.Transform{Position: spec.Position})
		},
		func() error {
			return ecs.Add(w, e, component.ObstacleComponent.Kind(), &component.Obstacle{Width: spec.Width, Depth: spec.Depth})
		},
	)
}

func (s *Sim) addTrigger(spec routes.TriggerSpec) (ecs.Entity, error) {
	w := s.World
	e := ecs.CreateEntity(w)
	err := addAll(w, e,
		func() error {
			return ecs.Add(w, e, component.TransformComponent.Kind(), &component.Transform{Position: spec.Position})
		},
		func() error {
			return ecs.Add(w, e, component.TriggerComponent.Kind(), &component.Trigger{
				Name:      spec.Name,
				Width:     spec.Width,
				Depth:     spec.Depth,
				Once:      spec.FiresOnce(),
				ValidTags: spec.ValidTags,
				Script:    spec.Script,
			})
		},
	)
	if err != nil {
		return 0, fmt.Errorf("sim: trigger %s: %w", spec.Name, err)
	}
	return e, nil
}

// addAll runs each add and destroys e on the first failure.
func addAll(w *ecs.World, e ecs.Entity, adds ...func() error) error {
	for _, add := range adds {
		if err := add(); err != nil {
			ecs.DestroyEntity(w, e)
			return err
		}
	}
	return nil
}

// Step advances the world by dt and returns the events raised during it.
func (s *Sim) Step(dt float64) []ecs.Event {
	s.tick++
	s.time += dt
	return s.scheduler.Update(s.World, dt)
}

func (s *Sim) Tick() uint64 {
	return s.tick
}

// Time is the simulated seconds elapsed.
func (s *Sim) Time() float64 {
	return s.time
}

// Done reports whether no driver has anything left to do: every driver that
// will start has started and its navigator has gone inactive.
func (s *Sim) Done() bool {
	done := true
	ecs.ForEach(s.World, component.DriverComponent.Kind(), func(_ ecs.Entity, d *component.Driver) {
		if d.Nav == nil {
			return
		}
		if !d.Started {
			if d.AutoStart {
				done = false
			}
			return
		}
		if d.Nav.Active() {
			done = false
		}
	})
	return done
}

// Driver returns the driver of the named vehicle.
func (s *Sim) Driver(name string) (*component.Driver, bool) {
	v, ok := s.vehicle(name)
	if !ok {
		return nil, false
	}
	return ecs.Get(s.World, v.Entity, component.DriverComponent.Kind())
}

// Transform returns the pose of the named vehicle.
func (s *Sim) Transform(name string) (*component.Transform, bool) {
	v, ok := s.vehicle(name)
	if !ok {
		return nil, false
	}
	return ecs.Get(s.World, v.Entity, component.TransformComponent.Kind())
}

func (s *Sim) vehicle(name string) (Vehicle, bool) {
	for _, v := range s.Vehicles {
		if v.Name == name {
			return v, true
		}
	}
	return Vehicle{}, false
}

// Start begins navigation for the named vehicle by hand, for vehicles that
// do not auto start. The race clock is not consulted.
func (s *Sim) Start(name string) error {
	v, ok := s.vehicle(name)
	if !ok {
		return fmt.Errorf("sim: unknown vehicle %q", name)
	}
	d, ok := ecs.Get(s.World, v.Entity, component.DriverComponent.Kind())
	if !ok || d.Nav == nil ||
		!ecs.Has(s.World, v.Entity, component.TransformComponent.Kind()) ||
		!ecs.Has(s.World, v.Entity, component.VehicleComponent.Kind()) {
		// no pose source or actuator to drive
		return fmt.Errorf("sim: start %s: %w", name, nav.ErrMissingCollaborator)
	}
	if err := d.Nav.Start(d.Path); err != nil {
		return fmt.Errorf("sim: start %s: %w", name, err)
	}
	d.Started = true
	return nil
}

// FireTrigger fires the named trigger as if by hand.
func (s *Sim) FireTrigger(name string) bool {
	e, ok := s.Triggers[name]
	if !ok {
		return false
	}
	return s.Trigger.Fire(s.World, e)
}

// ResetTrigger re-arms the named trigger.
func (s *Sim) ResetTrigger(name string) bool {
	e, ok := s.Triggers[name]
	if !ok {
		return false
	}
	return s.Trigger.Reset(s.World, e)
}

// ReloadRoute reloads a route document and swaps its waypoints into every
// driver following it. Navigators keep their progress and re-read their
// current waypoint; one that is now past the end finishes or wraps on its
// next tick.
func (s *Sim) ReloadRoute(name string) (int, error) {
	route, err := s.loadRoute(name)
	if err != nil {
		return 0, err
	}
	updated := 0
	ecs.ForEach(s.World, component.DriverComponent.Kind(), func(e ecs.Entity, d *component.Driver) {
		if d.Route != name {
			return
		}
		fresh := route.Path()
		if d.Path == nil {
			d.Path = fresh
		} else {
			d.Path.Loop = fresh.Loop
			d.Path.Waypoints = fresh.Waypoints
		}
		if d.Nav != nil {
			d.Nav.Retarget()
		}
		updated++
		s.logger.Info("sim: route reloaded", "entity", e, "route", name, "waypoints", fresh.Len())
	})
	return updated, nil
}

// State is the navigator snapshot of one vehicle at the current step.
type State struct {
	Vehicle   Vehicle
	Transform component.Transform
	Nav       nav.NavigationState
	Command   nav.MotionCommand
}

// States returns a snapshot of every vehicle in scene order.
func (s *Sim) States() []State {
	out := make([]State, 0, len(s.Vehicles))
	for _, v := range s.Vehicles {
		d, ok := ecs.Get(s.World, v.Entity, component.DriverComponent.Kind())
		if !ok || d.Nav == nil {
			continue
		}
		st := State{Vehicle: v, Nav: d.Nav.State(), Command: d.Command}
		if t, ok := ecs.Get(s.World, v.Entity, component.TransformComponent.Kind()); ok {
			st.Transform = *t
		}
		out = append(out, st)
	}
	return out
}

// SetLogLevel applies a scene log level to the default logger. Unknown
// levels fall back to error.
func SetLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		slog.SetLogLoggerLevel(slog.LevelDebug)
	case "info", "":
		slog.SetLogLoggerLevel(slog.LevelInfo)
	case "warn":
		slog.SetLogLoggerLevel(slog.LevelWarn)
	case "error":
		slog.SetLogLoggerLevel(slog.LevelError)
	default:
		slog.SetLogLoggerLevel(slog.LevelError)
	}
}
