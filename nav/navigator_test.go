package nav

import (
	"errors"
	"math"
	"testing"
)

func scenarioPath() *Path {
	return &Path{Waypoints: []Waypoint{
		{Position: Vec3{X: 0}, TargetSpeed: 5},
		{Position: Vec3{X: 10}, TargetSpeed: 5, WaitTime: 1},
		{Position: Vec3{X: 20}, TargetSpeed: 5},
	}}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StoppingDistance = 2
	cfg.ObstacleDetection = false
	return cfg
}

type agent struct {
	pos     Vec3
	forward Vec3
}

// step applies a command the way a body actuator would: face the heading and
// move along it, backward on reverse legs.
func (a *agent) step(cmd MotionCommand, dt float64) {
	if !cmd.Heading.IsZero() {
		a.forward = cmd.Heading
	}
	move := a.forward.Scale(cmd.Speed * dt)
	if cmd.Reverse {
		move = move.Neg()
	}
	a.pos = a.pos.Add(move)
}

func recordEvents(n *Navigator) *[]Event {
	var events []Event
	n.Subscribe(func(evt Event) { events = append(events, evt) })
	return &events
}

func countKind(events []Event, kind EventKind) int {
	count := 0
	for _, evt := range events {
		if evt.Kind == kind {
			count++
		}
	}
	return count
}

func TestStartRejectsEmptyPath(t *testing.T) {
	cases := []struct {
		name string
		path *Path
	}{
		{"nil", nil},
		{"no_waypoints", &Path{}},
		{"loop_no_waypoints", &Path{Loop: true}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			n := New(testConfig())
			events := recordEvents(n)
			err := n.Start(c.path)
			if !errors.Is(err, ErrInvalidPath) {
				t.Fatalf("expected ErrInvalidPath, got %v", err)
			}
			if n.State().Mode != ModeIdle {
				t.Fatalf("expected idle after failed start, got %s", n.State().Mode)
			}
			if len(*events) != 0 {
				t.Fatalf("expected no events, got %v", *events)
			}
		})
	}
}

func TestStartResetsState(t *testing.T) {
	n := New(testConfig())
	events := recordEvents(n)
	path := scenarioPath()
	if err := n.Start(path); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := n.State()
	if st.Mode != ModeSeeking || st.CurrentIndex != 0 || st.CurrentSpeed != 0 {
		t.Fatalf("unexpected state after start: %+v", st)
	}
	if st.Target != path.Waypoints[0].Position {
		t.Fatalf("expected target waypoint 0, got %+v", st.Target)
	}
	if len(*events) != 1 || (*events)[0].Kind != EventStarted {
		t.Fatalf("expected a single started event, got %v", *events)
	}
}

func TestScenarioThreeWaypointsWithDwell(t *testing.T) {
	n := New(testConfig())
	events := recordEvents(n)
	if err := n.Start(scenarioPath()); err != nil {
		t.Fatalf("start: %v", err)
	}

	a := &agent{forward: Vec3{X: 1}}
	const dt = 0.02

	// waypoint 0 sits on the agent, so the first tick arrives and advances.
	cmd := n.Tick(a.pos, a.forward, dt, nil)
	if !cmd.Stop {
		t.Fatalf("expected stopped command on arrival tick")
	}
	if n.State().CurrentIndex != 1 {
		t.Fatalf("expected index 1, got %d", n.State().CurrentIndex)
	}

	lastIndex := n.State().CurrentIndex
	for i := 0; i < 10000 && n.State().Mode == ModeSeeking; i++ {
		cmd = n.Tick(a.pos, a.forward, dt, nil)
		a.step(cmd, dt)
		if idx := n.State().CurrentIndex; idx < lastIndex {
			t.Fatalf("index went backwards: %d -> %d", lastIndex, idx)
		}
		lastIndex = n.State().CurrentIndex
	}
	st := n.State()
	if st.Mode != ModeWaiting || st.CurrentIndex != 1 {
		t.Fatalf("expected waiting at 1, got %s at %d", st.Mode, st.CurrentIndex)
	}
	if d := a.pos.DistanceTo(Vec3{X: 10}); d > 2 {
		t.Fatalf("expected to be within 2 units of waypoint 1, got %f", d)
	}
	if countKind(*events, EventWaitingAtWaypoint) != 1 {
		t.Fatalf("expected one waiting event, got %v", *events)
	}

	// 0.9s of dwell: still pinned.
	for i := 0; i < 9; i++ {
		cmd = n.Tick(a.pos, a.forward, 0.1, nil)
		if !cmd.Stop || cmd.Speed != 0 {
			t.Fatalf("expected stopped command while dwelling, got %+v", cmd)
		}
		st = n.State()
		if st.CurrentIndex != 1 || st.CurrentSpeed != 0 || st.Mode != ModeWaiting {
			t.Fatalf("dwell tick %d: unexpected state %+v", i, st)
		}
	}
	n.Tick(a.pos, a.forward, 0.1, nil)
	st = n.State()
	if st.Mode != ModeSeeking || st.CurrentIndex != 2 {
		t.Fatalf("expected seeking index 2 after dwell, got %s at %d", st.Mode, st.CurrentIndex)
	}

	for i := 0; i < 10000 && n.State().Mode == ModeSeeking; i++ {
		cmd = n.Tick(a.pos, a.forward, dt, nil)
		a.step(cmd, dt)
	}
	st = n.State()
	if st.Mode != ModeStopped {
		t.Fatalf("expected stopped at end of path, got %s", st.Mode)
	}
	if st.CurrentIndex != 2 {
		t.Fatalf("expected no wrap, index %d", st.CurrentIndex)
	}
	if countKind(*events, EventCompleted) != 1 {
		t.Fatalf("expected one completed event, got %v", *events)
	}
	if countKind(*events, EventWaypointReached) != 3 {
		t.Fatalf("expected three arrivals, got %v", *events)
	}

	for i := 0; i < 5; i++ {
		cmd = n.Tick(a.pos, a.forward, dt, nil)
		if cmd != (MotionCommand{Stop: true}) {
			t.Fatalf("expected zero command after completion, got %+v", cmd)
		}
	}
}

func TestLoopWrapsAndContinues(t *testing.T) {
	n := New(testConfig())
	path := PathFromPoints([]Vec3{{X: 0}, {X: 10}, {X: 10, Z: 10}}, 5, true)
	events := recordEvents(n)
	if err := n.Start(path); err != nil {
		t.Fatalf("start: %v", err)
	}

	a := &agent{forward: Vec3{X: 1}}
	wrapped := false
	prev := n.State().CurrentIndex
	for i := 0; i < 20000; i++ {
		cmd := n.Tick(a.pos, a.forward, 0.02, nil)
		a.step(cmd, 0.02)
		idx := n.State().CurrentIndex
		if idx < prev {
			wrapped = true
			if idx != 0 {
				t.Fatalf("expected wrap to 0, got %d", idx)
			}
			break
		}
		prev = idx
	}
	if !wrapped {
		t.Fatalf("expected index to wrap")
	}
	if n.State().Mode != ModeSeeking {
		t.Fatalf("expected looping navigator to keep seeking, got %s", n.State().Mode)
	}
	if countKind(*events, EventCompleted) != 0 {
		t.Fatalf("looping path must not complete")
	}
	if countKind(*events, EventWaypointReached) != 3 {
		t.Fatalf("expected 3 arrivals before wrap, got %d", countKind(*events, EventWaypointReached))
	}
}

func TestNonLoopCompletesAfterNArrivals(t *testing.T) {
	n := New(testConfig())
	// every waypoint within stopping distance of the origin: one arrival per tick.
	path := PathFromPoints([]Vec3{{X: 0}, {X: 0.5}, {X: 1}, {X: 1.5}}, 5, false)
	if err := n.Start(path); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < path.Len(); i++ {
		if n.State().Mode != ModeSeeking {
			t.Fatalf("stopped early after %d arrivals", i)
		}
		n.Tick(Vec3{}, Vec3{X: 1}, 0.02, nil)
	}
	if n.State().Mode != ModeStopped {
		t.Fatalf("expected stopped after %d arrivals, got %s", path.Len(), n.State().Mode)
	}
}

func TestSpeedStaysWithinBounds(t *testing.T) {
	cases := []struct {
		name     string
		maxSpeed float64
		wpSpeed  float64
		accel    float64
		decel    float64
		dt       float64
	}{
		{"capped_by_max", 3, 10, 10, 15, 0.02},
		{"large_steps", 20, 15, 50, 80, 0.5},
		{"slow_accel", 20, 8, 1, 2, 0.1},
		{"zero_max_speed", 0, 50, 10, 15, 0.1},
		{"negative_max_speed", -3, 50, 10, 15, 0.1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.MaxSpeed = c.maxSpeed
			cfg.Acceleration = c.accel
			cfg.Deceleration = c.decel
			n := New(cfg)
			path := PathFromPoints([]Vec3{{X: 30}, {X: 30, Z: 30}, {}}, c.wpSpeed, true)
			if err := n.Start(path); err != nil {
				t.Fatalf("start: %v", err)
			}
			a := &agent{forward: Vec3{X: 1}}
			for i := 0; i < 3000; i++ {
				cmd := n.Tick(a.pos, a.forward, c.dt, nil)
				a.step(cmd, c.dt)
				s := n.State().CurrentSpeed
				if upper := math.Max(c.maxSpeed, 0); s < 0 || s > upper {
					t.Fatalf("tick %d: speed %f outside [0, %f]", i, s, upper)
				}
			}
		})
	}
}

func TestSpeedStepsByFullRate(t *testing.T) {
	cases := []struct {
		name    string
		current float64
		wpSpeed float64
		want    float64
	}{
		{"accelerate_past_target", 0, 0.5, 1.0},
		{"accelerate_below_target", 2, 10, 3.0},
		{"decelerate_past_target", 1.2, 0.5, 0},
		{"decelerate_above_target", 8, 0.5, 6.5},
		{"hold_at_target", 5, 5, 5},
		{"capped_by_max", 19.5, 50, 20},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Acceleration = 10
			cfg.Deceleration = 15
			cfg.MaxSpeed = 20
			n := New(cfg)
			if err := n.Start(PathFromPoints([]Vec3{{X: 100}}, c.wpSpeed, false)); err != nil {
				t.Fatalf("start: %v", err)
			}
			n.state.CurrentSpeed = c.current

			cmd := n.Tick(Vec3{}, Vec3{X: 1}, 0.1, nil)
			if math.Abs(cmd.Speed-c.want) > 1e-9 || math.Abs(n.State().CurrentSpeed-c.want) > 1e-9 {
				t.Fatalf("expected speed %f after one step, got %f", c.want, cmd.Speed)
			}
			if cmd.TargetSpeed != c.wpSpeed {
				t.Fatalf("expected target speed %f, got %f", c.wpSpeed, cmd.TargetSpeed)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		edit func(*Config)
		ok   bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero_rates", func(c *Config) { c.Acceleration, c.Deceleration = 0, 0 }, true},
		{"zero_max_speed", func(c *Config) { c.MaxSpeed = 0 }, false},
		{"nan_max_speed", func(c *Config) { c.MaxSpeed = math.NaN() }, false},
		{"negative_acceleration", func(c *Config) { c.Acceleration = -1 }, false},
		{"negative_deceleration", func(c *Config) { c.Deceleration = -1 }, false},
		{"negative_stopping_distance", func(c *Config) { c.StoppingDistance = -2 }, false},
		{"negative_look_ahead", func(c *Config) { c.LookAheadDistance = -1 }, false},
		{"negative_reverse_multiplier", func(c *Config) { c.ReverseSpeedMultiplier = -0.5 }, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := DefaultConfig()
			c.edit(&cfg)
			err := cfg.Validate()
			if c.ok && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !c.ok && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestRetargetFollowsEditedWaypoint(t *testing.T) {
	n := New(testConfig())
	path := PathFromPoints([]Vec3{{X: 20}, {X: 40}}, 5, false)
	if err := n.Start(path); err != nil {
		t.Fatalf("start: %v", err)
	}
	n.Tick(Vec3{}, Vec3{X: 1}, 0.1, nil)

	path.Waypoints[0] = Waypoint{Position: Vec3{X: 30, Z: 5}, TargetSpeed: 7}
	if st := n.State(); st.Target != (Vec3{X: 20}) {
		t.Fatalf("target changes only on Retarget, got %+v", st.Target)
	}
	n.Retarget()
	st := n.State()
	if st.CurrentIndex != 0 || st.Target != (Vec3{X: 30, Z: 5}) || st.TargetSpeed != 7 {
		t.Fatalf("expected edited waypoint as target, got %+v", st)
	}
	cmd := n.Tick(Vec3{}, Vec3{X: 1}, 0.1, nil)
	if want := (Vec3{X: 30, Z: 5}).Normalize(); cmd.Heading.Sub(want).Length() > 1e-9 {
		t.Fatalf("expected heading toward the edited waypoint, got %+v", cmd.Heading)
	}

	path.Waypoints = path.Waypoints[:0]
	n.Retarget()
	if st := n.State(); st.Target != (Vec3{X: 30, Z: 5}) {
		t.Fatalf("a shrunk path is left for the next tick, got %+v", st.Target)
	}

	idle := New(testConfig())
	idle.Retarget()
	if idle.State().Mode != ModeIdle {
		t.Fatalf("retarget must not start an idle navigator")
	}
}

func TestDesiredSpeedRampsDownNearTarget(t *testing.T) {
	n := New(testConfig())
	zone := testConfig().StoppingDistance * 4
	prev := math.Inf(1)
	for d := zone; d >= 0; d -= 0.05 {
		s := n.DesiredSpeed(d, 5, Forward)
		if s > prev {
			t.Fatalf("desired speed increased approaching target: %f > %f at %f", s, prev, d)
		}
		prev = s
	}
	if s := n.DesiredSpeed(0, 5, Forward); s != 0 {
		t.Fatalf("expected zero desired speed at the target, got %f", s)
	}
	if s := n.DesiredSpeed(zone+1, 5, Forward); s != 5 {
		t.Fatalf("expected full speed outside the slow zone, got %f", s)
	}
	if s := n.DesiredSpeed(zone+1, 5, Reverse); s != 5*testConfig().ReverseSpeedMultiplier {
		t.Fatalf("expected reverse multiplier applied, got %f", s)
	}
}

func TestObstacleForcesZeroSpeed(t *testing.T) {
	cfg := testConfig()
	cfg.ObstacleDetection = true
	n := New(cfg)
	events := recordEvents(n)
	if err := n.Start(PathFromPoints([]Vec3{{X: 50}}, 10, false)); err != nil {
		t.Fatalf("start: %v", err)
	}

	pos := Vec3{}
	fwd := Vec3{X: 1}
	for i := 0; i < 20; i++ {
		n.Tick(pos, fwd, 0.1, nil)
	}
	if n.State().CurrentSpeed == 0 {
		t.Fatalf("expected speed to build up without obstacles")
	}

	var gotOrigin, gotDir Vec3
	var gotDist float64
	blocked := func(origin, dir Vec3, dist float64) (bool, error) {
		gotOrigin, gotDir, gotDist = origin, dir, dist
		return true, nil
	}
	for i := 0; i < 3; i++ {
		cmd := n.Tick(pos, fwd, 0.1, blocked)
		if cmd.Speed != 0 || cmd.TargetSpeed != 0 || !cmd.Stop {
			t.Fatalf("expected zero speed with obstacle, got %+v", cmd)
		}
		if n.State().CurrentSpeed != 0 {
			t.Fatalf("expected current speed pinned to zero")
		}
	}
	if countKind(*events, EventObstacleDetected) != 1 {
		t.Fatalf("expected a single obstacle event while blocked, got %v", *events)
	}
	if gotOrigin != (Vec3{Y: cfg.ProbeHeight}) || gotDir != fwd || gotDist != cfg.LookAheadDistance {
		t.Fatalf("unexpected probe ray origin=%+v dir=%+v dist=%f", gotOrigin, gotDir, gotDist)
	}

	cmd := n.Tick(pos, fwd, 0.1, func(Vec3, Vec3, float64) (bool, error) { return false, nil })
	if cmd.Speed <= 0 {
		t.Fatalf("expected to accelerate again once clear, got %+v", cmd)
	}
}

func TestProbeFailuresFailOpen(t *testing.T) {
	cfg := testConfig()
	cfg.ObstacleDetection = true
	n := New(cfg)
	if err := n.Start(PathFromPoints([]Vec3{{X: 50}}, 10, false)); err != nil {
		t.Fatalf("start: %v", err)
	}
	failing := func(Vec3, Vec3, float64) (bool, error) { return true, errors.New("sensor offline") }
	cmd := n.Tick(Vec3{}, Vec3{X: 1}, 0.1, failing)
	if cmd.Stop || cmd.Speed <= 0 {
		t.Fatalf("expected probe error to be ignored, got %+v", cmd)
	}
	cmd = n.Tick(Vec3{}, Vec3{X: 1}, 0.1, nil)
	if cmd.Stop || cmd.Speed <= 0 {
		t.Fatalf("expected nil probe to disable detection, got %+v", cmd)
	}
}

func TestReverseLegInvertsHeading(t *testing.T) {
	cases := []struct {
		name    string
		points  []Vec3
		agent   Vec3
		want    Direction
		heading Vec3
	}{
		{"target_ahead_on_x_reverses", []Vec3{{X: 0}, {X: 10}}, Vec3{}, Reverse, Vec3{X: -1}},
		{"target_behind_on_x_drives_forward", []Vec3{{X: 10}, {X: 0}}, Vec3{X: 10}, Forward, Vec3{X: -1}},
		{"equal_x_reverses", []Vec3{{X: 0}, {X: 0, Z: 10}}, Vec3{}, Reverse, Vec3{Z: -1}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.ReverseEnabled = true
			n := New(cfg)
			if err := n.Start(PathFromPoints(c.points, 10, false)); err != nil {
				t.Fatalf("start: %v", err)
			}
			n.Tick(c.agent, Vec3{X: 1}, 0.02, nil)
			st := n.State()
			if st.CurrentIndex != 1 || st.Direction != c.want {
				t.Fatalf("expected %s at index 1, got %s at %d", c.want, st.Direction, st.CurrentIndex)
			}
			if st.PreviousVertexPosition != c.points[0] {
				t.Fatalf("expected previous vertex %+v, got %+v", c.points[0], st.PreviousVertexPosition)
			}
			cmd := n.Tick(c.agent, Vec3{X: 1}, 0.02, nil)
			if cmd.Heading.DistanceTo(c.heading) > 1e-9 {
				t.Fatalf("expected heading %+v, got %+v", c.heading, cmd.Heading)
			}
			if cmd.Reverse != (c.want == Reverse) {
				t.Fatalf("expected reverse=%v", c.want == Reverse)
			}
		})
	}
}

func TestReverseDecisionOnLoopWrapUsesLastWaypoint(t *testing.T) {
	cfg := testConfig()
	cfg.ReverseEnabled = true
	n := New(cfg)
	points := []Vec3{{X: 0}, {X: 1}, {X: 1.5}}
	if err := n.Start(PathFromPoints(points, 5, true)); err != nil {
		t.Fatalf("start: %v", err)
	}
	// all three waypoints are within stopping distance: three ticks wrap.
	for i := 0; i < 3; i++ {
		n.Tick(Vec3{}, Vec3{X: 1}, 0.02, nil)
	}
	st := n.State()
	if st.CurrentIndex != 0 {
		t.Fatalf("expected wrap to 0, got %d", st.CurrentIndex)
	}
	if st.PreviousVertexPosition != points[2] {
		t.Fatalf("expected previous vertex to be the last waypoint, got %+v", st.PreviousVertexPosition)
	}
	if st.Direction != Forward {
		t.Fatalf("expected forward leg back to the origin, got %s", st.Direction)
	}
}

func TestStopIsIdempotentAndCancelsDwell(t *testing.T) {
	n := New(testConfig())
	n.Stop()
	n.Stop()
	if n.State().Mode != ModeStopped {
		t.Fatalf("expected stopped")
	}

	if err := n.Start(&Path{Waypoints: []Waypoint{{WaitTime: 5}, {Position: Vec3{X: 10}}}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	n.Tick(Vec3{}, Vec3{X: 1}, 0.1, nil)
	if n.State().Mode != ModeWaiting {
		t.Fatalf("expected waiting, got %s", n.State().Mode)
	}
	n.Stop()
	st := n.State()
	if st.Mode != ModeStopped || st.DwellRemaining != 0 || st.CurrentSpeed != 0 {
		t.Fatalf("expected dwell cancelled, got %+v", st)
	}
	n.AdvanceTime(10)
	if n.State().Mode != ModeStopped || n.State().CurrentIndex != 0 {
		t.Fatalf("stopped navigator must ignore time, got %+v", n.State())
	}
}

func TestAdvanceTimeDrivesDwell(t *testing.T) {
	n := New(testConfig())
	if err := n.Start(&Path{Waypoints: []Waypoint{{WaitTime: 0.5}, {Position: Vec3{X: 10}}}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	n.Tick(Vec3{}, Vec3{X: 1}, 0, nil)
	n.AdvanceTime(0.25)
	if n.State().Mode != ModeWaiting {
		t.Fatalf("expected still waiting")
	}
	n.AdvanceTime(0.25)
	if n.State().Mode != ModeSeeking || n.State().CurrentIndex != 1 {
		t.Fatalf("expected to advance after dwell, got %+v", n.State())
	}
}

func TestStopFromSubscriberDuringArrival(t *testing.T) {
	n := New(testConfig())
	n.Subscribe(func(evt Event) {
		if evt.Kind == EventWaypointReached {
			n.Stop()
		}
	})
	if err := n.Start(PathFromPoints([]Vec3{{}, {X: 10}}, 5, false)); err != nil {
		t.Fatalf("start: %v", err)
	}
	n.Tick(Vec3{}, Vec3{X: 1}, 0.02, nil)
	st := n.State()
	if st.Mode != ModeStopped || st.CurrentIndex != 0 {
		t.Fatalf("expected subscriber stop to win, got %+v", st)
	}
}

func TestPathEditedWhileNavigating(t *testing.T) {
	n := New(testConfig())
	path := PathFromPoints([]Vec3{{}, {X: 1}, {X: 30}, {X: 40}}, 5, false)
	if err := n.Start(path); err != nil {
		t.Fatalf("start: %v", err)
	}
	n.Tick(Vec3{}, Vec3{X: 1}, 0.02, nil)
	n.Tick(Vec3{}, Vec3{X: 1}, 0.02, nil)
	if n.State().CurrentIndex != 2 {
		t.Fatalf("expected index 2, got %d", n.State().CurrentIndex)
	}
	path.Remove(3)
	path.Remove(2)

	cmd := n.Tick(Vec3{}, Vec3{X: 1}, 0.02, nil)
	if !cmd.Stop || n.State().Mode != ModeStopped {
		t.Fatalf("expected end of path after shrinking edit, got %+v %s", cmd, n.State().Mode)
	}
}
