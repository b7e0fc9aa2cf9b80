// Package nav drives an agent along a waypoint path. It consumes a pose each
// tick and produces a motion command; physics, rendering and input live
// elsewhere.
//
// A Navigator is not safe for concurrent use. It expects a single owner that
// issues at most one Tick or AdvanceTime call at a time.
package nav

import "math"

// dwellEpsilon absorbs float drift when dwell time is accumulated from many
// small steps.
const dwellEpsilon = 1e-9

// Navigator advances through a Path and computes per-tick motion intent.
type Navigator struct {
	cfg   Config
	path  *Path
	state NavigationState
	subs  []func(Event)
}

func New(cfg Config) *Navigator {
	return &Navigator{cfg: cfg}
}

func (n *Navigator) Config() Config {
	return n.cfg
}

// Path returns the active path. The navigator does not own it.
func (n *Navigator) Path() *Path {
	return n.path
}

// State returns a snapshot of the runtime state.
func (n *Navigator) State() NavigationState {
	return n.state
}

// Active reports whether the navigator is seeking or dwelling.
func (n *Navigator) Active() bool {
	return n.state.Mode == ModeSeeking || n.state.Mode == ModeWaiting
}

// Subscribe registers fn to receive every event emitted from now on.
func (n *Navigator) Subscribe(fn func(Event)) {
	if fn == nil {
		return
	}
	n.subs = append(n.subs, fn)
}

func (n *Navigator) emit(evt Event) {
	for _, fn := range n.subs {
		fn(evt)
	}
}

// Start begins navigation of path from waypoint 0. An empty path is
// rejected and the navigator state is left as it was.
func (n *Navigator) Start(path *Path) error {
	if path.Len() == 0 {
		return ErrInvalidPath
	}
	n.path = path
	n.state = NavigationState{Mode: ModeSeeking, Direction: Forward}
	n.setTarget(0)
	n.emit(Event{Kind: EventStarted})
	return nil
}

// Stop halts navigation and cancels any pending dwell. Safe to call in any
// state, any number of times.
func (n *Navigator) Stop() {
	n.state.Mode = ModeStopped
	n.state.CurrentSpeed = 0
	n.state.DwellRemaining = 0
	n.state.Blocked = false
}

// Tick computes the motion command for one step. position and forward are
// the agent's current pose, dt the elapsed seconds since the previous tick.
// A nil probe disables obstacle detection for this tick.
func (n *Navigator) Tick(position, forward Vec3, dt float64, probe ObstacleProbe) MotionCommand {
	if dt < 0 || math.IsNaN(dt) {
		dt = 0
	}

	switch n.state.Mode {
	case ModeSeeking:
	case ModeWaiting:
		n.AdvanceTime(dt)
		return stoppedCommand()
	default:
		return stoppedCommand()
	}

	if n.path.Len() == 0 {
		n.Stop()
		return stoppedCommand()
	}
	if n.state.CurrentIndex >= n.path.Len() {
		// the path was edited underneath us
		n.advance()
		return stoppedCommand()
	}

	distance := position.DistanceTo(n.state.Target)
	if distance <= n.cfg.StoppingDistance {
		n.arrive()
		return stoppedCommand()
	}

	reverse := n.state.Direction == Reverse
	heading := n.state.Target.Sub(position).Normalize()
	if reverse {
		heading = heading.Neg()
	}

	if n.obstacleAhead(position, forward, reverse, probe) {
		n.state.CurrentSpeed = 0
		if !n.state.Blocked {
			n.state.Blocked = true
			n.emit(Event{Kind: EventObstacleDetected, Index: n.state.CurrentIndex})
		}
		return MotionCommand{Heading: heading, Reverse: reverse, Stop: true}
	}
	n.state.Blocked = false

	target := n.DesiredSpeed(distance, n.state.TargetSpeed, n.state.Direction)
	n.state.CurrentSpeed = n.integrate(n.state.CurrentSpeed, target, dt)

	return MotionCommand{
		Heading:     heading,
		Speed:       n.state.CurrentSpeed,
		TargetSpeed: target,
		Reverse:     reverse,
	}
}

// AdvanceTime runs the dwell countdown. It does nothing unless the
// navigator is waiting at a waypoint. Tick calls it while waiting, so a
// caller should drive the dwell with one or the other, not both.
func (n *Navigator) AdvanceTime(dt float64) {
	if n.state.Mode != ModeWaiting || !(dt > 0) {
		return
	}
	n.state.CurrentSpeed = 0
	n.state.DwellRemaining -= dt
	if n.state.DwellRemaining > dwellEpsilon {
		return
	}
	n.state.DwellRemaining = 0
	n.state.Mode = ModeSeeking
	n.advance()
}

// Retarget re-reads the current waypoint after the path was edited in
// place, so an active navigator drives to the edited coordinates and speed.
// An index now past the end is left for the next Tick to resolve.
func (n *Navigator) Retarget() {
	if n.state.Mode != ModeSeeking && n.state.Mode != ModeWaiting {
		return
	}
	if n.state.CurrentIndex >= n.path.Len() {
		return
	}
	n.setTarget(n.state.CurrentIndex)
}

// DesiredSpeed is the speed profile toward a waypoint: the waypoint speed,
// ramped linearly to zero inside four stopping distances and scaled down on
// reverse legs.
func (n *Navigator) DesiredSpeed(distance, targetSpeed float64, dir Direction) float64 {
	desired := targetSpeed
	if zone := n.cfg.slowZone(); zone > 0 && distance < zone {
		desired *= clamp(distance/zone, 0, 1)
	}
	if dir == Reverse {
		desired *= n.cfg.ReverseSpeedMultiplier
	}
	return math.Max(desired, 0)
}

// integrate steps current toward desired by one rate step. The step is not
// cut short at desired, so a large dt can carry the speed past it; only the
// [0, MaxSpeed] bound is enforced.
func (n *Navigator) integrate(current, desired, dt float64) float64 {
	switch {
	case current < desired:
		current += n.cfg.Acceleration * dt
	case current > desired:
		current -= n.cfg.Deceleration * dt
	}
	return clamp(current, 0, math.Max(n.cfg.MaxSpeed, 0))
}

func (n *Navigator) obstacleAhead(position, forward Vec3, reverse bool, probe ObstacleProbe) bool {
	if !n.cfg.ObstacleDetection || probe == nil {
		return false
	}
	dir := forward.Normalize()
	if reverse {
		dir = dir.Neg()
	}
	origin := position.Add(Up.Scale(n.cfg.ProbeHeight))
	hit, err := probe(origin, dir, n.cfg.LookAheadDistance)
	if err != nil {
		return false
	}
	return hit
}

func (n *Navigator) arrive() {
	idx := n.state.CurrentIndex
	n.emit(Event{Kind: EventWaypointReached, Index: idx})
	if n.state.Mode != ModeSeeking {
		return
	}

	wp, _ := n.path.At(idx)
	if wp.WaitTime > 0 {
		n.state.Mode = ModeWaiting
		n.state.CurrentSpeed = 0
		n.state.DwellRemaining = wp.WaitTime
		n.emit(Event{Kind: EventWaitingAtWaypoint, Index: idx, Duration: wp.WaitTime})
		return
	}
	n.advance()
}

func (n *Navigator) advance() {
	departed := n.state.Target
	if wp, ok := n.path.At(n.state.CurrentIndex); ok {
		departed = wp.Position
	}

	n.state.CurrentIndex++
	if n.state.CurrentIndex >= n.path.Len() {
		if !n.path.Loop || n.path.Len() == 0 {
			n.complete()
			return
		}
		n.state.CurrentIndex = 0
		last, _ := n.path.At(n.path.Len() - 1)
		departed = last.Position
	}

	n.state.PreviousVertexPosition = departed
	n.setTarget(n.state.CurrentIndex)
	if n.cfg.ReverseEnabled {
		n.state.Direction = decideDirection(n.state.Target, departed)
	}
}

func (n *Navigator) complete() {
	last := n.path.Len() - 1
	if last < 0 {
		last = 0
	}
	n.state.CurrentIndex = last
	n.Stop()
	n.emit(Event{Kind: EventCompleted, Index: last})
}

func (n *Navigator) setTarget(index int) {
	wp, _ := n.path.At(index)
	n.state.Target = wp.Position
	n.state.TargetSpeed = wp.TargetSpeed
}

// decideDirection compares the new target against the previously departed
// vertex on the X axis only. A target at or beyond the previous vertex is
// driven in reverse.
//
// TODO: confirm the polarity with the scenario owners; the rule reads as the
// opposite of how the legs are described in the route files.
func decideDirection(target, previous Vec3) Direction {
	if target.X >= previous.X {
		return Reverse
	}
	return Forward
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
