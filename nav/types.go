package nav

import "errors"

var (
	ErrInvalidPath         = errors.New("nav: invalid path")
	ErrMissingCollaborator = errors.New("nav: missing collaborator")
	ErrInvalidConfig       = errors.New("nav: invalid config")
)

type Mode int

const (
	ModeIdle Mode = iota
	ModeSeeking
	ModeWaiting
	ModeStopped
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeSeeking:
		return "seeking"
	case ModeWaiting:
		return "waiting"
	case ModeStopped:
		return "stopped"
	}
	return "unknown"
}

type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// NavigationState is a read-only snapshot of a navigator.
type NavigationState struct {
	CurrentIndex           int       `json:"current_index"`
	CurrentSpeed           float64   `json:"current_speed"`
	Mode                   Mode      `json:"mode"`
	Direction              Direction `json:"direction"`
	PreviousVertexPosition Vec3      `json:"previous_vertex_position"`
	Target                 Vec3      `json:"target"`
	TargetSpeed            float64   `json:"target_speed"`
	DwellRemaining         float64   `json:"dwell_remaining"`
	Blocked                bool      `json:"blocked"`
}

// MotionCommand is the per-tick output handed to the body actuator.
//
// Heading is the direction the body should face. On reverse legs it points
// away from the target and the body is expected to move backward along it.
// Speed is the integrated speed to apply; TargetSpeed is the profiled speed
// the integration is chasing.
type MotionCommand struct {
	Heading     Vec3    `json:"heading"`
	Speed       float64 `json:"speed"`
	TargetSpeed float64 `json:"target_speed"`
	Reverse     bool    `json:"reverse"`
	Stop        bool    `json:"stop"`
}

func stoppedCommand() MotionCommand {
	return MotionCommand{Stop: true}
}

// ObstacleProbe is a synchronous line-of-sight test. It reports whether
// anything blocks the ray from origin along direction within distance.
type ObstacleProbe func(origin, direction Vec3, distance float64) (bool, error)

type EventKind string

const (
	EventStarted           EventKind = "started"
	EventWaypointReached   EventKind = "waypoint_reached"
	EventWaitingAtWaypoint EventKind = "waiting_at_waypoint"
	EventCompleted         EventKind = "completed"
	EventObstacleDetected  EventKind = "obstacle_detected"
)

// Event is an informational notification emitted by a navigator.
type Event struct {
	Kind     EventKind `json:"kind"`
	Index    int       `json:"index"`
	Duration float64   `json:"duration,omitempty"`
}
