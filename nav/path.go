package nav

import "fmt"

const DefaultWaypointSpeed = 10.0

// Waypoint is a path vertex.
type Waypoint struct {
	Position    Vec3    `yaml:"position" json:"position"`
	TargetSpeed float64 `yaml:"speed" json:"speed"`
	WaitTime    float64 `yaml:"wait_time" json:"wait_time"`
}

// Path is an ordered list of waypoints. When Loop is set the last waypoint
// connects back to the first.
type Path struct {
	Waypoints []Waypoint `yaml:"waypoints" json:"waypoints"`
	Loop      bool       `yaml:"loop" json:"loop"`
}

// PathFromPoints builds a path visiting points in order at a single speed.
func PathFromPoints(points []Vec3, speed float64, loop bool) *Path {
	p := &Path{Loop: loop, Waypoints: make([]Waypoint, 0, len(points))}
	for _, pt := range points {
		p.Waypoints = append(p.Waypoints, Waypoint{Position: pt, TargetSpeed: speed})
	}
	return p
}

func (p *Path) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Waypoints)
}

func (p *Path) At(i int) (Waypoint, bool) {
	if p == nil || i < 0 || i >= len(p.Waypoints) {
		return Waypoint{}, false
	}
	return p.Waypoints[i], true
}

func (p *Path) Add(wp Waypoint) {
	if p == nil {
		return
	}
	p.Waypoints = append(p.Waypoints, wp)
}

// AddPoint appends a waypoint at pos with the default speed and no dwell.
func (p *Path) AddPoint(pos Vec3) {
	p.Add(Waypoint{Position: pos, TargetSpeed: DefaultWaypointSpeed})
}

// Remove deletes the waypoint at index. Out of range indexes are ignored.
func (p *Path) Remove(index int) bool {
	if p == nil || index < 0 || index >= len(p.Waypoints) {
		return false
	}
	p.Waypoints = append(p.Waypoints[:index], p.Waypoints[index+1:]...)
	return true
}

// Validate checks that the path can be driven.
func (p *Path) Validate() error {
	if p.Len() == 0 {
		return ErrInvalidPath
	}
	for i, wp := range p.Waypoints {
		if wp.TargetSpeed < 0 {
			return fmt.Errorf("%w: waypoint %d has negative speed %g", ErrInvalidPath, i, wp.TargetSpeed)
		}
		if wp.WaitTime < 0 {
			return fmt.Errorf("%w: waypoint %d has negative wait time %g", ErrInvalidPath, i, wp.WaitTime)
		}
	}
	return nil
}
