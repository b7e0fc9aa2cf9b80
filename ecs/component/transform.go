package component

import "github.com/milk9111/drivesim/nav"

// Transform is a pose on the ground plane. Yaw is measured from +X toward
// +Z in radians.
type Transform struct {
	Position nav.Vec3
	Yaw      float64
}

var TransformComponent = NewComponent[Transform]()
