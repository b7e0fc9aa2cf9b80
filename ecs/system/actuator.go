package system

import (
	"math"

	"github.com/jakecoffman/cp"
	"github.com/milk9111/drivesim/ecs"
	"github.com/milk9111/drivesim/ecs/component"
)

// minPlanarSpeed is the speed under which a vehicle is considered parked.
const minPlanarSpeed = 0.1

// ActuatorSystem applies each driver's motion command to its body: it turns
// toward the commanded heading and drives along the body's own forward axis.
type ActuatorSystem struct{}

func NewActuatorSystem() *ActuatorSystem {
	return &ActuatorSystem{}
}

func (s *ActuatorSystem) Update(w *ecs.World, dt float64) {
	if w == nil {
		return
	}

	ecs.ForEach3(w, component.DriverComponent.Kind(), component.BodyComponent.Kind(), component.VehicleComponent.Kind(), func(e ecs.Entity, d *component.Driver, b *component.Body, v *component.Vehicle) {
		body := b.Body
		if body == nil {
			return
		}
		cmd := d.Command

		angle := body.Angle()
		if !cmd.Heading.IsZero() && dt > 0 {
			target := math.Atan2(cmd.Heading.Z, cmd.Heading.X)
			angle = LerpAngle(angle, target, clampUnit(v.TurnSpeed*dt))
			body.SetAngle(angle)
		}
		body.SetAngularVelocity(0)

		speed := cmd.Speed
		if cmd.Stop {
			speed = 0
		}
		vel := cp.ForAngle(angle).Mult(speed)
		if cmd.Reverse {
			vel = vel.Neg()
		}
		if vel.Length() < minPlanarSpeed {
			vel = cp.Vector{}
		}
		body.SetVelocityVector(vel)
	})
}

// LerpAngle moves from toward to by fraction t along the shorter arc.
func LerpAngle(from, to, t float64) float64 {
	return from + wrapAngle(to-from)*t
}

// wrapAngle maps a into (-pi, pi].
func wrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
