package system

import (
	"math"

	"github.com/milk9111/drivesim/ecs"
	"github.com/milk9111/drivesim/ecs/component"
)

// SteeringWheelSystem turns the steering indicator according to how fast the
// vehicle body is yawing.
type SteeringWheelSystem struct{}

func NewSteeringWheelSystem() *SteeringWheelSystem {
	return &SteeringWheelSystem{}
}

func (s *SteeringWheelSystem) Update(w *ecs.World, dt float64) {
	if w == nil || dt <= 0 {
		return
	}

	ecs.ForEach2(w, component.SteeringWheelComponent.Kind(), component.TransformComponent.Kind(), func(e ecs.Entity, sw *component.SteeringWheel, t *component.Transform) {
		var yawRate float64
		if delta, ok := sw.ObserveYaw(t.Yaw); ok {
			// positive input steers right; yaw grows from +X toward +Z.
			yawRate = -wrapAngle(delta) / dt
		}

		var speed float64
		if b, ok := ecs.Get(w, e, component.BodyComponent.Kind()); ok && b.Body != nil {
			speed = b.Body.Velocity().Length()
		}
		speedFactor := math.Max(0.1, math.Min(2, speed/10))

		input := math.Max(-1, math.Min(1, yawRate*sw.AngularSensitivity*speedFactor))
		if math.Abs(input) < sw.DeadZone {
			input = 0
		}
		sw.Target = input * sw.MaxAngle

		if !sw.Smooth {
			sw.Current = sw.Target
			return
		}
		rate := sw.ReturnSpeed
		if math.Abs(sw.Target-sw.Current) > 0.1 {
			rate = sw.SteeringSpeed
		}
		sw.Current += (sw.Target - sw.Current) * clampUnit(rate*dt)
	})
}
