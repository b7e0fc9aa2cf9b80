package component

// SteeringWheel is the visual steering indicator state of a vehicle.
// Angles are in degrees.
type SteeringWheel struct {
	MaxAngle           float64
	SteeringSpeed      float64
	ReturnSpeed        float64
	AngularSensitivity float64
	DeadZone           float64
	Smooth             bool

	Target  float64
	Current float64

	lastYaw float64
	primed  bool
}

// ObserveYaw records yaw and returns the change since the previous call.
func (s *SteeringWheel) ObserveYaw(yaw float64) (float64, bool) {
	if !s.primed {
		s.lastYaw = yaw
		s.primed = true
		return 0, false
	}
	delta := yaw - s.lastYaw
	s.lastYaw = yaw
	return delta, true
}

var SteeringWheelComponent = NewComponent[SteeringWheel]()

// Input returns the wheel position normalised to [-1, 1].
func (s *SteeringWheel) Input() float64 {
	if s == nil || s.MaxAngle == 0 {
		return 0
	}
	return s.Current / s.MaxAngle
}
