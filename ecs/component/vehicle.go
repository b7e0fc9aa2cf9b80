package component

// Vehicle describes the drivable footprint and how quickly the body turns
// toward its commanded heading.
type Vehicle struct {
	TurnSpeed float64
	Width     float64
	Length    float64
	Mass      float64
}

var VehicleComponent = NewComponent[Vehicle]()
