package component

import "github.com/milk9111/drivesim/nav"

// Driver binds a navigator to a vehicle entity. Command holds the latest
// motion command for the actuator.
type Driver struct {
	Nav       *nav.Navigator
	Route     string
	Path      *nav.Path
	Command   nav.MotionCommand
	AutoStart bool
	Started   bool
}

var DriverComponent = NewComponent[Driver]()
