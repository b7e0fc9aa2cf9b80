package component

import "github.com/jakecoffman/cp"

// Body stores the Chipmunk2D runtime data owned by the physics system.
type Body struct {
	Body  *cp.Body
	Shape *cp.Shape
}

var BodyComponent = NewComponent[Body]()
