package component

// Obstacle is a static box blocker centred on the entity transform.
type Obstacle struct {
	Width float64
	Depth float64
}

var ObstacleComponent = NewComponent[Obstacle]()
