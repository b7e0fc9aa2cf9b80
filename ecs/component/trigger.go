package component

// Trigger is a sensor volume that fires once something tagged with one of
// ValidTags enters it. An empty ValidTags accepts any tagged entity.
//
// A Once trigger disables its sensor after firing and stays in the world so
// it can be re-armed. A repeating trigger keeps its sensor and fires on every
// new contact. Neither destroys the trigger entity.
type Trigger struct {
	Name      string
	Width     float64
	Depth     float64
	Once      bool
	ValidTags []string
	Script    string

	Triggered bool
	Hit       bool
	HitBy     uint64 // ecs.Entity is uint64
}

func (t *Trigger) Accepts(tag string) bool {
	if t == nil {
		return false
	}
	if len(t.ValidTags) == 0 {
		return true
	}
	for _, valid := range t.ValidTags {
		if valid == tag {
			return true
		}
	}
	return false
}

var TriggerComponent = NewComponent[Trigger]()
