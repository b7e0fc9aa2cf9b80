package component

// Tag labels an entity for trigger filtering ("Car", "Player").
type Tag struct {
	Name string
}

var TagComponent = NewComponent[Tag]()
