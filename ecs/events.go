package ecs

// EventType names a world event.
type EventType string

const (
	EventNavigation EventType = "navigation"
	EventTrigger    EventType = "trigger"
	EventScript     EventType = "script"
	EventClock      EventType = "clock"
)

// Event is a world-level notification raised by a system during a frame.
type Event struct {
	Type   EventType
	Entity Entity
	Name   string
	Data   any
}

// EventQueue is a FIFO queue drained once per frame.
type EventQueue struct {
	items []Event
}

func (q *EventQueue) Push(evt Event) {
	if q == nil {
		return
	}
	q.items = append(q.items, evt)
}

// Pending returns the events pushed so far this frame without draining.
func (q *EventQueue) Pending() []Event {
	if q == nil {
		return nil
	}
	return q.items
}

// Drain returns all events and clears the queue.
func (q *EventQueue) Drain() []Event {
	if q == nil || len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}
