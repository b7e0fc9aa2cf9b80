package component

// RaceClock is the pre-start countdown followed by the elapsed race time.
// Countdown ticks down in whole seconds; DelayTimer accumulates the partial
// second.
type RaceClock struct {
	Countdown  int
	DelayTimer float64
	Elapsed    float64
	Running    bool
	Finished   bool
}

// Started reports whether the countdown has run out. A nil clock never
// gates anything.
func (c *RaceClock) Started() bool {
	return c == nil || c.Countdown <= 0
}

var RaceClockComponent = NewComponent[RaceClock]()
