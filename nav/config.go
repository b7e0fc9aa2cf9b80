package nav

import "fmt"

// Config holds the tuning of a navigator. Field names follow the vehicle
// YAML documents.
type Config struct {
	Acceleration           float64 `yaml:"acceleration" json:"acceleration"`
	Deceleration           float64 `yaml:"deceleration" json:"deceleration"`
	TurnSpeed              float64 `yaml:"turn_speed" json:"turn_speed"`
	StoppingDistance       float64 `yaml:"stopping_distance" json:"stopping_distance"`
	MaxSpeed               float64 `yaml:"max_speed" json:"max_speed"`
	LookAheadDistance      float64 `yaml:"look_ahead_distance" json:"look_ahead_distance"`
	ObstacleDetection      bool    `yaml:"obstacle_detection" json:"obstacle_detection"`
	ReverseEnabled         bool    `yaml:"reverse_enabled" json:"reverse_enabled"`
	ReverseSpeedMultiplier float64 `yaml:"reverse_speed_multiplier" json:"reverse_speed_multiplier"`
	ProbeHeight            float64 `yaml:"probe_height" json:"probe_height"`
}

func DefaultConfig() Config {
	return Config{
		Acceleration:           10,
		Deceleration:           15,
		TurnSpeed:              5,
		StoppingDistance:       2,
		MaxSpeed:               20,
		LookAheadDistance:      5,
		ObstacleDetection:      true,
		ReverseEnabled:         false,
		ReverseSpeedMultiplier: 0.5,
		ProbeHeight:            1,
	}
}

// slowZone is the distance inside which the target speed ramps down.
func (c Config) slowZone() float64 {
	return c.StoppingDistance * 4
}

// Validate rejects tunings that break the speed bound or the arrival rule:
// rates and distances must be non-negative and MaxSpeed positive.
func (c Config) Validate() error {
	if !(c.MaxSpeed > 0) {
		return fmt.Errorf("%w: max_speed must be positive, got %g", ErrInvalidConfig, c.MaxSpeed)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"acceleration", c.Acceleration},
		{"deceleration", c.Deceleration},
		{"turn_speed", c.TurnSpeed},
		{"stopping_distance", c.StoppingDistance},
		{"look_ahead_distance", c.LookAheadDistance},
		{"reverse_speed_multiplier", c.ReverseSpeedMultiplier},
	} {
		if !(f.v >= 0) {
			return fmt.Errorf("%w: %s must not be negative, got %g", ErrInvalidConfig, f.name, f.v)
		}
	}
	return nil
}
