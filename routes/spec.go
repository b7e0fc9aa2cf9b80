package routes

import (
	"errors"
	"fmt"
	"math"

	"github.com/milk9111/drivesim/nav"
	"gopkg.in/yaml.v3"
)

var ErrUnknownRoute = errors.New("routes: unknown route")

func LoadSpec[T any](filename string) (T, error) {
	var zero T
	data, err := Load(filename)
	if err != nil {
		return zero, fmt.Errorf("routes: load %s: %w", filename, err)
	}
	var spec T
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return zero, fmt.Errorf("routes: unmarshal %s: %w", filename, err)
	}
	return spec, nil
}

type WaypointSpec struct {
	Position nav.Vec3 `yaml:"position"`
	Speed    *float64 `yaml:"speed"`
	WaitTime float64  `yaml:"wait_time"`
}

type RouteSpec struct {
	Name         string         `yaml:"name"`
	Loop         bool           `yaml:"loop"`
	DefaultSpeed float64        `yaml:"default_speed"`
	Waypoints    []WaypointSpec `yaml:"waypoints"`
}

// Path builds a fresh navigable path. Waypoints without a speed use the
// route default, or nav.DefaultWaypointSpeed when that is unset.
func (r RouteSpec) Path() *nav.Path {
	def := r.DefaultSpeed
	if def <= 0 {
		def = nav.DefaultWaypointSpeed
	}
	p := &nav.Path{Loop: r.Loop, Waypoints: make([]nav.Waypoint, 0, len(r.Waypoints))}
	for _, wp := range r.Waypoints {
		speed := def
		if wp.Speed != nil {
			speed = *wp.Speed
		}
		p.Add(nav.Waypoint{Position: wp.Position, TargetSpeed: speed, WaitTime: wp.WaitTime})
	}
	return p
}

type SteeringWheelSpec struct {
	MaxAngle           float64 `yaml:"max_angle"`
	SteeringSpeed      float64 `yaml:"steering_speed"`
	ReturnSpeed        float64 `yaml:"return_speed"`
	AngularSensitivity float64 `yaml:"angular_sensitivity"`
	DeadZone           float64 `yaml:"dead_zone"`
	Smooth             *bool   `yaml:"smooth"`
}

type VehicleSpec struct {
	Name      string   `yaml:"name"`
	Tag       string   `yaml:"tag"`
	Route     string   `yaml:"route"`
	Position  nav.Vec3 `yaml:"position"`
	YawDeg    float64  `yaml:"yaw_deg"`
	Width     float64  `yaml:"width"`
	Length    float64  `yaml:"length"`
	Mass      float64  `yaml:"mass"`
	AutoStart *bool    `yaml:"auto_start"`

	// Navigation overrides fields of nav.DefaultConfig.
	Navigation    yaml.Node          `yaml:"navigation"`
	SteeringWheel *SteeringWheelSpec `yaml:"steering_wheel"`
}

// NavConfig layers the vehicle's navigation block over the defaults.
func (v VehicleSpec) NavConfig() (nav.Config, error) {
	cfg := nav.DefaultConfig()
	if v.Navigation.Kind == 0 {
		return cfg, nil
	}
	if err := v.Navigation.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("routes: vehicle %s navigation: %w", v.Name, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("routes: vehicle %s navigation: %w", v.Name, err)
	}
	return cfg, nil
}

func (v VehicleSpec) Yaw() float64 {
	return v.YawDeg * math.Pi / 180
}

func (v VehicleSpec) AutoStarts() bool {
	return v.AutoStart == nil || *v.AutoStart
}

type ObstacleSpec struct {
	Name     string   `yaml:"name"`
	Position nav.Vec3 `yaml:"position"`
	Width    float64  `yaml:"width"`
	Depth    float64  `yaml:"depth"`
}

type TriggerSpec struct {
	Name      string   `yaml:"name"`
	Position  nav.Vec3 `yaml:"position"`
	Width     float64  `yaml:"width"`
	Depth     float64  `yaml:"depth"`
	Once      *bool    `yaml:"once"`
	ValidTags []string `yaml:"valid_tags"`
	Script    string   `yaml:"script"`
}

func (t TriggerSpec) FiresOnce() bool {
	return t.Once == nil || *t.Once
}

type ClockSpec struct {
	Countdown int `yaml:"countdown"`
}

type SceneSpec struct {
	Name      string         `yaml:"name"`
	LogLevel  string         `yaml:"log_level"`
	Clock     *ClockSpec     `yaml:"clock"`
	Vehicles  []VehicleSpec  `yaml:"vehicles"`
	Obstacles []ObstacleSpec `yaml:"obstacles"`
	Triggers  []TriggerSpec  `yaml:"triggers"`
}

// LoadRoute loads and validates a route document by name.
func LoadRoute(name string) (*RouteSpec, error) {
	data, err := Load(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownRoute, name, err)
	}
	spec, err := ParseRoute(data)
	if err != nil {
		return nil, fmt.Errorf("routes: %s: %w", name, err)
	}
	return spec, nil
}

// ParseRoute validates raw YAML against the route schema and the
// navigator's own path rules.
func ParseRoute(data []byte) (*RouteSpec, error) {
	if err := validateDocument(routeSchema, data); err != nil {
		return nil, err
	}
	var spec RouteSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if err := spec.Path().Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// LoadScene loads and validates a scene document by name. Referenced routes
// are not resolved here.
func LoadScene(name string) (*SceneSpec, error) {
	data, err := Load("scenes/" + name)
	if err != nil {
		data, err = Load(name)
	}
	if err != nil {
		return nil, fmt.Errorf("routes: load scene %s: %w", name, err)
	}
	spec, err := ParseScene(data)
	if err != nil {
		return nil, fmt.Errorf("routes: scene %s: %w", name, err)
	}
	return spec, nil
}

// ParseScene validates raw YAML against the scene schema and checks every
// vehicle's navigation tuning.
func ParseScene(data []byte) (*SceneSpec, error) {
	if err := validateDocument(sceneSchema, data); err != nil {
		return nil, err
	}
	var spec SceneSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	for _, v := range spec.Vehicles {
		if _, err := v.NavConfig(); err != nil {
			return nil, err
		}
	}
	return &spec, nil
}
