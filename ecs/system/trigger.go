package system

import (
	"log/slog"

	"github.com/milk9111/drivesim/ecs"
	"github.com/milk9111/drivesim/ecs/component"
	"github.com/milk9111/drivesim/script"
)

// ShapeToggler removes and restores an entity's collision shape.
type ShapeToggler interface {
	DisableShape(e ecs.Entity)
	EnableShape(e ecs.Entity)
}

// ScriptRunner executes trigger hook scripts.
type ScriptRunner interface {
	Run(name string, hook script.Hook) (script.Outcome, error)
}

// TriggerFired is the payload of a trigger world event.
type TriggerFired struct {
	Trigger string     `json:"trigger"`
	HitBy   ecs.Entity `json:"hit_by"`
	Tag     string     `json:"tag"`
	Manual  bool       `json:"manual"`
}

// TriggerSystem consumes the contacts recorded by the physics system and
// fires trigger volumes.
type TriggerSystem struct {
	shapes  ShapeToggler
	scripts ScriptRunner
	logger  *slog.Logger
}

func NewTriggerSystem(shapes ShapeToggler, scripts ScriptRunner, logger *slog.Logger) *TriggerSystem {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriggerSystem{shapes: shapes, scripts: scripts, logger: logger}
}

func (s *TriggerSystem) Update(w *ecs.World, dt float64) {
	if s == nil || w == nil {
		return
	}

	ecs.ForEach(w, component.TriggerComponent.Kind(), func(e ecs.Entity, tr *component.Trigger) {
		if !tr.Hit {
			return
		}
		tr.Hit = false
		if tr.Triggered && tr.Once {
			return
		}

		other := ecs.Entity(tr.HitBy)
		tag := ""
		if t, ok := ecs.Get(w, other, component.TagComponent.Kind()); ok {
			tag = t.Name
		}
		if !tr.Accepts(tag) {
			return
		}
		s.fire(w, e, tr, other, tag, false)
	})
}

// Fire triggers e by hand, bypassing the tag filter. It reports false when
// e is not a trigger or has already fired and only fires once.
func (s *TriggerSystem) Fire(w *ecs.World, e ecs.Entity) bool {
	tr, ok := ecs.Get(w, e, component.TriggerComponent.Kind())
	if !ok || (tr.Triggered && tr.Once) {
		return false
	}
	s.fire(w, e, tr, 0, "", true)
	return true
}

// Reset re-arms e and puts its volume back into the space if firing had
// removed it.
func (s *TriggerSystem) Reset(w *ecs.World, e ecs.Entity) bool {
	tr, ok := ecs.Get(w, e, component.TriggerComponent.Kind())
	if !ok {
		return false
	}
	tr.Triggered = false
	tr.Hit = false
	tr.HitBy = 0
	if s.shapes != nil {
		s.shapes.EnableShape(e)
	}
	return true
}

func (s *TriggerSystem) fire(w *ecs.World, e ecs.Entity, tr *component.Trigger, other ecs.Entity, tag string, manual bool) {
	tr.Triggered = true
	tr.HitBy = uint64(other)
	s.logger.Info("trigger: fired", "entity", e, "name", tr.Name, "hitBy", other, "tag", tag)

	w.Events().Push(ecs.Event{
		Type:   ecs.EventTrigger,
		Entity: e,
		Name:   tr.Name,
		Data:   TriggerFired{Trigger: tr.Name, HitBy: other, Tag: tag, Manual: manual},
	})

	if tr.Script != "" && s.scripts != nil {
		out, err := s.scripts.Run(tr.Script, script.Hook{TriggerName: tr.Name, HitBy: uint64(other), Tag: tag})
		if err != nil {
			s.logger.Warn("trigger: script failed", "entity", e, "script", tr.Script, "err", err)
		}
		for _, name := range out.Emitted {
			w.Events().Push(ecs.Event{Type: ecs.EventScript, Entity: e, Name: name})
		}
		if out.Stop {
			if d, ok := ecs.Get(w, other, component.DriverComponent.Kind()); ok && d.Nav != nil {
				d.Nav.Stop()
			}
		}
	}

	if tr.Once && s.shapes != nil {
		s.shapes.DisableShape(e)
	}
}
