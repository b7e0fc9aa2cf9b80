package system

import (
	"errors"
	"math"

	"github.com/jakecoffman/cp"
	"github.com/milk9111/drivesim/ecs"
	"github.com/milk9111/drivesim/ecs/component"
	"github.com/milk9111/drivesim/nav"
)

// ErrNoSpace is returned by probes issued before the physics space exists.
var ErrNoSpace = errors.New("physics: no space")

const (
	collisionTypeVehicle cp.CollisionType = iota + 1
	collisionTypeObstacle
	collisionTypeTrigger
)

const (
	categoryVehicle uint = 1 << iota
	categoryObstacle
	categoryTrigger
)

type bodyKind int

const (
	bodyVehicle bodyKind = iota
	bodyObstacle
	bodyTrigger
)

type bodyInfo struct {
	kind    bodyKind
	body    *cp.Body
	shape   *cp.Shape
	inSpace bool
}

type triggerHit struct {
	trigger ecs.Entity
	other   ecs.Entity
}

// PhysicsSystem owns a planar chipmunk space. The ground plane maps world X
// to space X and world Z to space Y; height is not simulated.
type PhysicsSystem struct {
	space         *cp.Space
	handlersReady bool

	entities map[ecs.Entity]*bodyInfo
	shapes   map[*cp.Shape]ecs.Entity
	hits     []triggerHit
}

func NewPhysicsSystem() *PhysicsSystem {
	return &PhysicsSystem{
		space:    newSpace(),
		entities: make(map[ecs.Entity]*bodyInfo),
		shapes:   make(map[*cp.Shape]ecs.Entity),
	}
}

func newSpace() *cp.Space {
	space := cp.NewSpace()
	space.Iterations = 10
	space.SetGravity(cp.Vector{})
	return space
}

func (ps *PhysicsSystem) Space() *cp.Space {
	if ps == nil {
		return nil
	}
	return ps.space
}

func (ps *PhysicsSystem) Update(w *ecs.World, dt float64) {
	if ps == nil || w == nil {
		return
	}
	if ps.space == nil {
		ps.space = newSpace()
		ps.handlersReady = false
	}

	ps.ensureHandlers()
	ps.syncEntities(w)

	if dt > 0 {
		ps.space.Step(dt)
	}

	ps.syncTransforms(w)
	ps.flushHits(w)
}

func (ps *PhysicsSystem) ensureHandlers() {
	if ps.handlersReady || ps.space == nil {
		return
	}

	handler := ps.space.NewCollisionHandler(collisionTypeTrigger, collisionTypeVehicle)
	handler.UserData = ps
	handler.BeginFunc = func(arb *cp.Arbiter, space *cp.Space, userData interface{}) bool {
		sys, ok := userData.(*PhysicsSystem)
		if !ok || sys == nil {
			return true
		}
		shapeA, shapeB := arb.Shapes()
		trig, okA := sys.shapes[shapeA]
		other, okB := sys.shapes[shapeB]
		if !okA || !okB {
			return true
		}
		// shapes cannot leave the space mid-step; the trigger system
		// consumes these after Step returns.
		sys.hits = append(sys.hits, triggerHit{trigger: trig, other: other})
		return true
	}

	ps.handlersReady = true
}

func (ps *PhysicsSystem) syncEntities(w *ecs.World) {
	ps.cleanupEntities(w)

	ecs.ForEach2(w, component.VehicleComponent.Kind(), component.TransformComponent.Kind(), func(e ecs.Entity, v *component.Vehicle, t *component.Transform) {
		if _, ok := ps.entities[e]; ok {
			return
		}
		info := ps.createVehicle(e, v, t)
		ps.track(w, e, info)
	})

	ecs.ForEach2(w, component.ObstacleComponent.Kind(), component.TransformComponent.Kind(), func(e ecs.Entity, o *component.Obstacle, t *component.Transform) {
		if _, ok := ps.entities[e]; ok {
			return
		}
		shape := ps.staticBox(t.Position, o.Width, o.Depth)
		shape.SetCollisionType(collisionTypeObstacle)
		shape.SetFilter(cp.NewShapeFilter(0, categoryObstacle, uint(cp.ALL_CATEGORIES)))
		ps.track(w, e, &bodyInfo{kind: bodyObstacle, body: ps.space.StaticBody, shape: shape})
	})

	ecs.ForEach2(w, component.TriggerComponent.Kind(), component.TransformComponent.Kind(), func(e ecs.Entity, tr *component.Trigger, t *component.Transform) {
		if _, ok := ps.entities[e]; ok {
			return
		}
		shape := ps.staticBox(t.Position, tr.Width, tr.Depth)
		shape.SetSensor(true)
		shape.SetCollisionType(collisionTypeTrigger)
		shape.SetFilter(cp.NewShapeFilter(0, categoryTrigger, categoryVehicle))
		info := &bodyInfo{kind: bodyTrigger, body: ps.space.StaticBody, shape: shape}
		ps.track(w, e, info)
		if tr.Triggered && tr.Once {
			ps.DisableShape(e)
		}
	})
}

func (ps *PhysicsSystem) createVehicle(e ecs.Entity, v *component.Vehicle, t *component.Transform) *bodyInfo {
	mass := v.Mass
	if mass <= 0 {
		mass = 1
	}
	length, width := v.Length, v.Width
	if length <= 0 {
		length = 4
	}
	if width <= 0 {
		width = 2
	}

	// infinite moment: heading is driven by the actuator, never by contacts.
	body := cp.NewBody(mass, math.Inf(1))
	body.SetPosition(toSpace(t.Position))
	body.SetAngle(t.Yaw)

	shape := cp.NewBox(body, length, width, 0)
	shape.SetFriction(0.7)
	shape.SetCollisionType(collisionTypeVehicle)
	shape.SetFilter(cp.NewShapeFilter(vehicleGroup(e), categoryVehicle, uint(cp.ALL_CATEGORIES)))

	ps.space.AddBody(body)
	return &bodyInfo{kind: bodyVehicle, body: body, shape: shape}
}

func (ps *PhysicsSystem) staticBox(center nav.Vec3, width, depth float64) *cp.Shape {
	if width <= 0 {
		width = 1
	}
	if depth <= 0 {
		depth = 1
	}
	c := toSpace(center)
	bb := cp.BB{L: c.X - width/2, B: c.Y - depth/2, R: c.X + width/2, T: c.Y + depth/2}
	return cp.NewBox2(ps.space.StaticBody, bb, 0)
}

func (ps *PhysicsSystem) track(w *ecs.World, e ecs.Entity, info *bodyInfo) {
	ps.space.AddShape(info.shape)
	info.inSpace = true
	ps.entities[e] = info
	ps.shapes[info.shape] = e
	_ = ecs.Add(w, e, component.BodyComponent.Kind(), &component.Body{Body: info.body, Shape: info.shape})
}

// DisableShape takes e's shape out of the space. Must not be called while
// the space is stepping.
func (ps *PhysicsSystem) DisableShape(e ecs.Entity) {
	info, ok := ps.entities[e]
	if !ok || !info.inSpace {
		return
	}
	ps.space.RemoveShape(info.shape)
	info.inSpace = false
}

// EnableShape puts a previously disabled shape back into the space.
func (ps *PhysicsSystem) EnableShape(e ecs.Entity) {
	info, ok := ps.entities[e]
	if !ok || info.inSpace {
		return
	}
	ps.space.AddShape(info.shape)
	info.inSpace = true
}

func (ps *PhysicsSystem) syncTransforms(w *ecs.World) {
	ecs.ForEach2(w, component.BodyComponent.Kind(), component.TransformComponent.Kind(), func(e ecs.Entity, b *component.Body, t *component.Transform) {
		info, ok := ps.entities[e]
		if !ok || info.kind != bodyVehicle || b.Body == nil {
			return
		}
		pos := b.Body.Position()
		t.Position.X = pos.X
		t.Position.Z = pos.Y
		t.Yaw = b.Body.Angle()
	})
}

func (ps *PhysicsSystem) flushHits(w *ecs.World) {
	for _, hit := range ps.hits {
		tr, ok := ecs.Get(w, hit.trigger, component.TriggerComponent.Kind())
		if !ok || tr.Hit {
			continue
		}
		tr.Hit = true
		tr.HitBy = uint64(hit.other)
	}
	ps.hits = ps.hits[:0]
}

func (ps *PhysicsSystem) cleanupEntities(w *ecs.World) {
	for e, info := range ps.entities {
		if ecs.IsAlive(w, e) && ecs.Has(w, e, component.BodyComponent.Kind()) {
			continue
		}
		if info.inSpace {
			ps.space.RemoveShape(info.shape)
		}
		if info.kind == bodyVehicle && info.body != nil {
			ps.space.RemoveBody(info.body)
		}
		delete(ps.shapes, info.shape)
		delete(ps.entities, e)
	}
}

// Probe returns an obstacle probe that ignores exclude's own shape and every
// trigger volume.
func (ps *PhysicsSystem) Probe(exclude ecs.Entity) nav.ObstacleProbe {
	filter := cp.NewShapeFilter(vehicleGroup(exclude), uint(cp.ALL_CATEGORIES), categoryVehicle|categoryObstacle)
	return func(origin, direction nav.Vec3, distance float64) (bool, error) {
		if ps == nil || ps.space == nil {
			return false, ErrNoSpace
		}
		dir := cp.Vector{X: direction.X, Y: direction.Z}
		if dir.Length() == 0 || distance <= 0 {
			return false, nil
		}
		start := toSpace(origin)
		end := start.Add(dir.Normalize().Mult(distance))
		info := ps.space.SegmentQueryFirst(start, end, 0, filter)
		return info.Shape != nil, nil
	}
}

func vehicleGroup(e ecs.Entity) uint {
	return uint(e)
}

func toSpace(v nav.Vec3) cp.Vector {
	return cp.Vector{X: v.X, Y: v.Z}
}
