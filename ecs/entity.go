package ecs

import "fmt"

// Entity is a generational handle. The low half is the storage slot, the
// high half counts how often that slot has been recycled, so a handle kept
// past DestroyEntity stops resolving once the slot is reused.
type Entity uint64

// NoEntity never names a live entity.
const NoEntity Entity = 0

type (
	entityID   uint32
	generation uint32
)

func makeEntity(id entityID, gen generation) Entity {
	return Entity(gen)<<32 | Entity(id)
}

func (e Entity) id() entityID {
	return entityID(e & 0xffffffff)
}

func (e Entity) generation() generation {
	return generation(e >> 32)
}

// Slot is the storage slot of e, shared by every generation of it.
func (e Entity) Slot() uint32 {
	return uint32(e.id())
}

func (e Entity) Valid() bool {
	return e.id() != 0
}

// String prints the slot, and the generation once the slot was recycled.
func (e Entity) String() string {
	if g := e.generation(); g > 0 {
		return fmt.Sprintf("%d#%d", e.id(), g)
	}
	return fmt.Sprintf("%d", e.id())
}
