// Package component declares the component types of the driving world and
// the typed handles the ecs package stores them under.
package component

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
)

var (
	ErrEntityNotAlive       = errors.New("ecs: entity not alive")
	ErrNilComponent         = errors.New("ecs: component is nil")
	ErrInvalidComponentKind = errors.New("ecs: invalid component kind")
)

type ComponentID uint32

var (
	lastID atomic.Uint32
	names  sync.Map // ComponentID -> string
)

// ComponentKind identifies the storage of one component type. The zero
// kind is invalid.
type ComponentKind[T any] struct {
	id ComponentID
}

func (k ComponentKind[T]) ID() ComponentID {
	return k.id
}

func (k ComponentKind[T]) Valid() bool {
	return k.id != 0
}

// Name is the Go type name the kind was registered for.
func (k ComponentKind[T]) Name() string {
	return Name(k.id)
}

// ComponentHandle is the package-level registration of a component type.
// Each call to NewComponent yields a distinct kind, even for the same T.
type ComponentHandle[T any] struct {
	kind ComponentKind[T]
}

func NewComponent[T any]() ComponentHandle[T] {
	id := ComponentID(lastID.Add(1))
	names.Store(id, reflect.TypeOf((*T)(nil)).Elem().String())
	return ComponentHandle[T]{kind: ComponentKind[T]{id: id}}
}

func (h ComponentHandle[T]) Kind() ComponentKind[T] {
	return h.kind
}

// Name returns the registered type name of id, or "" when unknown.
func Name(id ComponentID) string {
	if v, ok := names.Load(id); ok {
		return v.(string)
	}
	return ""
}
