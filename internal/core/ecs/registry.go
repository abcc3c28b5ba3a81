package ecs

import (
	"reflect"

	"github.com/simcore/engine/internal/core/hashid"
)

// TypeID is the stable key of a component type: the CRC-64 of its name.
// It does not depend on registration order.
type TypeID uint64

// Named lets a component choose the name its TypeID is derived from. Types
// that do not implement it use their Go type name.
type Named interface {
	ComponentName() string
}

// TypeName returns the registry name of T.
func TypeName[T any]() string {
	var zero T
	if n, ok := any(zero).(Named); ok {
		return n.ComponentName()
	}
	if n, ok := any(&zero).(Named); ok {
		return n.ComponentName()
	}
	return reflect.TypeOf((*T)(nil)).Elem().Name()
}

// TypeOf returns the TypeID of T.
func TypeOf[T any]() TypeID {
	return TypeID(hashid.String(TypeName[T]()))
}

// storage is the type-erased view of a Table the World keeps per type.
type storage interface {
	TypeID() TypeID
	Name() string
	Len() int
	Has(id EntityID) bool
	Remove(id EntityID) bool
	Clear()
	addAny(id EntityID) any
	getAny(id EntityID) any
}
