/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package utilities

import "sync"

type ConcurrentVariable[V any] struct {
	sync.Mutex

	Value V
}

func NewConcurrentVariableD[V any](value V) *ConcurrentVariable[V] {
	return &ConcurrentVariable[V]{
		Value: value,
	}
}

func (cvar *ConcurrentVariable[V]) Get() V {
	cvar.Lock()
	defer cvar.Unlock()

	return cvar.Value
}

func (cvar *ConcurrentVariable[V]) Set(value V) {
	cvar.Lock()
	defer cvar.Unlock()

	cvar.Value = value
}

// Swap stores value and returns the previous one.
func (cvar *ConcurrentVariable[V]) Swap(value V) V {
	cvar.Lock()
	defer cvar.Unlock()

	previous := cvar.Value
	cvar.Value = value
	return previous
}

// CompareAndSet stores value only when the current value satisfies
// predicate, and reports whether it did.
func CompareAndSet[V any](variable *ConcurrentVariable[V], predicate func(current V) bool, value V) bool {
	variable.Lock()
	defer variable.Unlock()

	if !predicate(variable.Value) {
		return false
	}

	variable.Value = value
	return true
}
