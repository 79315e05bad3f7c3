package ecs

import "errors"

// Core runtime errors
var (
	// Entity errors

	ErrStaleHandle = errors.New("entity handle is stale or unknown")

	// Component errors

	ErrMissingComponent  = errors.New("component not present on entity")
	ErrTypeNotRegistered = errors.New("component type not registered")
	ErrNotSerializable   = errors.New("component type is not serializable")

	// Lock errors

	ErrLockTimeout   = errors.New("component lock wait exceeded timeout")
	ErrLockReentrant = errors.New("component lock already held by this goroutine")
)
