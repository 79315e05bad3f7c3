package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrSystemExists is returned when registering a name already in use.
	ErrSystemExists = errors.New("system already registered")
	// ErrSystemNotFound is returned when addressing an unknown system name.
	ErrSystemNotFound = errors.New("system not found")
	// ErrNotHybrid is returned when a system registered with the hybrid
	// strategy does not implement HybridSystem.
	ErrNotHybrid = errors.New("system does not implement HybridSystem")
	// ErrAlreadyStarted is returned when mutating the system set after Start.
	ErrAlreadyStarted = errors.New("manager already started")
)

// panicError wraps a recovered panic value so it can travel an error path.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}
