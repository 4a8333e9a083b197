package scheduler

import (
	"errors"
	"fmt"

	"ticksched/internal/registry"
)

var (
	ErrNullParam          = errors.New("scheduler: null parameter")
	ErrAllocation         = errors.New("scheduler: allocation failed")
	ErrNotInitialized     = errors.New("scheduler: not initialized")
	ErrAlreadyInitialized = errors.New("scheduler: already initialized")
	ErrInvalidPeriod      = errors.New("scheduler: invalid period")
	ErrAlreadyRegistered  = errors.New("scheduler: task already registered")
	ErrUnregisteredTask   = errors.New("scheduler: task not registered")
	ErrAlreadyStarted     = errors.New("scheduler: task already started")
	ErrAlreadyStopped     = errors.New("scheduler: task already stopped")
	// ErrReentrant is returned when a callback calls back into the scheduler.
	ErrReentrant = errors.New("scheduler: reentrant call from dispatch")
)

// Registry failures keep both sentinels matchable with errors.Is.
var (
	errNotRegistered = fmt.Errorf("%w: %w", ErrUnregisteredTask, registry.ErrNotFound)
	errDuplicate     = fmt.Errorf("%w: %w", ErrAlreadyRegistered, registry.ErrAlreadyPresent)
)

func mapRegistryErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, registry.ErrAlreadyPresent):
		return errDuplicate
	case errors.Is(err, registry.ErrNotFound):
		return errNotRegistered
	case errors.Is(err, registry.ErrAllocation):
		return fmt.Errorf("%w: %w", ErrAllocation, err)
	case errors.Is(err, registry.ErrNullParam):
		return fmt.Errorf("%w: %w", ErrNullParam, err)
	default:
		return err
	}
}
