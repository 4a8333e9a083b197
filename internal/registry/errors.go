package registry

import "errors"

var (
	// ErrNullParam is returned for a nil (or destroyed) registry and for zero-value references.
	ErrNullParam = errors.New("registry: null parameter")
	// ErrAllocation is returned when no node can be obtained.
	ErrAllocation = errors.New("registry: allocation failed")
	// ErrAlreadyPresent is returned by Add when the reference is already linked.
	ErrAlreadyPresent = errors.New("registry: already present")
	// ErrNotFound is returned by Remove when the reference is not linked.
	ErrNotFound = errors.New("registry: not found")
	// ErrEmptyList is returned by Display on an empty registry.
	ErrEmptyList = errors.New("registry: empty list")
)
