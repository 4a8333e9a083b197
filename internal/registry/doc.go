// Package registry is an ordered, identity-deduplicated collection of references.
//
// Nodes live in an arena with index-based links and a free list, so a bounded
// registry never allocates after construction and an unbounded one only grows
// when the free list is empty. Identity is == on T: for pointer types that is
// handle identity, never field equality.
//
// The registry holds references, it never owns what they point to: Remove and
// Destroy release nodes only.
//
// A Registry is not safe for concurrent use.
package registry
