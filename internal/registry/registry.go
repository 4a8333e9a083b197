package registry

import (
	"iter"
	"math"

	logx "ticksched/pkg/logx"
)

// MaxCapacity bounds the arena so node indices fit in an int32 link.
const MaxCapacity = math.MaxInt32 - 1

const nilIndex int32 = -1

type node[T comparable] struct {
	value T
	next  int32
}

// Registry is an ordered collection of references of type T.
type Registry[T comparable] struct {
	log logx.Logger

	nodes []node[T]
	head  int32
	tail  int32
	free  int32 // free-list head, linked through node.next
	size  int

	capacity  int // 0 means grow on demand
	destroyed bool
}

type options struct {
	log logx.Logger
}

type Option func(*options)

// WithLogger enables trace output for registry mutations.
func WithLogger(log logx.Logger) Option {
	return func(o *options) { o.log = log }
}

// New creates an empty registry.
//
// capacity > 0 preallocates a fixed arena; Add fails with ErrAllocation once it
// is full. capacity == 0 grows on demand.
func New[T comparable](capacity int, opts ...Option) (*Registry[T], error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	if capacity < 0 || capacity > MaxCapacity {
		o.log.Error("registry could not be allocated", logx.Int("capacity", capacity))
		return nil, ErrAllocation
	}
	r := &Registry[T]{
		log:      o.log,
		head:     nilIndex,
		tail:     nilIndex,
		free:     nilIndex,
		capacity: capacity,
	}
	if capacity > 0 {
		r.nodes = make([]node[T], 0, capacity)
	}
	r.log.Trace("registry allocated", logx.Ptr("registry", r), logx.Int("capacity", capacity))
	return r, nil
}

func (r *Registry[T]) usable() bool { return r != nil && !r.destroyed }

func isZero[T comparable](v T) bool {
	var zero T
	return v == zero
}

// Len returns the number of linked references.
func (r *Registry[T]) Len() int {
	if !r.usable() {
		return 0
	}
	return r.size
}

// Cap returns the fixed capacity, or 0 for a growable registry.
func (r *Registry[T]) Cap() int {
	if r == nil {
		return 0
	}
	return r.capacity
}

// Add links v at the tail.
func (r *Registry[T]) Add(v T) error {
	if !r.usable() || isZero(v) {
		return ErrNullParam
	}
	if r.indexOf(v) != nilIndex {
		r.log.Debug("node already added", logx.Value("data", v))
		return ErrAlreadyPresent
	}
	i, err := r.alloc(v)
	if err != nil {
		r.log.Error("node could not be allocated", logx.Int("len", r.size), logx.Int("capacity", r.capacity))
		return err
	}
	if r.head == nilIndex {
		r.head = i
		r.log.Trace("node added at head", logx.Int("node", int(i)))
	} else {
		r.nodes[r.tail].next = i
		r.log.Trace("node added at tail", logx.Int("node", int(i)))
	}
	r.tail = i
	r.size++
	return nil
}

// Remove unlinks v and releases its node. The referenced value is not touched.
func (r *Registry[T]) Remove(v T) error {
	if !r.usable() || isZero(v) {
		return ErrNullParam
	}
	prev := nilIndex
	for i := r.head; i != nilIndex; i = r.nodes[i].next {
		if r.nodes[i].value != v {
			prev = i
			continue
		}
		next := r.nodes[i].next
		if prev == nilIndex {
			r.head = next
		} else {
			r.nodes[prev].next = next
		}
		if r.tail == i {
			r.tail = prev
		}
		r.release(i)
		r.size--
		r.log.Trace("node removed", logx.Int("node", int(i)))
		return nil
	}
	r.log.Debug("node not found", logx.Value("data", v))
	return ErrNotFound
}

// Find returns the linked reference equal to v.
func (r *Registry[T]) Find(v T) (T, bool) {
	var zero T
	if !r.usable() || isZero(v) {
		return zero, false
	}
	i := r.indexOf(v)
	if i == nilIndex {
		return zero, false
	}
	return r.nodes[i].value, true
}

// Contains reports whether v is linked.
func (r *Registry[T]) Contains(v T) bool {
	_, ok := r.Find(v)
	return ok
}

// Reverse reverses the link order in place.
func (r *Registry[T]) Reverse() error {
	if !r.usable() {
		return ErrNullParam
	}
	reversed := nilIndex
	cur := r.head
	r.tail = r.head
	for cur != nilIndex {
		next := r.nodes[cur].next
		r.nodes[cur].next = reversed
		reversed = cur
		cur = next
	}
	r.head = reversed
	r.log.Trace("registry reversed", logx.Ptr("registry", r))
	return nil
}

// Destroy releases every node. Referenced values are left alone; the registry
// rejects further use with ErrNullParam.
func (r *Registry[T]) Destroy() error {
	if !r.usable() {
		return ErrNullParam
	}
	for i := r.head; i != nilIndex; i = r.nodes[i].next {
		r.log.Trace("freeing node", logx.Int("node", int(i)))
	}
	r.nodes = nil
	r.head, r.tail, r.free = nilIndex, nilIndex, nilIndex
	r.size = 0
	r.destroyed = true
	r.log.Trace("registry destroyed", logx.Ptr("registry", r))
	return nil
}

// All yields linked references in link order.
//
// The successor is read before yielding, so the consumer may act on the
// yielded value; it must not mutate the registry.
func (r *Registry[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		if !r.usable() {
			return
		}
		for i := r.head; i != nilIndex; {
			next := r.nodes[i].next
			if !yield(r.nodes[i].value) {
				return
			}
			i = next
		}
	}
}

// Values returns a copy of the linked references in link order.
func (r *Registry[T]) Values() []T {
	out := make([]T, 0, r.Len())
	for v := range r.All() {
		out = append(out, v)
	}
	return out
}

// Display traces every node to log.
func (r *Registry[T]) Display(log logx.Logger) error {
	if !r.usable() {
		return ErrNullParam
	}
	if r.head == nilIndex {
		log.Debug("empty list", logx.Ptr("registry", r))
		return ErrEmptyList
	}
	log.Trace("displaying list", logx.Ptr("registry", r), logx.Int("len", r.size))
	for i := r.head; i != nilIndex; i = r.nodes[i].next {
		log.Trace("node", logx.Int("node", int(i)), logx.Value("data", r.nodes[i].value))
	}
	log.Trace("end of list")
	return nil
}

func (r *Registry[T]) indexOf(v T) int32 {
	for i := r.head; i != nilIndex; i = r.nodes[i].next {
		if r.nodes[i].value == v {
			return i
		}
	}
	return nilIndex
}

func (r *Registry[T]) alloc(v T) (int32, error) {
	if r.free != nilIndex {
		i := r.free
		r.free = r.nodes[i].next
		r.nodes[i] = node[T]{value: v, next: nilIndex}
		return i, nil
	}
	if r.capacity > 0 && len(r.nodes) >= r.capacity {
		return nilIndex, ErrAllocation
	}
	if len(r.nodes) >= MaxCapacity {
		return nilIndex, ErrAllocation
	}
	r.nodes = append(r.nodes, node[T]{value: v, next: nilIndex})
	return int32(len(r.nodes) - 1), nil
}

// release puts node i on the free list and drops its reference.
func (r *Registry[T]) release(i int32) {
	var zero T
	r.nodes[i] = node[T]{value: zero, next: r.free}
	r.free = i
}
