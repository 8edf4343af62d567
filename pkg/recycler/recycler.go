// Package recycler provides bounded pools of reusable values.
//
// A Recycler hands out values wrapped in a V handle. Releasing the handle
// gives the value back: the Factory gets a chance to scrub it, then it is
// either pooled for the next Obtain or, when the pool is full, destroyed.
// Obtain never fails; an empty or disabled pool falls back to constructing a
// fresh value. Release never fails either, except for releasing the same
// handle twice, which is reported as ErrDoubleRelease.
package recycler

import (
	"errors"
	"sync/atomic"
)

var (
	ErrDoubleRelease = errors.New("recycler: value released twice")
)

// Factory builds and scrubs pooled values.
type Factory[T any] interface {
	// NewInstance constructs a fresh, zero-valued instance.
	NewInstance() T
	// Recycle runs on every release, before the value may be pooled.
	Recycle(v T)
	// Destroy runs when a released value is dropped instead of pooled.
	Destroy(v T)
}

// V is a handle over an obtained value.
type V[T any] interface {
	Value() T
	// IsRecycled reports whether the value came out of the pool rather
	// than from NewInstance.
	IsRecycled() bool
	Release() error
}

type Recycler[T any] interface {
	Obtain() V[T]
	Stats() Stats
	// Close destroys every pooled value. Values released afterwards are
	// destroyed immediately.
	Close()
}

// FactoryFuncs adapts plain functions to a Factory. Nil Recycle and Destroy
// are no-ops.
type FactoryFuncs[T any] struct {
	New       func() T
	OnRecycle func(T)
	OnDestroy func(T)
}

func (f FactoryFuncs[T]) NewInstance() T { return f.New() }

func (f FactoryFuncs[T]) Recycle(v T) {
	if f.OnRecycle != nil {
		f.OnRecycle(v)
	}
}

func (f FactoryFuncs[T]) Destroy(v T) {
	if f.OnDestroy != nil {
		f.OnDestroy(v)
	}
}

// Stats is a point-in-time snapshot of recycler activity.
type Stats struct {
	Obtained int64 // handles handed out
	Recycled int64 // obtains served from the pool
	Created  int64 // obtains served by NewInstance
	Released int64 // releases that went back into the pool
	Dropped  int64 // releases destroyed because the pool was full or closed
	Pooled   int   // values currently pooled
}

func (s Stats) add(o Stats) Stats {
	return Stats{
		Obtained: s.Obtained + o.Obtained,
		Recycled: s.Recycled + o.Recycled,
		Created:  s.Created + o.Created,
		Released: s.Released + o.Released,
		Dropped:  s.Dropped + o.Dropped,
		Pooled:   s.Pooled + o.Pooled,
	}
}

type counters struct {
	obtained atomic.Int64
	recycled atomic.Int64
	created  atomic.Int64
	released atomic.Int64
	dropped  atomic.Int64
}

func (c *counters) snapshot(pooled int) Stats {
	return Stats{
		Obtained: c.obtained.Load(),
		Recycled: c.recycled.Load(),
		Created:  c.created.Load(),
		Released: c.released.Load(),
		Dropped:  c.dropped.Load(),
		Pooled:   pooled,
	}
}

type releaser[T any] interface {
	release(v T)
}

type handle[T any] struct {
	value    T
	recycled bool
	released atomic.Bool
	owner    releaser[T]
}

func newHandle[T any](owner releaser[T], v T, recycled bool) *handle[T] {
	return &handle[T]{value: v, recycled: recycled, owner: owner}
}

func (h *handle[T]) Value() T         { return h.value }
func (h *handle[T]) IsRecycled() bool { return h.recycled }

func (h *handle[T]) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return ErrDoubleRelease
	}

	v := h.value
	var zero T
	h.value = zero
	h.owner.release(v)

	return nil
}
