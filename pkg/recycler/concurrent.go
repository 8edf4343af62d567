package recycler

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

type shard[T any] struct {
	dequeRecycler[T]
	_ cpu.CacheLinePad
}

// concurrentRecycler stripes values over independent deques to keep lock
// contention low. Each shard is bounded on its own, so the aggregate bound
// is approximate.
type concurrentRecycler[T any] struct {
	shards []shard[T]
	next   atomic.Uint32
}

// NewConcurrent returns a recycler striped over n shards sharing a total
// bound of limit values. Every shard may hold up to ceil(limit/n) values.
func NewConcurrent[T any](f Factory[T], limit, n int) Recycler[T] {
	n = max(n, 1)
	perShard := 0
	if limit > 0 {
		perShard = (limit + n - 1) / n
	}

	c := &concurrentRecycler[T]{shards: make([]shard[T], n)}
	for i := range c.shards {
		c.shards[i].init(f, perShard)
	}

	return c
}

// Obtain starts at a round-robin home shard, then tries the other shards
// without blocking before falling back to a fresh instance from home.
func (c *concurrentRecycler[T]) Obtain() V[T] {
	n := uint32(len(c.shards))
	home := c.next.Add(1) % n

	d := &c.shards[home].dequeRecycler
	d.mu.Lock()
	v, ok := d.popLocked()
	d.mu.Unlock()
	if ok {
		return d.recycledHandle(v)
	}

	for i := uint32(1); i < n; i++ {
		if h, ok := c.shards[(home+i)%n].tryObtain(); ok {
			return h
		}
	}

	return d.freshHandle()
}

func (c *concurrentRecycler[T]) Stats() Stats {
	var s Stats
	for i := range c.shards {
		s = s.add(c.shards[i].Stats())
	}

	return s
}

func (c *concurrentRecycler[T]) Close() {
	for i := range c.shards {
		c.shards[i].Close()
	}
}
