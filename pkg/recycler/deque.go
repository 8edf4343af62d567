package recycler

import (
	"sync"

	"github.com/eapache/queue"
)

// dequeRecycler is a mutex guarded pool holding at most maxSize values.
type dequeRecycler[T any] struct {
	mu      sync.Mutex
	factory Factory[T]
	pooled  *queue.Queue
	maxSize int
	closed  bool
	stats   counters
}

// NewDeque returns a single, unstriped recycler pooling at most maxSize values.
func NewDeque[T any](f Factory[T], maxSize int) Recycler[T] {
	return newDeque(f, maxSize)
}

func newDeque[T any](f Factory[T], maxSize int) *dequeRecycler[T] {
	d := &dequeRecycler[T]{}
	d.init(f, maxSize)

	return d
}

func (d *dequeRecycler[T]) init(f Factory[T], maxSize int) {
	d.factory = f
	d.pooled = queue.New()
	d.maxSize = max(maxSize, 0)
}

func (d *dequeRecycler[T]) Obtain() V[T] {
	d.mu.Lock()
	v, ok := d.popLocked()
	d.mu.Unlock()

	if ok {
		return d.recycledHandle(v)
	}

	return d.freshHandle()
}

// tryObtain only takes from the pool, and only if the lock is free.
func (d *dequeRecycler[T]) tryObtain() (V[T], bool) {
	if !d.mu.TryLock() {
		return nil, false
	}
	v, ok := d.popLocked()
	d.mu.Unlock()

	if !ok {
		return nil, false
	}

	return d.recycledHandle(v), true
}

func (d *dequeRecycler[T]) popLocked() (T, bool) {
	if d.pooled.Length() == 0 {
		var zero T
		return zero, false
	}

	return d.pooled.Remove().(T), true
}

func (d *dequeRecycler[T]) recycledHandle(v T) V[T] {
	d.stats.obtained.Add(1)
	d.stats.recycled.Add(1)

	return newHandle[T](d, v, true)
}

func (d *dequeRecycler[T]) freshHandle() V[T] {
	d.stats.obtained.Add(1)
	d.stats.created.Add(1)

	return newHandle[T](d, d.factory.NewInstance(), false)
}

func (d *dequeRecycler[T]) release(v T) {
	d.factory.Recycle(v)

	d.mu.Lock()
	if !d.closed && d.pooled.Length() < d.maxSize {
		d.pooled.Add(v)
		d.mu.Unlock()
		d.stats.released.Add(1)
		return
	}
	d.mu.Unlock()

	d.factory.Destroy(v)
	d.stats.dropped.Add(1)
}

func (d *dequeRecycler[T]) pooledLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.pooled.Length()
}

func (d *dequeRecycler[T]) Stats() Stats {
	return d.stats.snapshot(d.pooledLen())
}

func (d *dequeRecycler[T]) Close() {
	d.mu.Lock()
	d.closed = true
	drained := make([]T, 0, d.pooled.Length())
	for d.pooled.Length() > 0 {
		drained = append(drained, d.pooled.Remove().(T))
	}
	d.mu.Unlock()

	for _, v := range drained {
		d.factory.Destroy(v)
	}
}

var _ Recycler[[]byte] = (*dequeRecycler[[]byte])(nil)
