package recycler

type noneRecycler[T any] struct {
	factory Factory[T]
	stats   counters
}

// NewNone returns a recycler that never pools anything.
func NewNone[T any](f Factory[T]) Recycler[T] {
	return &noneRecycler[T]{factory: f}
}

func (n *noneRecycler[T]) Obtain() V[T] {
	n.stats.obtained.Add(1)
	n.stats.created.Add(1)

	return newHandle[T](n, n.factory.NewInstance(), false)
}

func (n *noneRecycler[T]) release(v T) {
	n.factory.Recycle(v)
	n.factory.Destroy(v)
	n.stats.dropped.Add(1)
}

func (n *noneRecycler[T]) Stats() Stats { return n.stats.snapshot(0) }

func (n *noneRecycler[T]) Close() {}
