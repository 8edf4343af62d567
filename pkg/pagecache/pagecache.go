// Package pagecache pools fixed-size pages of bytes, ints, longs and object
// references for the big array allocator.
//
// One byte budget (options.Options.Limit) is split evenly across the four
// page kinds. A kind whose share rounds down to zero pages is not pooled at
// all: obtains allocate and releases discard.
package pagecache

import (
	"fmt"

	"github.com/sonemaro/pagealloc/pkg/logger"
	"github.com/sonemaro/pagealloc/pkg/options"
	"github.com/sonemaro/pagealloc/pkg/recycler"
)

type Kind int

const (
	ByteKind Kind = iota
	IntKind
	LongKind
	ObjectKind
)

var Kinds = [...]Kind{ByteKind, IntKind, LongKind, ObjectKind}

func (k Kind) String() string {
	switch k {
	case ByteKind:
		return "byte"
	case IntKind:
		return "int"
	case LongKind:
		return "long"
	case ObjectKind:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ElementSize is the number of bytes one element of the kind accounts for.
func (k Kind) ElementSize() int {
	switch k {
	case ByteKind:
		return 1
	case IntKind:
		return 4
	default:
		return 8
	}
}

// Recycler owns one page recycler per kind.
type Recycler struct {
	opts     options.Options
	capacity int

	bytePage   recycler.Recycler[[]byte]
	intPage    recycler.Recycler[[]int32]
	longPage   recycler.Recycler[[]int64]
	objectPage recycler.Recycler[[]any]
}

func New(opts options.Options, log *logger.Manager) (*Recycler, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid page cache options: %w", err)
	}
	log = logger.OrDiscard(log)

	capacity := opts.PagesPerKind()
	r := &Recycler{
		opts:     opts,
		capacity: capacity,
	}

	r.bytePage = build(opts, capacity, numericPages[byte](opts.BytePageSize()))
	r.intPage = build(opts, capacity, numericPages[int32](opts.IntPageSize()))
	r.longPage = build(opts, capacity, numericPages[int64](opts.LongPageSize()))
	r.objectPage = build(opts, capacity, objectPages(opts.ObjectPageSize()))

	log.WithFields(logger.Fields{
		"type":           string(opts.Type),
		"limit":          opts.Limit,
		"page_size":      opts.PageSize,
		"pages_per_kind": capacity,
		"processors":     opts.Processors,
	}).Debug("page cache initialized")

	return r, nil
}

func build[T any](opts options.Options, limit int, f recycler.Factory[T]) recycler.Recycler[T] {
	if limit == 0 {
		return recycler.NewNone[T](f)
	}

	switch opts.Type {
	case options.RecyclerQueue:
		return recycler.NewDeque[T](f, limit)
	case options.RecyclerConcurrent:
		return recycler.NewConcurrent[T](f, limit, opts.Processors)
	default:
		return recycler.NewNone[T](f)
	}
}

// numericPages builds zeroed pages; pooled numeric pages are only cleared on
// obtain, and only when the caller asks for it.
func numericPages[T byte | int32 | int64](size int) recycler.Factory[[]T] {
	return recycler.FactoryFuncs[[]T]{
		New: func() []T { return make([]T, size) },
	}
}

// objectPages clears every slot on release so a pooled page never keeps
// references alive.
func objectPages(size int) recycler.Factory[[]any] {
	return recycler.FactoryFuncs[[]any]{
		New:       func() []any { return make([]any, size) },
		OnRecycle: func(page []any) { clear(page) },
	}
}

func obtain[T any](r recycler.Recycler[[]T], clearOnReuse bool) recycler.V[[]T] {
	v := r.Obtain()
	if v.IsRecycled() && clearOnReuse {
		clear(v.Value())
	}

	return v
}

func (r *Recycler) BytePage(clearOnReuse bool) recycler.V[[]byte] { return obtain(r.bytePage, clearOnReuse) }

func (r *Recycler) IntPage(clearOnReuse bool) recycler.V[[]int32] { return obtain(r.intPage, clearOnReuse) }

func (r *Recycler) LongPage(clearOnReuse bool) recycler.V[[]int64] { return obtain(r.longPage, clearOnReuse) }

// ObjectPage returns a page whose slots are all nil.
func (r *Recycler) ObjectPage() recycler.V[[]any] { return r.objectPage.Obtain() }

// PageSize is the page size in bytes, shared by every kind.
func (r *Recycler) PageSize() int { return r.opts.PageSize }

// PageElements is the number of elements in one page of the kind.
func (r *Recycler) PageElements(k Kind) int {
	return r.opts.PageSize / k.ElementSize()
}

// Capacity is the pooled page bound of each kind.
func (r *Recycler) Capacity() int { return r.capacity }

func (r *Recycler) Options() options.Options { return r.opts }

func (r *Recycler) Stats() map[Kind]recycler.Stats {
	return map[Kind]recycler.Stats{
		ByteKind:   r.bytePage.Stats(),
		IntKind:    r.intPage.Stats(),
		LongKind:   r.longPage.Stats(),
		ObjectKind: r.objectPage.Stats(),
	}
}

func (r *Recycler) Close() {
	r.bytePage.Close()
	r.intPage.Close()
	r.longPage.Close()
	r.objectPage.Close()
}
