package bigarrays

import (
	"errors"
	"math/bits"

	"github.com/sonemaro/pagealloc/pkg/pagecache"
	"github.com/sonemaro/pagealloc/pkg/recycler"
)

type pageSource[T any] func(clearOnReuse bool) recycler.V[[]T]

// array is backed either by one flat block or by a list of whole pages.
// It has a single owner and no internal locking.
type array[T any] struct {
	owner         *BigArrays
	kind          pagecache.Kind
	source        pageSource[T]
	clearOnResize bool
	size          int64

	pageElems int
	pageShift uint
	pageMask  int64

	paged   bool
	flat    []T
	pages   [][]T
	handles []recycler.V[[]T]

	released bool
}

func (a *array[T]) init(b *BigArrays, kind pagecache.Kind, source pageSource[T], size int64, clearOnResize bool) error {
	if err := checkSize(size); err != nil {
		return err
	}

	a.owner = b
	a.kind = kind
	a.source = source
	a.clearOnResize = clearOnResize
	a.pageElems = b.PageElements(kind)
	a.pageShift = uint(bits.TrailingZeros(uint(a.pageElems)))
	a.pageMask = int64(a.pageElems - 1)

	if size > int64(a.pageElems) {
		if err := b.adjustBreaker(b, a.pagedBytes(size), false); err != nil {
			return err
		}
		a.paged = true
		a.growPages(a.numPages(size))
	} else {
		if err := b.adjustBreaker(b, a.flatBytes(size), false); err != nil {
			return err
		}
		a.flat = make([]T, size)
	}
	a.size = size

	return nil
}

// adopt wraps memory the caller already owns. Since it exists already, a
// rejected charge still records the usage and the array is released again.
func (a *array[T]) adopt(b *BigArrays, kind pagecache.Kind, source pageSource[T], data []T) error {
	if err := checkSize(int64(len(data))); err != nil {
		return err
	}

	if err := a.init(b, kind, source, 0, false); err != nil {
		return err
	}
	a.flat = data
	a.size = int64(len(data))

	if err := b.adjustBreaker(b, a.flatBytes(a.size), true); err != nil {
		_ = a.release()
		return err
	}

	return nil
}

func (a *array[T]) numPages(size int64) int {
	return int((size + int64(a.pageElems) - 1) >> a.pageShift)
}

func (a *array[T]) pagedBytes(size int64) int64 {
	return int64(a.numPages(size)) * int64(a.owner.pageSize)
}

func (a *array[T]) flatBytes(size int64) int64 {
	return size * int64(a.kind.ElementSize())
}

func (a *array[T]) growPages(numPages int) {
	for len(a.pages) < numPages {
		if a.source == nil {
			a.pages = append(a.pages, make([]T, a.pageElems))
			a.handles = append(a.handles, nil)
			continue
		}

		h := a.source(a.clearOnResize)
		a.pages = append(a.pages, h.Value())
		a.handles = append(a.handles, h)
	}
}

func (a *array[T]) shrinkPages(numPages int) error {
	var errs []error
	for i := numPages; i < len(a.pages); i++ {
		if h := a.handles[i]; h != nil {
			if err := h.Release(); err != nil {
				errs = append(errs, err)
			}
		}
		a.pages[i] = nil
		a.handles[i] = nil
	}
	a.pages = a.pages[:numPages]
	a.handles = a.handles[:numPages]

	return errors.Join(errs...)
}

// clearRange zeroes [from, to) of the backing storage.
func (a *array[T]) clearRange(from, to int64) {
	if !a.paged {
		clear(a.flat[from:to])
		return
	}

	for from < to {
		page := a.pages[from>>a.pageShift]
		start := from & a.pageMask
		end := min(int64(a.pageElems), start+(to-from))
		clear(page[start:end])
		from += end - start
	}
}

// resize charges the size difference with b's policy, then moves the
// array to newSize. On error nothing changed.
func (a *array[T]) resize(b *BigArrays, newSize int64) error {
	if a.released {
		return ErrAlreadyReleased
	}
	if err := checkSize(newSize); err != nil {
		return err
	}
	if newSize == a.size {
		return nil
	}

	oldSize := a.size
	switch {
	case a.paged:
		delta := a.pagedBytes(newSize) - a.RamBytesUsed()
		if err := b.adjustBreaker(a.owner, delta, false); err != nil {
			return err
		}

		capacity := int64(len(a.pages)) << a.pageShift
		if a.clearOnResize && newSize > oldSize && oldSize < capacity {
			a.clearRange(oldSize, min(newSize, capacity))
		}

		n := a.numPages(newSize)
		if n > len(a.pages) {
			a.growPages(n)
		} else if err := a.shrinkPages(n); err != nil {
			a.size = newSize
			return err
		}

	case newSize > int64(a.pageElems):
		delta := a.pagedBytes(newSize) - a.RamBytesUsed()
		if err := b.adjustBreaker(a.owner, delta, false); err != nil {
			return err
		}

		flat := a.flat
		a.flat = nil
		a.paged = true
		a.growPages(a.numPages(newSize))
		a.copyFrom(flat)

		a.owner.log.Debug("flat array promoted to pages",
			"kind", a.kind.String(), "size", newSize, "pages", len(a.pages))

	default:
		delta := a.flatBytes(newSize) - a.RamBytesUsed()
		if err := b.adjustBreaker(a.owner, delta, false); err != nil {
			return err
		}

		flat := make([]T, newSize)
		copy(flat, a.flat)
		a.flat = flat
	}
	a.size = newSize

	return nil
}

// copyFrom writes src at offset 0 of a paged array.
func (a *array[T]) copyFrom(src []T) {
	for i := 0; len(src) > 0; i++ {
		n := copy(a.pages[i], src)
		src = src[n:]
	}
}

func (a *array[T]) release() error {
	if a.released {
		return ErrAlreadyReleased
	}
	a.released = true

	ram := a.RamBytesUsed()
	err := a.shrinkPages(0)
	a.flat = nil
	a.pages = nil
	a.handles = nil
	a.size = 0

	// credits never reject, whatever the policy
	_ = a.owner.adjustBreaker(a.owner, -ram, false)

	return err
}

// Size is the logical number of elements.
func (a *array[T]) Size() int64 { return a.size }

// IsPaged reports whether the array is backed by pages rather than one block.
func (a *array[T]) IsPaged() bool { return a.paged }

// RamBytesUsed is the number of bytes charged for the backing memory.
func (a *array[T]) RamBytesUsed() int64 {
	if a.paged {
		return int64(len(a.pages)) * int64(a.owner.pageSize)
	}
	return a.flatBytes(int64(len(a.flat)))
}

func (a *array[T]) Get(index int64) T {
	if !a.paged {
		return a.flat[index]
	}
	return a.pages[index>>a.pageShift][index&a.pageMask]
}

func (a *array[T]) Set(index int64, v T) {
	if !a.paged {
		a.flat[index] = v
		return
	}
	a.pages[index>>a.pageShift][index&a.pageMask] = v
}

// Fill sets [from, to) to v.
func (a *array[T]) Fill(from, to int64, v T) {
	if from < 0 || to > a.size || from > to {
		panic("bigarrays: fill range out of bounds")
	}

	if !a.paged {
		fill(a.flat[from:to], v)
		return
	}

	for from < to {
		page := a.pages[from>>a.pageShift]
		start := from & a.pageMask
		end := min(int64(a.pageElems), start+(to-from))
		fill(page[start:end], v)
		from += end - start
	}
}

func fill[T any](s []T, v T) {
	for i := range s {
		s[i] = v
	}
}

// Release returns the pages to the pool and credits the ledger. Releasing
// twice returns ErrAlreadyReleased.
func (a *array[T]) Release() error {
	return a.release()
}
