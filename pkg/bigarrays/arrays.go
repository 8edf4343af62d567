package bigarrays

import (
	"fmt"

	"github.com/sonemaro/pagealloc/pkg/pagecache"
	"github.com/sonemaro/pagealloc/pkg/recycler"
)

// ByteArray is a growable array of bytes.
type ByteArray struct{ array[byte] }

// IntArray is a growable array of 32-bit ints.
type IntArray struct{ array[int32] }

// LongArray is a growable array of 64-bit ints.
type LongArray struct{ array[int64] }

// ObjectArray is a growable array of references. Its pages are cleared
// before they go back to the pool.
type ObjectArray struct{ array[any] }

func (b *BigArrays) byteSource() pageSource[byte] {
	if b.recycler == nil {
		return nil
	}
	return b.recycler.BytePage
}

func (b *BigArrays) intSource() pageSource[int32] {
	if b.recycler == nil {
		return nil
	}
	return b.recycler.IntPage
}

func (b *BigArrays) longSource() pageSource[int64] {
	if b.recycler == nil {
		return nil
	}
	return b.recycler.LongPage
}

func (b *BigArrays) objectSource() pageSource[any] {
	if b.recycler == nil {
		return nil
	}
	r := b.recycler
	return func(bool) recycler.V[[]any] { return r.ObjectPage() }
}

// NewByteArray allocates size bytes. With clearOnResize, pages reused from
// the pool are zeroed whenever the array grows.
func (b *BigArrays) NewByteArray(size int64, clearOnResize bool) (*ByteArray, error) {
	a := &ByteArray{}
	if err := a.init(b, pagecache.ByteKind, b.byteSource(), size, clearOnResize); err != nil {
		return nil, fmt.Errorf("new byte array: %w", err)
	}
	return a, nil
}

// WrapBytes adopts buf as a flat byte array and accounts for it.
func (b *BigArrays) WrapBytes(buf []byte) (*ByteArray, error) {
	a := &ByteArray{}
	if err := a.adopt(b, pagecache.ByteKind, b.byteSource(), buf); err != nil {
		return nil, fmt.Errorf("wrap bytes: %w", err)
	}
	return a, nil
}

func (b *BigArrays) ResizeByteArray(a *ByteArray, size int64) (*ByteArray, error) {
	if err := a.resize(b, size); err != nil {
		return a, fmt.Errorf("resize byte array: %w", err)
	}
	return a, nil
}

// GrowByteArray makes room for at least minSize bytes, over-sizing the
// result. It never shrinks.
func (b *BigArrays) GrowByteArray(a *ByteArray, minSize int64) (*ByteArray, error) {
	if a.released {
		return a, fmt.Errorf("grow byte array: %w", ErrAlreadyReleased)
	}
	if minSize <= a.Size() {
		return a, nil
	}
	if err := checkSize(minSize); err != nil {
		return a, fmt.Errorf("grow byte array: %w", err)
	}
	return b.ResizeByteArray(a, b.growTarget(pagecache.ByteKind, minSize))
}

func (b *BigArrays) NewIntArray(size int64, clearOnResize bool) (*IntArray, error) {
	a := &IntArray{}
	if err := a.init(b, pagecache.IntKind, b.intSource(), size, clearOnResize); err != nil {
		return nil, fmt.Errorf("new int array: %w", err)
	}
	return a, nil
}

func (b *BigArrays) ResizeIntArray(a *IntArray, size int64) (*IntArray, error) {
	if err := a.resize(b, size); err != nil {
		return a, fmt.Errorf("resize int array: %w", err)
	}
	return a, nil
}

func (b *BigArrays) GrowIntArray(a *IntArray, minSize int64) (*IntArray, error) {
	if a.released {
		return a, fmt.Errorf("grow int array: %w", ErrAlreadyReleased)
	}
	if minSize <= a.Size() {
		return a, nil
	}
	if err := checkSize(minSize); err != nil {
		return a, fmt.Errorf("grow int array: %w", err)
	}
	return b.ResizeIntArray(a, b.growTarget(pagecache.IntKind, minSize))
}

func (b *BigArrays) NewLongArray(size int64, clearOnResize bool) (*LongArray, error) {
	a := &LongArray{}
	if err := a.init(b, pagecache.LongKind, b.longSource(), size, clearOnResize); err != nil {
		return nil, fmt.Errorf("new long array: %w", err)
	}
	return a, nil
}

func (b *BigArrays) ResizeLongArray(a *LongArray, size int64) (*LongArray, error) {
	if err := a.resize(b, size); err != nil {
		return a, fmt.Errorf("resize long array: %w", err)
	}
	return a, nil
}

func (b *BigArrays) GrowLongArray(a *LongArray, minSize int64) (*LongArray, error) {
	if a.released {
		return a, fmt.Errorf("grow long array: %w", ErrAlreadyReleased)
	}
	if minSize <= a.Size() {
		return a, nil
	}
	if err := checkSize(minSize); err != nil {
		return a, fmt.Errorf("grow long array: %w", err)
	}
	return b.ResizeLongArray(a, b.growTarget(pagecache.LongKind, minSize))
}

// NewObjectArray allocates size nil references. Object pages are always
// cleared on release, so clearing on reuse is implied.
func (b *BigArrays) NewObjectArray(size int64) (*ObjectArray, error) {
	a := &ObjectArray{}
	if err := a.init(b, pagecache.ObjectKind, b.objectSource(), size, true); err != nil {
		return nil, fmt.Errorf("new object array: %w", err)
	}
	return a, nil
}

func (b *BigArrays) ResizeObjectArray(a *ObjectArray, size int64) (*ObjectArray, error) {
	if err := a.resize(b, size); err != nil {
		return a, fmt.Errorf("resize object array: %w", err)
	}
	return a, nil
}

func (b *BigArrays) GrowObjectArray(a *ObjectArray, minSize int64) (*ObjectArray, error) {
	if a.released {
		return a, fmt.Errorf("grow object array: %w", ErrAlreadyReleased)
	}
	if minSize <= a.Size() {
		return a, nil
	}
	if err := checkSize(minSize); err != nil {
		return a, fmt.Errorf("grow object array: %w", err)
	}
	return b.ResizeObjectArray(a, b.growTarget(pagecache.ObjectKind, minSize))
}

// Increment adds inc to the element at index and returns the new value.
func (a *IntArray) Increment(index int64, inc int32) int32 {
	v := a.Get(index) + inc
	a.Set(index, v)
	return v
}

// Increment adds inc to the element at index and returns the new value.
func (a *LongArray) Increment(index int64, inc int64) int64 {
	v := a.Get(index) + inc
	a.Set(index, v)
	return v
}

// Swap sets the reference at index and returns the previous one.
func (a *ObjectArray) Swap(index int64, v any) any {
	old := a.Get(index)
	a.Set(index, v)
	return old
}

// SetBytes copies buf[offset:offset+length] to index, crossing pages as needed.
func (a *ByteArray) SetBytes(index int64, buf []byte, offset, length int) {
	if offset < 0 || length < 0 || offset+length > len(buf) || index < 0 || index+int64(length) > a.size {
		panic(fmt.Sprintf("bigarrays: SetBytes out of range: index=%d offset=%d length=%d buf=%d size=%d",
			index, offset, length, len(buf), a.size))
	}

	src := buf[offset : offset+length]
	if !a.paged {
		copy(a.flat[index:], src)
		return
	}

	for len(src) > 0 {
		page := a.pages[index>>a.pageShift]
		n := copy(page[index&a.pageMask:], src)
		src = src[n:]
		index += int64(n)
	}
}

// ReadBytes copies bytes starting at index into dst and returns how many
// were copied; it stops at Size().
func (a *ByteArray) ReadBytes(index int64, dst []byte) int {
	if index < 0 || index > a.size {
		panic(fmt.Sprintf("bigarrays: ReadBytes index %d out of range [0, %d]", index, a.size))
	}

	dst = dst[:min(int64(len(dst)), a.size-index)]
	if !a.paged {
		return copy(dst, a.flat[index:])
	}

	total := 0
	for len(dst) > 0 {
		page := a.pages[index>>a.pageShift]
		n := copy(dst, page[index&a.pageMask:])
		dst = dst[n:]
		index += int64(n)
		total += n
	}
	return total
}

// Pages returns the backing blocks without copying. A flat array has one
// block; a paged array has full pages whose tail may lie beyond Size().
func (a *ByteArray) Pages() [][]byte {
	if !a.paged {
		if len(a.flat) == 0 {
			return nil
		}
		return [][]byte{a.flat}
	}
	return a.pages
}

// PageElements is the number of bytes per page of this array.
func (a *ByteArray) PageElements() int { return a.pageElems }
