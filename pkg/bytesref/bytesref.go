// Package bytesref provides read-only views over byte content that may be
// one flat buffer or a run of pages owned by a big array.
package bytesref

import (
	"fmt"
	"io"

	"github.com/sonemaro/pagealloc/pkg/bigarrays"
)

// Reference is a read-only sequence of bytes.
type Reference interface {
	Length() int
	Get(index int) byte
	// Iterator walks the content as contiguous chunks without copying.
	Iterator() *Iterator
	Slice(from, length int) Reference
}

// Iterator yields the chunks of a reference in order.
type Iterator struct {
	chunks func(pos int) []byte
	pos    int
	length int
}

// Next returns the next chunk, or nil when the content is exhausted.
func (it *Iterator) Next() []byte {
	if it.pos >= it.length {
		return nil
	}

	chunk := it.chunks(it.pos)
	if len(chunk) > it.length-it.pos {
		chunk = chunk[:it.length-it.pos]
	}
	it.pos += len(chunk)

	return chunk
}

// Array is a reference over one flat buffer.
type Array struct {
	buf []byte
}

// Empty is the reference with no content.
var Empty Reference = Array{}

// NewArray wraps buf without copying.
func NewArray(buf []byte) Array {
	return Array{buf: buf}
}

func (a Array) Length() int        { return len(a.buf) }
func (a Array) Get(index int) byte { return a.buf[index] }

// Bytes returns the backing buffer.
func (a Array) Bytes() []byte { return a.buf }

func (a Array) Iterator() *Iterator {
	return &Iterator{
		chunks: func(pos int) []byte { return a.buf[pos:] },
		length: len(a.buf),
	}
}

func (a Array) Slice(from, length int) Reference {
	checkSlice(from, length, len(a.buf))
	return Array{buf: a.buf[from : from+length]}
}

// Paged is a zero-copy reference over a window of a paged byte array. The
// array must stay alive and unmodified for as long as the reference is used.
type Paged struct {
	array  *bigarrays.ByteArray
	offset int64
	length int
}

func (p *Paged) Length() int { return p.length }

func (p *Paged) Get(index int) byte {
	if index < 0 || index >= p.length {
		panic(fmt.Sprintf("bytesref: index %d out of range [0, %d)", index, p.length))
	}
	return p.array.Get(p.offset + int64(index))
}

func (p *Paged) Iterator() *Iterator {
	pages := p.array.Pages()
	pageElems := int64(p.array.PageElements())

	return &Iterator{
		chunks: func(pos int) []byte {
			at := p.offset + int64(pos)
			return pages[at/pageElems][at%pageElems:]
		},
		length: p.length,
	}
}

func (p *Paged) Slice(from, length int) Reference {
	checkSlice(from, length, p.length)
	return &Paged{array: p.array, offset: p.offset + int64(from), length: length}
}

// FromByteArray references the first length bytes of a. Flat arrays give an
// Array, paged ones a Paged view; neither copies.
func FromByteArray(a *bigarrays.ByteArray, length int) Reference {
	if length < 0 || int64(length) > a.Size() {
		panic(fmt.Sprintf("bytesref: length %d out of range [0, %d]", length, a.Size()))
	}
	if length == 0 {
		return Empty
	}

	if !a.IsPaged() {
		return Array{buf: a.Pages()[0][:length]}
	}
	return &Paged{array: a, length: length}
}

// ToBytes flattens ref into one buffer. An Array hands back its own buffer
// without copying.
func ToBytes(ref Reference) []byte {
	if a, ok := ref.(Array); ok {
		return a.buf
	}

	out := make([]byte, 0, ref.Length())
	it := ref.Iterator()
	for chunk := it.Next(); chunk != nil; chunk = it.Next() {
		out = append(out, chunk...)
	}

	return out
}

// Equal reports whether a and b hold the same bytes.
func Equal(a, b Reference) bool {
	if a.Length() != b.Length() {
		return false
	}

	ia, ib := a.Iterator(), b.Iterator()
	var ca, cb []byte
	for {
		if len(ca) == 0 {
			ca = ia.Next()
		}
		if len(cb) == 0 {
			cb = ib.Next()
		}
		if ca == nil || cb == nil {
			return ca == nil && cb == nil
		}

		n := min(len(ca), len(cb))
		if string(ca[:n]) != string(cb[:n]) {
			return false
		}
		ca, cb = ca[n:], cb[n:]
	}
}

// WriteTo writes the content of ref to w chunk by chunk.
func WriteTo(w io.Writer, ref Reference) (int64, error) {
	var total int64

	it := ref.Iterator()
	for chunk := it.Next(); chunk != nil; chunk = it.Next() {
		n, err := w.Write(chunk)
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("write reference: %w", err)
		}
	}

	return total, nil
}

func checkSlice(from, length, size int) {
	if from < 0 || length < 0 || from+length > size {
		panic(fmt.Sprintf("bytesref: slice [%d, %d) out of range [0, %d)", from, from+length, size))
	}
}
