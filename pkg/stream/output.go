// Package stream implements an append-only byte stream over a growable big
// byte array.
//
// The stream owns its backing array. Writes grow the array through the
// allocator it was built with, so with a circuit-breaking allocator a write
// can fail with breaker.ErrCircuitBreaking; a failed write never moves the
// cursor or changes capacity.
package stream

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/sonemaro/pagealloc/pkg/bigarrays"
	"github.com/sonemaro/pagealloc/pkg/bytesref"
	"github.com/sonemaro/pagealloc/pkg/checksum"
	"github.com/sonemaro/pagealloc/pkg/pagecache"
)

var (
	ErrClosed = errors.New("stream is closed")
)

// Output is a single-writer byte stream. The zero value is not usable; use
// NewOutput or NewOutputSize.
type Output struct {
	bigArrays *bigarrays.BigArrays
	bytes     *bigarrays.ByteArray // nil until the first write or seek
	count     int64
	closed    bool
}

var (
	_ io.Writer     = (*Output)(nil)
	_ io.ByteWriter = (*Output)(nil)
	_ io.WriterTo   = (*Output)(nil)
)

// NewOutput returns an empty stream that allocates on first use. A nil ba
// means bigarrays.NonRecycling.
func NewOutput(ba *bigarrays.BigArrays) *Output {
	if ba == nil {
		ba = bigarrays.NonRecycling
	}
	return &Output{bigArrays: ba}
}

// NewOutputSize allocates expectedSize bytes up front.
func NewOutputSize(expectedSize int64, ba *bigarrays.BigArrays) (*Output, error) {
	o := NewOutput(ba)
	if expectedSize == 0 {
		return o, nil
	}

	bytes, err := o.bigArrays.NewByteArray(expectedSize, false)
	if err != nil {
		return nil, fmt.Errorf("new stream output: %w", err)
	}
	o.bytes = bytes

	return o, nil
}

// ensureCapacity makes offset bytes addressable. On error the stream is
// unchanged.
func (o *Output) ensureCapacity(offset int64) error {
	if offset < 0 || offset > math.MaxInt32 {
		return fmt.Errorf("%w: position %d", bigarrays.ErrAddressingOverflow, offset)
	}

	if o.bytes == nil {
		size := bigarrays.OverSize(offset, o.bigArrays.PageSize(), pagecache.ByteKind.ElementSize())
		bytes, err := o.bigArrays.NewByteArray(min(size, bigarrays.MaxSize), false)
		if err != nil {
			return err
		}
		o.bytes = bytes
		return nil
	}

	if offset > o.bytes.Size() {
		if _, err := o.bigArrays.GrowByteArray(o.bytes, offset); err != nil {
			return err
		}
	}

	return nil
}

func (o *Output) WriteByte(b byte) error {
	if o.closed {
		return ErrClosed
	}
	if err := o.ensureCapacity(o.count + 1); err != nil {
		return err
	}

	o.bytes.Set(o.count, b)
	o.count++

	return nil
}

// WriteBytes appends b[offset:offset+length].
func (o *Output) WriteBytes(b []byte, offset, length int) error {
	if o.closed {
		return ErrClosed
	}
	if offset < 0 || length < 0 || offset > len(b)-length {
		return fmt.Errorf("%w: offset %d length %d over buffer of %d",
			bigarrays.ErrAddressingOverflow, offset, length, len(b))
	}
	if length == 0 {
		return nil
	}
	if err := o.ensureCapacity(o.count + int64(length)); err != nil {
		return err
	}

	o.bytes.SetBytes(o.count, b, offset, length)
	o.count += int64(length)

	return nil
}

func (o *Output) Write(p []byte) (int, error) {
	if err := o.WriteBytes(p, 0, len(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (o *Output) WriteString(s string) (int, error) {
	return o.Write([]byte(s))
}

// SeekTo moves the cursor to the absolute position, growing capacity if
// needed. Bytes past the new cursor are kept.
func (o *Output) SeekTo(position int64) error {
	if o.closed {
		return ErrClosed
	}
	if err := o.ensureCapacity(position); err != nil {
		return err
	}

	o.count = position
	return nil
}

func (o *Output) Skip(length int64) error {
	return o.SeekTo(o.count + length)
}

// Reset rewinds to position 0 and keeps the backing capacity.
func (o *Output) Reset() error {
	if o.closed {
		return ErrClosed
	}

	o.count = 0
	return nil
}

// Bytes returns a zero-copy view of the written content. It is only valid
// until the next write.
func (o *Output) Bytes() (bytesref.Reference, error) {
	if o.closed {
		return nil, ErrClosed
	}
	if o.bytes == nil {
		return bytesref.Empty, nil
	}

	return bytesref.FromByteArray(o.bytes, int(o.count)), nil
}

// CopyBytes returns the written content in a new flat buffer.
func (o *Output) CopyBytes() ([]byte, error) {
	if o.closed {
		return nil, ErrClosed
	}

	out := make([]byte, o.count)
	if o.count > 0 {
		o.bytes.ReadBytes(0, out)
	}

	return out, nil
}

// WriteTo drains the written content to w without copying it first.
func (o *Output) WriteTo(w io.Writer) (int64, error) {
	ref, err := o.Bytes()
	if err != nil {
		return 0, err
	}
	return bytesref.WriteTo(w, ref)
}

// Checksum is the CRC32 of the written content.
func (o *Output) Checksum(m *checksum.Manager) (uint32, error) {
	ref, err := o.Bytes()
	if err != nil {
		return 0, err
	}
	return m.CalculateReference(ref), nil
}

// Size is the number of bytes written, which is also the cursor.
func (o *Output) Size() int64 { return o.count }

func (o *Output) Position() int64 { return o.count }

// RamBytesUsed is the charged size of the backing array.
func (o *Output) RamBytesUsed() int64 {
	if o.bytes == nil {
		return 0
	}
	return o.bytes.RamBytesUsed()
}

// Close ends the stream. The backing array stays allocated until Release.
func (o *Output) Close() error {
	o.closed = true
	return nil
}

// Release closes the stream and gives the backing array back to its
// allocator.
func (o *Output) Release() error {
	o.closed = true
	if o.bytes == nil {
		return nil
	}

	bytes := o.bytes
	o.bytes = nil
	if err := bytes.Release(); err != nil {
		return fmt.Errorf("release stream output: %w", err)
	}

	return nil
}

// ReleasableOutput is an Output whose Close also releases the backing array.
type ReleasableOutput struct {
	*Output
}

func NewReleasableOutput(ba *bigarrays.BigArrays) *ReleasableOutput {
	return &ReleasableOutput{Output: NewOutput(ba)}
}

func NewReleasableOutputSize(expectedSize int64, ba *bigarrays.BigArrays) (*ReleasableOutput, error) {
	o, err := NewOutputSize(expectedSize, ba)
	if err != nil {
		return nil, err
	}
	return &ReleasableOutput{Output: o}, nil
}

func (r *ReleasableOutput) Close() error {
	return r.Release()
}
