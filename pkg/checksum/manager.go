// Package checksum computes CRC32 sums over flat buffers and paged byte
// references, and frames content with its sum.
package checksum

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"sync"

	"github.com/sonemaro/pagealloc/pkg/bytesref"
	"github.com/sonemaro/pagealloc/pkg/options"
)

const (
	Size = 4 // CRC32 size in bytes
)

var (
	ErrShortFrame = errors.New("frame shorter than its checksum")
	ErrMismatch   = errors.New("checksum mismatch")
)

type Manager struct {
	table           *crc32.Table
	directThreshold int
	hashes          sync.Pool
}

func NewManager(config options.ChecksumConfig) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("checksum manager: %w", err)
	}

	m := &Manager{
		table:           crc32.MakeTable(config.Algorithm),
		directThreshold: config.DirectThreshold,
	}
	m.hashes.New = func() interface{} {
		return crc32.New(m.table)
	}

	return m, nil
}

// sum feeds every chunk to a pooled hash.
func (m *Manager) sum(chunks func(h hash.Hash32)) uint32 {
	h := m.hashes.Get().(hash.Hash32)
	defer func() {
		h.Reset()
		m.hashes.Put(h)
	}()

	chunks(h)
	return h.Sum32()
}

func (m *Manager) Calculate(data []byte) uint32 {
	if len(data) <= m.directThreshold {
		return crc32.Checksum(data, m.table)
	}

	return m.sum(func(h hash.Hash32) { h.Write(data) })
}

// CalculateReference sums ref chunk by chunk, so paged content is never
// flattened.
func (m *Manager) CalculateReference(ref bytesref.Reference) uint32 {
	if a, ok := ref.(bytesref.Array); ok {
		return m.Calculate(a.Bytes())
	}

	return m.sum(func(h hash.Hash32) {
		it := ref.Iterator()
		for chunk := it.Next(); chunk != nil; chunk = it.Next() {
			h.Write(chunk)
		}
	})
}

// Append appends the content of ref followed by its big-endian checksum to
// dst and returns the extended buffer.
func (m *Manager) Append(dst []byte, ref bytesref.Reference) []byte {
	it := ref.Iterator()
	for chunk := it.Next(); chunk != nil; chunk = it.Next() {
		dst = append(dst, chunk...)
	}
	return binary.BigEndian.AppendUint32(dst, m.CalculateReference(ref))
}

// Unframe splits a buffer built by Append into content and checksum,
// returning ErrMismatch when they disagree.
func (m *Manager) Unframe(frame []byte) ([]byte, uint32, error) {
	if len(frame) < Size {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(frame))
	}

	content := frame[:len(frame)-Size]
	stored := binary.BigEndian.Uint32(frame[len(content):])
	if got := m.Calculate(content); got != stored {
		return content, stored, fmt.Errorf("%w: stored %08x, computed %08x", ErrMismatch, stored, got)
	}

	return content, stored, nil
}
