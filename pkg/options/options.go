package options

import (
	"errors"
	"fmt"
	"math/bits"
	"runtime"
	"strings"
)

type RecyclerType string

const (
	// RecyclerConcurrent stripes each page kind over one bounded deque per processor.
	RecyclerConcurrent RecyclerType = "concurrent"
	// RecyclerQueue keeps a single bounded deque per page kind.
	RecyclerQueue RecyclerType = "queue"
	// RecyclerNone never pools: every obtain allocates, every release discards.
	RecyclerNone RecyclerType = "none"
)

// ParseRecyclerType parses a recycler type name, ignoring case.
func ParseRecyclerType(s string) (RecyclerType, error) {
	switch t := RecyclerType(strings.ToLower(strings.TrimSpace(s))); t {
	case RecyclerConcurrent, RecyclerQueue, RecyclerNone:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRecyclerType, s)
	}
}

// System limits
const (
	DefaultLimit    = 1 * 1024 * 1024 // 1MB
	DefaultPageSize = 1 << 14         // 16KB

	MinPageSize = 1 * 1024        // 1KB
	MaxPageSize = 1 * 1024 * 1024 // 1MB

	// ObjectRefSize is the slot size charged for one object reference.
	ObjectRefSize = 8

	DefaultBreakerName = "request"
)

type Options struct {
	// Page pool
	Limit      int64 // total pooled bytes, split evenly across the four page kinds
	Type       RecyclerType
	PageSize   int // bytes per page, shared by all kinds
	Processors int // number of shards for RecyclerConcurrent

	// Memory-pressure ledger
	BreakerName  string
	BreakerLimit int64 // <= 0 means unbounded
}

func DefaultOptions() Options {
	return Options{
		Limit:        DefaultLimit,
		Type:         RecyclerConcurrent,
		PageSize:     DefaultPageSize,
		Processors:   runtime.GOMAXPROCS(0),
		BreakerName:  DefaultBreakerName,
		BreakerLimit: 0,
	}
}

var (
	ErrInvalidLimit        = errors.New("pool limit out of range")
	ErrInvalidPageSize     = errors.New("page size must be a power of two within range")
	ErrInvalidProcessors   = errors.New("processors must be positive")
	ErrInvalidRecyclerType = errors.New("unknown recycler type")
	ErrInvalidBreakerName  = errors.New("breaker name must not be empty")
	ErrInvalidBreakerLimit = errors.New("breaker limit out of range")
)

// Validate checks that options are within acceptable ranges
func (o *Options) Validate() error {
	if o.Limit < 0 {
		return ErrInvalidLimit
	}

	if o.PageSize < MinPageSize || o.PageSize > MaxPageSize || bits.OnesCount(uint(o.PageSize)) != 1 {
		return ErrInvalidPageSize
	}

	if o.Processors <= 0 {
		return ErrInvalidProcessors
	}

	switch o.Type {
	case RecyclerConcurrent, RecyclerQueue, RecyclerNone:
	default:
		return ErrInvalidRecyclerType
	}

	if o.BreakerName == "" {
		return ErrInvalidBreakerName
	}
	if o.BreakerLimit < 0 {
		return ErrInvalidBreakerLimit
	}

	return nil
}

func (o *Options) BytePageSize() int   { return o.PageSize }
func (o *Options) IntPageSize() int    { return o.PageSize / 4 }
func (o *Options) LongPageSize() int   { return o.PageSize / 8 }
func (o *Options) ObjectPageSize() int { return o.PageSize / ObjectRefSize }

// MaxPageCount is the number of whole pages the pool limit can hold.
func (o *Options) MaxPageCount() int {
	n := o.Limit / int64(o.PageSize)
	if n > int64(^uint32(0)>>1) {
		n = int64(^uint32(0) >> 1)
	}

	return int(n)
}

// PagesPerKind is the pooled page bound for each of the four page kinds.
func (o *Options) PagesPerKind() int {
	return o.MaxPageCount() / 4
}
