// Package breaker tracks memory pressure under named budgets.
//
// The allocator only sees the Ledger interface: charge before committing
// memory, credit after giving it back. Service is an in-process Ledger made
// of MemoryBreakers, one per name.
package breaker

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/sonemaro/pagealloc/pkg/logger"
)

const (
	// Request is the breaker that big arrays charge by default.
	Request = "request"
)

var (
	ErrCircuitBreaking = errors.New("circuit breaking")
)

// Ledger is the memory-pressure accounting contract.
type Ledger interface {
	// ChargeAndMaybeReject adds delta bytes to the named budget, or returns
	// a *BreakingError and changes nothing when that would exceed it.
	ChargeAndMaybeReject(name string, delta int64, label string) error
	// CreditWithoutRejecting adds delta (positive or negative) unconditionally.
	CreditWithoutRejecting(name string, delta int64)
}

// BreakingError describes a rejected charge.
type BreakingError struct {
	Name   string
	Label  string
	Wanted int64
	Used   int64
	Limit  int64
}

func (e *BreakingError) Error() string {
	return fmt.Sprintf("[%s] data for [%s] would be [%s], which is larger than the limit of [%s]",
		e.Name, e.Label,
		humanize.IBytes(uint64(max(e.Used+e.Wanted, 0))),
		humanize.IBytes(uint64(max(e.Limit, 0))))
}

func (e *BreakingError) Unwrap() error {
	return ErrCircuitBreaking
}

// MemoryBreaker is a single named budget. A limit <= 0 never rejects.
type MemoryBreaker struct {
	name  string
	limit atomic.Int64
	used  atomic.Int64
	trips atomic.Int64
	log   *logger.Manager
}

func NewMemoryBreaker(name string, limit int64, log *logger.Manager) *MemoryBreaker {
	b := &MemoryBreaker{
		name: name,
		log:  logger.OrDiscard(log),
	}
	b.limit.Store(limit)

	return b
}

func (b *MemoryBreaker) Name() string { return b.name }
func (b *MemoryBreaker) Used() int64  { return b.used.Load() }
func (b *MemoryBreaker) Limit() int64 { return b.limit.Load() }
func (b *MemoryBreaker) Trips() int64 { return b.trips.Load() }

func (b *MemoryBreaker) SetLimit(limit int64) {
	b.limit.Store(limit)
}

// AddEstimateBytesAndMaybeBreak charges bytes, rejecting positive charges that
// would push usage above the limit.
func (b *MemoryBreaker) AddEstimateBytesAndMaybeBreak(bytes int64, label string) (int64, error) {
	for {
		used := b.used.Load()
		next := used + bytes
		limit := b.limit.Load()

		if bytes > 0 && limit > 0 && next > limit {
			b.trips.Add(1)
			b.log.WithFields(logger.Fields{
				"breaker": b.name,
				"label":   label,
				"wanted":  humanize.IBytes(uint64(bytes)),
				"used":    humanize.IBytes(uint64(max(used, 0))),
				"limit":   humanize.IBytes(uint64(limit)),
			}).Warn("circuit breaker tripped")

			return used, &BreakingError{
				Name:   b.name,
				Label:  label,
				Wanted: bytes,
				Used:   used,
				Limit:  limit,
			}
		}

		if b.used.CompareAndSwap(used, next) {
			return next, nil
		}
	}
}

// AddWithoutBreaking records bytes regardless of the limit.
func (b *MemoryBreaker) AddWithoutBreaking(bytes int64) int64 {
	return b.used.Add(bytes)
}

// Stats is a snapshot of one breaker.
type Stats struct {
	Name  string
	Used  int64
	Limit int64
	Trips int64
}

func (b *MemoryBreaker) Stats() Stats {
	return Stats{
		Name:  b.name,
		Used:  b.Used(),
		Limit: b.Limit(),
		Trips: b.Trips(),
	}
}

type noop struct{}

// Noop accepts every charge and records nothing.
var Noop Ledger = noop{}

func (noop) ChargeAndMaybeReject(string, int64, string) error { return nil }
func (noop) CreditWithoutRejecting(string, int64)             {}
