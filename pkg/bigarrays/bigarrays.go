// Package bigarrays allocates growable arrays of bytes, ints, longs and
// objects on top of pooled pages, charging a memory-pressure ledger for
// every byte it materializes.
//
// Arrays up to one page are a single plain block that never touches the
// page pool. Larger arrays are a list of whole pages obtained from the
// pagecache. In both cases the ledger is charged first and memory is only
// taken once the charge went through, so a rejected charge never has a
// half-built array to undo.
//
// A BigArrays comes in two views sharing pool, ledger and breaker name:
// the circuit-breaking view may reject a charge, the plain view records
// usage without ever rejecting.
package bigarrays

import (
	"errors"
	"fmt"
	"math"

	"github.com/sonemaro/pagealloc/pkg/breaker"
	"github.com/sonemaro/pagealloc/pkg/logger"
	"github.com/sonemaro/pagealloc/pkg/options"
	"github.com/sonemaro/pagealloc/pkg/pagecache"
)

// MaxSize is the largest element count an array can address.
const MaxSize = math.MaxInt32

const reusedArraysLabel = "<reused_arrays>"

var (
	ErrAddressingOverflow = errors.New("size exceeds 32-bit addressing")
	ErrAlreadyReleased    = errors.New("array already released")
)

// NonRecycling allocates pages with make and keeps no accounting.
var NonRecycling = New(nil, nil, breaker.Request, nil)

type chargePolicy interface {
	charge(l breaker.Ledger, name string, delta int64, alreadyCreated bool) error
	breaking() bool
}

type checkedPolicy struct{}

// charge rejects positive deltas over budget. When the memory behind delta
// already exists the usage is still recorded, so the release that follows
// the rejection balances the ledger.
func (checkedPolicy) charge(l breaker.Ledger, name string, delta int64, alreadyCreated bool) error {
	if delta <= 0 {
		l.CreditWithoutRejecting(name, delta)
		return nil
	}

	if err := l.ChargeAndMaybeReject(name, delta, reusedArraysLabel); err != nil {
		if alreadyCreated {
			l.CreditWithoutRejecting(name, delta)
		}
		return err
	}

	return nil
}

func (checkedPolicy) breaking() bool { return true }

type bypassPolicy struct{}

func (bypassPolicy) charge(l breaker.Ledger, name string, delta int64, _ bool) error {
	l.CreditWithoutRejecting(name, delta)
	return nil
}

func (bypassPolicy) breaking() bool { return false }

type BigArrays struct {
	recycler    *pagecache.Recycler
	ledger      breaker.Ledger
	breakerName string
	policy      chargePolicy
	sibling     *BigArrays
	pageSize    int
	log         *logger.Manager
}

// New returns the non-breaking view. recycler and ledger may be nil: pages
// are then allocated directly and nothing is accounted.
func New(recycler *pagecache.Recycler, ledger breaker.Ledger, breakerName string, log *logger.Manager) *BigArrays {
	pageSize := options.DefaultPageSize
	if recycler != nil {
		pageSize = recycler.PageSize()
	}
	log = logger.OrDiscard(log).Named("bigarrays")

	plain := &BigArrays{
		recycler:    recycler,
		ledger:      ledger,
		breakerName: breakerName,
		policy:      bypassPolicy{},
		pageSize:    pageSize,
		log:         log,
	}
	checked := *plain
	checked.policy = checkedPolicy{}

	plain.sibling = &checked
	checked.sibling = plain

	return plain
}

// WithCircuitBreaking returns the view whose charges may be rejected.
func (b *BigArrays) WithCircuitBreaking() *BigArrays {
	if b.policy.breaking() {
		return b
	}
	return b.sibling
}

// WithoutCircuitBreaking returns the view that records usage but never rejects.
func (b *BigArrays) WithoutCircuitBreaking() *BigArrays {
	if !b.policy.breaking() {
		return b
	}
	return b.sibling
}

func (b *BigArrays) IsCircuitBreaking() bool { return b.policy.breaking() }

func (b *BigArrays) Ledger() breaker.Ledger { return b.ledger }

func (b *BigArrays) BreakerName() string { return b.breakerName }

func (b *BigArrays) Recycler() *pagecache.Recycler { return b.recycler }

// PageSize is the page size in bytes.
func (b *BigArrays) PageSize() int { return b.pageSize }

// PageElements is the number of elements of kind k in one page.
func (b *BigArrays) PageElements(k pagecache.Kind) int {
	return b.pageSize / k.ElementSize()
}

// adjustBreaker charges delta against owner's ledger using b's policy.
func (b *BigArrays) adjustBreaker(owner *BigArrays, delta int64, alreadyCreated bool) error {
	if owner.ledger == nil || delta == 0 {
		return nil
	}

	return b.policy.charge(owner.ledger, owner.breakerName, delta, alreadyCreated)
}

func checkSize(size int64) error {
	if size < 0 || size > MaxSize {
		return fmt.Errorf("%w: requested %d elements, max %d", ErrAddressingOverflow, size, int64(MaxSize))
	}

	return nil
}

// OverSize returns the capacity to allocate for at least minTargetSize
// elements. Below one page it over-allocates geometrically, capped at one
// page; from one page on it rounds up to whole pages.
func OverSize(minTargetSize int64, pageSize, bytesPerElement int) int64 {
	if minTargetSize < 0 {
		panic("bigarrays: minTargetSize must be >= 0")
	}
	if pageSize <= 0 {
		panic("bigarrays: pageSize must be > 0")
	}
	if bytesPerElement <= 0 {
		panic("bigarrays: bytesPerElement must be > 0")
	}

	page := int64(pageSize)
	if minTargetSize < page {
		return min(oversize(minTargetSize, bytesPerElement), page)
	}

	pages := (minTargetSize + page - 1) / page
	return pages * page
}

// oversize grows by an eighth (at least 3 elements), rounded so the
// resulting block is a multiple of 8 bytes.
func oversize(minTargetSize int64, bytesPerElement int) int64 {
	if minTargetSize == 0 {
		return 0
	}

	extra := max(minTargetSize>>3, 3)
	newSize := minTargetSize + extra
	if newSize+7 > MaxSize {
		return MaxSize
	}

	switch bytesPerElement {
	case 1:
		return (newSize + 7) &^ 7
	case 2:
		return (newSize + 3) &^ 3
	case 4:
		return (newSize + 1) &^ 1
	default:
		return newSize
	}
}

// growTarget is the over-sized capacity for minSize, clamped to MaxSize.
func (b *BigArrays) growTarget(k pagecache.Kind, minSize int64) int64 {
	return min(OverSize(minSize, b.PageElements(k), k.ElementSize()), MaxSize)
}
