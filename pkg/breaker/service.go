package breaker

import (
	"sort"
	"sync"

	"github.com/sonemaro/pagealloc/pkg/logger"
)

// Service is a Ledger over named MemoryBreakers. Names that were never
// registered are created on first use without a limit.
type Service struct {
	mu       sync.RWMutex
	breakers map[string]*MemoryBreaker
	log      *logger.Manager
}

func NewService(log *logger.Manager) *Service {
	return &Service{
		breakers: make(map[string]*MemoryBreaker),
		log:      logger.OrDiscard(log).Named("breaker"),
	}
}

// Register creates the named breaker or updates its limit.
func (s *Service) Register(name string, limit int64) *MemoryBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[name]; ok {
		b.SetLimit(limit)
		return b
	}

	b := NewMemoryBreaker(name, limit, s.log)
	s.breakers[name] = b
	s.log.Debug("breaker registered", "name", name, "limit", limit)

	return b
}

// Breaker returns the named breaker, creating an unbounded one if needed.
func (s *Service) Breaker(name string) *MemoryBreaker {
	s.mu.RLock()
	b, ok := s.breakers[name]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[name]; ok {
		return b
	}
	b = NewMemoryBreaker(name, 0, s.log)
	s.breakers[name] = b

	return b
}

func (s *Service) ChargeAndMaybeReject(name string, delta int64, label string) error {
	_, err := s.Breaker(name).AddEstimateBytesAndMaybeBreak(delta, label)
	return err
}

func (s *Service) CreditWithoutRejecting(name string, delta int64) {
	s.Breaker(name).AddWithoutBreaking(delta)
}

// Stats returns one snapshot per breaker, ordered by name.
func (s *Service) Stats() []Stats {
	s.mu.RLock()
	out := make([]Stats, 0, len(s.breakers))
	for _, b := range s.breakers {
		out = append(out, b.Stats())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

var _ Ledger = (*Service)(nil)
