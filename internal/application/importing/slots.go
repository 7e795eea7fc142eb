package importing

import (
	"context"
	"sync"
)

// LocalSlots is an in-process SlotLimiter. Slots never expire, so Refresh is
// a no-op.
type LocalSlots struct {
	mu      sync.Mutex
	limit   int
	holders map[string]struct{}
}

func NewLocalSlots(limit int) *LocalSlots {
	if limit <= 0 || limit > MaxConcurrentImports {
		limit = MaxConcurrentImports
	}
	return &LocalSlots{limit: limit, holders: map[string]struct{}{}}
}

func (s *LocalSlots) Acquire(ctx context.Context, holder string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.holders[holder]; ok {
		return true, nil
	}
	if len(s.holders) >= s.limit {
		return false, nil
	}
	s.holders[holder] = struct{}{}
	return true, nil
}

func (s *LocalSlots) Refresh(ctx context.Context, holder string) error {
	return nil
}

func (s *LocalSlots) Release(ctx context.Context, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.holders, holder)
	return nil
}

// InUse reports how many slots are currently held.
func (s *LocalSlots) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.holders)
}
