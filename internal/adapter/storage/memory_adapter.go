package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/chain-custody/internal/core/domain"
)

// MemoryClaimStore is the single-process ClaimStore used when no Redis is
// configured.
type MemoryClaimStore struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

func NewMemoryClaimStore() *MemoryClaimStore {
	return &MemoryClaimStore{
		claims: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (s *MemoryClaimStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expires, ok := s.claims[key]; ok && now.Before(expires) {
		return false, nil
	}
	s.claims[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryClaimStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.claims, key)
	return nil
}

// MemoryJournal keeps submissions for the life of the process.
type MemoryJournal struct {
	mu   sync.RWMutex
	subs map[string]domain.Submission
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{subs: make(map[string]domain.Submission)}
}

func (j *MemoryJournal) Record(ctx context.Context, sub domain.Submission) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.subs[sub.TxHash]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSubmission, sub.TxHash)
	}
	j.subs[sub.TxHash] = sub
	return nil
}

func (j *MemoryJournal) Resolve(ctx context.Context, txHash string, status domain.SubmissionStatus, blockNumber uint64) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	sub, ok := j.subs[txHash]
	if !ok || sub.Resolved() {
		return false, nil
	}
	sub.Status = status
	sub.BlockNumber = blockNumber
	sub.UpdatedAt = time.Now().UTC()
	j.subs[txHash] = sub
	return true, nil
}

func (j *MemoryJournal) MarkUnknown(ctx context.Context, txHash string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	sub, ok := j.subs[txHash]
	if !ok || sub.Status != domain.SubmissionPending {
		return nil
	}
	sub.Status = domain.SubmissionUnknown
	sub.UpdatedAt = time.Now().UTC()
	j.subs[txHash] = sub
	return nil
}

func (j *MemoryJournal) ListUnresolved(ctx context.Context, limit int) ([]domain.Submission, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []domain.Submission
	for _, sub := range j.subs {
		if !sub.Resolved() {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (j *MemoryJournal) Get(ctx context.Context, txHash string) (*domain.Submission, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	sub, ok := j.subs[txHash]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}
