package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rl1809/chain-custody/internal/core/domain"
	"github.com/rl1809/chain-custody/internal/port"
)

type LeaseOutcome int

const (
	OutcomeConfirmed LeaseOutcome = iota
	OutcomeFailed
	// OutcomeUnknown means the submission may still be included.
	OutcomeUnknown
)

func outcomeOf(err error) LeaseOutcome {
	switch {
	case err == nil:
		return OutcomeConfirmed
	case isUnknownOutcome(err):
		return OutcomeUnknown
	default:
		return OutcomeFailed
	}
}

// Sequencer hands out account sequence numbers one holder at a time. A lease
// is held from the sequence read until the mutation using it is confirmed, so
// a second caller for the same account always reads a count that already
// includes the first caller's mutation.
type Sequencer struct {
	source  port.SequenceSource
	locker  port.AccountLocker
	lockTTL time.Duration

	mu       sync.Mutex
	accounts map[common.Address]*accountState
}

type accountState struct {
	sem chan struct{}

	// sequence of a submission whose outcome is still unknown
	outstanding    uint64
	hasOutstanding bool
}

type Lease struct {
	Account  common.Address
	Sequence uint64

	state  *accountState
	unlock func(context.Context) error
	once   sync.Once
}

// NewSequencer builds a sequencer. locker may be nil when a single process
// submits for the accounts it serves.
func NewSequencer(source port.SequenceSource, locker port.AccountLocker, lockTTL time.Duration) *Sequencer {
	return &Sequencer{
		source:   source,
		locker:   locker,
		lockTTL:  lockTTL,
		accounts: make(map[common.Address]*accountState),
	}
}

func (s *Sequencer) state(account common.Address) *accountState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.accounts[account]
	if !ok {
		st = &accountState{sem: make(chan struct{}, 1)}
		s.accounts[account] = st
	}
	return st
}

// Reserve blocks until the account is free, then returns the next sequence
// the ledger expects from it.
func (s *Sequencer) Reserve(ctx context.Context, account common.Address) (*Lease, error) {
	st := s.state(account)

	select {
	case st.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for account %s: %w", account.Hex(), ctx.Err())
	}

	lease := &Lease{Account: account, state: st}

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, strings.ToLower(account.Hex()), s.lockTTL)
		if err != nil {
			<-st.sem
			return nil, fmt.Errorf("lock account %s: %w", account.Hex(), err)
		}
		lease.unlock = unlock
	}

	seq, err := s.source.AccountSequence(ctx, account)
	if err != nil {
		lease.Release(OutcomeFailed)
		return nil, fmt.Errorf("read sequence for %s: %w", account.Hex(), err)
	}

	if st.hasOutstanding {
		if seq <= st.outstanding {
			queued, err := s.source.PendingSequence(ctx, account)
			if err != nil {
				lease.Release(OutcomeFailed)
				return nil, fmt.Errorf("read pending sequence for %s: %w", account.Hex(), err)
			}
			if queued > st.outstanding {
				outstanding := st.outstanding
				lease.Release(OutcomeFailed)
				return nil, fmt.Errorf("%w: sequence %d of %s is still unresolved",
					domain.ErrSequenceConflict, outstanding, account.Hex())
			}
			// The ledger dropped the unresolved submission; its sequence is free again.
		}
		st.hasOutstanding = false
	}

	lease.Sequence = seq
	return lease, nil
}

// Release frees the account. Calling it more than once is a no-op.
func (l *Lease) Release(outcome LeaseOutcome) {
	l.once.Do(func() {
		if outcome == OutcomeUnknown {
			l.state.outstanding = l.Sequence
			l.state.hasOutstanding = true
		}
		if l.unlock != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = l.unlock(ctx)
			cancel()
		}
		<-l.state.sem
	})
}
