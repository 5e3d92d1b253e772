package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rl1809/chain-custody/internal/core/domain"
)

// MemoryLedger is an in-process ledger with the same contract as the
// on-chain one: per-account sequences must arrive in order, and ownership and
// key uniqueness are checked atomically when a block is mined.
type MemoryLedger struct {
	mu       sync.Mutex
	contract common.Address
	products map[domain.ProductKey]domain.Product
	history  map[domain.ProductKey][]domain.TransferRecord
	nonces   map[common.Address]uint64
	queued   []queuedTx
	receipts map[common.Hash]domain.Receipt
	block    uint64
	paused   bool
	down     bool
	mined    chan struct{}
	now      func() time.Time
}

type queuedTx struct {
	hash     common.Hash
	mutation domain.Mutation
}

type memoryEnvelope struct {
	Mutation  domain.Mutation `json:"mutation"`
	Signature []byte          `json:"signature"`
}

func NewMemoryLedger(contract common.Address) *MemoryLedger {
	return &MemoryLedger{
		contract: contract,
		products: make(map[domain.ProductKey]domain.Product),
		history:  make(map[domain.ProductKey][]domain.TransferRecord),
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]domain.Receipt),
		mined:    make(chan struct{}),
		now:      time.Now,
	}
}

func (l *MemoryLedger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// PauseMining queues submissions until ResumeMining.
func (l *MemoryLedger) PauseMining() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = true
}

func (l *MemoryLedger) ResumeMining() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = false
	l.mineLocked()
}

// DropQueued discards every queued submission without a receipt, as a node
// evicting its mempool would.
func (l *MemoryLedger) DropQueued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.queued)
	l.queued = nil
	return n
}

func (l *MemoryLedger) SetAvailable(available bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.down = !available
}

// InjectTransfer confirms a transfer by the current owner that did not go
// through this process, as another writer holding the same key would.
func (l *MemoryLedger) InjectTransfer(key domain.ProductKey, to common.Address, transferType string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.products[key]
	if !ok {
		return domain.ErrNotFound
	}
	l.block++
	l.nonces[p.CurrentOwner]++
	l.history[key] = append(l.history[key], domain.TransferRecord{
		From:         p.CurrentOwner,
		To:           to,
		Timestamp:    l.now().UTC().Truncate(time.Second),
		TransferType: transferType,
	})
	p.CurrentOwner = to
	l.products[key] = p
	return nil
}

func (l *MemoryLedger) ProductInfo(ctx context.Context, key domain.ProductKey) (domain.Product, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.down {
		return domain.Product{}, domain.ErrLedgerUnavailable
	}
	p, ok := l.products[key]
	if !ok {
		return domain.Product{}, domain.ErrNotFound
	}
	return p, nil
}

func (l *MemoryLedger) TransferHistory(ctx context.Context, key domain.ProductKey) ([]domain.TransferRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.down {
		return nil, domain.ErrLedgerUnavailable
	}
	if _, ok := l.products[key]; !ok {
		return nil, domain.ErrNotFound
	}
	records := l.history[key]
	out := make([]domain.TransferRecord, len(records))
	copy(out, records)
	return out, nil
}

func (l *MemoryLedger) AccountSequence(ctx context.Context, account common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.down {
		return 0, domain.ErrLedgerUnavailable
	}
	return l.nonces[account], nil
}

func (l *MemoryLedger) PendingSequence(ctx context.Context, account common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.down {
		return 0, domain.ErrLedgerUnavailable
	}
	seq := l.nonces[account]
	for _, q := range l.queued {
		if q.mutation.Sender == account {
			seq++
		}
	}
	return seq, nil
}

func (l *MemoryLedger) SignMutation(ctx context.Context, m domain.Mutation, cred domain.Credential) (domain.SignedMutation, error) {
	if cred.IsZero() {
		return domain.SignedMutation{}, fmt.Errorf("%w: no credential", domain.ErrFailed)
	}
	if cred.Address() != m.Sender {
		return domain.SignedMutation{}, domain.NewValidationError("private key does not match sender address", "private_key")
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return domain.SignedMutation{}, fmt.Errorf("encode mutation: %w", err)
	}
	hash := crypto.Keccak256Hash(payload)
	sig, err := crypto.Sign(hash.Bytes(), cred.PrivateKey())
	if err != nil {
		return domain.SignedMutation{}, fmt.Errorf("sign mutation: %w", err)
	}
	raw, err := json.Marshal(memoryEnvelope{Mutation: m, Signature: sig})
	if err != nil {
		return domain.SignedMutation{}, fmt.Errorf("encode envelope: %w", err)
	}

	return domain.SignedMutation{
		Hash:     hash,
		Kind:     m.Kind,
		Key:      m.Key,
		Sender:   m.Sender,
		Sequence: m.Sequence,
		Raw:      raw,
	}, nil
}

func (l *MemoryLedger) Submit(ctx context.Context, tx domain.SignedMutation) (domain.TxHandle, error) {
	var env memoryEnvelope
	if err := json.Unmarshal(tx.Raw, &env); err != nil {
		return domain.TxHandle{}, fmt.Errorf("%w: decode envelope: %v", domain.ErrFailed, err)
	}
	payload, err := json.Marshal(env.Mutation)
	if err != nil {
		return domain.TxHandle{}, fmt.Errorf("%w: encode mutation: %v", domain.ErrFailed, err)
	}
	hash := crypto.Keccak256Hash(payload)
	pub, err := crypto.SigToPub(hash.Bytes(), env.Signature)
	if err != nil || crypto.PubkeyToAddress(*pub) != env.Mutation.Sender {
		return domain.TxHandle{}, fmt.Errorf("%w: invalid signature", domain.ErrFailed)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.down {
		return domain.TxHandle{}, domain.ErrLedgerUnavailable
	}
	if _, ok := l.receipts[hash]; ok {
		return domain.TxHandle{}, fmt.Errorf("%w: already known", domain.ErrSequenceConflict)
	}

	sender := env.Mutation.Sender
	expected := l.nonces[sender]
	for _, q := range l.queued {
		if q.hash == hash {
			return domain.TxHandle{}, fmt.Errorf("%w: already known", domain.ErrSequenceConflict)
		}
		if q.mutation.Sender == sender {
			expected++
		}
	}
	if env.Mutation.Sequence < expected {
		return domain.TxHandle{}, fmt.Errorf("%w: nonce too low: next nonce %d, tx nonce %d",
			domain.ErrSequenceConflict, expected, env.Mutation.Sequence)
	}
	if env.Mutation.Sequence > expected {
		return domain.TxHandle{}, fmt.Errorf("%w: nonce too high: next nonce %d, tx nonce %d",
			domain.ErrSequenceConflict, expected, env.Mutation.Sequence)
	}

	l.queued = append(l.queued, queuedTx{hash: hash, mutation: env.Mutation})
	if !l.paused {
		l.mineLocked()
	}

	return domain.TxHandle{Hash: hash, Sender: sender, Sequence: env.Mutation.Sequence}, nil
}

func (l *MemoryLedger) AwaitConfirmation(ctx context.Context, h domain.TxHandle, timeout time.Duration) (domain.Receipt, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		l.mu.Lock()
		r, ok := l.receipts[h.Hash]
		mined := l.mined
		l.mu.Unlock()

		if ok {
			if !r.Success {
				return r, fmt.Errorf("%w: transaction %s reverted in block %d", domain.ErrRejected, h.Hash.Hex(), r.BlockNumber)
			}
			return r, nil
		}

		select {
		case <-mined:
		case <-timer.C:
			return domain.Receipt{}, fmt.Errorf("%w: transaction %s after %s", domain.ErrConfirmationTimeout, h.Hash.Hex(), timeout)
		case <-ctx.Done():
			return domain.Receipt{}, fmt.Errorf("%w: transaction %s: %v", domain.ErrConfirmationTimeout, h.Hash.Hex(), ctx.Err())
		}
	}
}

func (l *MemoryLedger) LookupReceipt(ctx context.Context, h domain.TxHandle) (domain.Receipt, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.down {
		return domain.Receipt{}, false, domain.ErrLedgerUnavailable
	}
	r, ok := l.receipts[h.Hash]
	return r, ok, nil
}

func (l *MemoryLedger) Status(ctx context.Context) (domain.LedgerStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return domain.LedgerStatus{
		Connected:       !l.down,
		CurrentBlock:    l.block,
		ContractAddress: l.contract,
	}, nil
}

// mineLocked includes every queued mutation in one block, in submission order.
func (l *MemoryLedger) mineLocked() {
	if len(l.queued) == 0 {
		return
	}
	l.block++
	ts := l.now().UTC().Truncate(time.Second)

	for _, q := range l.queued {
		m := q.mutation
		l.nonces[m.Sender]++
		l.receipts[q.hash] = domain.Receipt{
			TxHash:      q.hash,
			BlockNumber: l.block,
			Sequence:    m.Sequence,
			Success:     l.applyLocked(m, ts),
		}
	}
	l.queued = nil

	close(l.mined)
	l.mined = make(chan struct{})
}

func (l *MemoryLedger) applyLocked(m domain.Mutation, ts time.Time) bool {
	switch m.Kind {
	case domain.MutationRegister:
		if _, exists := l.products[m.Key]; exists {
			return false
		}
		p := m.Product
		p.Key = m.Key
		p.CurrentOwner = m.Sender
		l.products[m.Key] = p
		return true

	case domain.MutationTransfer:
		p, ok := l.products[m.Key]
		if !ok || p.CurrentOwner != m.Sender {
			return false
		}
		l.history[m.Key] = append(l.history[m.Key], domain.TransferRecord{
			From:         m.Sender,
			To:           m.NewOwner,
			Timestamp:    ts,
			TransferType: m.TransferType,
		})
		p.CurrentOwner = m.NewOwner
		l.products[m.Key] = p
		return true
	}
	return false
}
