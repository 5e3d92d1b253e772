package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/chain-custody/internal/adapter/ledger"
	"github.com/rl1809/chain-custody/internal/adapter/storage"
	"github.com/rl1809/chain-custody/internal/core/domain"
)

var exampleKey = domain.ProductKey{ProductID: "ANT101", SerialNumber: "SER001"}

// Mock AccountLocker
type mockLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
	calls int
}

func newMockLocker() *mockLocker {
	return &mockLocker{locks: make(map[string]chan struct{})}
}

func (m *mockLocker) Lock(ctx context.Context, account string, ttl time.Duration) (func(context.Context) error, error) {
	m.mu.Lock()
	ch, ok := m.locks[account]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[account] = ch
	}
	m.calls++
	m.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return func(context.Context) error {
		<-ch
		return nil
	}, nil
}

// Mock MutationObserver
type recordingObserver struct {
	mu        sync.Mutex
	outcomes  map[string]int
	conflicts int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{outcomes: make(map[string]int)}
}

func (o *recordingObserver) ObserveMutation(kind domain.MutationKind, outcome string, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[string(kind)+":"+outcome]++
}

func (o *recordingObserver) ObserveSequenceConflict(kind domain.MutationKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conflicts++
}

func (o *recordingObserver) count(kind domain.MutationKind, outcome string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[string(kind)+":"+outcome]
}

type harness struct {
	ledger       *ledger.MemoryLedger
	journal      *storage.MemoryJournal
	claims       *storage.MemoryClaimStore
	observer     *recordingObserver
	sequencer    *Sequencer
	registrar    domain.Credential
	registration *RegistrationService
	transfers    *TransferService
	verification *VerificationService
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()

	h := &harness{
		ledger:    ledger.NewMemoryLedger(common.HexToAddress("0x00000000000000000000000000000000000c0de1")),
		journal:   storage.NewMemoryJournal(),
		claims:    storage.NewMemoryClaimStore(),
		observer:  newRecordingObserver(),
		registrar: newCredential(t),
	}
	opts := Options{
		ConfirmationTimeout: timeout,
		Journal:             h.journal,
		Observer:            h.observer,
		Logger:              zerolog.Nop(),
	}
	h.sequencer = NewSequencer(h.ledger, nil, time.Minute)
	h.registration = NewRegistrationService(h.ledger, h.sequencer, h.claims, h.registrar, opts)
	h.transfers = NewTransferService(h.ledger, h.sequencer, opts)
	h.verification = NewVerificationService(h.ledger, zerolog.Nop())
	return h
}

func newCredential(t *testing.T) domain.Credential {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return domain.NewCredential(key)
}

func newProduct(key domain.ProductKey) domain.Product {
	return domain.Product{
		Key:             key,
		Manufacturer:    "PharmaCorp",
		BatchNumber:     "BATCH5000",
		ManufactureDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpiryDate:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		GTIN:            "0590123",
	}
}

func (h *harness) register(t *testing.T, key domain.ProductKey) domain.Receipt {
	t.Helper()
	receipt, err := h.registration.Register(context.Background(), domain.RegisterRequest{Product: newProduct(key)})
	require.NoError(t, err)
	return receipt
}

func (h *harness) transfer(ctx context.Context, key domain.ProductKey, from domain.Credential, to common.Address, transferType string) (domain.Receipt, error) {
	return h.transfers.Transfer(ctx, domain.TransferRequest{
		Key:          key,
		NewOwner:     to,
		TransferType: transferType,
		Sender:       from.Address(),
		Credential:   from,
	})
}

func (h *harness) owner(t *testing.T, key domain.ProductKey) common.Address {
	t.Helper()
	p, err := h.ledger.ProductInfo(context.Background(), key)
	require.NoError(t, err)
	return p.CurrentOwner
}

func (h *harness) waitForPending(t *testing.T, n int) []domain.Submission {
	t.Helper()
	var subs []domain.Submission
	require.Eventually(t, func() bool {
		subs, _ = h.journal.ListUnresolved(context.Background(), 100)
		return len(subs) == n
	}, 2*time.Second, 5*time.Millisecond)
	return subs
}
