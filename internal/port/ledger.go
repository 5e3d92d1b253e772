package port

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rl1809/chain-custody/internal/core/domain"
)

type LedgerReader interface {
	// ProductInfo returns the current product state, or domain.ErrNotFound
	ProductInfo(ctx context.Context, key domain.ProductKey) (domain.Product, error)

	// TransferHistory returns transfers in ledger confirmation order
	TransferHistory(ctx context.Context, key domain.ProductKey) ([]domain.TransferRecord, error)
}

// SequenceSource reports how many mutations the ledger holds for an account.
type SequenceSource interface {
	// AccountSequence counts confirmed mutations
	AccountSequence(ctx context.Context, account common.Address) (uint64, error)

	// PendingSequence counts confirmed mutations plus those still waiting for
	// inclusion. A submission the ledger dropped no longer counts
	PendingSequence(ctx context.Context, account common.Address) (uint64, error)
}

type LedgerClient interface {
	LedgerReader
	SequenceSource

	// SignMutation builds the ledger payload for m and signs it with cred
	SignMutation(ctx context.Context, m domain.Mutation, cred domain.Credential) (domain.SignedMutation, error)

	// Submit hands a signed mutation to the ledger. Out-of-order sequences fail
	// with domain.ErrSequenceConflict
	Submit(ctx context.Context, tx domain.SignedMutation) (domain.TxHandle, error)

	// AwaitConfirmation blocks until inclusion or timeout. A failed receipt is
	// returned with domain.ErrRejected, a timeout with domain.ErrConfirmationTimeout
	AwaitConfirmation(ctx context.Context, h domain.TxHandle, timeout time.Duration) (domain.Receipt, error)

	// LookupReceipt checks for inclusion without waiting
	LookupReceipt(ctx context.Context, h domain.TxHandle) (domain.Receipt, bool, error)

	Status(ctx context.Context) (domain.LedgerStatus, error)
}
