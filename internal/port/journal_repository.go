package port

import (
	"context"
	"time"

	"github.com/rl1809/chain-custody/internal/core/domain"
)

type SubmissionJournal interface {
	// Record stores a freshly submitted mutation
	Record(ctx context.Context, sub domain.Submission) error

	// Resolve moves an unresolved entry to status, returns false if it was
	// already resolved or missing
	Resolve(ctx context.Context, txHash string, status domain.SubmissionStatus, blockNumber uint64) (bool, error)

	// MarkUnknown flags a pending entry whose confirmation wait timed out
	MarkUnknown(ctx context.Context, txHash string) error

	// ListUnresolved returns pending and unknown entries, oldest first
	ListUnresolved(ctx context.Context, limit int) ([]domain.Submission, error)

	// Get returns nil if the hash was never recorded
	Get(ctx context.Context, txHash string) (*domain.Submission, error)
}

type MutationObserver interface {
	ObserveMutation(kind domain.MutationKind, outcome string, elapsed time.Duration)
	ObserveSequenceConflict(kind domain.MutationKind)
}
