package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rl1809/chain-custody/internal/core/domain"
	"github.com/rl1809/chain-custody/internal/port"
)

const defaultConfirmationTimeout = 60 * time.Second

// Options are shared by the mutating protocols.
type Options struct {
	ConfirmationTimeout time.Duration
	Journal             port.SubmissionJournal
	Observer            port.MutationObserver
	Logger              zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.ConfirmationTimeout <= 0 {
		o.ConfirmationTimeout = defaultConfirmationTimeout
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return o
}

type nopObserver struct{}

func (nopObserver) ObserveMutation(domain.MutationKind, string, time.Duration) {}
func (nopObserver) ObserveSequenceConflict(domain.MutationKind) {}

func isUnknownOutcome(err error) bool {
	return errors.Is(err, domain.ErrConfirmationTimeout)
}

// submitter runs the sign, submit, confirm part shared by registration and
// transfer. The caller owns the sequence lease.
type submitter struct {
	ledger  port.LedgerClient
	journal port.SubmissionJournal
	timeout time.Duration
}

func (s *submitter) run(ctx context.Context, m domain.Mutation, cred domain.Credential, log zerolog.Logger) (domain.Receipt, error) {
	signed, err := s.ledger.SignMutation(ctx, m, cred)
	if err != nil {
		return domain.Receipt{}, err
	}

	handle, err := s.ledger.Submit(ctx, signed)
	if err != nil {
		return domain.Receipt{}, err
	}
	log.Info().
		Str("state", string(domain.StateSubmitted)).
		Str("tx_hash", handle.Hash.Hex()).
		Uint64("sequence", handle.Sequence).
		Msg("mutation submitted")

	s.record(m, handle, log)

	receipt, err := s.ledger.AwaitConfirmation(ctx, handle, s.timeout)
	switch {
	case err == nil:
		s.resolve(handle, domain.SubmissionConfirmed, receipt.BlockNumber, log)
	case errors.Is(err, domain.ErrRejected):
		s.resolve(handle, domain.SubmissionRejected, receipt.BlockNumber, log)
	case isUnknownOutcome(err):
		s.markUnknown(handle, log)
	}
	if err != nil {
		return receipt, err
	}
	receipt.Sequence = handle.Sequence
	return receipt, nil
}

// Journal writes happen after the ledger accepted the mutation, so they must
// not depend on the request context.
func journalContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (s *submitter) record(m domain.Mutation, h domain.TxHandle, log zerolog.Logger) {
	if s.journal == nil {
		return
	}
	ctx, cancel := journalContext()
	defer cancel()

	now := time.Now().UTC()
	err := s.journal.Record(ctx, domain.Submission{
		ID:           uuid.NewString(),
		TxHash:       h.Hash.Hex(),
		Account:      m.Sender.Hex(),
		Sequence:     h.Sequence,
		Kind:         m.Kind,
		ProductID:    m.Key.ProductID,
		SerialNumber: m.Key.SerialNumber,
		Status:       domain.SubmissionPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		log.Error().Err(err).Str("tx_hash", h.Hash.Hex()).Msg("journal record failed")
	}
}

func (s *submitter) resolve(h domain.TxHandle, status domain.SubmissionStatus, block uint64, log zerolog.Logger) {
	if s.journal == nil {
		return
	}
	ctx, cancel := journalContext()
	defer cancel()
	if _, err := s.journal.Resolve(ctx, h.Hash.Hex(), status, block); err != nil {
		log.Error().Err(err).Str("tx_hash", h.Hash.Hex()).Msg("journal resolve failed")
	}
}

func (s *submitter) markUnknown(h domain.TxHandle, log zerolog.Logger) {
	if s.journal == nil {
		return
	}
	ctx, cancel := journalContext()
	defer cancel()
	if err := s.journal.MarkUnknown(ctx, h.Hash.Hex()); err != nil {
		log.Error().Err(err).Str("tx_hash", h.Hash.Hex()).Msg("journal update failed")
	}
}

// outcomeLabel is the metrics label for a protocol result.
func outcomeLabel(err error) string {
	if err == nil {
		return "confirmed"
	}
	return domain.ErrorCode(err)
}
