package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/chain-custody/internal/core/domain"
	"github.com/rl1809/chain-custody/internal/port"
)

type TransferService struct {
	ledger    port.LedgerClient
	sequencer *Sequencer
	submitter *submitter
	observer  port.MutationObserver
	log       zerolog.Logger
}

func NewTransferService(ledger port.LedgerClient, sequencer *Sequencer, opts Options) *TransferService {
	opts = opts.withDefaults()
	return &TransferService{
		ledger:    ledger,
		sequencer: sequencer,
		submitter: &submitter{ledger: ledger, journal: opts.Journal, timeout: opts.ConfirmationTimeout},
		observer:  opts.Observer,
		log:       opts.Logger.With().Str("component", "transfer").Logger(),
	}
}

// Transfer moves custody of a product from req.Sender to req.NewOwner. The
// ownership check here only fails fast; the ledger re-checks ownership when
// the mutation is confirmed and that check is the one that counts.
func (s *TransferService) Transfer(ctx context.Context, req domain.TransferRequest) (domain.Receipt, error) {
	start := time.Now()
	receipt, err := s.transfer(ctx, req)
	s.observer.ObserveMutation(domain.MutationTransfer, outcomeLabel(err), time.Since(start))
	if errors.Is(err, domain.ErrSequenceConflict) {
		s.observer.ObserveSequenceConflict(domain.MutationTransfer)
	}
	return receipt, err
}

func (s *TransferService) transfer(ctx context.Context, req domain.TransferRequest) (domain.Receipt, error) {
	log := s.log.With().
		Str("product", req.Key.String()).
		Str("sender", req.Sender.Hex()).
		Str("new_owner", req.NewOwner.Hex()).
		Logger()
	log.Debug().Str("state", string(domain.StateValidated)).Msg("transfer requested")

	if req.Credential.Address() != req.Sender {
		return domain.Receipt{}, domain.NewValidationError("private key does not match sender address", "private_key")
	}

	product, err := s.ledger.ProductInfo(ctx, req.Key)
	if err != nil {
		log.Warn().Err(err).Msg("product lookup failed")
		return domain.Receipt{}, fmt.Errorf("lookup %s: %w", req.Key, err)
	}
	if product.CurrentOwner != req.Sender {
		log.Warn().Str("current_owner", product.CurrentOwner.Hex()).Msg("sender is not the current owner")
		return domain.Receipt{}, domain.ErrNotOwner
	}
	log.Debug().Str("state", string(domain.StateOwnershipChecked)).Msg("ownership checked")

	lease, err := s.sequencer.Reserve(ctx, req.Sender)
	if err != nil {
		log.Warn().Err(err).Str("state", string(domain.StateFailed)).Msg("sequence reservation failed")
		return domain.Receipt{}, err
	}

	m := domain.Mutation{
		Kind:         domain.MutationTransfer,
		Sender:       req.Sender,
		Sequence:     lease.Sequence,
		Key:          req.Key,
		NewOwner:     req.NewOwner,
		TransferType: req.TransferType,
	}
	receipt, err := s.submitter.run(ctx, m, req.Credential, log)
	lease.Release(outcomeOf(err))

	if err != nil {
		log.Warn().Err(err).Str("state", string(stateOf(err))).Msg("transfer not confirmed")
		return receipt, err
	}

	log.Info().
		Str("state", string(domain.StateConfirmed)).
		Str("tx_hash", receipt.TxHash.Hex()).
		Uint64("block", receipt.BlockNumber).
		Msg("transfer confirmed")
	return receipt, nil
}

func stateOf(err error) domain.TransferState {
	switch {
	case err == nil:
		return domain.StateConfirmed
	case errors.Is(err, domain.ErrRejected):
		return domain.StateRejected
	case isUnknownOutcome(err):
		return domain.StateUnknown
	default:
		return domain.StateFailed
	}
}
