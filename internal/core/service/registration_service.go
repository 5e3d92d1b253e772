package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/rl1809/chain-custody/internal/core/domain"
	"github.com/rl1809/chain-custody/internal/port"
)

const registrationClaimPrefix = "custody:register:"

type RegistrationService struct {
	ledger    port.LedgerClient
	sequencer *Sequencer
	claims    port.ClaimStore
	registrar domain.Credential
	claimTTL  time.Duration
	submitter *submitter
	observer  port.MutationObserver
	log       zerolog.Logger
}

// NewRegistrationService signs every registration with registrar, which
// becomes the product's first owner. claims may be nil.
func NewRegistrationService(ledger port.LedgerClient, sequencer *Sequencer, claims port.ClaimStore, registrar domain.Credential, opts Options) *RegistrationService {
	opts = opts.withDefaults()
	return &RegistrationService{
		ledger:    ledger,
		sequencer: sequencer,
		claims:    claims,
		registrar: registrar,
		claimTTL:  2*opts.ConfirmationTimeout + time.Minute,
		submitter: &submitter{ledger: ledger, journal: opts.Journal, timeout: opts.ConfirmationTimeout},
		observer:  opts.Observer,
		log:       opts.Logger.With().Str("component", "registration").Logger(),
	}
}

func (s *RegistrationService) Registrar() domain.Credential {
	return s.registrar
}

func (s *RegistrationService) Register(ctx context.Context, req domain.RegisterRequest) (domain.Receipt, error) {
	start := time.Now()
	receipt, err := s.register(ctx, req)
	s.observer.ObserveMutation(domain.MutationRegister, outcomeLabel(err), time.Since(start))
	if errors.Is(err, domain.ErrSequenceConflict) {
		s.observer.ObserveSequenceConflict(domain.MutationRegister)
	}
	return receipt, err
}

func (s *RegistrationService) register(ctx context.Context, req domain.RegisterRequest) (domain.Receipt, error) {
	if s.registrar.IsZero() {
		return domain.Receipt{}, fmt.Errorf("%w: no registrar credential configured", domain.ErrFailed)
	}
	key := req.Product.Key
	sender := s.registrar.Address()
	log := s.log.With().Str("product", key.String()).Str("sender", sender.Hex()).Logger()

	// Two registrations of one key inside this deployment never both reach
	// the ledger. The claim is kept when the outcome is unknown.
	if s.claims != nil {
		claimKey := registrationClaimPrefix + key.String()
		ok, err := s.claims.Claim(ctx, claimKey, s.claimTTL)
		if err != nil {
			return domain.Receipt{}, fmt.Errorf("claim %s: %w", key, err)
		}
		if !ok {
			return domain.Receipt{}, fmt.Errorf("%w: %s", domain.ErrRegistrationInProgress, key)
		}
		receipt, err := s.submit(ctx, req, sender, log)
		if !isUnknownOutcome(err) {
			if releaseErr := s.claims.Release(context.WithoutCancel(ctx), claimKey); releaseErr != nil {
				log.Error().Err(releaseErr).Msg("release registration claim failed")
			}
		}
		return receipt, err
	}

	return s.submit(ctx, req, sender, log)
}

func (s *RegistrationService) submit(ctx context.Context, req domain.RegisterRequest, sender common.Address, log zerolog.Logger) (domain.Receipt, error) {
	key := req.Product.Key

	_, err := s.ledger.ProductInfo(ctx, key)
	switch {
	case err == nil:
		return domain.Receipt{}, fmt.Errorf("%w: %s", domain.ErrAlreadyRegistered, key)
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Receipt{}, fmt.Errorf("lookup %s: %w", key, err)
	}

	lease, err := s.sequencer.Reserve(ctx, sender)
	if err != nil {
		return domain.Receipt{}, err
	}

	product := req.Product
	product.CurrentOwner = sender
	m := domain.Mutation{
		Kind:     domain.MutationRegister,
		Sender:   sender,
		Sequence: lease.Sequence,
		Key:      key,
		Product:  product,
	}
	receipt, err := s.submitter.run(ctx, m, s.registrar, log)
	lease.Release(outcomeOf(err))

	if errors.Is(err, domain.ErrRejected) {
		// Lost a race with a registration from outside this deployment.
		if p, lookupErr := s.ledger.ProductInfo(ctx, key); lookupErr == nil {
			return receipt, fmt.Errorf("%w: %s registered by %s", domain.ErrAlreadyRegistered, key, p.CurrentOwner.Hex())
		}
	}
	if err != nil {
		log.Warn().Err(err).Str("state", string(stateOf(err))).Msg("registration not confirmed")
		return receipt, err
	}

	log.Info().
		Str("tx_hash", receipt.TxHash.Hex()).
		Uint64("block", receipt.BlockNumber).
		Msg("product registered")
	return receipt, nil
}
