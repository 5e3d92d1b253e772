package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/chain-custody/internal/core/domain"
	"github.com/rl1809/chain-custody/internal/port"
)

type VerificationService struct {
	ledger port.LedgerReader
	log    zerolog.Logger
}

func NewVerificationService(ledger port.LedgerReader, log zerolog.Logger) *VerificationService {
	return &VerificationService{
		ledger: ledger,
		log:    log.With().Str("component", "verification").Logger(),
	}
}

// Verify reads product state and transfer history independently. Under
// concurrent writers the two reads can straddle a confirmation; the view
// reports that as an inconsistency instead of hiding it.
func (s *VerificationService) Verify(ctx context.Context, key domain.ProductKey) (domain.ProductView, error) {
	var (
		product    domain.Product
		history    []domain.TransferRecord
		productErr error
		historyErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		product, productErr = s.ledger.ProductInfo(ctx, key)
		return productErr
	})
	g.Go(func() error {
		history, historyErr = s.ledger.TransferHistory(ctx, key)
		return historyErr
	})
	_ = g.Wait()

	// The state read decides whether the key exists.
	if productErr != nil {
		return domain.ProductView{}, fmt.Errorf("product info %s: %w", key, productErr)
	}
	switch {
	case errors.Is(historyErr, domain.ErrNotFound):
		// History was read just before the registration confirmed.
		history = nil
	case historyErr != nil:
		return domain.ProductView{}, fmt.Errorf("transfer history %s: %w", key, historyErr)
	}

	view := domain.NewProductView(product, history)
	if !view.Consistent {
		s.log.Warn().
			Str("product", key.String()).
			Strs("anomalies", view.Anomalies).
			Msg("product state and history disagree")
	}
	return view, nil
}
