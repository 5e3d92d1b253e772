package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/rl1809/chain-custody/internal/core/domain"
	"github.com/rl1809/chain-custody/internal/port"
)

// Reconciler resolves journal entries whose confirmation wait ended without
// an answer.
type Reconciler struct {
	ledger    port.LedgerClient
	journal   port.SubmissionJournal
	workers   int
	batchSize int
	interval  time.Duration
	log       zerolog.Logger
}

func NewReconciler(ledger port.LedgerClient, journal port.SubmissionJournal, workers int, interval time.Duration, log zerolog.Logger) *Reconciler {
	if workers <= 0 {
		workers = 1
	}
	return &Reconciler{
		ledger:    ledger,
		journal:   journal,
		workers:   workers,
		batchSize: workers * 20,
		interval:  interval,
		log:       log.With().Str("component", "reconciler").Logger(),
	}
}

// Run reconciles every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.ReconcileOnce(ctx); err != nil {
				r.log.Error().Err(err).Msg("reconcile pass failed")
			}
		}
	}
}

// ReconcileOnce checks one batch of unresolved submissions and returns how
// many were resolved.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	pending, err := r.journal.ListUnresolved(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	queue := make(chan domain.Submission, len(pending))
	for _, sub := range pending {
		queue <- sub
	}
	close(queue)

	var resolved atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			resolved.Add(int32(r.workerLoop(ctx, id, queue)))
		}(i)
	}
	wg.Wait()

	return int(resolved.Load()), nil
}

func (r *Reconciler) workerLoop(ctx context.Context, id int, queue <-chan domain.Submission) int {
	resolved := 0
	for sub := range queue {
		ok, err := r.resolve(ctx, sub)
		if err != nil {
			r.log.Warn().Err(err).Int("worker", id).Str("tx_hash", sub.TxHash).Msg("receipt lookup failed")
			continue
		}
		if ok {
			resolved++
		}
	}
	return resolved
}

func (r *Reconciler) resolve(ctx context.Context, sub domain.Submission) (bool, error) {
	handle := domain.TxHandle{
		Hash:     common.HexToHash(sub.TxHash),
		Sender:   common.HexToAddress(sub.Account),
		Sequence: sub.Sequence,
	}
	receipt, found, err := r.ledger.LookupReceipt(ctx, handle)
	if err != nil {
		return false, err
	}

	if !found {
		// Without a receipt the entry is final only once the account's
		// confirmed count moved past its sequence.
		confirmed, err := r.ledger.AccountSequence(ctx, handle.Sender)
		if err != nil || confirmed <= sub.Sequence {
			return false, err
		}
		// It may have been this very submission that moved it.
		receipt, found, err = r.ledger.LookupReceipt(ctx, handle)
		if err != nil {
			return false, err
		}
	}

	status := domain.SubmissionConfirmed
	switch {
	case !found:
		status = domain.SubmissionDropped
	case !receipt.Success:
		status = domain.SubmissionRejected
	}
	ok, err := r.journal.Resolve(ctx, sub.TxHash, status, receipt.BlockNumber)
	if err != nil {
		return false, err
	}
	if ok {
		r.log.Info().
			Str("tx_hash", sub.TxHash).
			Str("status", string(status)).
			Uint64("block", receipt.BlockNumber).
			Msg("submission resolved")
	}
	return ok, nil
}
