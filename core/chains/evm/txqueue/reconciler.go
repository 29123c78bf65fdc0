package txqueue

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	evmclient "github.com/smartcontractkit/ethtxqueue/core/chains/evm/client"
	"github.com/smartcontractkit/ethtxqueue/core/logger"
	"github.com/smartcontractkit/ethtxqueue/core/utils"
)

// Reconciler runs the periodic sanity sweep of spec §4.6: it reconciles
// transactions that have been broadcast but not yet seen confirmed,
// catching cases where the (out-of-scope) block monitor has lagged behind
// the node's actual view.
type Reconciler struct {
	store      Store
	client     evmclient.EthClient
	processor  *QueueProcessor
	dispatcher Dispatcher
	logger     logger.Logger
	staleAge   time.Duration

	utils.StartStopOnce
	stopCh chan struct{}
}

// NewReconciler builds a Reconciler; staleAge is the spec §4.1 "older than
// two minutes" threshold, overridable for tests.
func NewReconciler(store Store, client evmclient.EthClient, processor *QueueProcessor, dispatcher Dispatcher, staleAge time.Duration, lggr logger.Logger) *Reconciler {
	return &Reconciler{
		store:         store,
		client:        client,
		processor:     processor,
		dispatcher:    dispatcher,
		logger:        lggr.Named("Reconciler"),
		staleAge:      staleAge,
		StartStopOnce: utils.NewStartStopOnce(),
		stopCh:        make(chan struct{}),
	}
}

// Start schedules the first sanity_check after initialDelay, then lets each
// tick reschedule itself after frequency (spec §4.6 step 4 / §6).
func (r *Reconciler) Start(frequency, initialDelay time.Duration) error {
	return r.StartOnce("Reconciler", func() error {
		go r.loop(frequency, initialDelay)
		return nil
	})
}

// Stop halts the self-rescheduling chain.
func (r *Reconciler) Stop() error {
	return r.StopOnce("Reconciler", func() error {
		close(r.stopCh)
		return nil
	})
}

func (r *Reconciler) loop(frequency, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-timer.C:
			r.sanityCheck(context.Background())
			timer.Reset(frequency)
		}
	}
}

// sanityCheck runs one sweep, matching spec §4.6 exactly.
func (r *Reconciler) sanityCheck(ctx context.Context) {
	senders, err := r.store.FetchStaleSenders(r.staleAge)
	if err != nil {
		r.logger.Errorw("sanity check: FetchStaleSenders failed", "error", err)
		return
	}
	if len(senders) > 0 {
		r.logger.Infow("sanity check found addresses with potential problematic transactions", "n", len(senders))
	}

	// Keyed by the raw hex string (not common.Address) so the "0x"
	// contract-creation sentinel stays distinguishable from the zero
	// address right up until dispatch — converting it to common.Address
	// first would collide it with 0x000...000.
	toRetrigger := make(map[string]struct{})

	for _, addr := range senders {
		unconfirmed, err := r.store.FetchUnconfirmed(addr)
		if err != nil {
			r.logger.Errorw("sanity check: FetchUnconfirmed failed", "address", addr.Hex(), "error", err)
			continue
		}

		if len(unconfirmed) == 0 {
			// StaleWithoutUnconfirmed: rows are stale but nothing is
			// actually in flight. Log with the address (spec §9 fixes the
			// original's logging bug, which dropped the address).
			r.logger.Errorw("address has transactions in its queue, but no unconfirmed transactions", "address", addr.Hex())
			toRetrigger[addr.Hex()] = struct{}{}
			continue
		}

		for _, tx := range unconfirmed {
			hash := tx.Hash.ValueOrZero()
			result, err := r.client.GetTransactionByHash(ctx, common.HexToHash(hash))
			if err != nil {
				r.logger.Errorw("sanity check: GetTransactionByHash failed", "hash", hash, "error", err)
				continue
			}

			switch {
			case result == nil:
				r.logger.Infow("unconfirmed tx no longer visible on the node, marking errored", "hash", hash)
				if err := r.processor.UpdateTransaction(ctx, tx.TransactionID, StatusError); err != nil {
					r.logger.Errorw("sanity check: UpdateTransaction (error) failed", "txID", tx.TransactionID, "error", err)
					continue
				}
				toRetrigger[tx.FromAddress.Hex()] = struct{}{}
				toRetrigger[tx.ToAddress] = struct{}{}

			case result.BlockNumber != nil:
				if err := r.processor.UpdateTransaction(ctx, tx.TransactionID, StatusConfirmed); err != nil {
					r.logger.Errorw("sanity check: UpdateTransaction (confirmed) failed", "txID", tx.TransactionID, "error", err)
					continue
				}
				toRetrigger[tx.FromAddress.Hex()] = struct{}{}
				toRetrigger[tx.ToAddress] = struct{}{}

			default:
				r.logger.Warnw("transaction is on the node, old, and still unconfirmed", "hash", hash)
			}
		}
	}

	for addrHex := range toRetrigger {
		if addrHex == ContractCreationSentinel {
			continue
		}
		r.dispatcher.DispatchProcessQueue(common.HexToAddress(addrHex))
	}
}
