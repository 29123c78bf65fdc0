package txqueue

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	evmclient "github.com/smartcontractkit/ethtxqueue/core/chains/evm/client"
	"github.com/smartcontractkit/ethtxqueue/core/logger"
	"github.com/smartcontractkit/ethtxqueue/core/pg"
	"github.com/smartcontractkit/ethtxqueue/core/utils"
)

// Dispatcher is the task-bus surface the processor and notifier need: a
// fire-and-forget handle to re-trigger an address's queue or deliver a
// notification (spec §6's task bus).
type Dispatcher interface {
	DispatchProcessQueue(addr common.Address)
	DispatchSendNotification(address string, message PaymentMessage)
}

// transactor is the single method of pg.Q the processor depends on,
// narrowed out so tests can substitute a fake transaction runner instead of
// a live database connection.
type transactor interface {
	Transaction(fn func(tx pg.Queryer) error) error
}

// QueueProcessor is the core state machine of spec §4.5: for one address
// at a time (enforced by the QueueGate), it reads the outbound queue,
// computes an expected nonce and effective balance, and either broadcasts
// each row in ascending-nonce order or fails it, cascading failure to every
// later row once one fails.
type QueueProcessor struct {
	q          transactor
	store      Store
	client     evmclient.EthClient
	codec      *TxCodec
	gate       *QueueGate
	notifier   *Notifier
	dispatcher Dispatcher
	logger     logger.Logger
}

// NewQueueProcessor wires the processor's collaborators.
func NewQueueProcessor(
	q transactor,
	store Store,
	client evmclient.EthClient,
	codec *TxCodec,
	gate *QueueGate,
	notifier *Notifier,
	dispatcher Dispatcher,
	lggr logger.Logger,
) *QueueProcessor {
	return &QueueProcessor{
		q:          q,
		store:      store,
		client:     client,
		codec:      codec,
		gate:       gate,
		notifier:   notifier,
		dispatcher: dispatcher,
		logger:     lggr.Named("QueueProcessor"),
	}
}

// ProcessTransactionQueue is the entry point every external trigger calls:
// user submission, block-monitor update, sanity timer, or self-retrigger.
// The QueueGate guarantees at most one active pass per address; any
// unexpected error is caught here, logged, and swallowed so the gate is
// never left wedged (spec §7 InternalException).
func (p *QueueProcessor) ProcessTransactionQueue(ctx context.Context, addr common.Address) {
	release := p.gate.Enter(addr)
	defer release()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorw("panic in process_transaction_queue", "address", addr.Hex(), "panic", r)
		}
	}()

	if err := p.process(ctx, addr); err != nil {
		p.logger.Errorw("process_transaction_queue failed", "address", addr.Hex(), "error", err)
	}
}

func (p *QueueProcessor) process(ctx context.Context, addr common.Address) error {
	p.logger.Debugw("processing tx queue", "address", addr.Hex())

	lastBlock, haveLastBlock, err := p.store.GetLastBlockNumber()
	if err != nil {
		return errors.Wrap(err, "process: GetLastBlockNumber failed")
	}
	blockParam := evmclient.Latest()
	if haveLastBlock {
		blockParam = evmclient.AtHeight(big.NewInt(lastBlock))
	}
	// predicateBlock is the value range predicates compare against;
	// NULL is treated as 0 (spec §4.5 step 1).
	predicateBlock := lastBlock

	outbound, err := p.store.FetchOutbound(addr)
	if err != nil {
		return errors.Wrap(err, "process: FetchOutbound failed")
	}
	if len(outbound) == 0 {
		return nil
	}

	netBalance, err := p.client.GetBalance(ctx, addr, blockParam)
	if err != nil {
		return errors.Wrap(err, "process: GetBalance failed")
	}

	inflight, err := p.store.FetchInflight(addr, predicateBlock)
	if err != nil {
		return errors.Wrap(err, "process: FetchInflight failed")
	}

	var nonce int64
	balance := new(big.Int).Set(netBalance)
	if len(inflight) > 0 {
		nonce = inflight[len(inflight)-1].Nonce + 1
		for _, t := range inflight {
			balance.Sub(balance, utils.DecimalToBig(t.Cost()))
		}
	} else {
		count, err := p.client.GetTransactionCount(ctx, addr, blockParam)
		if err != nil {
			return errors.Wrap(err, "process: GetTransactionCount failed")
		}
		nonce = int64(count)
	}

	failureCascade := false
	toRetrigger := make(map[string]struct{})

	i := 0
	for ; i < len(outbound); i++ {
		tx := &outbound[i]

		if failureCascade {
			if err := p.updateTransaction(ctx, tx.TransactionID, StatusError); err != nil {
				return errors.Wrap(err, "process: cascade update failed")
			}
			toRetrigger[tx.ToAddress] = struct{}{}
			continue
		}

		if tx.Nonce != nonce {
			p.logger.Infow("nonce mismatch, cascading failure", "txID", tx.TransactionID, "expected", nonce, "got", tx.Nonce)
			failureCascade = true
			if err := p.updateTransaction(ctx, tx.TransactionID, StatusError); err != nil {
				return errors.Wrap(err, "process: nonce-mismatch update failed")
			}
			toRetrigger[tx.ToAddress] = struct{}{}
			continue
		}

		cost := utils.DecimalToBig(tx.Cost())

		if balance.Cmp(cost) >= 0 {
			if err := p.broadcast(ctx, tx); err != nil {
				if isCascadeError(err) {
					failureCascade = true
					toRetrigger[tx.ToAddress] = struct{}{}
					continue
				}
				return err
			}
			balance.Sub(balance, cost)
			nonce++
			continue
		}

		// Case B: insufficient immediate balance. Check whether optimistic
		// pending inbound funds could ever cover it.
		incoming, err := p.store.FetchIncoming(addr, predicateBlock)
		if err != nil {
			return errors.Wrap(err, "process: FetchIncoming failed")
		}
		pendingIn := new(big.Int)
		for _, in := range incoming {
			pendingIn.Add(pendingIn, utils.DecimalToBig(in.Value))
		}

		if new(big.Int).Add(balance, pendingIn).Cmp(cost) < 0 {
			p.logger.Infow("insufficient funds even with pending inbound, cascading failure", "txID", tx.TransactionID)
			failureCascade = true
			if err := p.updateTransaction(ctx, tx.TransactionID, StatusError); err != nil {
				return errors.Wrap(err, "process: insufficient-funds update failed")
			}
			toRetrigger[tx.ToAddress] = struct{}{}
			continue
		}

		// Park this row and every remaining row in the outbound list.
		for j := i; j < len(outbound); j++ {
			row := &outbound[j]
			if row.StatusOrNull() == "" {
				if err := p.updateTransaction(ctx, row.TransactionID, StatusQueued); err != nil {
					return errors.Wrap(err, "process: park update failed")
				}
			}
		}
		for _, in := range incoming {
			if in.BlockNumber.Valid && in.BlockNumber.Int64 > predicateBlock {
				toRetrigger[addr.Hex()] = struct{}{}
				break
			}
		}
		i = len(outbound)
		break
	}

	for addrHex := range toRetrigger {
		if addrHex == ContractCreationSentinel {
			continue
		}
		p.dispatcher.DispatchProcessQueue(common.HexToAddress(addrHex))
	}

	// Per spec §4.5 step 10 / §9 design notes: only re-dispatch when the
	// park loop left unprocessed rows behind. Parking above always
	// consumes the remainder of outbound in a single sweep (mirroring the
	// original implementation), so `remaining` is always zero here; the
	// explicit semantics are preserved rather than "fixed".
	remaining := len(outbound) - i
	if remaining > 0 {
		p.dispatcher.DispatchProcessQueue(addr)
	}

	return nil
}

// cascadeError marks a broadcast-path failure that should cascade-fail the
// remainder of the pass (BadSignature, BroadcastRejected) as distinct from
// an unexpected infrastructure error that should abort the whole pass.
type cascadeError struct {
	cause error
}

func (e *cascadeError) Error() string { return e.cause.Error() }
func (e *cascadeError) Unwrap() error { return e.cause }

func isCascadeError(err error) bool {
	var ce *cascadeError
	return errors.As(err, &ce)
}

// broadcast reconstructs, re-verifies, and sends a single transaction,
// marking it 'unconfirmed' on success (spec §4.5 Case A).
func (p *QueueProcessor) broadcast(ctx context.Context, tx *Transaction) error {
	signed, err := p.codec.Reconstruct(tx)
	if err != nil {
		p.logger.Errorw("failed to reconstruct transaction, treating as bad signature", "txID", tx.TransactionID, "error", err)
		if uErr := p.updateTransaction(ctx, tx.TransactionID, StatusError); uErr != nil {
			return errors.Wrap(uErr, "broadcast: update after reconstruct failure failed")
		}
		return &cascadeError{cause: err}
	}

	sender, err := p.codec.RecoverSender(signed)
	if err != nil || sender != tx.FromAddress {
		p.logger.Errorw("signature invalid for sender of tx", "txID", tx.TransactionID, "queueAddress", tx.FromAddress.Hex(), "recovered", sender.Hex())
		if uErr := p.updateTransaction(ctx, tx.TransactionID, StatusError); uErr != nil {
			return errors.Wrap(uErr, "broadcast: update after bad signature failed")
		}
		return &cascadeError{cause: errors.New("recovered sender does not match from_address")}
	}

	encoded, err := p.codec.Encode(signed)
	if err != nil {
		return errors.Wrap(err, "broadcast: encode failed")
	}

	if err := p.client.SendRawTransaction(ctx, encoded); err != nil {
		p.logger.Errorw("error sending queued transaction", "txID", tx.TransactionID, "error", err)
		if uErr := p.updateTransaction(ctx, tx.TransactionID, StatusError); uErr != nil {
			return errors.Wrap(uErr, "broadcast: update after send failure failed")
		}
		return &cascadeError{cause: err}
	}

	return p.updateTransaction(ctx, tx.TransactionID, StatusUnconfirmed)
}

// UpdateTransaction exposes updateTransaction to other components that
// share this subroutine per spec §4.7 — namely the Reconciler, which uses
// it to persist 'confirmed'/'error' transitions it discovers.
func (p *QueueProcessor) UpdateTransaction(ctx context.Context, id int64, newStatus Status) error {
	return p.updateTransaction(ctx, id, newStatus)
}

// updateTransaction is the shared subroutine of spec §4.7: persist a status
// transition transactionally, fire notifications, and unconditionally
// re-trigger the recipient's queue so it can re-evaluate its incoming-funds
// estimate.
func (p *QueueProcessor) updateTransaction(ctx context.Context, id int64, newStatus Status) error {
	tx, err := p.store.GetByID(id)
	if err != nil {
		return errors.Wrap(err, "updateTransaction: GetByID failed")
	}
	if tx == nil {
		p.logger.Warnw("updateTransaction: transaction not found", "txID", id)
		return nil
	}

	previous := tx.StatusOrNull()
	if previous == newStatus {
		// Idempotent no-op: no DB write, no notification.
		return nil
	}
	if previous == StatusConfirmed {
		p.logger.Warnw("refusing to overwrite confirmed transaction", "txID", id, "attemptedStatus", newStatus)
		return nil
	}

	var blockNumber *int64
	if newStatus == StatusConfirmed {
		hash := tx.Hash.ValueOrZero()
		result, err := p.client.GetTransactionByHash(ctx, common.HexToHash(hash))
		if err != nil {
			return errors.Wrap(err, "updateTransaction: GetTransactionByHash failed")
		}
		if result == nil || result.BlockNumber == nil {
			return errors.Errorf("updateTransaction: cannot confirm tx %d, node has no block number for it", id)
		}
		bn := result.BlockNumber.Int64()
		blockNumber = &bn
	}

	p.logger.Infow("updating transaction status", "txID", id, "from", previous, "to", newStatus)

	err = p.q.Transaction(func(qTx pg.Queryer) error {
		return UpdateStatus(qTx, id, newStatus, blockNumber)
	})
	if err != nil {
		return errors.Wrap(err, "updateTransaction: UpdateStatus failed")
	}

	p.notifier.NotifyTransition(tx, previous, newStatus)

	if !tx.IsContractCreation() {
		p.dispatcher.DispatchProcessQueue(common.HexToAddress(tx.ToAddress))
	}

	return nil
}
