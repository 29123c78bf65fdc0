package txqueue

import (
	"time"

	evmclient "github.com/smartcontractkit/ethtxqueue/core/chains/evm/client"
	"github.com/smartcontractkit/ethtxqueue/core/config"
	"github.com/smartcontractkit/ethtxqueue/core/logger"
	"github.com/smartcontractkit/ethtxqueue/core/pg"
)

// Manager wires every component of the transaction-queue manager together,
// in the same "construct leaves, then the delegate on top" style as the
// teacher's fluxmonitorv2.Delegate: the delegate doesn't implement any
// domain logic itself, it assembles an ORM, a strategy, a client, and a
// runner into a working service.
type Manager struct {
	Store      *TxStore
	Codec      *TxCodec
	Gate       *QueueGate
	Notifier   *Notifier
	Runtime    *TaskRuntime
	Processor  *QueueProcessor
	Reconciler *Reconciler

	cfg    config.Config
	logger logger.Logger
}

// NewManager constructs the full dependency graph described in spec §2's
// component table.
func NewManager(q pg.Q, client evmclient.EthClient, sender NotificationSender, cfg config.Config, lggr logger.Logger) *Manager {
	store := NewTxStore(q)
	codec := NewTxCodec(cfg.EthereumNetworkID())
	gate := NewQueueGate()
	runtime := NewTaskRuntime(sender, lggr)
	notifier := NewNotifier(cfg.EthereumNetworkID(), func(address string, message PaymentMessage) {
		runtime.DispatchSendNotification(address, message)
	})
	processor := NewQueueProcessor(q, store, client, codec, gate, notifier, runtime, lggr)
	runtime.SetProcessor(processor)
	reconciler := NewReconciler(store, client, processor, runtime, cfg.StaleTransactionAge(), lggr)

	return &Manager{
		Store:      store,
		Codec:      codec,
		Gate:       gate,
		Notifier:   notifier,
		Runtime:    runtime,
		Processor:  processor,
		Reconciler: reconciler,
		cfg:        cfg,
		logger:     lggr.Named("Manager"),
	}
}

// Start boots the reconciler's self-rescheduling sanity_check chain, with
// the configured initial delay so the task bus connection settles first
// (spec §6).
func (m *Manager) Start() error {
	return m.Reconciler.Start(m.cfg.SanityCheckFrequency(), m.cfg.SanityCheckInitialDelay())
}

// Stop drains in-flight tasks and halts the reconciler.
func (m *Manager) Stop() error {
	if err := m.Reconciler.Stop(); err != nil {
		return err
	}
	m.Runtime.Stop()
	return nil
}

// Frequency is exposed for tests that need to assert on the configured
// reconciliation cadence without reaching into cfg directly.
func (m *Manager) Frequency() time.Duration {
	return m.cfg.SanityCheckFrequency()
}
