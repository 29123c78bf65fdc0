// Command txqueue runs the transaction-queue manager: it processes queued
// Ethereum transactions for every sending address, reconciles broadcast
// transactions against the node, and dispatches payment notifications.
// HTTP submission endpoints, block monitoring, and notification delivery
// are separate out-of-scope processes (spec §1); this binary only runs the
// queue manager's own background work.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/smartcontractkit/ethtxqueue/core/chains/evm/client"
	"github.com/smartcontractkit/ethtxqueue/core/chains/evm/txqueue"
	"github.com/smartcontractkit/ethtxqueue/core/config"
	"github.com/smartcontractkit/ethtxqueue/core/logger"
	"github.com/smartcontractkit/ethtxqueue/core/pg"
)

func main() {
	lggr, err := logger.New()
	if err != nil {
		panic(err)
	}

	cfg := config.New()

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL())
	if err != nil {
		lggr.Errorw("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ethClient, err := client.Dial(ctx, cfg.EthereumNodeURL())
	if err != nil {
		lggr.Errorw("failed to dial ethereum node", "error", err)
		os.Exit(1)
	}

	q := pg.NewQ(db, lggr)
	sender := &loggingNotificationSender{logger: lggr.Named("NotificationSender")}

	manager := txqueue.NewManager(q, ethClient, sender, cfg, lggr)
	if err := manager.Start(); err != nil {
		lggr.Errorw("failed to start manager", "error", err)
		os.Exit(1)
	}

	lggr.Infow("txqueue manager started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	lggr.Infow("shutting down")
	if err := manager.Stop(); err != nil {
		lggr.Errorw("error during shutdown", "error", err)
	}
}

// loggingNotificationSender is a placeholder for the out-of-scope push
// notification delivery service (spec §1): it logs instead of delivering,
// so the manager is runnable standalone without that external collaborator.
type loggingNotificationSender struct {
	logger logger.Logger
}

func (s *loggingNotificationSender) Send(ctx context.Context, address string, message txqueue.PaymentMessage) error {
	s.logger.Infow("send_notification", "address", address, "status", message.Status, "txHash", message.TxHash)
	return nil
}
