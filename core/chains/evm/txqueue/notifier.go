package txqueue

import (
	"github.com/ethereum/go-ethereum/common"
)

// Notifier renders payment-status messages and dispatches per-address
// notifications via the task bus (spec §4.4). It holds no state of its
// own beyond the network id every message is stamped with.
type Notifier struct {
	networkID int64
	dispatch  func(address string, message PaymentMessage)
}

// NewNotifier builds a Notifier that calls dispatch for every rendered
// message rather than talking to the task bus directly, so tests can
// observe dispatched notifications without a real bus.
func NewNotifier(networkID int64, dispatch func(address string, message PaymentMessage)) *Notifier {
	return &Notifier{networkID: networkID, dispatch: dispatch}
}

// render builds the PaymentMessage for tx at the externally-visible status.
// externalStatus is already normalized (spec §4.4: 'queued' is reported as
// 'unconfirmed').
func (n *Notifier) render(tx *Transaction, externalStatus Status) PaymentMessage {
	return PaymentMessage{
		Value:       tx.Value.String(),
		TxHash:      tx.Hash.ValueOrZero(),
		Status:      externalStatus,
		FromAddress: tx.FromAddress.Hex(),
		ToAddress:   tx.ToAddress,
		NetworkID:   n.networkID,
	}
}

// NotifyTransition applies the dispatch rules of spec §4.4's table for a
// transition from previousStatus to newStatus and sends the resulting
// notifications. previousStatus == "" represents the NULL (brand new) row
// state.
func (n *Notifier) NotifyTransition(tx *Transaction, previousStatus, newStatus Status) {
	external := newStatus
	if external == StatusQueued {
		external = StatusUnconfirmed
	}

	// 'queued' -> 'unconfirmed' is fully suppressed: the user already saw
	// the 'unconfirmed' notification when the row first went to 'queued'.
	if previousStatus == StatusQueued && newStatus == StatusUnconfirmed {
		return
	}

	message := n.render(tx, external)

	// The sender always gets a PN.
	n.dispatch(tx.FromAddress.Hex(), message)

	if tx.IsContractCreation() {
		return
	}

	// A brand-new row (previousStatus == "") that errors before any PN has
	// gone out only notifies the sender.
	if previousStatus == "" && newStatus == StatusError {
		return
	}

	n.dispatch(tx.ToAddress, message)
}
