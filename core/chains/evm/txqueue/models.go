// Package txqueue implements the per-address transaction-queue state
// machine: admission ordering by nonce, balance accounting, signature
// re-verification, broadcast, failure cascades, cross-address
// re-triggering, and periodic reconciliation. It is the core of
// ethtxqueue, built in the shape of the teacher's
// core/chains/evm/bulletprooftxmanager package.
package txqueue

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	null "gopkg.in/guregu/null.v4"

	"github.com/smartcontractkit/ethtxqueue/core/utils"
)

// Status is a transaction row's lifecycle state (spec §3).
type Status string

const (
	// StatusQueued means the row is blocked on balance, not yet broadcast.
	StatusQueued Status = "queued"
	// StatusUnconfirmed means the row has been broadcast but not yet seen
	// confirmed.
	StatusUnconfirmed Status = "unconfirmed"
	// StatusConfirmed is terminal: the row has been included in a block.
	StatusConfirmed Status = "confirmed"
	// StatusError is terminal: the row cannot or will not be broadcast.
	StatusError Status = "error"
)

// ContractCreationSentinel is the to_address value that marks a contract
// creation; such recipients never receive notifications or re-enqueues
// (spec §6).
const ContractCreationSentinel = "0x"

// Transaction is a single queued/broadcast/confirmed row, keyed by
// (from_address, nonce). Field types follow the teacher's preference for
// decimal.Decimal over raw strings for persisted 256-bit quantities.
type Transaction struct {
	TransactionID int64       `db:"transaction_id"`
	Hash          null.String `db:"hash"`
	FromAddress   common.Address `db:"from_address"`
	ToAddress     string      `db:"to_address"`
	Nonce         int64       `db:"nonce"`
	Value         decimal.Decimal `db:"value"`
	Gas           decimal.Decimal `db:"gas"`
	GasPrice      decimal.Decimal `db:"gas_price"`
	Data          null.String `db:"data"` // hex-encoded calldata
	V             null.Int    `db:"v"`
	R             null.String `db:"r"` // r IS NOT NULL marks the row signed
	S             null.String `db:"s"`
	Status        null.String `db:"status"`
	BlockNumber   null.Int    `db:"blocknumber"`
	Created       time.Time   `db:"created"`
	Updated       time.Time   `db:"updated"`
}

// IsSigned reports whether the row carries a signature and is therefore
// eligible for processing (spec §3 "signed-only eligibility").
func (t *Transaction) IsSigned() bool {
	return t.R.Valid
}

// IsContractCreation reports whether this row's recipient is the contract
// creation sentinel.
func (t *Transaction) IsContractCreation() bool {
	return t.ToAddress == ContractCreationSentinel
}

// Cost is value + gas*gas_price, the maximum debit this row can impose on
// its sender.
func (t *Transaction) Cost() decimal.Decimal {
	return t.Value.Add(t.Gas.Mul(t.GasPrice))
}

// StatusOrNull returns the row's status as a plain Status, or "" if NULL.
func (t *Transaction) StatusOrNull() Status {
	if !t.Status.Valid {
		return ""
	}
	return Status(t.Status.String)
}

// PaymentMessage is the notification payload rendered on every status
// change (spec §4.4 / §6).
type PaymentMessage struct {
	Value       string `json:"value"`
	TxHash      string `json:"txHash"`
	Status      Status `json:"status"`
	FromAddress string `json:"fromAddress"`
	ToAddress   string `json:"toAddress"`
	NetworkID   int64  `json:"networkId"`
}
