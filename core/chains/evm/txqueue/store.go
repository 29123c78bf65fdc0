package txqueue

import (
	"database/sql"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/smartcontractkit/ethtxqueue/core/pg"
)

// Store is the query surface the QueueProcessor and Reconciler depend on
// (spec §4.1). *TxStore is the production implementation backed by
// Postgres; tests substitute an in-memory fake.
type Store interface {
	FetchOutbound(addr common.Address) ([]Transaction, error)
	FetchInflight(addr common.Address, lastBlock int64) ([]Transaction, error)
	FetchIncoming(addr common.Address, lastBlock int64) ([]Transaction, error)
	FetchStaleSenders(staleAge time.Duration) ([]common.Address, error)
	FetchUnconfirmed(addr common.Address) ([]Transaction, error)
	GetLastBlockNumber() (blockNumber int64, ok bool, err error)
	GetByID(id int64) (*Transaction, error)
}

// TxStore is the persistent queue of transactions keyed by
// (from_address, nonce), exposing exactly the queries the processor and
// reconciler need (spec §4.1). All access to the transactions table goes
// through this type.
type TxStore struct {
	q pg.Q
}

var _ Store = (*TxStore)(nil)

// NewTxStore wraps q for transaction-queue access.
func NewTxStore(q pg.Q) *TxStore {
	return &TxStore{q: q}
}

// FetchOutbound returns rows from_address = addr, signed, not yet
// terminal-or-broadcast, ordered oldest-nonce-first.
func (s *TxStore) FetchOutbound(addr common.Address) ([]Transaction, error) {
	var rows []Transaction
	err := s.q.Select(&rows,
		`SELECT * FROM transactions
		 WHERE from_address = $1
		   AND (status IS NULL OR status = 'queued')
		   AND r IS NOT NULL
		 ORDER BY nonce ASC`,
		addr.Bytes())
	return rows, errors.Wrap(err, "FetchOutbound failed")
}

// FetchInflight returns rows already broadcast (unconfirmed), or confirmed
// after lastBlock — their cost is already debited from the on-chain
// balance eth_getBalance will return.
func (s *TxStore) FetchInflight(addr common.Address, lastBlock int64) ([]Transaction, error) {
	var rows []Transaction
	err := s.q.Select(&rows,
		`SELECT * FROM transactions
		 WHERE from_address = $1
		   AND (status = 'unconfirmed' OR (status = 'confirmed' AND blocknumber > $2))
		 ORDER BY nonce ASC`,
		addr.Bytes(), lastBlock)
	return rows, errors.Wrap(err, "FetchInflight failed")
}

// FetchIncoming returns rows paying into addr that are not yet settled (or
// settled after lastBlock), used to estimate optimistic pending inbound
// funds.
func (s *TxStore) FetchIncoming(addr common.Address, lastBlock int64) ([]Transaction, error) {
	var rows []Transaction
	err := s.q.Select(&rows,
		`SELECT * FROM transactions
		 WHERE to_address = $1
		   AND ((status IS NULL OR status = 'queued' OR status = 'unconfirmed')
		        OR (status = 'confirmed' AND blocknumber > $2))`,
		addr.Hex(), lastBlock)
	return rows, errors.Wrap(err, "FetchIncoming failed")
}

// FetchStaleSenders returns distinct from_address values among rows with
// non-terminal status older than staleAge (spec §4.1/§4.6).
func (s *TxStore) FetchStaleSenders(staleAge time.Duration) ([]common.Address, error) {
	var raw [][]byte
	err := s.q.Select(&raw,
		`SELECT DISTINCT from_address FROM transactions
		 WHERE (status = 'unconfirmed' OR status = 'queued' OR status IS NULL)
		   AND created < (now() AT TIME ZONE 'utc') - $1::interval`,
		staleAge.String())
	if err != nil {
		return nil, errors.Wrap(err, "FetchStaleSenders failed")
	}
	addrs := make([]common.Address, len(raw))
	for i, b := range raw {
		addrs[i] = common.BytesToAddress(b)
	}
	return addrs, nil
}

// FetchUnconfirmed returns the unconfirmed rows for a sender.
func (s *TxStore) FetchUnconfirmed(addr common.Address) ([]Transaction, error) {
	var rows []Transaction
	err := s.q.Select(&rows,
		`SELECT * FROM transactions WHERE from_address = $1 AND status = 'unconfirmed'`,
		addr.Bytes())
	return rows, errors.Wrap(err, "FetchUnconfirmed failed")
}

// GetLastBlockNumber reads the singleton last_blocknumber counter, which
// the manager never writes — only the (out-of-scope) block monitor does.
// Returns (0, false, nil) when the row is NULL, per spec §4.5 step 1.
func (s *TxStore) GetLastBlockNumber() (blockNumber int64, ok bool, err error) {
	var n sql.NullInt64
	if err := s.q.Get(&n, `SELECT blocknumber FROM last_blocknumber`); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(err, "GetLastBlockNumber failed")
	}
	if !n.Valid {
		return 0, false, nil
	}
	return n.Int64, true, nil
}

// GetByID fetches a single row by its primary key.
func (s *TxStore) GetByID(id int64) (*Transaction, error) {
	var tx Transaction
	err := s.q.Get(&tx, `SELECT * FROM transactions WHERE transaction_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &tx, errors.Wrap(err, "GetByID failed")
}

// UpdateStatus persists a status transition (and, for 'confirmed', a block
// number), stamping `updated`. It is always run inside the caller's
// transaction via tx rather than s.q directly, so the status and block
// number are written together. update_transaction reads the row and checks
// its current status before opening that transaction, so the write is not
// atomic with that read-then-check.
func UpdateStatus(tx pg.Queryer, id int64, status Status, blockNumber *int64) error {
	if status == StatusConfirmed {
		_, err := tx.Exec(
			`UPDATE transactions SET status = $1, blocknumber = $2, updated = (now() AT TIME ZONE 'utc') WHERE transaction_id = $3`,
			string(status), blockNumber, id)
		return errors.Wrap(err, "UpdateStatus failed (confirmed)")
	}
	_, err := tx.Exec(
		`UPDATE transactions SET status = $1, updated = (now() AT TIME ZONE 'utc') WHERE transaction_id = $2`,
		string(status), id)
	return errors.Wrap(err, "UpdateStatus failed")
}
