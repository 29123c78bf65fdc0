package txqueue_test

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	evmclient "github.com/smartcontractkit/ethtxqueue/core/chains/evm/client"
	"github.com/smartcontractkit/ethtxqueue/core/chains/evm/txqueue"
	"github.com/smartcontractkit/ethtxqueue/core/pg"
)

// fakeStore is an in-memory Store used by processor/reconciler tests so
// they exercise the real state machine without a Postgres fixture.
type fakeStore struct {
	mu          sync.Mutex
	rows        map[int64]*txqueue.Transaction
	lastBlock   int64
	haveBlock   bool
	nextID      int64
}

var _ txqueue.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[int64]*txqueue.Transaction)}
}

func (s *fakeStore) insert(tx txqueue.Transaction) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	tx.TransactionID = s.nextID
	s.rows[tx.TransactionID] = &tx
	return tx.TransactionID
}

func (s *fakeStore) setLastBlock(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBlock = n
	s.haveBlock = true
}

func (s *fakeStore) FetchOutbound(addr common.Address) ([]txqueue.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []txqueue.Transaction
	for _, tx := range s.rows {
		if tx.FromAddress != addr || !tx.IsSigned() {
			continue
		}
		st := tx.StatusOrNull()
		if st == "" || st == txqueue.StatusQueued {
			out = append(out, *tx)
		}
	}
	sortByNonce(out)
	return out, nil
}

func (s *fakeStore) FetchInflight(addr common.Address, lastBlock int64) ([]txqueue.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []txqueue.Transaction
	for _, tx := range s.rows {
		if tx.FromAddress != addr {
			continue
		}
		st := tx.StatusOrNull()
		if st == txqueue.StatusUnconfirmed || (st == txqueue.StatusConfirmed && tx.BlockNumber.Valid && tx.BlockNumber.Int64 > lastBlock) {
			out = append(out, *tx)
		}
	}
	sortByNonce(out)
	return out, nil
}

func (s *fakeStore) FetchIncoming(addr common.Address, lastBlock int64) ([]txqueue.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []txqueue.Transaction
	for _, tx := range s.rows {
		if tx.ToAddress != addr.Hex() {
			continue
		}
		st := tx.StatusOrNull()
		if st == "" || st == txqueue.StatusQueued || st == txqueue.StatusUnconfirmed ||
			(st == txqueue.StatusConfirmed && tx.BlockNumber.Valid && tx.BlockNumber.Int64 > lastBlock) {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (s *fakeStore) FetchStaleSenders(staleAge time.Duration) ([]common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[common.Address]bool{}
	var out []common.Address
	cutoff := time.Now().Add(-staleAge)
	for _, tx := range s.rows {
		st := tx.StatusOrNull()
		if (st == "" || st == txqueue.StatusQueued || st == txqueue.StatusUnconfirmed) && tx.Created.Before(cutoff) {
			if !seen[tx.FromAddress] {
				seen[tx.FromAddress] = true
				out = append(out, tx.FromAddress)
			}
		}
	}
	return out, nil
}

func (s *fakeStore) FetchUnconfirmed(addr common.Address) ([]txqueue.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []txqueue.Transaction
	for _, tx := range s.rows {
		if tx.FromAddress == addr && tx.StatusOrNull() == txqueue.StatusUnconfirmed {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (s *fakeStore) GetLastBlockNumber() (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBlock, s.haveBlock, nil
}

func (s *fakeStore) GetByID(id int64) (*txqueue.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *tx
	return &cp, nil
}

// applyExec mutates rows the same way UpdateStatus's two SQL templates do,
// dispatching on argument shape rather than parsing the query text.
func (s *fakeStore) applyExec(args []interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var status string
	var id int64
	var blockNumber *int64

	switch len(args) {
	case 3:
		status = args[0].(string)
		if bn, ok := args[1].(*int64); ok {
			blockNumber = bn
		}
		id = args[2].(int64)
	case 2:
		status = args[0].(string)
		id = args[1].(int64)
	default:
		return errors.New("fakeStore: unexpected Exec arity")
	}

	tx, ok := s.rows[id]
	if !ok {
		return sql.ErrNoRows
	}
	tx.Status.SetValid(status)
	if blockNumber != nil {
		tx.BlockNumber.SetValid(*blockNumber)
	}
	return nil
}

// fakeQueryer is the pg.Queryer a fakeTransactor hands to the callback; only
// Exec is exercised by UpdateStatus, the other methods are unused by the
// code under test.
type fakeQueryer struct {
	store *fakeStore
}

func (q fakeQueryer) Get(dest interface{}, query string, args ...interface{}) error { return nil }
func (q fakeQueryer) Select(dest interface{}, query string, args ...interface{}) error {
	return nil
}
func (q fakeQueryer) Exec(query string, args ...interface{}) (sql.Result, error) {
	return nil, q.store.applyExec(args)
}
func (q fakeQueryer) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return nil
}
func (q fakeQueryer) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return nil
}
func (q fakeQueryer) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, q.store.applyExec(args)
}

var _ pg.Queryer = fakeQueryer{}

// fakeTransactor runs the callback against the same fakeStore rows a test's
// Store fake reads from, so processor tests see writes without a database.
type fakeTransactor struct {
	store *fakeStore
}

func (t fakeTransactor) Transaction(fn func(tx pg.Queryer) error) error {
	return fn(fakeQueryer{store: t.store})
}

func sortByNonce(txs []txqueue.Transaction) {
	for i := 1; i < len(txs); i++ {
		for j := i; j > 0 && txs[j].Nonce < txs[j-1].Nonce; j-- {
			txs[j], txs[j-1] = txs[j-1], txs[j]
		}
	}
}

// fakeEthClient is a scriptable evmclient.EthClient for tests.
type fakeEthClient struct {
	mu                  sync.Mutex
	balance             *big.Int
	nonce               uint64
	sendErr             error
	sentRaw             [][]byte
	txByHash            map[common.Hash]*evmclient.TransactionByHashResult
}

var _ evmclient.EthClient = (*fakeEthClient)(nil)

func newFakeEthClient(balance *big.Int, nonce uint64) *fakeEthClient {
	return &fakeEthClient{balance: balance, nonce: nonce, txByHash: map[common.Hash]*evmclient.TransactionByHashResult{}}
}

func (c *fakeEthClient) GetBalance(ctx context.Context, addr common.Address, block evmclient.BlockParam) (*big.Int, error) {
	return new(big.Int).Set(c.balance), nil
}

func (c *fakeEthClient) GetTransactionCount(ctx context.Context, addr common.Address, block evmclient.BlockParam) (uint64, error) {
	return c.nonce, nil
}

func (c *fakeEthClient) GetTransactionByHash(ctx context.Context, hash common.Hash) (*evmclient.TransactionByHashResult, error) {
	return c.txByHash[hash], nil
}

func (c *fakeEthClient) SendRawTransaction(ctx context.Context, raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sentRaw = append(c.sentRaw, raw)
	return nil
}

// fakeDispatcher records dispatched work instead of running it
// asynchronously, so tests can assert on it deterministically.
type fakeDispatcher struct {
	mu            sync.Mutex
	reprocessed   []common.Address
	notifications []dispatchedNotification
}

type dispatchedNotification struct {
	address string
	message txqueue.PaymentMessage
}

var _ txqueue.Dispatcher = (*fakeDispatcher)(nil)

func (d *fakeDispatcher) DispatchProcessQueue(addr common.Address) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reprocessed = append(d.reprocessed, addr)
}

func (d *fakeDispatcher) DispatchSendNotification(address string, message txqueue.PaymentMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifications = append(d.notifications, dispatchedNotification{address: address, message: message})
}

func (d *fakeDispatcher) addressesNotified() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.notifications))
	for i, n := range d.notifications {
		out[i] = n.address
	}
	return out
}
