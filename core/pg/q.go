// Package pg is a small transactional query helper over sqlx, in the same
// shape as the teacher's core/services/pg package: a Q wraps a *sqlx.DB
// and every write goes through Q.Transaction so a
// row's multi-statement update is atomic.
package pg

import (
	"context"
	"database/sql"

	"github.com/jackc/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/smartcontractkit/ethtxqueue/core/logger"
)

// Queryer is the subset of *sqlx.DB / *sqlx.Tx that callers need inside a
// Q.Transaction callback.
type Queryer interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	Exec(query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Q is the handle every store method is built on.
type Q struct {
	db     *sqlx.DB
	logger logger.Logger
}

// NewQ wraps db for transactional query access.
func NewQ(db *sqlx.DB, lggr logger.Logger) Q {
	return Q{db: db, logger: lggr}
}

// Get is a passthrough to the underlying *sqlx.DB.
func (q Q) Get(dest interface{}, query string, args ...interface{}) error {
	return errors.Wrap(q.db.Get(dest, query, args...), "pg: Get failed")
}

// Select is a passthrough to the underlying *sqlx.DB.
func (q Q) Select(dest interface{}, query string, args ...interface{}) error {
	return errors.Wrap(q.db.Select(dest, query, args...), "pg: Select failed")
}

// Exec is a passthrough to the underlying *sqlx.DB.
func (q Q) Exec(query string, args ...interface{}) (sql.Result, error) {
	res, err := q.db.Exec(query, args...)
	return res, errors.Wrap(err, "pg: Exec failed")
}

// Transaction runs fn inside a single Postgres transaction, committing on a
// nil return and rolling back otherwise. Every status mutation in txqueue
// goes through this so a partial write (e.g. status updated but blocknumber
// not) can never be observed.
func (q Q) Transaction(fn func(tx Queryer) error) error {
	sqlTx, err := q.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "pg: failed to begin transaction")
	}
	if err := fn(sqlTx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			q.logger.Errorw("pg: failed to rollback transaction", "error", rbErr, "cause", err)
		}
		return err
	}
	return errors.Wrap(sqlTx.Commit(), "pg: failed to commit transaction")
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation on the given constraint name, mirroring the teacher's
// *pgconn.PgError switch in saveInProgressTransaction.
func IsUniqueViolation(err error, constraintName string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraintName
	}
	return false
}
