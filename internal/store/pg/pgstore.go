// Package pg is the Postgres implementation of store.Store.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"disbursa.org/internal/config"
	"disbursa.org/internal/models"
	"disbursa.org/internal/store"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrSerializationFailed = "40001"
	pgErrDeadlockDetected    = "40P01"
	pgErrReadOnlyTransaction = "25006"
)

var _ store.Store = (*Store)(nil)

// Store runs units of work against Postgres.
type Store struct {
	db *sql.DB
}

// Open connects with the pool settings of cfg.
func Open(cfg config.Postgres) (*Store, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// InTx implements store.Store with a serializable transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
}

// View implements store.Store with a read-only snapshot.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, fn)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx store.Tx) error) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	sqlTx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &tx{q: sqlTx, readOnly: opts.ReadOnly}); err != nil {
		return mapErr(err)
	}
	if opts.ReadOnly {
		return nil
	}
	return mapErr(sqlTx.Commit())
}

// mapErr translates driver errors into store error kinds and leaves every
// other error untouched.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	pgErr, ok := maybePgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case pgErrSerializationFailed, pgErrDeadlockDetected, pgErrUniqueViolation:
		return fmt.Errorf("%w (%s)", models.ErrConflict, pgErr.Code)
	case pgErrReadOnlyTransaction:
		return models.ErrReadOnlyTransaction
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type tx struct {
	q        querier
	readOnly bool
}

func (t *tx) write() error {
	if t.readOnly {
		return models.ErrReadOnlyTransaction
	}
	return nil
}

// exec runs a write statement and reports models.ErrNotFound when it touched no row.
func (t *tx) exec(ctx context.Context, query string, args ...any) error {
	if err := t.write(); err != nil {
		return err
	}
	res, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (t *tx) Identities() store.IdentityRepo        { return identityRepo{t} }
func (t *tx) Organizations() store.OrganizationRepo { return organizationRepo{t} }
func (t *tx) Memberships() store.MembershipRepo     { return membershipRepo{t} }
func (t *tx) Billing() store.BillingRepo            { return billingRepo{t} }
func (t *tx) Safes() store.SafeRepo                 { return safeRepo{t} }
func (t *tx) Beneficiaries() store.BeneficiaryRepo  { return beneficiaryRepo{t} }
func (t *tx) Disbursements() store.DisbursementRepo { return disbursementRepo{t} }
func (t *tx) Screening() store.ScreeningRepo        { return screeningRepo{t} }
func (t *tx) Audit() store.AuditRepo                { return auditRepo{t} }

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
