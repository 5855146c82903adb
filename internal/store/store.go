// Package store is the Postgres-backed ledger.Storage.
package store

import (
	"context"
	"errors"
	"fmt"

	"funds-ledger/internal/ledger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLSTATE codes the store interprets.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateNumericOutOfRange    = "22003"
)

type Store struct {
	db *pgxpool.Pool
}

var _ ledger.Storage = (*Store)(nil)

func New(db *pgxpool.Pool) *Store { return &Store{db: db} }

// RunAtomic runs fn in a READ COMMITTED transaction. Isolation comes from
// the row locks fn takes (accounts and records FOR UPDATE in id order, the
// audit chain lock last), so every read that feeds a write sees the latest
// committed row. Deadlocks and lock timeouts surface as ledger.ErrConflict.
func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	}, fn)
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadOnly,
	}, fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context, tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps driver errors onto the ledger sentinels, keeping the
// original error in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", ledger.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateLockNotAvailable:
			return fmt.Errorf("%w: %w", ledger.ErrConflict, err)
		case sqlStateUniqueViolation:
			return fmt.Errorf("%w: %w", ledger.ErrDuplicate, err)
		case sqlStateNumericOutOfRange:
			return fmt.Errorf("%w: %w", ledger.ErrBalanceOutOfRange, err)
		}
	}
	return err
}

// ChainHead returns the sequence number and hash of the newest audit event,
// or 0 and GenesisHash on an empty log.
func (s *Store) ChainHead(ctx context.Context) (int64, [32]byte, error) {
	var (
		seq  int64
		raw  []byte
		head [32]byte
	)
	err := s.db.QueryRow(ctx, `SELECT head_seq, head_hash FROM event_chain_head WHERE id`).Scan(&seq, &raw)
	if err != nil {
		return 0, head, classify(err)
	}
	if len(raw) != len(head) {
		return 0, head, fmt.Errorf("event_chain_head: hash has %d bytes", len(raw))
	}
	copy(head[:], raw)
	return seq, head, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Accounts() ledger.AccountStore { return &accountStore{tx: t.tx} }
func (t *pgTx) Records() ledger.RecordStore   { return &recordStore{tx: t.tx} }

func (t *pgTx) Audit(ctx context.Context, ev ledger.Event) error {
	return insertEvent(ctx, t.tx, ev.Type, ev.AggregateType, ev.AggregateID, ev.CorrelationID, ev.Payload)
}
