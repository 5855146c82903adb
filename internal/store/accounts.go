package store

import (
	"context"
	"errors"

	"funds-ledger/internal/ledger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const accountColumns = `account_id, name, email, balance::text, created_at, updated_at`

type accountStore struct {
	tx pgx.Tx
}

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		a   ledger.Account
		bal string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &bal, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return ledger.Account{}, classify(err)
	}
	d, err := decimal.NewFromString(bal)
	if err != nil {
		return ledger.Account{}, err
	}
	a.Balance = d
	return a, nil
}

func (s *accountStore) Get(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	return scanAccount(s.tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_id=$1`, id))
}

// Lock takes the row locks one at a time in ascending id order so two units
// locking the same pair from opposite ends cannot deadlock.
func (s *accountStore) Lock(ctx context.Context, ids ...uuid.UUID) error {
	for _, id := range ledger.SortIDs(ids...) {
		var got uuid.UUID
		err := s.tx.QueryRow(ctx,
			`SELECT account_id FROM accounts WHERE account_id=$1 FOR UPDATE`, id,
		).Scan(&got)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

func (s *accountStore) AdjustBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) (ledger.Account, error) {
	return scanAccount(s.tx.QueryRow(ctx,
		`UPDATE accounts
		    SET balance = balance + $2::numeric, updated_at = now()
		  WHERE account_id=$1
		RETURNING `+accountColumns,
		id, delta.String()))
}

func (s *accountStore) Create(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	return scanAccount(s.tx.QueryRow(ctx,
		`INSERT INTO accounts(account_id, name, email, balance, created_at, updated_at)
		 VALUES($1,$2,lower($3),$4::numeric,$5,$6)
		RETURNING `+accountColumns,
		a.ID, a.Name, a.Email, a.Balance.String(), a.CreatedAt, a.UpdatedAt))
}
