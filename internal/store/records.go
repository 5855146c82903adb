package store

import (
	"context"
	"time"

	"funds-ledger/internal/ledger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// recordSelect joins both parties so every read carries their summaries.
const recordSelect = `
SELECT r.record_id, r.amount::text, r.sender_id, r.receiver_id, r.status, r.created_at, r.updated_at,
       s.name, s.email, v.name, v.email
  FROM ledger_records r
  JOIN accounts s ON s.account_id = r.sender_id
  JOIN accounts v ON v.account_id = r.receiver_id`

type recordStore struct {
	tx pgx.Tx
}

func scanRecord(row pgx.Row) (ledger.Record, error) {
	var (
		r      ledger.Record
		amount string
		status string
	)
	err := row.Scan(&r.ID, &amount, &r.SenderID, &r.ReceiverID, &status, &r.CreatedAt, &r.UpdatedAt,
		&r.Sender.Name, &r.Sender.Email, &r.Receiver.Name, &r.Receiver.Email)
	if err != nil {
		return ledger.Record{}, classify(err)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return ledger.Record{}, err
	}
	r.Amount = d
	r.Status = ledger.Status(status)
	r.Sender.ID = r.SenderID
	r.Receiver.ID = r.ReceiverID
	return r, nil
}

func (s *recordStore) Create(ctx context.Context, r ledger.Record) (ledger.Record, error) {
	_, err := s.tx.Exec(ctx,
		`INSERT INTO ledger_records(record_id, amount, sender_id, receiver_id, status, created_at, updated_at)
		 VALUES($1,$2::numeric,$3,$4,$5,$6,$7)`,
		r.ID, r.Amount.String(), r.SenderID, r.ReceiverID, string(r.Status), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return ledger.Record{}, classify(err)
	}
	return s.Get(ctx, r.ID)
}

func (s *recordStore) Get(ctx context.Context, id uuid.UUID) (ledger.Record, error) {
	return scanRecord(s.tx.QueryRow(ctx, recordSelect+` WHERE r.record_id=$1`, id))
}

func (s *recordStore) GetForUpdate(ctx context.Context, id uuid.UUID) (ledger.Record, error) {
	return scanRecord(s.tx.QueryRow(ctx, recordSelect+` WHERE r.record_id=$1 FOR UPDATE OF r`, id))
}

func (s *recordStore) UpdateStatus(ctx context.Context, id uuid.UUID, status ledger.Status, at time.Time) (ledger.Record, error) {
	tag, err := s.tx.Exec(ctx,
		`UPDATE ledger_records SET status=$2, updated_at=$3 WHERE record_id=$1`,
		id, string(status), at,
	)
	if err != nil {
		return ledger.Record{}, classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.Record{}, ledger.ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *recordStore) ListByParticipant(ctx context.Context, id uuid.UUID) ([]ledger.Record, error) {
	rows, err := s.tx.Query(ctx,
		recordSelect+`
		 WHERE r.sender_id=$1 OR r.receiver_id=$1
		 ORDER BY r.created_at DESC, r.record_id DESC`, id)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []ledger.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}
