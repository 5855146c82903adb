package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type transferReversedPayload struct {
	TxID        string `json:"tx_id"`
	ReversedBy  string `json:"reversed_by"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	FromBal     string `json:"from_balance"`
	ToBal       string `json:"to_balance"`
	ReversedAt  string `json:"reversed_at"`
	ToOverdrawn bool   `json:"to_overdrawn"`
}

// Reverse undoes a COMPLETED transfer: the original sender is credited, the
// original receiver debited by the same amount, and the record is marked
// REVERSED. Only a party to the record may reverse it, and only once.
//
// The receiver is debited even if that takes the balance below zero,
// unless the engine was built WithReceiverOverdraftGuard.
func (e *Engine) Reverse(ctx context.Context, callerID, recordID uuid.UUID) (res Result, err error) {
	start := time.Now()
	defer func() { e.observe(opReverse, start, err) }()

	corr := correlationID(ctx)

	err = e.atomically(ctx, opReverse, func(ctx context.Context, tx Tx) error {
		records := tx.Records()

		rec, err := records.GetForUpdate(ctx, recordID)
		if errors.Is(err, ErrNotFound) {
			return ErrTransactionNotFound
		}
		if err != nil {
			return err
		}
		if !rec.Involves(callerID) {
			return ErrNotAuthorized
		}
		switch rec.Status {
		case StatusReversed:
			return ErrAlreadyReversed
		case StatusFailed:
			return ErrCannotReverseFailed
		}

		accounts := tx.Accounts()
		if err := accounts.Lock(ctx, rec.SenderID, rec.ReceiverID); err != nil {
			return err
		}

		if e.overdraftGuard {
			receiver, err := accounts.Get(ctx, rec.ReceiverID)
			if err != nil {
				return err
			}
			if receiver.Balance.LessThan(rec.Amount) {
				return newInsufficientFunds(receiver.Balance, rec.Amount)
			}
		}

		after, err := applyDeltas(ctx, accounts, map[uuid.UUID]decimal.Decimal{
			rec.SenderID:   rec.Amount,
			rec.ReceiverID: rec.Amount.Neg(),
		})
		if err != nil {
			return err
		}

		updated, err := records.UpdateStatus(ctx, rec.ID, StatusReversed, e.timestamp())
		if err != nil {
			return err
		}
		updated.Sender = after[rec.SenderID].Summary()
		updated.Receiver = after[rec.ReceiverID].Summary()

		res = Result{
			Record:          updated,
			SenderBalance:   after[rec.SenderID].Balance,
			ReceiverBalance: after[rec.ReceiverID].Balance,
		}

		return tx.Audit(ctx, Event{
			Type:          "TRANSFER_REVERSED",
			AggregateType: "LEDGER_RECORD",
			AggregateID:   rec.ID.String(),
			CorrelationID: corr,
			Payload: transferReversedPayload{
				TxID:        rec.ID.String(),
				ReversedBy:  callerID.String(),
				From:        rec.SenderID.String(),
				To:          rec.ReceiverID.String(),
				Amount:      rec.Amount.StringFixed(MinorUnitExp),
				FromBal:     res.SenderBalance.StringFixed(MinorUnitExp),
				ToBal:       res.ReceiverBalance.StringFixed(MinorUnitExp),
				ReversedAt:  updated.UpdatedAt.UTC().Format(time.RFC3339Nano),
				ToOverdrawn: res.ReceiverBalance.IsNegative(),
			},
		})
	})
	if err != nil {
		return Result{}, err
	}

	fields := []zap.Field{
		zap.String("tx_id", recordID.String()),
		zap.String("reversed_by", callerID.String()),
		zap.String("amount", res.Record.Amount.StringFixed(MinorUnitExp)),
		zap.String("correlation_id", corr),
	}
	if res.ReceiverBalance.IsNegative() {
		e.log.Warn("reversal left receiver with a negative balance",
			append(fields,
				zap.String("receiver_id", res.Record.ReceiverID.String()),
				zap.String("receiver_balance", res.ReceiverBalance.StringFixed(MinorUnitExp)),
			)...)
	}
	e.log.Info("reversal committed", fields...)
	return res, nil
}
