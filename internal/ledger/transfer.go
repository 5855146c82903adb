package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type transferPostedPayload struct {
	TxID     string `json:"tx_id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Amount   string `json:"amount"`
	FromBal  string `json:"from_balance"`
	ToBal    string `json:"to_balance"`
	PostedAt string `json:"posted_at"`
}

// Transfer moves amount from the caller's account to receiverID and
// records a COMPLETED ledger record.
//
// Checks run in a fixed order: amount, self transfer, sender existence,
// sender funds, receiver existence. The last three are evaluated inside
// the atomic unit after both accounts are locked, so the balance check
// always sees the committed balance.
func (e *Engine) Transfer(ctx context.Context, callerID, receiverID uuid.UUID, amount decimal.Decimal) (res Result, err error) {
	start := time.Now()
	defer func() { e.observe(opTransfer, start, err) }()

	if err := ValidateAmount(amount); err != nil {
		return Result{}, err
	}
	if callerID == receiverID {
		return Result{}, ErrSelfTransfer
	}

	corr := correlationID(ctx)

	err = e.atomically(ctx, opTransfer, func(ctx context.Context, tx Tx) error {
		accounts := tx.Accounts()
		if err := accounts.Lock(ctx, callerID, receiverID); err != nil {
			return err
		}

		sender, err := accounts.Get(ctx, callerID)
		if errors.Is(err, ErrNotFound) {
			return ErrSenderNotFound
		}
		if err != nil {
			return err
		}
		if sender.Balance.LessThan(amount) {
			return newInsufficientFunds(sender.Balance, amount)
		}

		receiver, err := accounts.Get(ctx, receiverID)
		if errors.Is(err, ErrNotFound) {
			return ErrReceiverNotFound
		}
		if err != nil {
			return err
		}

		after, err := applyDeltas(ctx, accounts, map[uuid.UUID]decimal.Decimal{
			callerID:   amount.Neg(),
			receiverID: amount,
		})
		if err != nil {
			return err
		}

		now := e.timestamp()
		rec, err := tx.Records().Create(ctx, Record{
			ID:         uuid.New(),
			Amount:     amount,
			SenderID:   callerID,
			ReceiverID: receiverID,
			Status:     StatusCompleted,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err != nil {
			return err
		}
		rec.Sender = sender.Summary()
		rec.Receiver = receiver.Summary()

		res = Result{
			Record:          rec,
			SenderBalance:   after[callerID].Balance,
			ReceiverBalance: after[receiverID].Balance,
		}

		return tx.Audit(ctx, Event{
			Type:          "TRANSFER_POSTED",
			AggregateType: "LEDGER_RECORD",
			AggregateID:   rec.ID.String(),
			CorrelationID: corr,
			Payload: transferPostedPayload{
				TxID:     rec.ID.String(),
				From:     callerID.String(),
				To:       receiverID.String(),
				Amount:   amount.StringFixed(MinorUnitExp),
				FromBal:  res.SenderBalance.StringFixed(MinorUnitExp),
				ToBal:    res.ReceiverBalance.StringFixed(MinorUnitExp),
				PostedAt: now.Format(time.RFC3339Nano),
			},
		})
	})
	if err != nil {
		return Result{}, err
	}

	e.log.Info("transfer committed",
		zap.String("tx_id", res.Record.ID.String()),
		zap.String("from", callerID.String()),
		zap.String("to", receiverID.String()),
		zap.String("amount", amount.StringFixed(MinorUnitExp)),
		zap.String("correlation_id", corr),
	)
	return res, nil
}
