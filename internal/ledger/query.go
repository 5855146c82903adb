package ledger

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ListTransactions returns every record accountID took part in, newest
// first. An unknown account simply has no history.
func (e *Engine) ListTransactions(ctx context.Context, accountID uuid.UUID) (out []Record, err error) {
	start := time.Now()
	defer func() { e.observe(opHistory, start, err) }()

	err = e.store.View(ctx, func(ctx context.Context, tx Tx) error {
		recs, err := tx.Records().ListByParticipant(ctx, accountID)
		if err != nil {
			return err
		}
		out = recs
		return nil
	})
	if err != nil {
		return nil, storageFailure(err)
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

// Balance returns the account with its current balance.
func (e *Engine) Balance(ctx context.Context, accountID uuid.UUID) (acc Account, err error) {
	start := time.Now()
	defer func() { e.observe(opBalance, start, err) }()

	err = e.store.View(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.Accounts().Get(ctx, accountID)
		if errors.Is(err, ErrNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		acc = a
		return nil
	})
	if err != nil {
		return Account{}, storageFailure(err)
	}
	return acc, nil
}

type accountOpenedPayload struct {
	AccountID      string `json:"account_id"`
	Name           string `json:"name"`
	OpeningBalance string `json:"opening_balance"`
}

// OpenAccount provisions an account with an opening balance.
func (e *Engine) OpenAccount(ctx context.Context, name, email string, opening decimal.Decimal) (acc Account, err error) {
	start := time.Now()
	defer func() { e.observe(opOpenAccount, start, err) }()

	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return Account{}, newError(CodeInvalidAccount, "name is required")
	}
	addr, perr := mail.ParseAddress(email)
	if perr != nil || addr.Name != "" || addr.Address != email {
		return Account{}, newError(CodeInvalidAccount, "a valid email is required")
	}
	email = addr.Address
	if err := validateOpeningBalance(opening); err != nil {
		return Account{}, err
	}

	corr := correlationID(ctx)

	err = e.atomically(ctx, opOpenAccount, func(ctx context.Context, tx Tx) error {
		now := e.timestamp()
		a, err := tx.Accounts().Create(ctx, Account{
			ID:        uuid.New(),
			Name:      name,
			Email:     email,
			Balance:   opening,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if errors.Is(err, ErrDuplicate) {
			return ErrAccountExists
		}
		if err != nil {
			return err
		}
		acc = a
		return tx.Audit(ctx, Event{
			Type:          "ACCOUNT_OPENED",
			AggregateType: "ACCOUNT",
			AggregateID:   a.ID.String(),
			CorrelationID: corr,
			Payload: accountOpenedPayload{
				AccountID:      a.ID.String(),
				Name:           a.Name,
				OpeningBalance: opening.StringFixed(MinorUnitExp),
			},
		})
	})
	if err != nil {
		return Account{}, err
	}

	e.log.Info("account opened", zap.String("account_id", acc.ID.String()), zap.String("correlation_id", corr))
	return acc, nil
}
