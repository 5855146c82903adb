// Package domain holds the wire shapes of the HTTP API. Requests are
// decoded strictly and validated here before any engine call.
package domain

import (
	"errors"
	"strings"
	"time"

	"funds-ledger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrMissingField = errors.New("missing required field")

// CreateAccountRequest is the body of POST /v1/accounts. The opening
// balance is not caller controlled.
type CreateAccountRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

func (r CreateAccountRequest) Validate() error {
	if r.Name == nil || strings.TrimSpace(*r.Name) == "" {
		return fieldErr("name")
	}
	if r.Email == nil || strings.TrimSpace(*r.Email) == "" {
		return fieldErr("email")
	}
	return nil
}

// TransferRequest is the body of POST /v1/transactions/transfer. The
// sender is always the authenticated caller.
type TransferRequest struct {
	ReceiverID *uuid.UUID       `json:"receiver_id"`
	Amount     *decimal.Decimal `json:"amount"`
}

func (r TransferRequest) Validate() error {
	if r.ReceiverID == nil || *r.ReceiverID == uuid.Nil {
		return fieldErr("receiver_id")
	}
	if r.Amount == nil {
		return fieldErr("amount")
	}
	return nil
}

type ReverseRequest struct {
	TransactionID *uuid.UUID `json:"transaction_id"`
}

func (r ReverseRequest) Validate() error {
	if r.TransactionID == nil || *r.TransactionID == uuid.Nil {
		return fieldErr("transaction_id")
	}
	return nil
}

type fieldError struct{ field string }

func (e fieldError) Error() string        { return ErrMissingField.Error() + ": " + e.field }
func (e fieldError) Is(target error) bool { return target == ErrMissingField }

func fieldErr(field string) error { return fieldError{field: field} }

func money(d decimal.Decimal) string { return d.StringFixed(ledger.MinorUnitExp) }

type AccountResponse struct {
	AccountID uuid.UUID `json:"account_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Balance   string    `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

func NewAccountResponse(a ledger.Account) AccountResponse {
	return AccountResponse{
		AccountID: a.ID,
		Name:      a.Name,
		Email:     a.Email,
		Balance:   money(a.Balance),
		CreatedAt: a.CreatedAt,
	}
}

type BalanceResponse struct {
	AccountID uuid.UUID `json:"account_id"`
	Balance   string    `json:"balance"`
}

type Party struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

type Transaction struct {
	ID         uuid.UUID `json:"id"`
	Amount     string    `json:"amount"`
	SenderID   uuid.UUID `json:"sender_id"`
	ReceiverID uuid.UUID `json:"receiver_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Sender     Party     `json:"sender"`
	Receiver   Party     `json:"receiver"`
}

func NewTransaction(r ledger.Record) Transaction {
	return Transaction{
		ID:         r.ID,
		Amount:     money(r.Amount),
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		Status:     string(r.Status),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		Sender:     Party(r.Sender),
		Receiver:   Party(r.Receiver),
	}
}

// TransactionResponse answers transfer and reverse calls.
type TransactionResponse struct {
	Transaction
	SenderBalance   string `json:"sender_balance"`
	ReceiverBalance string `json:"receiver_balance"`
}

func NewTransactionResponse(res ledger.Result) TransactionResponse {
	return TransactionResponse{
		Transaction:     NewTransaction(res.Record),
		SenderBalance:   money(res.SenderBalance),
		ReceiverBalance: money(res.ReceiverBalance),
	}
}

type HistoryResponse struct {
	Transactions []Transaction `json:"transactions"`
}

func NewHistoryResponse(recs []ledger.Record) HistoryResponse {
	out := HistoryResponse{Transactions: make([]Transaction, 0, len(recs))}
	for _, r := range recs {
		out.Transactions = append(out.Transactions, NewTransaction(r))
	}
	return out
}

// ErrorBody is the payload of every non-2xx response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Balance   string `json:"current_balance,omitempty"`
	Required  string `json:"required_amount,omitempty"`
	Shortfall string `json:"missing_amount,omitempty"`
}
