package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a ledger record.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusReversed  Status = "REVERSED"
	StatusFailed    Status = "FAILED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusCompleted, StatusReversed, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether a record in status s may move to next.
// The only legal move is COMPLETED -> REVERSED.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusCompleted && next == StatusReversed
}

// Account is the balance-holding party of a transfer.
type Account struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (a Account) Summary() AccountSummary {
	return AccountSummary{ID: a.ID, Name: a.Name, Email: a.Email}
}

// AccountSummary is the identity slice of an account embedded in records.
type AccountSummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// Record is a single funds movement between two accounts.
type Record struct {
	ID         uuid.UUID       `json:"id"`
	Amount     decimal.Decimal `json:"amount"`
	SenderID   uuid.UUID       `json:"sender_id"`
	ReceiverID uuid.UUID       `json:"receiver_id"`
	Status     Status          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`

	Sender   AccountSummary `json:"sender"`
	Receiver AccountSummary `json:"receiver"`
}

// Involves reports whether id is the sender or the receiver of r.
func (r Record) Involves(id uuid.UUID) bool {
	return r.SenderID == id || r.ReceiverID == id
}

// Result is what Transfer and Reverse hand back to callers.
type Result struct {
	Record          Record          `json:"transaction"`
	SenderBalance   decimal.Decimal `json:"sender_balance"`
	ReceiverBalance decimal.Decimal `json:"receiver_balance"`
}
