package ledger

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountStore reads and mutates account rows inside an atomic unit.
type AccountStore interface {
	// Get returns ErrNotFound when the account does not exist.
	Get(ctx context.Context, id uuid.UUID) (Account, error)
	// Lock takes write locks on the given accounts, in ascending id order.
	// Missing ids are ignored.
	Lock(ctx context.Context, ids ...uuid.UUID) error
	AdjustBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) (Account, error)
	// Create returns ErrDuplicate when the email is taken.
	Create(ctx context.Context, a Account) (Account, error)
}

// RecordStore holds ledger records. Records are append-only; only their
// status changes after creation.
type RecordStore interface {
	Create(ctx context.Context, r Record) (Record, error)
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	// GetForUpdate is Get plus a write lock on the record.
	GetForUpdate(ctx context.Context, id uuid.UUID) (Record, error)
	// UpdateStatus moves the record to status and stamps UpdatedAt with at.
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, at time.Time) (Record, error)
	// ListByParticipant returns records where id is sender or receiver,
	// newest first.
	ListByParticipant(ctx context.Context, id uuid.UUID) ([]Record, error)
}

// Event is an audit entry appended alongside a state change.
type Event struct {
	Type          string
	AggregateType string
	AggregateID   string
	CorrelationID string
	Payload       any
}

// Tx is the handle an atomic unit of work operates through. It must not be
// retained after the unit returns.
type Tx interface {
	Accounts() AccountStore
	Records() RecordStore
	Audit(ctx context.Context, ev Event) error
}

// Storage runs units of work. RunAtomic commits everything fn did when fn
// returns nil and nothing otherwise; a unit that lost a race with a
// concurrent writer fails with ErrConflict. View runs a read-only unit.
type Storage interface {
	RunAtomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// SortIDs returns ids deduplicated in the global lock order.
func SortIDs(ids ...uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
