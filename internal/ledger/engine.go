// Package ledger moves funds between accounts and reverses completed
// transfers. Every operation runs as one atomic unit against a Storage and
// either commits entirely or leaves no trace.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	opTransfer    = "transfer"
	opReverse     = "reverse"
	opHistory     = "history"
	opOpenAccount = "open_account"
	opBalance     = "balance"
)

const (
	defaultMaxRetries   = 5
	defaultRetryBackoff = 5 * time.Millisecond
	maxRetryBackoff     = 250 * time.Millisecond
)

// Observer receives the outcome of every engine call. code is empty on
// success.
type Observer interface {
	Observe(op string, code Code, elapsed time.Duration)
	Retried(op string)
}

type nopObserver struct{}

func (nopObserver) Observe(string, Code, time.Duration) {}
func (nopObserver) Retried(string)                      {}

// Engine is safe for concurrent use; it holds no per-call state.
type Engine struct {
	store          Storage
	log            *zap.Logger
	obs            Observer
	now            func() time.Time
	maxRetries     int
	retryBackoff   time.Duration
	overdraftGuard bool
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.obs = o
		}
	}
}

// WithClock overrides the source of record timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMaxRetries bounds how many times a unit that hit a write conflict is
// re-run before CONFLICT is returned. Zero disables retries.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

func WithRetryBackoff(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryBackoff = d
		}
	}
}

// WithReceiverOverdraftGuard makes Reverse refuse with INSUFFICIENT_FUNDS
// when the original receiver no longer holds the amount. Off by default:
// a reversal restores the sender unconditionally.
func WithReceiverOverdraftGuard(on bool) Option {
	return func(e *Engine) { e.overdraftGuard = on }
}

func NewEngine(store Storage, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		log:          zap.NewNop(),
		obs:          nopObserver{},
		now:          time.Now,
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type correlationKey struct{}

// WithCorrelationID tags ctx so audit events written by the engine can be
// tied back to the originating request.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey{}).(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return uuid.NewString()
}

// timestamp returns the current time at the precision Postgres stores.
func (e *Engine) timestamp() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

func (e *Engine) observe(op string, start time.Time, err error) {
	var code Code
	if err != nil {
		code = CodeOf(err)
	}
	e.obs.Observe(op, code, time.Since(start))
}

// atomically runs fn in a write unit, re-running it on ErrConflict with
// exponential backoff until maxRetries is exhausted. Every other failure is
// returned at once.
func (e *Engine) atomically(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.retryBackoff
	bo.MaxInterval = maxRetryBackoff
	bo.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := e.store.RunAtomic(ctx, fn)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrConflict):
			if attempt <= e.maxRetries {
				e.obs.Retried(op)
				e.log.Debug("write conflict, retrying",
					zap.String("op", op), zap.Int("attempt", attempt))
			}
			return err
		default:
			return backoff.Permanent(err)
		}
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(e.maxRetries)), ctx))

	return storageFailure(err)
}

// applyDeltas adjusts balances in lock order and returns the resulting rows.
func applyDeltas(ctx context.Context, accounts AccountStore, deltas map[uuid.UUID]decimal.Decimal) (map[uuid.UUID]Account, error) {
	ids := make([]uuid.UUID, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	out := make(map[uuid.UUID]Account, len(deltas))
	for _, id := range SortIDs(ids...) {
		acc, err := accounts.AdjustBalance(ctx, id, deltas[id])
		if err != nil {
			return nil, err
		}
		if acc.Balance.Abs().GreaterThan(MaxAmount) {
			return nil, ErrBalanceOutOfRange
		}
		out[id] = acc
	}
	return out, nil
}
