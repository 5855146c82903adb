package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"funds-ledger/internal/ledger"
	"funds-ledger/internal/store/memstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flaky fails the first n write units with err before delegating.
type flaky struct {
	*memstore.Store
	n     int64
	err   error
	calls atomic.Int64
}

func (f *flaky) RunAtomic(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	if f.calls.Add(1) <= f.n {
		return f.err
	}
	return f.Store.RunAtomic(ctx, fn)
}

type recordingObserver struct {
	codes   []ledger.Code
	retries int
}

func (r *recordingObserver) Observe(_ string, code ledger.Code, _ time.Duration) {
	r.codes = append(r.codes, code)
}

func (r *recordingObserver) Retried(string) { r.retries++ }

func seeded(t *testing.T) (*memstore.Store, ledger.Account, ledger.Account) {
	t.Helper()
	st := memstore.New()
	eng := ledger.NewEngine(st)
	s, err := eng.OpenAccount(context.Background(), "s", "s@example.com", dec("50"))
	require.NoError(t, err)
	r, err := eng.OpenAccount(context.Background(), "r", "r@example.com", dec("0"))
	require.NoError(t, err)
	return st, s, r
}

func TestConflictIsRetried(t *testing.T) {
	st, s, r := seeded(t)
	fl := &flaky{Store: st, n: 3, err: fmt.Errorf("serialization: %w", ledger.ErrConflict)}
	obs := &recordingObserver{}
	eng := ledger.NewEngine(fl,
		ledger.WithMaxRetries(5),
		ledger.WithRetryBackoff(time.Millisecond),
		ledger.WithObserver(obs),
	)

	res, err := eng.Transfer(context.Background(), s.ID, r.ID, dec("20"))
	require.NoError(t, err)
	assert.True(t, res.SenderBalance.Equal(dec("30")))
	assert.EqualValues(t, 4, fl.calls.Load())
	assert.Equal(t, 3, obs.retries)
	assert.Equal(t, []ledger.Code{""}, obs.codes)
}

func TestConflictExhaustsRetries(t *testing.T) {
	st, s, r := seeded(t)
	fl := &flaky{Store: st, n: 100, err: ledger.ErrConflict}
	eng := ledger.NewEngine(fl, ledger.WithMaxRetries(2), ledger.WithRetryBackoff(time.Millisecond))

	_, err := eng.Transfer(context.Background(), s.ID, r.ID, dec("20"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrWriteConflict)
	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.Equal(t, ledger.KindConflict, ledger.CodeOf(err).Kind())
	assert.EqualValues(t, 3, fl.calls.Load())
	assert.True(t, st.TotalBalance().Equal(dec("50")))
}

func TestZeroRetriesFailsFast(t *testing.T) {
	st, s, r := seeded(t)
	fl := &flaky{Store: st, n: 1, err: ledger.ErrConflict}
	eng := ledger.NewEngine(fl, ledger.WithMaxRetries(0))

	_, err := eng.Transfer(context.Background(), s.ID, r.ID, dec("20"))
	assert.ErrorIs(t, err, ledger.ErrWriteConflict)
	assert.EqualValues(t, 1, fl.calls.Load())
}

func TestInfrastructureFailureIsNotRetried(t *testing.T) {
	st, s, r := seeded(t)
	fl := &flaky{Store: st, n: 100, err: errors.New("dial tcp 10.0.0.1:5432: connection refused")}
	eng := ledger.NewEngine(fl, ledger.WithRetryBackoff(time.Millisecond))

	_, err := eng.Reverse(context.Background(), s.ID, uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrStorageUnavailable)
	assert.Equal(t, ledger.CodeStorageUnavailable, ledger.CodeOf(err))
	assert.NotContains(t, ledger.MessageOf(err), "connection refused")
	assert.Contains(t, err.Error(), "STORAGE_UNAVAILABLE")
	assert.EqualValues(t, 1, fl.calls.Load())

	_, err = eng.Transfer(context.Background(), s.ID, r.ID, dec("1"))
	assert.ErrorIs(t, err, ledger.ErrStorageUnavailable)
	assert.EqualValues(t, 2, fl.calls.Load())
}

func TestCanceledContextStopsRetrying(t *testing.T) {
	st, s, r := seeded(t)
	fl := &flaky{Store: st, n: 100, err: ledger.ErrConflict}
	eng := ledger.NewEngine(fl, ledger.WithMaxRetries(1000), ledger.WithRetryBackoff(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := eng.Transfer(ctx, s.ID, r.ID, dec("1"))
	require.Error(t, err)
	assert.Less(t, fl.calls.Load(), int64(100))
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", ledger.ErrAlreadyReversed)
	assert.ErrorIs(t, err, ledger.ErrAlreadyReversed)
	assert.NotErrorIs(t, err, ledger.ErrNotAuthorized)
	assert.Equal(t, ledger.CodeAlreadyReversed, ledger.CodeOf(err))
	assert.Equal(t, ledger.KindPolicy, ledger.CodeOf(err).Kind())

	assert.Equal(t, ledger.CodeStorageUnavailable, ledger.CodeOf(errors.New("boom")))
	assert.Equal(t, ledger.ErrStorageUnavailable.Message, ledger.MessageOf(errors.New("boom")))
	assert.Equal(t, ledger.KindInfrastructure, ledger.Code("UNKNOWN").Kind())

	kinds := map[ledger.Code]ledger.Kind{
		ledger.CodeInvalidAmount:       ledger.KindValidation,
		ledger.CodeSelfTransfer:        ledger.KindValidation,
		ledger.CodeSenderNotFound:      ledger.KindNotFound,
		ledger.CodeReceiverNotFound:    ledger.KindNotFound,
		ledger.CodeTransactionNotFound: ledger.KindNotFound,
		ledger.CodeInsufficientFunds:   ledger.KindPolicy,
		ledger.CodeCannotReverseFailed: ledger.KindPolicy,
		ledger.CodeConflict:            ledger.KindConflict,
	}
	for code, want := range kinds {
		assert.Equal(t, want, code.Kind(), code)
	}
}

func TestValidateAmount(t *testing.T) {
	for _, ok := range []string{"0.01", "1", "10.5", "999999999.99", "999999999999999999.99"} {
		assert.NoError(t, ledger.ValidateAmount(dec(ok)), ok)
	}
	for _, bad := range []string{"0", "-0.01", "0.001", "1.999", "1000000000000000000", "1e30"} {
		assert.ErrorIs(t, ledger.ValidateAmount(dec(bad)), ledger.ErrInvalidAmount, bad)
	}
}

func TestSortIDs(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("00000000-0000-0000-0000-0000000000ff")
	c := uuid.MustParse("ff000000-0000-0000-0000-000000000000")

	assert.Equal(t, []uuid.UUID{a, b, c}, ledger.SortIDs(c, a, b, a))
	assert.Empty(t, ledger.SortIDs())
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, ledger.StatusCompleted.CanTransitionTo(ledger.StatusReversed))
	assert.False(t, ledger.StatusReversed.CanTransitionTo(ledger.StatusCompleted))
	assert.False(t, ledger.StatusFailed.CanTransitionTo(ledger.StatusReversed))
	assert.False(t, ledger.StatusCompleted.CanTransitionTo(ledger.StatusFailed))
	assert.False(t, ledger.Status("PENDING").Valid())
}
