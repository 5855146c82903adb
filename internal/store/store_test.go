package store_test

import (
	"context"
	"encoding/hex"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"funds-ledger/internal/ledger"
	"funds-ledger/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPool connects to LEDGER_DB_DSN and applies migrations. Tests are
// skipped when the variable is unset.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("LEDGER_DB_DSN"))
	if dsn == "" {
		t.Skip("LEDGER_DB_DSN not set")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.MaxConns = 20
	cfg.MinConns = 1

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx))

	require.NoError(t, store.Migrate(ctx, pool))
	return pool
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openAccount(t *testing.T, eng *ledger.Engine, name, balance string) ledger.Account {
	t.Helper()
	acc, err := eng.OpenAccount(context.Background(), name, name+"-"+uuid.NewString()+"@example.com", dec(balance))
	require.NoError(t, err)
	return acc
}

func TestMigrateIsRepeatable(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx, pool))

	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM schema_migrations`).Scan(&n))
	assert.GreaterOrEqual(t, n, 1)
}

func TestTransferReverseRoundTrip(t *testing.T) {
	pool := testPool(t)
	eng := ledger.NewEngine(store.New(pool))
	ctx := ledger.WithCorrelationID(context.Background(), "it-"+uuid.NewString())

	s := openAccount(t, eng, "sender", "100.00")
	r := openAccount(t, eng, "receiver", "0")

	tr, err := eng.Transfer(ctx, s.ID, r.ID, dec("30.25"))
	require.NoError(t, err)
	assert.True(t, tr.SenderBalance.Equal(dec("69.75")))
	assert.Equal(t, s.Name, tr.Record.Sender.Name)

	got, err := eng.ListTransactions(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, tr.Record.ID, got[0].ID)
	assert.True(t, got[0].Amount.Equal(dec("30.25")))
	assert.Equal(t, s.Email, got[0].Sender.Email)
	assert.WithinDuration(t, tr.Record.CreatedAt, got[0].CreatedAt, time.Microsecond)

	_, err = eng.Transfer(ctx, s.ID, r.ID, dec("1000"))
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	rev, err := eng.Reverse(ctx, r.ID, tr.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusReversed, rev.Record.Status)
	assert.True(t, rev.SenderBalance.Equal(dec("100")))
	assert.True(t, rev.ReceiverBalance.Equal(dec("0")))

	_, err = eng.Reverse(ctx, s.ID, tr.Record.ID)
	assert.ErrorIs(t, err, ledger.ErrAlreadyReversed)

	acc, err := eng.Balance(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(dec("100")))
}

func TestDuplicateEmailMapsToAccountExists(t *testing.T) {
	pool := testPool(t)
	eng := ledger.NewEngine(store.New(pool))
	ctx := context.Background()
	email := "dup-" + uuid.NewString() + "@example.com"

	_, err := eng.OpenAccount(ctx, "a", email, decimal.Zero)
	require.NoError(t, err)
	_, err = eng.OpenAccount(ctx, "b", strings.ToUpper(email), decimal.Zero)
	assert.ErrorIs(t, err, ledger.ErrAccountExists)
}

func decodeHash(t *testing.T, s string) [32]byte {
	t.Helper()
	var out [32]byte
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	require.Len(t, b, 32)
	copy(out[:], b)
	return out
}

func TestEventLogChainLinks(t *testing.T) {
	pool := testPool(t)
	st := store.New(pool)
	eng := ledger.NewEngine(st)
	corr := "it-" + uuid.NewString()
	ctx := ledger.WithCorrelationID(context.Background(), corr)

	s := openAccount(t, eng, "s", "10")
	r := openAccount(t, eng, "r", "0")
	tr, err := eng.Transfer(ctx, s.ID, r.ID, dec("2"))
	require.NoError(t, err)
	_, err = eng.Reverse(ctx, s.ID, tr.Record.ID)
	require.NoError(t, err)

	// Disjoint writers append to the same chain concurrently.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		from := openAccount(t, eng, "cs", "5")
		to := openAccount(t, eng, "cr", "0")
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Transfer(ctx, from.ID, to.ID, dec("1"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rows, err := pool.Query(ctx,
		`SELECT seq, event_type, payload_canonical, payload_hash_hex, prev_hash_hex, hash_hex
		   FROM event_log_proof_export_v`)
	require.NoError(t, err)
	defer rows.Close()

	var seq int64
	prev := store.GenesisHash
	types := map[string]int{}
	for rows.Next() {
		var (
			n                                 int64
			typ, canon, payHex, prevHex, hHex string
		)
		require.NoError(t, rows.Scan(&n, &typ, &canon, &payHex, &prevHex, &hHex))
		seq++
		require.Equal(t, seq, n, "seq must be contiguous")

		payload := decodeHash(t, payHex)
		require.Equal(t, store.PayloadHash(canon), payload, "seq %d", n)
		require.Equal(t, prev, decodeHash(t, prevHex), "seq %d", n)
		require.Equal(t, store.ChainHash(prev, payload), decodeHash(t, hHex), "seq %d", n)
		prev = decodeHash(t, hHex)

		if strings.Contains(canon, tr.Record.ID.String()) {
			types[typ]++
		}
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, map[string]int{"TRANSFER_POSTED": 1, "TRANSFER_REVERSED": 1}, types)

	headSeq, head, err := st.ChainHead(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, headSeq, seq)
	if headSeq == seq {
		assert.Equal(t, prev, head)
	}
}

func TestBalanceOverflowIsInvalidAmount(t *testing.T) {
	pool := testPool(t)
	eng := ledger.NewEngine(store.New(pool))
	ctx := context.Background()

	s := openAccount(t, eng, "s", "10")
	r := openAccount(t, eng, "r", ledger.MaxAmount.String())

	_, err := eng.Transfer(ctx, s.ID, r.ID, dec("0.01"))
	assert.Equal(t, ledger.CodeInvalidAmount, ledger.CodeOf(err))

	acc, err := eng.Balance(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(dec("10")))
}

func TestLedgerRecordsAreGuarded(t *testing.T) {
	pool := testPool(t)
	eng := ledger.NewEngine(store.New(pool))
	ctx := context.Background()

	s := openAccount(t, eng, "s", "10")
	r := openAccount(t, eng, "r", "0")
	tr, err := eng.Transfer(ctx, s.ID, r.ID, dec("5"))
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `UPDATE ledger_records SET amount = 1 WHERE record_id = $1`, tr.Record.ID)
	assert.Error(t, err)
	_, err = pool.Exec(ctx, `DELETE FROM ledger_records WHERE record_id = $1`, tr.Record.ID)
	assert.Error(t, err)
	_, err = pool.Exec(ctx, `UPDATE ledger_records SET status = 'FAILED' WHERE record_id = $1`, tr.Record.ID)
	assert.Error(t, err)
	_, err = pool.Exec(ctx, `DELETE FROM event_log WHERE aggregate_id = $1`, tr.Record.ID.String())
	assert.Error(t, err)
}
