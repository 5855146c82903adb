package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LEDGER_JWT_SECRET", "s3cret")
	t.Setenv("LEDGER_STORAGE", "")
	t.Setenv("LEDGER_HTTP_ADDR", "")
	t.Setenv("LEDGER_CONFLICT_RETRIES", "")
	t.Setenv("LEDGER_REQUEST_TIMEOUT_MS", "")
	t.Setenv("LEDGER_REVERSAL_OVERDRAFT_GUARD", "")
	t.Setenv("LEDGER_RATE_LIMIT_RPS", "")
	t.Setenv("LEDGER_SIGNUP_BALANCE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.RateLimitRPS)
	assert.Equal(t, "200.00", cfg.SignupBalance.StringFixed(2))
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5, cfg.ConflictRetries)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.False(t, cfg.OverdraftGuard)
	assert.GreaterOrEqual(t, cfg.DBMaxConns, 4)
	assert.LessOrEqual(t, cfg.DBMaxConns, 50)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LEDGER_JWT_SECRET", "s3cret")
	t.Setenv("LEDGER_ENV", "local")
	t.Setenv("LEDGER_STORAGE", "Memory")
	t.Setenv("LEDGER_CONFLICT_RETRIES", "9")
	t.Setenv("LEDGER_HTTP_MAX_INFLIGHT", "not-a-number")
	t.Setenv("LEDGER_REVERSAL_OVERDRAFT_GUARD", "1")
	t.Setenv("LEDGER_RATE_LIMIT_RPS", "2.5")
	t.Setenv("LEDGER_RATE_LIMIT_BURST", "4")
	t.Setenv("LEDGER_SIGNUP_BALANCE", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.SignupBalance.IsZero())
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, 4, cfg.RateLimitBurst)
	assert.True(t, cfg.Development())
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, 9, cfg.ConflictRetries)
	assert.Equal(t, 64, cfg.HTTPMaxInflight)
	assert.True(t, cfg.OverdraftGuard)
}

func TestLoadRejects(t *testing.T) {
	t.Setenv("LEDGER_JWT_SECRET", "")
	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingSecret)

	t.Setenv("LEDGER_JWT_SECRET", "s3cret")
	t.Setenv("LEDGER_STORAGE", "sqlite")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("LEDGER_STORAGE", "memory")
	for _, bad := range []string{"-1", "1.005", "lots"} {
		t.Setenv("LEDGER_SIGNUP_BALANCE", bad)
		_, err = Load()
		assert.ErrorContains(t, err, "LEDGER_SIGNUP_BALANCE", bad)
	}
}

func TestConflictRetriesAcceptsZero(t *testing.T) {
	t.Setenv("LEDGER_JWT_SECRET", "s3cret")
	t.Setenv("LEDGER_SIGNUP_BALANCE", "")

	t.Setenv("LEDGER_CONFLICT_RETRIES", "0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.ConflictRetries)

	t.Setenv("LEDGER_CONFLICT_RETRIES", "-3")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.ConflictRetries)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 4, clamp(1, 4, 50))
	assert.Equal(t, 50, clamp(99, 4, 50))
	assert.Equal(t, 10, clamp(10, 4, 50))
}
