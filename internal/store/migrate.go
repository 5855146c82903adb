package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationLockKey = 7_216_001

// Migrate applies the embedded migrations in lexical order. A file whose
// checksum is already recorded in schema_migrations is skipped; an edited
// file is re-applied, which is safe because every migration is idempotent.
// Concurrent callers are serialized with a session advisory lock.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, "migrations/"+e.Name())
		}
	}
	sort.Strings(files)

	conn, err := db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return err
	}
	defer conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey)

	_, err = conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(
		name       text PRIMARY KEY,
		checksum   bytea NOT NULL,
		applied_at timestamptz NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return err
	}

	for _, f := range files {
		sqlBytes, err := migrationsFS.ReadFile(f)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(sqlBytes)

		var applied []byte
		err = conn.QueryRow(ctx, `SELECT checksum FROM schema_migrations WHERE name=$1`, f).Scan(&applied)
		switch {
		case err == nil && bytes.Equal(applied, sum[:]):
			continue
		case err != nil && !errors.Is(err, pgx.ErrNoRows):
			return err
		}

		if _, err := conn.Exec(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("migration %s failed: %w", f, err)
		}
		_, err = conn.Exec(ctx,
			`INSERT INTO schema_migrations(name, checksum) VALUES($1,$2)
			 ON CONFLICT (name) DO UPDATE SET checksum=EXCLUDED.checksum, applied_at=now()`,
			f, sum[:])
		if err != nil {
			return err
		}
	}
	return nil
}
