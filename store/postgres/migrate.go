package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// schemaLockKey serializes Migrate across engine instances starting
// against the same database.
const schemaLockKey = "statutory:schema"

type migration struct {
	version int
	name    string
	sql     string
}

// loadMigrations reads NNNN_name.sql files from fsys in version order.
// Versions must be unique and start at 1 with no holes, so a schema
// version number alone says which files have run.
func loadMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("postgres: read migrations: %w", err)
	}

	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		prefix, name, ok := strings.Cut(strings.TrimSuffix(e.Name(), ".sql"), "_")
		if !ok {
			return nil, fmt.Errorf("postgres: migration %s: want NNNN_name.sql", e.Name())
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("postgres: migration %s: bad version %q", e.Name(), prefix)
		}
		body, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("postgres: migration %s: %w", e.Name(), err)
		}
		out = append(out, migration{version: version, name: name, sql: string(body)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	for i, m := range out {
		if m.version != i+1 {
			return nil, fmt.Errorf("postgres: migration %04d_%s: expected version %d", m.version, m.name, i+1)
		}
	}
	return out, nil
}

// Migrate brings the schema up to the newest embedded version. Pending
// migrations run in one transaction under an advisory lock: either the
// schema reaches the latest version or it is left untouched.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	pending, err := loadMigrations(migrationFiles, "migrations")
	if err != nil {
		return err
	}

	return pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", schemaLockKey); err != nil {
			return fmt.Errorf("postgres: lock schema: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS statutory_schema_versions (
				version    INTEGER PRIMARY KEY,
				name       TEXT NOT NULL,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`); err != nil {
			return fmt.Errorf("postgres: create version table: %w", err)
		}

		current, err := schemaVersion(ctx, tx)
		if err != nil {
			return err
		}
		if current > len(pending) {
			return fmt.Errorf("postgres: schema version %d is newer than this build (%d)", current, len(pending))
		}

		for _, m := range pending[current:] {
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return fmt.Errorf("postgres: migration %04d_%s: %w", m.version, m.name, err)
			}
			if _, err := tx.Exec(ctx,
				"INSERT INTO statutory_schema_versions (version, name) VALUES ($1, $2)", m.version, m.name); err != nil {
				return fmt.Errorf("postgres: record migration %04d_%s: %w", m.version, m.name, err)
			}
		}
		return nil
	})
}

// SchemaVersion reports the newest applied migration, 0 on an empty database.
func SchemaVersion(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	return schemaVersion(ctx, pool)
}

func schemaVersion(ctx context.Context, q querier) (int, error) {
	var exists bool
	if err := q.QueryRow(ctx,
		"SELECT to_regclass('statutory_schema_versions') IS NOT NULL").Scan(&exists); err != nil {
		return 0, fmt.Errorf("postgres: schema version: %w", err)
	}
	if !exists {
		return 0, nil
	}
	var v int
	if err := q.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM statutory_schema_versions").Scan(&v); err != nil {
		return 0, fmt.Errorf("postgres: schema version: %w", err)
	}
	return v, nil
}
