package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Migrator applies the SQL files that build the instruction_log and
// projections schemas. Files follow the {version}_{name}.up.sql /
// {version}_{name}.down.sql convention and run in version order, each
// inside its own transaction together with its bookkeeping row.
type Migrator struct {
	db  *sql.DB
	dir string
}

func NewMigrator(db *sql.DB, dir string) *Migrator {
	return &Migrator{db: db, dir: dir}
}

// Up applies every up-migration not yet recorded in schema_migrations.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureBookkeeping(ctx); err != nil {
		return fmt.Errorf("migrator bookkeeping: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("load applied versions: %w", err)
	}

	files, err := m.sortedFiles(".up.sql")
	if err != nil {
		return fmt.Errorf("scan migration dir: %w", err)
	}

	for _, name := range files {
		v := versionOf(name)
		if applied[v] {
			continue
		}
		log.Printf("INFO: migrating schema: %s", name)
		if err := m.runFile(ctx, name, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
				v, name)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

// Down rolls back only the most recently applied migration. Older ones
// need repeated invocations; the ledger schemas are never dropped wholesale.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureBookkeeping(ctx); err != nil {
		return err
	}

	var v, upName string
	err := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&v, &upName)
	if err == sql.ErrNoRows {
		log.Println("INFO: schema is at baseline, nothing to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("find latest applied migration: %w", err)
	}

	downName := strings.Replace(upName, ".up.sql", ".down.sql", 1)
	if err := m.runFile(ctx, downName, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM public.schema_migrations WHERE version = $1`, v)
		return err
	}); err != nil {
		return err
	}
	log.Printf("INFO: rolled back schema migration: %s", downName)
	return nil
}

// runFile executes one migration file plus its bookkeeping statement in a
// single transaction, so a half-applied file never leaves a recorded version.
func (m *Migrator) runFile(ctx context.Context, name string, record func(*sql.Tx) error) error {
	body, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		tx.Rollback()
		return fmt.Errorf("apply %s: %w", name, err)
	}
	if err := record(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("record %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}

func (m *Migrator) ensureBookkeeping(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		seen[v] = true
	}
	return seen, rows.Err()
}

func (m *Migrator) sortedFiles(suffix string) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// versionOf strips everything after the first underscore, so
// "000002_projections.up.sql" keys as "000002".
func versionOf(name string) string {
	if i := strings.IndexByte(name, '_'); i >= 0 {
		return name[:i]
	}
	return name
}
