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

// Migrator applies the SQL files under a migrations directory. File naming
// follows the golang-migrate convention ({version}_{name}.up.sql with a
// matching .down.sql), and applied versions are tracked in
// public.schema_migrations so reruns are idempotent.
type Migrator struct {
	db  *sql.DB
	dir string
}

func NewMigrator(db *sql.DB, dir string) *Migrator {
	return &Migrator{db: db, dir: dir}
}

// Up applies every up-migration that is not yet recorded, in version order.
// Each file runs in its own transaction together with its bookkeeping row,
// so a failed script leaves no half-applied version behind.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("load applied versions: %w", err)
	}

	files, err := m.scripts(".up.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	for _, name := range files {
		if applied[versionOf(name)] {
			continue
		}
		log.Printf("INFO: applying migration %s", name)
		err := m.runScript(ctx, name, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
				versionOf(name), name,
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

// Down rolls back the most recently applied migration using its .down.sql
// counterpart.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	var version, upFile string
	err := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &upFile)
	if err == sql.ErrNoRows {
		log.Println("INFO: nothing to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("find latest version: %w", err)
	}

	downFile := strings.Replace(upFile, ".up.sql", ".down.sql", 1)
	log.Printf("INFO: rolling back migration %s", downFile)
	err = m.runScript(ctx, downFile, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM public.schema_migrations WHERE version = $1`, version,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("roll back %s: %w", downFile, err)
	}
	return nil
}

// runScript executes one migration file plus its bookkeeping statement in a
// single transaction.
func (m *Migrator) runScript(ctx context.Context, name string, record func(*sql.Tx) error) error {
	body, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		tx.Rollback()
		return err
	}
	if err := record(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

func (m *Migrator) ensureVersionTable(ctx context.Context) error {
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

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// scripts returns the migration filenames with the given suffix, sorted so
// the zero-padded version prefixes run in order.
func (m *Migrator) scripts(suffix string) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// versionOf strips everything after the first underscore:
// "000002_projections.up.sql" -> "000002".
func versionOf(name string) string {
	v, _, _ := strings.Cut(name, "_")
	return v
}
