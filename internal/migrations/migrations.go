// Package migrations applies the embedded SQL schema and tracks applied
// versions in schema_migrations.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"time"
)

//go:embed sql/*.sql
var files embed.FS

// Pattern: 001_name.up.sql / 001_name.down.sql
var filePattern = regexp.MustCompile(`^(\d{3})_(.+)\.(up|down)\.sql$`)

// Migration represents a database migration
type Migration struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time

	up   string
	down string
}

// Runner applies and rolls back migrations against one database
type Runner struct {
	db  *sql.DB
	fs  fs.FS
	dir string
}

// NewRunner creates a runner over the embedded schema files
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db, fs: files, dir: "sql"}
}

// Up applies all pending migrations and returns the ones applied
func (r *Runner) Up(ctx context.Context) ([]Migration, error) {
	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}

	all, err := r.Status(ctx)
	if err != nil {
		return nil, err
	}

	var applied []Migration
	for _, m := range all {
		if m.Applied {
			continue
		}
		if err := r.apply(ctx, m.up, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)",
				m.Version, m.Name)
			return err
		}); err != nil {
			return applied, fmt.Errorf("failed to apply migration %03d_%s: %w", m.Version, m.Name, err)
		}
		applied = append(applied, m)
	}

	return applied, nil
}

// Down rolls back the most recently applied migration. It returns nil when
// nothing is applied.
func (r *Runner) Down(ctx context.Context) (*Migration, error) {
	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}

	all, err := r.Status(ctx)
	if err != nil {
		return nil, err
	}

	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		if !m.Applied {
			continue
		}
		if m.down == "" {
			return nil, fmt.Errorf("no rollback defined for migration version %d", m.Version)
		}
		if err := r.apply(ctx, m.down, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = $1", m.Version)
			return err
		}); err != nil {
			return nil, fmt.Errorf("failed to rollback migration %03d_%s: %w", m.Version, m.Name, err)
		}
		return &m, nil
	}

	return nil, nil
}

// Status lists every known migration in version order with its applied state
func (r *Runner) Status(ctx context.Context) ([]Migration, error) {
	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}

	migrations, err := r.load()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	appliedAt := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		appliedAt[version] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read migration rows: %w", err)
	}

	for i := range migrations {
		if at, ok := appliedAt[migrations[i].Version]; ok {
			at := at
			migrations[i].Applied = true
			migrations[i].AppliedAt = &at
		}
	}

	return migrations, nil
}

func (r *Runner) ensureTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

func (r *Runner) apply(ctx context.Context, script string, record func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if err := record(tx); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *Runner) load() ([]Migration, error) {
	entries, err := fs.ReadDir(r.fs, r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := filePattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}

		content, err := fs.ReadFile(r.fs, r.dir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: matches[2]}
			byVersion[version] = m
		}
		if matches[3] == "up" {
			m.up = string(content)
		} else {
			m.down = string(content)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.up == "" {
			return nil, fmt.Errorf("migration %03d_%s has no up script", m.Version, m.Name)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}
