package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var ErrPendingMigrations = errors.New("schema has pending migrations")

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// Migration is one versioned schema step, loaded from a pair of files named
// {version}_{name}.up.sql and {version}_{name}.down.sql.
type Migration struct {
	Version string
	Name    string
	Up      string // file name
	Down    string // file name, empty when the step cannot be rolled back
}

// AppliedMigration is a row of public.schema_migrations.
type AppliedMigration struct {
	Version   string
	Filename  string
	AppliedAt time.Time
}

// MigrationStatus compares the schema_migrations table to the directory.
type MigrationStatus struct {
	Current string // highest applied version, empty on a fresh database
	Applied []AppliedMigration
	Pending []Migration
}

// UpToDate is true when nothing in the directory is waiting to run.
func (s MigrationStatus) UpToDate() bool { return len(s.Pending) == 0 }

// Migrator keeps the event log and projection schemas at the version the
// binary expects.
type Migrator struct {
	db     *sql.DB
	dir    string
	logger zerolog.Logger
}

func NewMigrator(db *sql.DB, dir string, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, dir: dir, logger: logger.With().Str("component", "migrator").Logger()}
}

// LoadMigrations reads and orders the migration pairs in dir.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		file := e.Name()
		var base string
		var up bool
		switch {
		case strings.HasSuffix(file, upSuffix):
			base, up = strings.TrimSuffix(file, upSuffix), true
		case strings.HasSuffix(file, downSuffix):
			base = strings.TrimSuffix(file, downSuffix)
		default:
			continue
		}
		version, name, ok := strings.Cut(base, "_")
		if !ok || version == "" {
			return nil, fmt.Errorf("migration %s: name must be {version}_{name}", file)
		}

		m, seen := byVersion[version]
		if !seen {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("version %s used by both %q and %q", version, m.Name, name)
		}
		if up {
			m.Up = file
		} else {
			m.Down = file
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("version %s has a down file but no up file", m.Version)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Status reports which migrations ran and which are still pending.
func (m *Migrator) Status(ctx context.Context) (MigrationStatus, error) {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return MigrationStatus{}, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("read applied migrations: %w", err)
	}
	all, err := LoadMigrations(m.dir)
	if err != nil {
		return MigrationStatus{}, err
	}
	return diffMigrations(applied, all), nil
}

func diffMigrations(applied []AppliedMigration, all []Migration) MigrationStatus {
	s := MigrationStatus{Applied: applied}
	done := make(map[string]bool, len(applied))
	for _, a := range applied {
		done[a.Version] = true
		if a.Version > s.Current {
			s.Current = a.Version
		}
	}
	for _, mig := range all {
		if !done[mig.Version] {
			s.Pending = append(s.Pending, mig)
		}
	}
	return s
}

// Up applies every pending migration in version order, one transaction each.
func (m *Migrator) Up(ctx context.Context) error {
	status, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if status.UpToDate() {
		m.logger.Info().Str("version", status.Current).Msg("schema up to date")
		return nil
	}

	for _, mig := range status.Pending {
		start := time.Now()
		err := m.runFile(ctx, mig.Up,
			`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`, mig.Version, mig.Up)
		if err != nil {
			return err
		}
		m.logger.Info().
			Str("version", mig.Version).
			Str("name", mig.Name).
			Dur("took", time.Since(start)).
			Msg("migration applied")
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	status, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(status.Applied) == 0 {
		m.logger.Info().Msg("no migrations to roll back")
		return nil
	}
	last := status.Applied[len(status.Applied)-1]

	all, err := LoadMigrations(m.dir)
	if err != nil {
		return err
	}
	var down string
	for _, mig := range all {
		if mig.Version == last.Version {
			down = mig.Down
		}
	}
	if down == "" {
		return fmt.Errorf("version %s (%s) has no down migration", last.Version, last.Filename)
	}

	if err := m.runFile(ctx, down, `DELETE FROM public.schema_migrations WHERE version = $1`, last.Version); err != nil {
		return err
	}
	m.logger.Info().Str("version", last.Version).Str("file", down).Msg("migration rolled back")
	return nil
}

// HealthCheck returns a readiness check that fails while migrations are
// pending.
func (m *Migrator) HealthCheck(timeout time.Duration) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		status, err := m.Status(ctx)
		if err != nil {
			return err
		}
		if !status.UpToDate() {
			return fmt.Errorf("%d at version %q: %w", len(status.Pending), status.Current, ErrPendingMigrations)
		}
		return nil
	}
}

// runFile executes a migration file and its bookkeeping statement in one
// transaction.
func (m *Migrator) runFile(ctx context.Context, file, bookkeeping string, args ...interface{}) error {
	content, err := os.ReadFile(filepath.Join(m.dir, file))
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", file, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("exec %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("record %s: %w", file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", file, err)
	}
	return nil
}

func (m *Migrator) ensureMigrationTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (m *Migrator) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT version, filename, applied_at FROM public.schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var a AppliedMigration
		if err := rows.Scan(&a.Version, &a.Filename, &a.AppliedAt); err != nil {
			return nil, err
		}
		applied = append(applied, a)
	}
	return applied, rows.Err()
}
