// Package migrate drives schema migrations and applies SQL seed files.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"disbursa.org/internal/store/pg"
)

const defaultSeedsTable = "schema_seeds"

// Manager applies schema migrations and seed files.
type Manager struct {
	db         *sql.DB
	seeds      fs.FS
	seedsTable string
	now        func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithClock overrides the time recorded for applied seeds.
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager constructs a Manager. Seeds are the *.sql files at the root of
// seeds, applied in name order.
func NewManager(db *sql.DB, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:         db,
		seeds:      seeds,
		seedsTable: defaultSeedsTable,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending schema migrations.
func (m *Manager) Up(ctx context.Context) error {
	return pg.MigrateUp(ctx, m.db)
}

// Down rolls back the most recent schema migrations.
func (m *Manager) Down(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return pg.MigrateDown(ctx, m.db, steps)
}

// Status describes the schema version and applied seeds.
type Status struct {
	Version int64
	Seeds   []string
}

// Status returns the schema version and the seeds applied so far, oldest first.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	v, err := pg.MigrationVersion(ctx, m.db)
	if err != nil {
		return Status{}, err
	}
	seeds, err := m.Applied(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{Version: v, Seeds: seeds}, nil
}

// Seed applies pending seed files, each in its own transaction.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	executed, err := m.listExecuted(ctx)
	if err != nil {
		return nil, err
	}
	files, err := m.collect()
	if err != nil {
		return nil, err
	}
	var applied []string
	for _, name := range files {
		if executed[name] {
			continue
		}
		if err := m.apply(ctx, name); err != nil {
			return applied, fmt.Errorf("apply seed %s: %w", name, err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}

// Applied lists applied seeds, oldest first.
func (m *Manager) Applied(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, m.seedsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

func (m *Manager) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, m.seedsTable))
	return err
}

// apply runs one seed file and records it in the same transaction.
func (m *Manager) apply(ctx context.Context, name string) error {
	body, err := fs.ReadFile(m.seeds, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`insert into %s (name, applied_at) values ($1, $2)`, m.seedsTable),
		name, m.now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) listExecuted(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s`, m.seedsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		result[name] = true
	}
	return result, rows.Err()
}

func (m *Manager) collect() ([]string, error) {
	if m.seeds == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(m.seeds, ".")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && path.Ext(e.Name()) == ".sql" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// splitStatements splits SQL on semicolons outside single-quoted strings and
// drops line comments.
func splitStatements(sql string) []string {
	var (
		stmts     []string
		current   strings.Builder
		inString  bool
		inComment bool
	)
	for _, r := range sql {
		if inComment {
			if r == '\n' {
				inComment = false
				current.WriteRune(r)
			}
			continue
		}
		switch r {
		case '\'':
			current.WriteRune(r)
			inString = !inString
		case '-':
			if !inString && strings.HasSuffix(current.String(), "-") {
				s := current.String()
				current.Reset()
				current.WriteString(s[:len(s)-1])
				inComment = true
				continue
			}
			current.WriteRune(r)
		case ';':
			current.WriteRune(r)
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
