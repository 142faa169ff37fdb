// Package diagnostics records crash dumps for failures caught at execution
// boundaries (rule evaluation, handler calls, pool and timer tasks).
package diagnostics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
)

//go:generate mockgen -destination=mocks/mock_dumper.go -package=mocks github.com/mattjoyce/murmur/internal/diagnostics Dumper

// ErrDumpNotFound is returned when a dump id does not exist.
var ErrDumpNotFound = errors.New("crash dump not found")

// LocationPrefix prefixes every location returned by SQLiteDumper.
const LocationPrefix = "crash_dump:"

// Dumper saves a diagnostic record and returns where it went, or "" when
// nothing was saved.
type Dumper interface {
	Dump(description string) string
}

// Nop discards every dump.
type Nop struct{}

func (Nop) Dump(string) string { return "" }

// Capture dumps description through d and returns log attributes naming the
// dump location. A nil Dumper or an unsaved dump yields no attributes.
func Capture(d Dumper, description string) []any {
	if d == nil {
		return nil
	}
	loc := d.Dump(description)
	if loc == "" {
		return nil
	}
	return []any{"dump", loc}
}

// PanicError converts a recovered panic value into an error.
func PanicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}

// Record is one stored crash dump.
type Record struct {
	ID          string
	Description string
	Stack       string
	CreatedAt   time.Time
}

// Location returns the string a log line uses to point at the record.
func (r Record) Location() string { return LocationPrefix + r.ID }

// SQLiteDumper stores dumps in the crash_dump table.
type SQLiteDumper struct {
	db      *sql.DB
	now     func() time.Time
	timeout time.Duration
}

// NewSQLiteDumper creates a dumper over a database bootstrapped by
// storage.OpenSQLite.
func NewSQLiteDumper(db *sql.DB) *SQLiteDumper {
	return &SQLiteDumper{
		db:      db,
		now:     time.Now,
		timeout: 5 * time.Second,
	}
}

// Dump stores description with the calling goroutine's stack. Storage
// failures are swallowed: the caller is already handling a failure.
func (d *SQLiteDumper) Dump(description string) string {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	id := uuid.NewString()
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO crash_dump(id, description, stack, created_at) VALUES(?, ?, ?, ?);",
		id, description, string(debug.Stack()), d.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return ""
	}
	return LocationPrefix + id
}

// List returns up to limit dumps, newest first.
func (d *SQLiteDumper) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.QueryContext(ctx,
		"SELECT id, description, stack, created_at FROM crash_dump ORDER BY created_at DESC LIMIT ?;", limit)
	if err != nil {
		return nil, fmt.Errorf("list crash dumps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crash dumps: %w", err)
	}
	return out, nil
}

// Get loads one dump. id may carry the location prefix.
func (d *SQLiteDumper) Get(ctx context.Context, id string) (Record, error) {
	id = strings.TrimPrefix(strings.TrimSpace(id), LocationPrefix)
	if id == "" {
		return Record{}, fmt.Errorf("dump id is empty")
	}
	row := d.db.QueryRowContext(ctx,
		"SELECT id, description, stack, created_at FROM crash_dump WHERE id = ?;", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrDumpNotFound, id)
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		rec     Record
		created string
	)
	if err := s.Scan(&rec.ID, &rec.Description, &rec.Stack, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan crash dump: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Record{}, fmt.Errorf("parse crash dump created_at %q: %w", created, err)
	}
	rec.CreatedAt = t
	return rec, nil
}
