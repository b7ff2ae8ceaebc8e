package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"homeserverd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// timeLayout keeps a fixed fractional width so the lexicographic order of
// stored stamps matches time order in ORDER BY and cutoff comparisons.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the durable persistence layer shared by the scheduler, the task
// handlers, and the API. All writes are synchronous: when a method returns,
// the row is committed (read-after-write consistency for reconciliation).
type Store struct {
	db  *sql.DB
	log logx.Logger

	dedupCap int
}

// Open initializes (and migrates) the sqlite store at cfg.Path.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers. A single
	// connection serializes all writes per the durability model.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	dedupCap := cfg.DedupCapacity
	if dedupCap <= 0 {
		dedupCap = 500
	}

	s := &Store{db: db, log: log, dedupCap: dedupCap}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if cfg.SeedDefaults {
		if err := s.seedDefaults(context.Background()); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// seedDefaults registers the starter trigger set, but only into an empty table
// so user edits are never clobbered.
func (s *Store) seedDefaults(ctx context.Context) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM triggers`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	defaults := []Trigger{
		{Name: "System metrics", Schedule: "*/5 * * * *", Type: JobHealthCheck, Enabled: true},
		{Name: "Scratch cleanup", Schedule: "0 3 * * 0", Type: JobCleanup, Enabled: true},
	}
	for _, t := range defaults {
		if _, err := s.CreateTrigger(ctx, t); err != nil {
			return err
		}
	}
	s.log.Info("seeded default triggers", logx.Int("count", len(defaults)))
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(raw sql.NullString) *time.Time {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	t := parseTime(raw.String)
	if t.IsZero() {
		return nil
	}
	return &t
}
