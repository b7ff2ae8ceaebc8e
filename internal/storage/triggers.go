package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"homeserverd/internal/cronspec"
)

// CreateTrigger validates and inserts a new trigger definition.
// The schedule expression and job type are checked here so malformed
// definitions can never reach the scheduler.
func (s *Store) CreateTrigger(ctx context.Context, t Trigger) (Trigger, error) {
	if strings.TrimSpace(t.Name) == "" {
		return Trigger{}, fmt.Errorf("%w: name is required", ErrInvalidTrigger)
	}
	if !t.Type.Valid() {
		return Trigger{}, fmt.Errorf("%w: %q", ErrUnknownJobType, t.Type)
	}
	if err := cronspec.Validate(t.Schedule); err != nil {
		return Trigger{}, err
	}

	cfgJSON, err := marshalConfig(t.Config)
	if err != nil {
		return Trigger{}, err
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO triggers(name, schedule, type, config, enabled, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?)`,
		t.Name, t.Schedule, string(t.Type), cfgJSON, boolInt(t.Enabled), fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return Trigger{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Trigger{}, err
	}
	return s.GetTrigger(ctx, id)
}

// UpdateTrigger applies a partial merge over the stored row and returns the
// updated trigger. A changed schedule is re-validated.
func (s *Store) UpdateTrigger(ctx context.Context, id int64, u TriggerUpdate) (Trigger, error) {
	cur, err := s.GetTrigger(ctx, id)
	if err != nil {
		return Trigger{}, err
	}

	if u.Name != nil {
		if strings.TrimSpace(*u.Name) == "" {
			return Trigger{}, fmt.Errorf("%w: name is required", ErrInvalidTrigger)
		}
		cur.Name = *u.Name
	}
	if u.Schedule != nil {
		if err := cronspec.Validate(*u.Schedule); err != nil {
			return Trigger{}, err
		}
		cur.Schedule = *u.Schedule
	}
	if u.Config != nil {
		cur.Config = u.Config
	}
	if u.Enabled != nil {
		cur.Enabled = *u.Enabled
	}

	cfgJSON, err := marshalConfig(cur.Config)
	if err != nil {
		return Trigger{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE triggers SET name=?, schedule=?, config=?, enabled=?, updated_at=? WHERE id=?`,
		cur.Name, cur.Schedule, cfgJSON, boolInt(cur.Enabled), fmtTime(time.Now()), id,
	)
	if err != nil {
		return Trigger{}, err
	}
	return s.GetTrigger(ctx, id)
}

// DeleteTrigger removes a trigger row. Deleting an absent id is not an error.
func (s *Store) DeleteTrigger(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM triggers WHERE id=?`, id)
	return err
}

func (s *Store) GetTrigger(ctx context.Context, id int64) (Trigger, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, schedule, type, config, enabled, last_run, created_at, updated_at
		 FROM triggers WHERE id=?`, id)
	t, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Trigger{}, fmt.Errorf("trigger %d: %w", id, ErrNotFound)
	}
	return t, err
}

// ListTriggers returns all triggers, newest-created first.
func (s *Store) ListTriggers(ctx context.Context) ([]Trigger, error) {
	return s.listTriggers(ctx,
		`SELECT id, name, schedule, type, config, enabled, last_run, created_at, updated_at
		 FROM triggers ORDER BY created_at DESC, id DESC`)
}

// ListEnabledTriggers returns the triggers the scheduler should register.
func (s *Store) ListEnabledTriggers(ctx context.Context) ([]Trigger, error) {
	return s.listTriggers(ctx,
		`SELECT id, name, schedule, type, config, enabled, last_run, created_at, updated_at
		 FROM triggers WHERE enabled=1 ORDER BY created_at DESC, id DESC`)
}

func (s *Store) listTriggers(ctx context.Context, query string) ([]Trigger, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateLastRun stamps the trigger's last execution time. Missing rows are
// ignored: the trigger may have been deleted while its firing was in flight.
func (s *Store) UpdateLastRun(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE triggers SET last_run=? WHERE id=?`, fmtTime(at), id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(r rowScanner) (Trigger, error) {
	var (
		t        Trigger
		typ      string
		cfgJSON  string
		enabled  int
		lastRun  sql.NullString
		created  string
		updated  string
	)
	if err := r.Scan(&t.ID, &t.Name, &t.Schedule, &typ, &cfgJSON, &enabled, &lastRun, &created, &updated); err != nil {
		return Trigger{}, err
	}
	t.Type = JobType(typ)
	t.Enabled = enabled != 0
	t.LastRun = parseNullTime(lastRun)
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	if cfgJSON != "" {
		if err := json.Unmarshal([]byte(cfgJSON), &t.Config); err != nil {
			return Trigger{}, fmt.Errorf("trigger %d config: %w", t.ID, err)
		}
	}
	if t.Config == nil {
		t.Config = map[string]any{}
	}
	return t, nil
}

func marshalConfig(cfg map[string]any) (string, error) {
	if cfg == nil {
		return "{}", nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(b), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
