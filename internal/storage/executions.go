package storage

import (
	"context"
	"time"
)

// AppendExecution writes one immutable execution outcome row.
func (s *Store) AppendExecution(ctx context.Context, rec ExecutionRecord) error {
	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(job_id, status, message, duration_ms, executed_at)
		 VALUES(?,?,?,?,?)`,
		rec.JobID, rec.Status, rec.Message, rec.DurationMS, fmtTime(rec.ExecutedAt),
	)
	return err
}

// ListExecutions returns execution history, newest first.
// jobID of 0 means all jobs. limit <= 0 falls back to 50.
func (s *Store) ListExecutions(ctx context.Context, jobID int64, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, job_id, status, message, duration_ms, executed_at
		 FROM executions ORDER BY executed_at DESC, id DESC LIMIT ?`
	args := []any{limit}
	if jobID != 0 {
		query = `SELECT id, job_id, status, message, duration_ms, executed_at
			 FROM executions WHERE job_id=? ORDER BY executed_at DESC, id DESC LIMIT ?`
		args = []any{jobID, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		var (
			rec ExecutionRecord
			at  string
		)
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.Status, &rec.Message, &rec.DurationMS, &at); err != nil {
			return nil, err
		}
		rec.ExecutedAt = parseTime(at)
		out = append(out, rec)
	}
	return out, rows.Err()
}
