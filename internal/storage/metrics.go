package storage

import (
	"context"
	"time"
)

// AppendMetric stores one system health sample.
func (s *Store) AppendMetric(ctx context.Context, m MetricSample) error {
	if m.RecordedAt.IsZero() {
		m.RecordedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_metrics(cpu_load, mem_used_percent, temperature, recorded_at)
		 VALUES(?,?,?,?)`,
		m.CPULoad, m.MemUsedPercent, nullFloat(m.Temperature), fmtTime(m.RecordedAt),
	)
	return err
}

// MetricsSince returns samples recorded at or after the cutoff, oldest first.
func (s *Store) MetricsSince(ctx context.Context, cutoff time.Time) ([]MetricSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cpu_load, mem_used_percent, temperature, recorded_at
		 FROM system_metrics WHERE recorded_at >= ? ORDER BY recorded_at`,
		fmtTime(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MetricSample
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddNotification stores a dashboard notification.
func (s *Store) AddNotification(ctx context.Context, n Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(type, title, message, read, created_at) VALUES(?,?,?,0,?)`,
		n.Type, n.Title, n.Message, fmtTime(n.CreatedAt),
	)
	return err
}

// ListNotifications returns stored notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, title, message, read, created_at
		 FROM notifications ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n    Notification
			read int
			at   string
		)
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Message, &read, &at); err != nil {
			return nil, err
		}
		n.Read = read != 0
		n.CreatedAt = parseTime(at)
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanMetric(r rowScanner) (MetricSample, error) {
	var (
		m    MetricSample
		temp *float64
		at   string
	)
	if err := r.Scan(&m.ID, &m.CPULoad, &m.MemUsedPercent, &temp, &at); err != nil {
		return MetricSample{}, err
	}
	m.Temperature = temp
	m.RecordedAt = parseTime(at)
	return m, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
