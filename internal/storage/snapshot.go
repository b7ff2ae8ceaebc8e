package storage

import (
	"context"
	"time"
)

// Snapshot collects the recent rows of every ledger for the backup handler.
// Bounds mirror what the dashboard actually needs to restore: full trigger
// set, recent history only for append-only tables.
func (s *Store) TakeSnapshot(ctx context.Context) (*Snapshot, error) {
	triggers, err := s.ListTriggers(ctx)
	if err != nil {
		return nil, err
	}
	executions, err := s.ListExecutions(ctx, 0, 1000)
	if err != nil {
		return nil, err
	}
	metrics, err := s.MetricsSince(ctx, time.Now().Add(-7*24*time.Hour))
	if err != nil {
		return nil, err
	}
	notifications, err := s.ListNotifications(ctx, 200)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Timestamp:     time.Now(),
		Triggers:      triggers,
		Executions:    executions,
		Metrics:       metrics,
		Notifications: notifications,
	}, nil
}
