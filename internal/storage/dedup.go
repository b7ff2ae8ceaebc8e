package storage

import "context"

// SeenDedup reports whether key was already processed.
// This is the idempotency gate: handlers must check it before incurring any
// side effect tied to the key.
func (s *Store) SeenDedup(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dedup WHERE key=?`, key).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkDedup records key as processed and evicts the oldest entries beyond the
// capacity bound. Call it only after the key's side effects have committed:
// a crash in between causes a safe re-process on the next run (at-least-once).
func (s *Store) MarkDedup(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key) VALUES(?) ON CONFLICT(key) DO NOTHING`, key)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM dedup WHERE id NOT IN (SELECT id FROM dedup ORDER BY id DESC LIMIT ?)`,
		s.dedupCap)
	return err
}

// DedupSize returns the current ledger size.
func (s *Store) DedupSize(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dedup`).Scan(&n)
	return n, err
}
