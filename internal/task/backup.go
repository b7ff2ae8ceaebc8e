package task

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"homeserverd/internal/storage"
	"homeserverd/pkg/logx"
)

const backupRetention = 30 * 24 * time.Hour

// SnapshotSource produces the serializable view of all ledgers.
type SnapshotSource interface {
	TakeSnapshot(ctx context.Context) (*storage.Snapshot, error)
}

// Backup writes a timestamped JSON snapshot of every ledger and prunes
// snapshots older than 30 days. Each run is a full overwrite-style snapshot,
// so no idempotency bookkeeping is needed.
type Backup struct {
	src SnapshotSource
	dir string
	log logx.Logger
}

func NewBackup(src SnapshotSource, dir string, log logx.Logger) *Backup {
	if dir == "" {
		dir = "./backups"
	}
	return &Backup{src: src, dir: dir, log: log}
}

func (b *Backup) Execute(ctx context.Context, cfg Config) (string, error) {
	dir := cfg.StringOr("dir", b.dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("backup dir: %w", err)
	}

	snap, err := b.src.TakeSnapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", err
	}

	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(time.Now().UTC().Format(time.RFC3339))
	path := filepath.Join(dir, "backup-"+stamp+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	pruned := b.prune(dir)
	if pruned > 0 {
		return fmt.Sprintf("backup written: %s (pruned %d old)", path, pruned), nil
	}
	return "backup written: " + path, nil
}

func (b *Backup) prune(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	cutoff := time.Now().Add(-backupRetention)
	pruned := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "backup-") {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			b.log.Warn("backup prune failed", logx.String("file", e.Name()), logx.Err(err))
			continue
		}
		pruned++
	}
	return pruned
}
