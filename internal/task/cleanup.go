package task

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"homeserverd/pkg/logx"
)

const cleanupMaxAge = 7 * 24 * time.Hour

// Cleanup deletes files in the configured scratch directories that are older
// than seven days. Age-based deletion is naturally idempotent.
type Cleanup struct {
	dirs []string
	log  logx.Logger
}

func NewCleanup(dirs []string, log logx.Logger) *Cleanup {
	if len(dirs) == 0 {
		dirs = []string{"./uploads", "./logs"}
	}
	return &Cleanup{dirs: dirs, log: log}
}

func (c *Cleanup) Execute(ctx context.Context, cfg Config) (string, error) {
	dirs := cfg.Strings("dirs")
	if len(dirs) == 0 {
		dirs = c.dirs
	}
	maxAge := cfg.Duration("maxAge", cleanupMaxAge)
	cutoff := time.Now().Add(-maxAge)

	removed := 0
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			// Absent scratch dirs are fine; anything else is worth a log line.
			if !os.IsNotExist(err) {
				c.log.Warn("cleanup dir unreadable", logx.String("dir", dir), logx.Err(err))
			}
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				c.log.Warn("cleanup remove failed", logx.String("file", e.Name()), logx.Err(err))
				continue
			}
			removed++
		}
	}
	return fmt.Sprintf("%d files removed", removed), nil
}
