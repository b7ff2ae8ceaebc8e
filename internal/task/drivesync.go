package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"homeserverd/pkg/logx"
)

// DriveSync mirrors a local directory against a remote folder using
// modify-time comparison: remote files missing locally or newer than the
// local copy are pulled; local files absent remotely are pushed.
// The comparison is time-based, so re-running is always safe.
type DriveSync struct {
	drive Drive
	log   logx.Logger
}

func NewDriveSync(drive Drive, log logx.Logger) *DriveSync {
	return &DriveSync{drive: drive, log: log}
}

func (d *DriveSync) Execute(ctx context.Context, cfg Config) (string, error) {
	if d.drive == nil {
		return "", errors.New("drive is not configured")
	}
	localPath := cfg.String("localPath")
	folderID := cfg.String("driveFolderId")
	if localPath == "" || folderID == "" {
		return "", errors.New("drive-sync config requires localPath and driveFolderId")
	}
	if err := os.MkdirAll(localPath, 0o755); err != nil {
		return "", fmt.Errorf("local path: %w", err)
	}

	remote, err := d.drive.ListChildren(ctx, folderID)
	if err != nil {
		return "", fmt.Errorf("list remote folder: %w", err)
	}

	var downloaded, uploaded, failed int

	remoteNames := make(map[string]bool, len(remote))
	for _, f := range remote {
		if f.Folder {
			continue
		}
		remoteNames[f.Name] = true

		local := filepath.Join(localPath, f.Name)
		st, statErr := os.Stat(local)
		needPull := statErr != nil || f.Modified.After(st.ModTime())
		if !needPull {
			continue
		}
		if err := d.pull(ctx, f, local); err != nil {
			failed++
			d.log.Warn("sync pull failed", logx.String("file", f.Name), logx.Err(err))
			continue
		}
		downloaded++
	}

	entries, err := os.ReadDir(localPath)
	if err != nil {
		return "", fmt.Errorf("read local dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || remoteNames[e.Name()] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(localPath, e.Name()))
		if err != nil {
			failed++
			d.log.Warn("sync read failed", logx.String("file", e.Name()), logx.Err(err))
			continue
		}
		if _, err := d.drive.Upload(ctx, e.Name(), data, folderID); err != nil {
			failed++
			d.log.Warn("sync push failed", logx.String("file", e.Name()), logx.Err(err))
			continue
		}
		uploaded++
	}

	return fmt.Sprintf("uploaded: %d, downloaded: %d, errors: %d", uploaded, downloaded, failed), nil
}

func (d *DriveSync) pull(ctx context.Context, f FileMeta, local string) error {
	data, err := d.drive.Download(ctx, f.ID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return err
	}
	// Align mtime with the remote so the next comparison stays stable.
	if !f.Modified.IsZero() {
		_ = os.Chtimes(local, f.Modified, f.Modified)
	}
	return nil
}
