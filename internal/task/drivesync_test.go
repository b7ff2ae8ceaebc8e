package task

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"homeserverd/pkg/logx"
)

func TestDriveSyncPullAndPush(t *testing.T) {
	t.Parallel()
	local := t.TempDir()
	drive := newFakeDrive()

	// Remote-only file: must be pulled.
	drive.addRemoteFile("folder-1", "remote-only.txt", []byte("from remote"), time.Now())
	// Shared file, remote newer: must be re-pulled.
	stale := filepath.Join(local, "shared.txt")
	if err := os.WriteFile(stale, []byte("old local"), 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, past, past); err != nil {
		t.Fatal(err)
	}
	drive.addRemoteFile("folder-1", "shared.txt", []byte("new remote"), time.Now())
	// Local-only file: must be pushed.
	if err := os.WriteFile(filepath.Join(local, "local-only.txt"), []byte("from local"), 0o644); err != nil {
		t.Fatal(err)
	}

	ds := NewDriveSync(drive, logx.Nop())
	out, err := ds.Execute(context.Background(), Config{"localPath": local, "driveFolderId": "folder-1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "uploaded: 1") || !strings.Contains(out, "downloaded: 2") {
		t.Fatalf("outcome = %q", out)
	}

	got, err := os.ReadFile(filepath.Join(local, "remote-only.txt"))
	if err != nil || string(got) != "from remote" {
		t.Fatalf("pull failed: %q, %v", got, err)
	}
	got, err = os.ReadFile(stale)
	if err != nil || string(got) != "new remote" {
		t.Fatalf("newer remote not pulled: %q, %v", got, err)
	}
}

func TestDriveSyncIsRerunSafe(t *testing.T) {
	t.Parallel()
	local := t.TempDir()
	drive := newFakeDrive()
	drive.addRemoteFile("f", "a.txt", []byte("a"), time.Now().Add(-time.Hour))

	ds := NewDriveSync(drive, logx.Nop())
	cfg := Config{"localPath": local, "driveFolderId": "f"}
	if _, err := ds.Execute(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	out, err := ds.Execute(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	// Second run sees matched mtimes and a fully mirrored set: no transfers.
	if !strings.Contains(out, "uploaded: 0") || !strings.Contains(out, "downloaded: 0") {
		t.Fatalf("second run should be a no-op, got %q", out)
	}
}

func TestDriveSyncConfigRequired(t *testing.T) {
	t.Parallel()
	ds := NewDriveSync(newFakeDrive(), logx.Nop())
	if _, err := ds.Execute(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for missing config")
	}
}
