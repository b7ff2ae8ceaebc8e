package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"homeserverd/internal/storage"
	"homeserverd/pkg/logx"
)

// ---- registry ----

func TestRegistryResolve(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(storage.JobCleanup, HandlerFunc(func(context.Context, Config) (string, error) {
		return "ok", nil
	}))

	h, err := r.Resolve(storage.JobCleanup)
	if err != nil {
		t.Fatal(err)
	}
	if out, _ := h.Execute(context.Background(), nil); out != "ok" {
		t.Fatalf("out = %q", out)
	}

	if _, err := r.Resolve(storage.JobType("mystery")); !errors.Is(err, storage.ErrUnknownJobType) {
		t.Fatalf("err = %v", err)
	}
}

// ---- backup ----

type snapSource struct{ snap *storage.Snapshot }

func (s snapSource) TakeSnapshot(context.Context) (*storage.Snapshot, error) { return s.snap, nil }

func TestBackupWritesAndPrunes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	// Plant an expired snapshot.
	oldFile := filepath.Join(dir, "backup-old.json")
	if err := os.WriteFile(oldFile, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	ancient := time.Now().Add(-31 * 24 * time.Hour)
	if err := os.Chtimes(oldFile, ancient, ancient); err != nil {
		t.Fatal(err)
	}

	b := NewBackup(snapSource{&storage.Snapshot{Timestamp: time.Now()}}, dir, logx.Nop())
	out, err := b.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "backup written") {
		t.Fatalf("outcome = %q", out)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("dir has %d files, want 1 (old pruned, new written)", len(entries))
	}
	if entries[0].Name() == "backup-old.json" {
		t.Fatal("expired snapshot survived pruning")
	}
}

// ---- cleanup ----

func TestCleanupRemovesOnlyOldFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	oldFile := filepath.Join(dir, "stale.tmp")
	newFile := filepath.Join(dir, "fresh.tmp")
	for _, f := range []string{oldFile, newFile} {
		if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	aged := time.Now().Add(-8 * 24 * time.Hour)
	if err := os.Chtimes(oldFile, aged, aged); err != nil {
		t.Fatal(err)
	}

	c := NewCleanup([]string{dir, filepath.Join(dir, "does-not-exist")}, logx.Nop())
	out, err := c.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "1 files removed" {
		t.Fatalf("outcome = %q", out)
	}
	if _, err := os.Stat(newFile); err != nil {
		t.Fatal("fresh file was removed")
	}
	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Fatal("stale file survived")
	}
}

// ---- ai-report ----

func TestAIReportStoresNotification(t *testing.T) {
	t.Parallel()
	metrics := &memMetrics{}
	_ = metrics.AppendMetric(context.Background(), storage.MetricSample{CPULoad: 50, MemUsedPercent: 60, RecordedAt: time.Now()})
	notes := &memNotes{}

	r := NewAIReport(metrics, &fakeCompleter{reply: "All quiet on the home front."}, notes)
	out, err := r.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "report generated") {
		t.Fatalf("outcome = %q", out)
	}
	if len(notes.notes) != 1 || notes.notes[0].Type != "report" {
		t.Fatalf("notifications = %+v", notes.notes)
	}
}

func TestAIReportProviderFailure(t *testing.T) {
	t.Parallel()
	r := NewAIReport(&memMetrics{}, &fakeCompleter{err: errors.New("quota exceeded")}, &memNotes{})
	if _, err := r.Execute(context.Background(), nil); err == nil {
		t.Fatal("provider failure must surface as a handler error")
	}
}

// ---- custom-command ----

func TestCommandOutput(t *testing.T) {
	t.Parallel()
	run := &fakeRunner{result: RunResult{Stdout: "hello\n"}}
	c := NewCommand(run, 0, 0)
	out, err := c.Execute(context.Background(), Config{"command": "echo hello"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "hello" {
		t.Fatalf("out = %q", out)
	}
	if run.gotCmd != "echo hello" {
		t.Fatalf("command = %q", run.gotCmd)
	}
}

func TestCommandFailurePropagates(t *testing.T) {
	t.Parallel()
	run := &fakeRunner{err: errors.New("command timed out after 30s"), result: RunResult{Stderr: "killed"}}
	c := NewCommand(run, 0, 0)
	_, err := c.Execute(context.Background(), Config{"command": "sleep 600"})
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("err = %v", err)
	}
}

func TestCommandRequiresConfig(t *testing.T) {
	t.Parallel()
	c := NewCommand(&fakeRunner{}, 0, 0)
	if _, err := c.Execute(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestCommandOutputCap(t *testing.T) {
	t.Parallel()
	run := &fakeRunner{result: RunResult{Stdout: strings.Repeat("a", 100)}}
	c := NewCommand(run, 0, 10)
	out, err := c.Execute(context.Background(), Config{"command": "yes"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 10 {
		t.Fatalf("len(out) = %d, want capped at 10", len(out))
	}

	// The cap must never split a multi-byte rune.
	run.result = RunResult{Stdout: strings.Repeat("한", 100)}
	out, err = c.Execute(context.Background(), Config{"command": "yes"})
	if err != nil {
		t.Fatal(err)
	}
	if !utf8.ValidString(out) {
		t.Fatalf("capped output is not valid UTF-8: %q", out)
	}
	if got := utf8.RuneCountInString(out); got != 10 {
		t.Fatalf("rune count = %d, want 10", got)
	}
}
