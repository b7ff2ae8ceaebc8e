package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"homeserverd/internal/cronspec"
	"homeserverd/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db"), DedupCapacity: 5}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTriggerCRUD(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateTrigger(ctx, Trigger{
		Name: "probe", Schedule: "*/5 * * * *", Type: JobHealthCheck, Enabled: true,
	})
	if err != nil {
		t.Fatalf("CreateTrigger: %v", err)
	}
	if created.ID == 0 || !created.Enabled || created.Config == nil {
		t.Fatalf("unexpected created trigger: %+v", created)
	}

	got, err := s.GetTrigger(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetTrigger: %v", err)
	}
	if got.Name != "probe" || got.Type != JobHealthCheck {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	// Partial merge: only enabled flips, everything else stays.
	off := false
	updated, err := s.UpdateTrigger(ctx, created.ID, TriggerUpdate{Enabled: &off})
	if err != nil {
		t.Fatalf("UpdateTrigger: %v", err)
	}
	if updated.Enabled || updated.Name != "probe" || updated.Schedule != "*/5 * * * *" {
		t.Fatalf("partial merge broke fields: %+v", updated)
	}

	if err := s.DeleteTrigger(ctx, created.ID); err != nil {
		t.Fatalf("DeleteTrigger: %v", err)
	}
	// Idempotent: a second delete of the same id is a no-op.
	if err := s.DeleteTrigger(ctx, created.ID); err != nil {
		t.Fatalf("second DeleteTrigger: %v", err)
	}
	if _, err := s.GetTrigger(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTrigger after delete = %v, want ErrNotFound", err)
	}
}

func TestCreateTriggerValidation(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateTrigger(ctx, Trigger{Name: "bad", Schedule: "nonsense", Type: JobBackup})
	if !errors.Is(err, cronspec.ErrInvalidSchedule) {
		t.Fatalf("invalid schedule error = %v", err)
	}
	_, err = s.CreateTrigger(ctx, Trigger{Name: "bad", Schedule: "* * * * *", Type: JobType("mystery")})
	if !errors.Is(err, ErrUnknownJobType) {
		t.Fatalf("invalid type error = %v", err)
	}
}

func TestUpdateTriggerNotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	name := "x"
	_, err := s.UpdateTrigger(context.Background(), 9999, TriggerUpdate{Name: &name})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListTriggersNewestFirst(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.CreateTrigger(ctx, Trigger{
			Name: fmt.Sprintf("job-%d", i), Schedule: "* * * * *", Type: JobCleanup,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	list, err := s.ListTriggers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d", len(list))
	}
	if list[0].Name != "job-2" || list[2].Name != "job-0" {
		t.Fatalf("order wrong: %s .. %s", list[0].Name, list[2].Name)
	}
}

func TestExecutionLedger(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		jobID := int64(1 + i%2)
		err := s.AppendExecution(ctx, ExecutionRecord{
			JobID: jobID, Status: StatusSuccess, Message: "ok", DurationMS: int64(i),
			ExecutedAt: time.Now().Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListExecutions(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("all = %d", len(all))
	}
	if all[0].DurationMS != 3 {
		t.Fatalf("newest first violated: %+v", all[0])
	}

	one, err := s.ListExecutions(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range one {
		if r.JobID != 1 {
			t.Fatalf("filter leak: %+v", r)
		}
	}
}

func TestDedupLedgerBoundedEviction(t *testing.T) {
	t.Parallel()
	s := openTestStore(t) // capacity 5
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		if err := s.MarkDedup(ctx, fmt.Sprintf("msg-%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.DedupSize(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Fatalf("size = %d, want capacity 5", n)
	}

	// Oldest evicted, newest retained.
	if seen, _ := s.SeenDedup(ctx, "msg-0"); seen {
		t.Fatal("msg-0 should have been evicted")
	}
	if seen, _ := s.SeenDedup(ctx, "msg-7"); !seen {
		t.Fatal("msg-7 should be present")
	}

	// Re-marking an existing key is a no-op.
	if err := s.MarkDedup(ctx, "msg-7"); err != nil {
		t.Fatal(err)
	}
}

func TestMetricsAndNotifications(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	temp := 55.0
	old := MetricSample{CPULoad: 10, MemUsedPercent: 20, RecordedAt: time.Now().Add(-48 * time.Hour)}
	recent := MetricSample{CPULoad: 30, MemUsedPercent: 40, Temperature: &temp}
	if err := s.AppendMetric(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendMetric(ctx, recent); err != nil {
		t.Fatal(err)
	}

	got, err := s.MetricsSince(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].CPULoad != 30 {
		t.Fatalf("MetricsSince = %+v", got)
	}
	if got[0].Temperature == nil || *got[0].Temperature != 55.0 {
		t.Fatalf("temperature lost: %+v", got[0])
	}

	if err := s.AddNotification(ctx, Notification{Type: "report", Title: "Daily report", Message: "all good"}); err != nil {
		t.Fatal(err)
	}
	notes, err := s.ListNotifications(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || notes[0].Title != "Daily report" {
		t.Fatalf("notifications = %+v", notes)
	}
}

func TestMetricTimeOrderWithinSecond(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	// A whole-second stamp and a sub-second stamp in the same second must
	// keep time order under the stored string comparison.
	base := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	whole := MetricSample{CPULoad: 1, MemUsedPercent: 1, RecordedAt: base}
	frac := MetricSample{CPULoad: 2, MemUsedPercent: 2, RecordedAt: base.Add(300 * time.Millisecond)}
	for _, m := range []MetricSample{frac, whole} {
		if err := s.AppendMetric(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.MetricsSince(ctx, base)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("samples since cutoff = %+v, want both", got)
	}
	if got[0].CPULoad != 1 || got[1].CPULoad != 2 {
		t.Fatalf("order = [%v, %v], want whole second first", got[0].CPULoad, got[1].CPULoad)
	}
}

func TestSeedDefaults(t *testing.T) {
	t.Parallel()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "seed.db"), SeedDefaults: true}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	list, err := s.ListTriggers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("seeded %d triggers, want 2", len(list))
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateTrigger(ctx, Trigger{Name: "j", Schedule: "* * * * *", Type: JobBackup}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendExecution(ctx, ExecutionRecord{JobID: 1, Status: StatusError, Message: "boom"}); err != nil {
		t.Fatal(err)
	}

	snap, err := s.TakeSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Triggers) != 1 || len(snap.Executions) != 1 {
		t.Fatalf("snapshot incomplete: %+v", snap)
	}
	if snap.Timestamp.IsZero() {
		t.Fatal("snapshot timestamp missing")
	}
}
