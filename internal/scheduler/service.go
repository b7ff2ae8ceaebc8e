// Package scheduler keeps one live cron timer per enabled trigger and runs
// each firing through the task registry, recording every outcome.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"homeserverd/internal/cronspec"
	"homeserverd/internal/storage"
	"homeserverd/internal/task"
	"homeserverd/pkg/logx"
)

type Service struct {
	store    Store
	registry *task.Registry
	bus      task.Publisher
	log      logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	entries map[int64]cron.EntryID
	started bool
}

// New builds a stopped scheduler. Timers fire in the named IANA timezone;
// empty or unknown names fall back to local time.
func New(store Store, registry *task.Registry, bus task.Publisher, timezone string, log logx.Logger) *Service {
	loc := loadLocation(timezone, log)
	return &Service{
		store:    store,
		registry: registry,
		bus:      bus,
		log:      log,
		c:        cron.New(cron.WithParser(cronspec.Parser), cron.WithLocation(loc)),
		entries:  map[int64]cron.EntryID{},
	}
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone, using local time", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Start registers a timer for every enabled trigger and starts the cron loop.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Reconcile(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.c.Start()
		s.started = true
	}
	s.log.Info("scheduler started", logx.Int("timers", len(s.entries)))
	return nil
}

// Stop halts the cron loop and waits for in-flight jobs to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return
	}
	<-s.c.Stop().Done()
	s.log.Info("scheduler stopped")
}

// Reconcile rebuilds the timer set from the store: every enabled trigger gets
// a timer, everything else is dropped. Used at startup and after bulk edits.
func (s *Service) Reconcile(ctx context.Context) error {
	triggers, err := s.store.ListEnabledTriggers(ctx)
	if err != nil {
		return fmt.Errorf("list triggers: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, eid := range s.entries {
		s.c.Remove(eid)
		delete(s.entries, id)
	}
	for _, t := range triggers {
		if err := s.addLocked(t); err != nil {
			// A bad persisted schedule should not block the rest of the set.
			s.log.Error("skipping trigger", logx.String("job", t.Name), logx.Err(err))
		}
	}
	return nil
}

// Add installs or replaces the timer for a trigger. A disabled trigger is the
// same as Remove: no timer stays behind.
func (s *Service) Add(t storage.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if eid, ok := s.entries[t.ID]; ok {
		s.c.Remove(eid)
		delete(s.entries, t.ID)
	}
	if !t.Enabled {
		return nil
	}
	return s.addLocked(t)
}

func (s *Service) addLocked(t storage.Trigger) error {
	if _, err := cronspec.Parse(t.Schedule); err != nil {
		return err
	}
	trigger := t
	eid, err := s.c.AddJob(t.Schedule, cron.FuncJob(func() {
		s.Dispatch(context.Background(), trigger)
	}))
	if err != nil {
		return err
	}
	s.entries[t.ID] = eid
	return nil
}

// Remove cancels the trigger's timer. Unknown ids are a no-op.
func (s *Service) Remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if eid, ok := s.entries[id]; ok {
		s.c.Remove(eid)
		delete(s.entries, id)
	}
}

// RunNow fires a trigger immediately, off schedule, and returns the record.
// It reads the trigger fresh from the store so a concurrent edit is honored.
func (s *Service) RunNow(ctx context.Context, id int64) (storage.ExecutionRecord, error) {
	t, err := s.store.GetTrigger(ctx, id)
	if err != nil {
		return storage.ExecutionRecord{}, err
	}
	return s.Dispatch(ctx, t), nil
}

// HasTimer reports whether a live timer exists for the trigger.
func (s *Service) HasTimer(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// LiveCount returns the number of live timers.
func (s *Service) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
