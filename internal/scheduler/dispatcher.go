package scheduler

import (
	"context"
	"fmt"
	"time"

	"homeserverd/internal/storage"
	"homeserverd/internal/task"
	"homeserverd/pkg/logx"
)

// eventMessageMax bounds the message copied into the fan-out event. The full
// message still lands in the execution ledger.
const eventMessageMax = 200

// Store is the slice of persistence the scheduler needs.
type Store interface {
	GetTrigger(ctx context.Context, id int64) (storage.Trigger, error)
	ListEnabledTriggers(ctx context.Context) ([]storage.Trigger, error)
	AppendExecution(ctx context.Context, rec storage.ExecutionRecord) error
	UpdateLastRun(ctx context.Context, id int64, at time.Time) error
}

// RunEvent is the payload published on every job completion.
type RunEvent struct {
	JobName  string `json:"jobName"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	Duration int64  `json:"duration"`
	Message  string `json:"message"`
}

// Dispatch runs a trigger's handler once and records the outcome. Exactly one
// execution record is appended per call, whatever the handler does: success,
// error, unknown type and panic all land in the ledger. Persistence failures
// are logged and swallowed so a sick database cannot stop the timers.
func (s *Service) Dispatch(ctx context.Context, t storage.Trigger) storage.ExecutionRecord {
	start := time.Now()
	outcome, err := s.runHandler(ctx, t)
	took := time.Since(start)

	rec := storage.ExecutionRecord{
		JobID:      t.ID,
		Status:     storage.StatusSuccess,
		Message:    outcome,
		DurationMS: took.Milliseconds(),
		ExecutedAt: start,
	}
	if err != nil {
		rec.Status = storage.StatusError
		rec.Message = err.Error()
	}

	if err := s.store.AppendExecution(ctx, rec); err != nil {
		s.log.Error("append execution failed",
			logx.String("job", t.Name), logx.Err(err))
	}
	if err := s.store.UpdateLastRun(ctx, t.ID, start); err != nil {
		s.log.Error("update last run failed",
			logx.String("job", t.Name), logx.Err(err))
	}

	s.bus.Publish("scheduler-run", RunEvent{
		JobName:  t.Name,
		Type:     string(t.Type),
		Status:   rec.Status,
		Duration: rec.DurationMS,
		Message:  truncate(rec.Message, eventMessageMax),
	})

	if rec.Status == storage.StatusError {
		s.log.Warn("job failed",
			logx.String("job", t.Name),
			logx.String("type", string(t.Type)),
			logx.Duration("took", took),
			logx.String("error", rec.Message))
	} else {
		s.log.Info("job completed",
			logx.String("job", t.Name),
			logx.String("type", string(t.Type)),
			logx.Duration("took", took))
	}
	return rec
}

// runHandler resolves and executes the handler, converting panics into errors
// so one misbehaving task cannot take down the cron goroutine.
func (s *Service) runHandler(ctx context.Context, t storage.Trigger) (outcome string, err error) {
	h, rerr := s.registry.Resolve(t.Type)
	if rerr != nil {
		return "", fmt.Errorf("%w: %q", storage.ErrUnknownJobType, t.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h.Execute(ctx, task.Config(t.Config))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
