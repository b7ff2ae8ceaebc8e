package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"homeserverd/internal/storage"
)

const reportWindow = 24 * time.Hour

// MetricsReader is the slice of storage the report aggregates over.
type MetricsReader interface {
	MetricsSince(ctx context.Context, cutoff time.Time) ([]storage.MetricSample, error)
}

// NotificationSink stores the finished report for the dashboard inbox.
type NotificationSink interface {
	AddNotification(ctx context.Context, n storage.Notification) error
}

// AIReport aggregates the last 24h of system metrics and asks the AI
// collaborator for a natural-language summary.
type AIReport struct {
	metrics MetricsReader
	ai      Completer
	notes   NotificationSink
}

func NewAIReport(metrics MetricsReader, ai Completer, notes NotificationSink) *AIReport {
	return &AIReport{metrics: metrics, ai: ai, notes: notes}
}

func (r *AIReport) Execute(ctx context.Context, _ Config) (string, error) {
	if r.ai == nil {
		return "", errors.New("ai provider is not configured")
	}

	samples, err := r.metrics.MetricsSince(ctx, time.Now().Add(-reportWindow))
	if err != nil {
		return "", fmt.Errorf("read metrics: %w", err)
	}

	var avgCPU, avgMem, maxCPU float64
	for _, m := range samples {
		avgCPU += m.CPULoad
		avgMem += m.MemUsedPercent
		if m.CPULoad > maxCPU {
			maxCPU = m.CPULoad
		}
	}
	if n := len(samples); n > 0 {
		avgCPU /= float64(n)
		avgMem /= float64(n)
	}

	prompt := fmt.Sprintf(`Write a short daily report for a home server:
- average CPU: %.1f%%
- average memory: %.1f%%
- peak CPU: %.1f%%
- metric points: %d
Keep it concise.`, avgCPU, avgMem, maxCPU, len(samples))

	report, err := r.ai.Complete(ctx, CompleteRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("generate report: %w", err)
	}

	if err := r.notes.AddNotification(ctx, storage.Notification{
		Type:    "report",
		Title:   "Daily report",
		Message: truncateRunes(report, 500),
	}); err != nil {
		return "", fmt.Errorf("store report: %w", err)
	}
	return fmt.Sprintf("report generated (%d chars)", len([]rune(report))), nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
