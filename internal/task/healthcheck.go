package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"homeserverd/internal/storage"
	"homeserverd/pkg/logx"
)

// Warning thresholds.
const (
	cpuWarnPercent  = 80.0
	memWarnPercent  = 90.0
	tempWarnDegrees = 80.0
)

// MetricsAppender is the slice of storage the health check writes to.
type MetricsAppender interface {
	AppendMetric(ctx context.Context, m storage.MetricSample) error
}

// HealthCheck samples CPU/memory/temperature, appends a metrics row, and
// raises a warning event when thresholds are exceeded.
type HealthCheck struct {
	sampler Sampler
	metrics MetricsAppender
	bus     Publisher
	log     logx.Logger
}

func NewHealthCheck(sampler Sampler, metrics MetricsAppender, bus Publisher, log logx.Logger) *HealthCheck {
	return &HealthCheck{sampler: sampler, metrics: metrics, bus: bus, log: log}
}

func (h *HealthCheck) Execute(ctx context.Context, _ Config) (string, error) {
	st, err := h.sampler.Sample(ctx)
	if err != nil {
		return "", fmt.Errorf("system sample: %w", err)
	}

	// Metric write is best effort: a full disk must not fail the probe.
	if err := h.metrics.AppendMetric(ctx, storage.MetricSample{
		CPULoad:        st.CPUPercent,
		MemUsedPercent: st.MemPercent,
		Temperature:    st.Temperature,
		RecordedAt:     time.Now(),
	}); err != nil {
		h.log.Warn("metric append failed", logx.Err(err))
	}

	var warnings []string
	if st.CPUPercent > cpuWarnPercent {
		warnings = append(warnings, fmt.Sprintf("CPU overload: %.1f%%", st.CPUPercent))
	}
	if st.MemPercent > memWarnPercent {
		warnings = append(warnings, fmt.Sprintf("memory pressure: %.1f%%", st.MemPercent))
	}
	if st.Temperature != nil && *st.Temperature > tempWarnDegrees {
		warnings = append(warnings, fmt.Sprintf("temperature high: %.1f°C", *st.Temperature))
	}

	if len(warnings) > 0 {
		h.bus.Publish("alert", map[string]any{"type": "warning", "messages": warnings})
	}

	msg := fmt.Sprintf("CPU: %.1f%%, RAM: %.1f%%", st.CPUPercent, st.MemPercent)
	if len(warnings) > 0 {
		return msg + " [" + strings.Join(warnings, ", ") + "]", nil
	}
	return msg + " OK", nil
}
