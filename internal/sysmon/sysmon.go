// Package sysmon reads host CPU, memory and temperature figures for the
// health-check job.
package sysmon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"homeserverd/internal/task"
)

// cpuSampleWindow is how long a CPU percent reading averages over. Kept short
// so a health-check run stays well under its job timeout.
const cpuSampleWindow = 500 * time.Millisecond

type Sampler struct{}

func New() *Sampler { return &Sampler{} }

func (s *Sampler) Sample(ctx context.Context) (task.Stats, error) {
	var st task.Stats

	pcts, err := cpu.PercentWithContext(ctx, cpuSampleWindow, false)
	if err != nil {
		return st, fmt.Errorf("cpu: %w", err)
	}
	if len(pcts) > 0 {
		st.CPUPercent = pcts[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return st, fmt.Errorf("memory: %w", err)
	}
	st.MemPercent = vm.UsedPercent

	// Temperature sensors are absent on many boards and inside containers,
	// so a failure here never fails the sample.
	if temps, err := host.SensorsTemperaturesWithContext(ctx); err == nil {
		if t, ok := coreTemp(temps); ok {
			st.Temperature = &t
		}
	}
	return st, nil
}

// coreTemp picks the CPU package sensor when present, otherwise the hottest
// sensor reporting a plausible value.
func coreTemp(temps []host.TemperatureStat) (float64, bool) {
	var best float64
	found := false
	for _, t := range temps {
		if t.Temperature <= 0 {
			continue
		}
		key := strings.ToLower(t.SensorKey)
		if strings.Contains(key, "coretemp") || strings.Contains(key, "cpu") {
			return t.Temperature, true
		}
		if t.Temperature > best {
			best = t.Temperature
			found = true
		}
	}
	return best, found
}
