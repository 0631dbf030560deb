package monitor

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/steveyegge/medic/monitor"

// monitorMetrics holds observable gauges for the loop.
// All methods are nil-safe so callers don't need to guard against disabled telemetry.
type monitorMetrics struct {
	mu      sync.RWMutex
	stalled int64
	running int64
}

// newMonitorMetrics registers the gauges against the global MeterProvider.
func newMonitorMetrics() (*monitorMetrics, error) {
	m := otel.GetMeterProvider().Meter(meterName)
	mm := &monitorMetrics{}

	stalledGauge, err := m.Int64ObservableGauge("medic.monitor.stalled_agents",
		metric.WithDescription("Stale agents found by the most recent tick"),
	)
	if err != nil {
		return nil, err
	}

	runningGauge, err := m.Int64ObservableGauge("medic.monitor.running",
		metric.WithDescription("Monitor loop state (1=running, 0=stopped)"),
	)
	if err != nil {
		return nil, err
	}

	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		mm.mu.RLock()
		defer mm.mu.RUnlock()
		o.ObserveInt64(stalledGauge, mm.stalled)
		o.ObserveInt64(runningGauge, mm.running)
		return nil
	}, stalledGauge, runningGauge)
	if err != nil {
		return nil, err
	}
	return mm, nil
}

func (mm *monitorMetrics) setStalled(n int) {
	if mm == nil {
		return
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.stalled = int64(n)
}

func (mm *monitorMetrics) setRunning(running bool) {
	if mm == nil {
		return
	}
	var v int64
	if running {
		v = 1
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.running = v
}
