package daemon

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/steveyegge/medic/daemon"

// daemonMetrics holds OTel instruments for the daemon.
// All methods are nil-safe so callers don't need to guard against disabled telemetry.
type daemonMetrics struct {
	// stateWriteTotal counts state.json writes, labeled by status.
	stateWriteTotal metric.Int64Counter

	mu              sync.RWMutex
	openEscalations int64
	maxAttempts     int64
}

// newDaemonMetrics registers the daemon instruments against the global
// MeterProvider. Must be called after telemetry.Init.
func newDaemonMetrics() (*daemonMetrics, error) {
	m := otel.GetMeterProvider().Meter(meterName)
	dm := &daemonMetrics{}

	var err error
	dm.stateWriteTotal, err = m.Int64Counter("medic.daemon.state_writes.total",
		metric.WithDescription("Total daemon state file writes"),
	)
	if err != nil {
		return nil, err
	}

	escalationsGauge, err := m.Int64ObservableGauge("medic.escalations.open",
		metric.WithDescription("Agents with an escalation record awaiting manual intervention"),
	)
	if err != nil {
		return nil, err
	}

	attemptsGauge, err := m.Int64ObservableGauge("medic.recovery.max_attempts",
		metric.WithDescription("Highest consecutive failed recovery count across the fleet"),
	)
	if err != nil {
		return nil, err
	}

	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		dm.mu.RLock()
		defer dm.mu.RUnlock()
		o.ObserveInt64(escalationsGauge, dm.openEscalations)
		o.ObserveInt64(attemptsGauge, dm.maxAttempts)
		return nil
	}, escalationsGauge, attemptsGauge)
	if err != nil {
		return nil, err
	}

	return dm, nil
}

func (dm *daemonMetrics) recordStateWrite(ctx context.Context, err error) {
	if dm == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	dm.stateWriteTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (dm *daemonMetrics) update(openEscalations, maxAttempts int) {
	if dm == nil {
		return
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.openEscalations = int64(openEscalations)
	dm.maxAttempts = int64(maxAttempts)
}
