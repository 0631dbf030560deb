// Recording helpers for medic telemetry events.
// Each function emits an OTel log event and increments a metric counter.
package telemetry

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"

	"github.com/steveyegge/medic/internal/healing"
)

const (
	meterRecorderName = "github.com/steveyegge/medic"
	loggerName        = "medic"
)

type recorderInstruments struct {
	actionTotal       metric.Int64Counter
	tickTotal         metric.Int64Counter
	escalationTotal   metric.Int64Counter
	cancellationTotal metric.Int64Counter
	stalledTotal      metric.Int64Counter

	tickDurationHist metric.Float64Histogram
}

var (
	instOnce sync.Once
	inst     recorderInstruments
)

// initInstruments registers the recorder instruments against the current
// global MeterProvider. Called from Init and lazily on first use.
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterRecorderName)

		inst.actionTotal, _ = m.Int64Counter("medic.healing.actions.total",
			metric.WithDescription("Total recovery actions attempted"),
		)
		inst.tickTotal, _ = m.Int64Counter("medic.monitor.ticks.total",
			metric.WithDescription("Total monitor ticks"),
		)
		inst.escalationTotal, _ = m.Int64Counter("medic.escalations.total",
			metric.WithDescription("Total escalation records written"),
		)
		inst.cancellationTotal, _ = m.Int64Counter("medic.ledger.cancellations.total",
			metric.WithDescription("Total terminal cancellations recorded in the ledger"),
		)
		inst.stalledTotal, _ = m.Int64Counter("medic.monitor.stalled_agents.total",
			metric.WithDescription("Total stalled-agent observations across ticks"),
		)

		inst.tickDurationHist, _ = m.Float64Histogram("medic.monitor.tick.duration_ms",
			metric.WithDescription("Wall-clock duration of one monitor tick in milliseconds"),
			metric.WithUnit("ms"),
		)
	})
}

// statusStr returns "ok" or "error" depending on whether err is nil.
func statusStr(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// emit sends an OTel log event with the given body and key-value attributes.
func emit(ctx context.Context, body string, sev otellog.Severity, attrs ...otellog.KeyValue) {
	logger := global.GetLoggerProvider().Logger(loggerName)
	var r otellog.Record
	r.SetBody(otellog.StringValue(body))
	r.SetSeverity(sev)
	r.AddAttributes(attrs...)
	logger.Emit(ctx, r)
}

// errKV returns a log KeyValue with the error message, or empty string if nil.
func errKV(err error) otellog.KeyValue {
	if err != nil {
		return otellog.String("error", err.Error())
	}
	return otellog.String("error", "")
}

// severity returns SeverityInfo on success, SeverityError on failure.
func severity(err error) otellog.Severity {
	if err != nil {
		return otellog.SeverityError
	}
	return otellog.SeverityInfo
}

// RecordHealingAction records one recovery action (metrics + log event).
func RecordHealingAction(ctx context.Context, a healing.Action) {
	initInstruments()
	var err error
	status := "ok"
	if !a.Success {
		status = "failed"
		if a.Error != "" {
			err = errors.New(a.Error)
		}
	}
	inst.actionTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("status", status),
			attribute.String("action", string(a.Type)),
		),
	)
	sev := severity(err)
	if !a.Success && err == nil {
		sev = otellog.SeverityWarn
	}
	emit(ctx, "healing.action", sev,
		otellog.String("id", a.ID),
		otellog.String("agent", a.Agent.String()),
		otellog.String("action", string(a.Type)),
		otellog.String("reason", a.Reason),
		otellog.Bool("success", a.Success),
		errKV(err),
	)
}

// RecordTick records one monitor tick with its duration and the number of
// stale agents it processed.
func RecordTick(ctx context.Context, stalled int, durationMs float64, err error) {
	initInstruments()
	status := statusStr(err)
	attrs := metric.WithAttributes(attribute.String("status", status))
	inst.tickTotal.Add(ctx, 1, attrs)
	inst.tickDurationHist.Record(ctx, durationMs, attrs)
	if stalled > 0 {
		inst.stalledTotal.Add(ctx, int64(stalled))
	}
	emit(ctx, "monitor.tick", severity(err),
		otellog.Int64("stalled", int64(stalled)),
		otellog.Float64("duration_ms", durationMs),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordEscalation records an escalation marker write.
func RecordEscalation(ctx context.Context, agent string, attemptCount int, err error) {
	initInstruments()
	status := statusStr(err)
	inst.escalationTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	emit(ctx, "escalation", otellog.SeverityWarn,
		otellog.String("agent", agent),
		otellog.Int64("attempt_count", int64(attemptCount)),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordCancellation records a ledger increment.
func RecordCancellation(ctx context.Context, agent string, countToday int, err error) {
	initInstruments()
	status := statusStr(err)
	inst.cancellationTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	emit(ctx, "ledger.cancellation", severity(err),
		otellog.String("agent", agent),
		otellog.Int64("count_today", int64(countToday)),
		otellog.String("status", status),
		errKV(err),
	)
}
