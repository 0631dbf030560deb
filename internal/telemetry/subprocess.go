package telemetry

import "strings"

// buildResourceAttrs builds the OTEL_RESOURCE_ATTRIBUTES value describing
// which agent a spawned command acts for.
func buildResourceAttrs(agent, caller string) string {
	var attrs []string
	if agent != "" {
		attrs = append(attrs, "medic.agent="+agent)
	}
	if caller != "" {
		attrs = append(attrs, "medic.caller="+caller)
	}
	return strings.Join(attrs, ",")
}

// EnvForSubprocess returns OTEL environment variables to inject into a
// collaborator subprocess so it reports to the same endpoints as medic.
// Returns nil when telemetry is disabled.
func EnvForSubprocess(agent, caller string) []string {
	metricsURL, logsURL, enabled := endpoints()
	if !enabled {
		return nil
	}
	var env []string
	if attrs := buildResourceAttrs(agent, caller); attrs != "" {
		env = append(env, "OTEL_RESOURCE_ATTRIBUTES="+attrs)
	}
	return append(env,
		"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT="+metricsURL,
		"OTEL_EXPORTER_OTLP_LOGS_ENDPOINT="+logsURL,
	)
}
