// Package observability provides logging, metrics and tracing for agent runs.
//
// # Logging
//
// NewLogger returns a *slog.Logger whose handler masks secrets (API keys,
// bearer tokens, JWTs, passwords) in messages and attribute values, and
// adds run correlation attributes stored with WithRunContext:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "text"})
//	ctx = observability.WithRunContext(ctx, runID, sessionKey)
//	logger.InfoContext(ctx, "run started", "agent_id", agentID)
//
// # Metrics
//
// Metrics registers Prometheus collectors prefixed with agentcore_ on the
// given registerer. A nil *Metrics is valid and records nothing.
//
// # Tracing
//
// Tracer wraps an OpenTelemetry tracer. With no endpoint configured it is a
// no-op; otherwise spans are exported over OTLP/gRPC.
package observability
