// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// UserIDKey is the context key for user ID
	UserIDKey contextKey = "user_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	return NewWithWriter(env, os.Stdout)
}

// NewWithWriter creates a logger that writes to w. Tests pass io.Discard.
func NewWithWriter(env string, w io.Writer) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with context values extracted.
// Supports request_id and user_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = newLogger.WithRequestID(requestID)
	}

	if userID, ok := ctx.Value(UserIDKey).(string); ok && userID != "" {
		newLogger = newLogger.WithUserID(userID)
	}

	return newLogger
}

// WithRequestID returns a logger with request ID
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("request_id", requestID)),
	}
}

// WithUserID returns a logger with user ID
func (l *Logger) WithUserID(userID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("user_id", userID)),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// HTTPError logs an HTTP error
func (l *Logger) HTTPError(method, path string, status int, err error, clientIP string) {
	l.Error("http_error",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
		slog.String("client_ip", clientIP),
	)
}

// StageTransition logs a persisted stage change for a lead or deal.
func (l *Logger) StageTransition(entityType, entityID, from, to, triggeredBy string, rulesetVersion int) {
	l.Info("stage_transition",
		slog.String("entity_type", entityType),
		slog.String("entity_id", entityID),
		slog.String("from", from),
		slog.String("to", to),
		slog.String("triggered_by", triggeredBy),
		slog.Int("ruleset_version", rulesetVersion),
	)
}

// StageLockDenied logs a downgrade that the stability lock refused.
func (l *Logger) StageLockDenied(entityID, current, proposed, reason string) {
	l.Warn("stage_lock_denied",
		slog.String("entity_id", entityID),
		slog.String("current", current),
		slog.String("proposed", proposed),
		slog.String("reason", reason),
	)
}

// DealSynced logs the outcome of a deal sync, including no-op syncs.
func (l *Logger) DealSynced(dealID, stage, reason string, changed bool) {
	l.Info("deal_synced",
		slog.String("deal_id", dealID),
		slog.String("stage", stage),
		slog.String("reason", reason),
		slog.Bool("changed", changed),
	)
}

// CascadeFailed logs a lead-to-deal sync that could not be written.
func (l *Logger) CascadeFailed(leadID, dealID string, err error) {
	l.Warn("deal_cascade_failed",
		slog.String("lead_id", leadID),
		slog.String("deal_id", dealID),
		slog.String("error", err.Error()),
	)
}

// RulesetPublished logs a new ruleset snapshot version.
func (l *Logger) RulesetPublished(version int, change, archiveKey string) {
	l.Info("ruleset_published",
		slog.Int("version", version),
		slog.String("change", change),
		slog.String("archive_key", archiveKey),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// RateLimitExceeded logs rate limit events
func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", clientIP),
		slog.String("path", path),
	)
}
