package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

// LogHandler is a [slog.Handler] that passes every record to an inner
// handler and also emits it as an OpenTelemetry log record. It resolves the
// global logger provider lazily, so it may be built before [Setup] runs.
type LogHandler struct {
	inner  slog.Handler
	logger otellog.Logger
	attrs  []otellog.KeyValue
	prefix string
}

// NewLogHandler wraps inner, emitting OTel records under scope.
func NewLogHandler(inner slog.Handler, scope string) *LogHandler {
	return newLogHandler(inner, global.GetLoggerProvider().Logger(scope))
}

func newLogHandler(inner slog.Handler, logger otellog.Logger) *LogHandler {
	return &LogHandler{inner: inner, logger: logger}
}

// Enabled follows the inner handler's level.
func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle emits r and hands it to the inner handler.
func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	var rec otellog.Record
	rec.SetTimestamp(r.Time)
	rec.SetObservedTimestamp(time.Now())
	rec.SetSeverity(severity(r.Level))
	rec.SetSeverityText(r.Level.String())
	rec.SetBody(otellog.StringValue(r.Message))
	rec.AddAttributes(h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		rec.AddAttributes(convertAttr(h.prefix, a)...)
		return true
	})
	h.logger.Emit(ctx, rec)

	return h.inner.Handle(ctx, r)
}

// WithAttrs returns a handler carrying attrs on every record.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.inner = h.inner.WithAttrs(attrs)
	next.attrs = append([]otellog.KeyValue(nil), h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, convertAttr(h.prefix, a)...)
	}
	return &next
}

// WithGroup returns a handler qualifying later keys with name.
func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.inner = h.inner.WithGroup(name)
	next.prefix = h.prefix + name + "."
	return &next
}

func severity(l slog.Level) otellog.Severity {
	switch {
	case l >= slog.LevelError:
		return otellog.SeverityError
	case l >= slog.LevelWarn:
		return otellog.SeverityWarn
	case l >= slog.LevelInfo:
		return otellog.SeverityInfo
	default:
		return otellog.SeverityDebug
	}
}

// convertAttr flattens a into dotted keys.
func convertAttr(prefix string, a slog.Attr) []otellog.KeyValue {
	v := a.Value.Resolve()
	key := prefix + a.Key

	switch v.Kind() {
	case slog.KindGroup:
		if a.Key != "" {
			prefix = key + "."
		}
		var out []otellog.KeyValue
		for _, ga := range v.Group() {
			out = append(out, convertAttr(prefix, ga)...)
		}
		return out
	case slog.KindString:
		return []otellog.KeyValue{otellog.String(key, v.String())}
	case slog.KindInt64:
		return []otellog.KeyValue{otellog.Int64(key, v.Int64())}
	case slog.KindUint64:
		return []otellog.KeyValue{otellog.Int64(key, int64(v.Uint64()))} //nolint:gosec // counters stay far below MaxInt64
	case slog.KindFloat64:
		return []otellog.KeyValue{otellog.Float64(key, v.Float64())}
	case slog.KindBool:
		return []otellog.KeyValue{otellog.Bool(key, v.Bool())}
	case slog.KindDuration:
		return []otellog.KeyValue{otellog.String(key, v.Duration().String())}
	case slog.KindTime:
		return []otellog.KeyValue{otellog.String(key, v.Time().Format(time.RFC3339Nano))}
	}

	if a.Key == "" {
		return nil
	}
	if err, ok := v.Any().(error); ok {
		return []otellog.KeyValue{otellog.String(key, err.Error())}
	}
	return []otellog.KeyValue{otellog.String(key, fmt.Sprint(v.Any()))}
}
