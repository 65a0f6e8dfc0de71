package logr

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-logr/logr"
)

var _ logr.LogSink = (*logSink)(nil)

// logSink maps logr verbosity levels onto slog levels: V(0) is INFO, V(1) is
// DEBUG, and every further V-level is one slog level below DEBUG.
type logSink struct {
	handler slog.Handler
	name    string
}

func newLogSink(h slog.Handler) *logSink {
	return &logSink{handler: h}
}

func (s *logSink) Init(logr.RuntimeInfo) {}

func (s *logSink) Enabled(level int) bool {
	return s.handler.Enabled(context.Background(), toSlogLevel(level))
}

func (s *logSink) Info(level int, msg string, keysAndValues ...any) {
	s.handle(toSlogLevel(level), msg, nil, keysAndValues)
}

func (s *logSink) Error(err error, msg string, keysAndValues ...any) {
	s.handle(slog.LevelError, msg, err, keysAndValues)
}

func (s *logSink) handle(level slog.Level, msg string, err error, keysAndValues []any) {
	ctx := context.Background()
	if !s.handler.Enabled(ctx, level) {
		return
	}
	r := slog.NewRecord(time.Now(), level, msg, 0)
	if err != nil {
		r.AddAttrs(slog.Any("error", err))
	}
	r.Add(keysAndValues...)
	_ = s.handler.Handle(ctx, r)
}

func (s *logSink) WithValues(keysAndValues ...any) logr.LogSink {
	return &logSink{
		handler: s.handler.WithAttrs(toAttrs(keysAndValues)),
		name:    s.name,
	}
}

func (s *logSink) WithName(name string) logr.LogSink {
	if s.name != "" {
		name = s.name + "/" + name
	}
	return &logSink{
		handler: s.handler.WithAttrs([]slog.Attr{slog.String("logger", name)}),
		name:    name,
	}
}

func toAttrs(keysAndValues []any) []slog.Attr {
	r := slog.NewRecord(time.Time{}, 0, "", 0)
	r.Add(keysAndValues...)
	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	return attrs
}

// LevelHandler wraps a handler, raising the minimum level it reports.
type LevelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func NewLevelHandler(level slog.Leveler, h slog.Handler) *LevelHandler {
	if lh, ok := h.(*LevelHandler); ok {
		h = lh.handler
	}
	return &LevelHandler{level: level, handler: h}
}

func (h *LevelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *LevelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *LevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewLevelHandler(h.level, h.handler.WithAttrs(attrs))
}

func (h *LevelHandler) WithGroup(name string) slog.Handler {
	return NewLevelHandler(h.level, h.handler.WithGroup(name))
}
