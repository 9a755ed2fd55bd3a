package adapters

import (
	"context"
	"log/slog"

	"github.com/sirupsen/logrus"
)

var levelMapper = map[logrus.Level]slog.Level{
	logrus.TraceLevel: slog.LevelDebug,
	logrus.DebugLevel: slog.LevelDebug,
	logrus.InfoLevel:  slog.LevelInfo,
	logrus.WarnLevel:  slog.LevelWarn,
	logrus.ErrorLevel: slog.LevelError,
	logrus.FatalLevel: slog.LevelError,
	logrus.PanicLevel: slog.LevelError,
}

// SlogHook copies every entry of a logrus logger into a slog logger, so
// operator console messages also land in the diagnostic outputs.
type SlogHook struct {
	slogger *slog.Logger
}

// NewSlogHook returns a hook forwarding to slogger. Forwarded records carry
// source=console.
func NewSlogHook(slogger *slog.Logger) *SlogHook {
	return &SlogHook{slogger: slogger.With(slog.String("source", "console"))}
}

// Levels implements logrus.Hook.
func (h *SlogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (h *SlogHook) Fire(entry *logrus.Entry) error {
	level, exists := levelMapper[entry.Level]
	if !exists {
		level = slog.LevelInfo
	}

	ctx := entry.Context
	if ctx == nil {
		ctx = context.Background()
	}

	fields := make([]any, 0, len(entry.Data))
	for field, val := range entry.Data {
		fields = append(fields, slog.Any(field, val))
	}

	h.slogger.Log(ctx, level, entry.Message, fields...)
	return nil
}
