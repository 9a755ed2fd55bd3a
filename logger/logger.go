/***************************************************************
 *
 * Copyright (C) 2024, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

// Package logger builds the engine's own diagnostic logger. Diagnostics are
// separate from the generated streams and the operations log: they describe
// what the engine is doing, for whoever runs it.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/chtc/chtc-logengine/config"
	handler "github.com/chtc/chtc-logengine/logger/handlers"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a diagnostic logger together with the outputs it must release.
type Logger struct {
	*slog.Logger
	closers []io.Closer
}

// Close releases file and syslog outputs.
func (l *Logger) Close() error {
	var errs []error
	for _, c := range l.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ParseLevel maps a configured level name to a slog level. WARNING is
// accepted alongside slog's own WARN.
func ParseLevel(name string) (slog.Level, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "WARNING" {
		name = "WARN"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, &config.ConfigurationError{Field: "diagnostics.log_level", Reason: fmt.Sprintf("unknown level %q", name)}
	}
	return level, nil
}

// NewLogger creates a diagnostic logger from the diagnostics section of the
// configuration. Console output goes to console.
func NewLogger(cfg config.DiagnosticsConfig, console io.Writer) (*Logger, error) {
	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var (
		handlers []handler.NamedHandler
		closers  []io.Closer
	)

	// Console handler
	if cfg.ConsoleOutput.Enabled {
		var h slog.Handler
		if cfg.ConsoleOutput.JSONOutput {
			h = slog.NewJSONHandler(console, opts)
		} else if cfg.ConsoleOutput.Colors {
			h = &ColorConsoleHandler{output: console, level: level}
		} else {
			h = slog.NewTextHandler(console, opts)
		}
		handlers = append(handlers, handler.NamedHandler{Handler: h, HandlerType: handler.HandlerConsole})
	}

	// File handler
	if cfg.FileOutput.Enabled {
		if cfg.FileOutput.FilePath == "" {
			return nil, &config.ConfigurationError{Field: "diagnostics.file_output.file_path", Reason: "file output enabled but file path is empty"}
		}
		file := &lumberjack.Logger{
			Filename:   cfg.FileOutput.FilePath,
			MaxSize:    cfg.FileOutput.MaxFileSize,
			MaxBackups: cfg.FileOutput.MaxBackups,
			MaxAge:     cfg.FileOutput.MaxAgeDays,
			Compress:   true,
		}
		closers = append(closers, file)
		handlers = append(handlers, handler.NamedHandler{Handler: slog.NewJSONHandler(file, opts), HandlerType: handler.HandlerFile})
	}

	// Syslog handler
	if cfg.SyslogOutput.Enabled {
		newHandler := func(w io.Writer) slog.Handler { return slog.NewTextHandler(w, opts) }
		if cfg.SyslogOutput.JSONOutput {
			newHandler = func(w io.Writer) slog.Handler { return slog.NewJSONHandler(w, opts) }
		}
		syslogHandler, err := handler.NewSyslogHandler(cfg.SyslogOutput, newHandler)
		if err != nil {
			closeAll(closers)
			return nil, fmt.Errorf("failed to connect to syslog at %s: %w", cfg.SyslogOutput.Addr, err)
		}
		closers = append(closers, syslogHandler)
		handlers = append(handlers, handler.NamedHandler{Handler: syslogHandler, HandlerType: handler.HandlerSyslog})
	}

	// Fallback to a basic console logger if no handlers are configured
	if len(handlers) == 0 {
		handlers = append(handlers, handler.NamedHandler{Handler: slog.NewTextHandler(console, opts), HandlerType: handler.HandlerConsole})
	}

	return &Logger{Logger: slog.New(&LogDispatcher{handlers: handlers}), closers: closers}, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}

// --- Handlers ---

// LogDispatcher forwards logs to multiple handlers
type LogDispatcher struct {
	handlers []handler.NamedHandler
}

// Required by slog.Handler interface: Determines if this dispatcher processes a log record at the given level
func (d *LogDispatcher) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range d.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Required by slog.Handler interface: Processes and forwards a log record to all handlers.
// A failing output does not stop the others.
func (d *LogDispatcher) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range d.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.HandlerType, err))
		}
	}
	return errors.Join(errs...)
}

// Required by slog.Handler interface: Groups attributes under a namespace for all handlers
func (d *LogDispatcher) WithGroup(name string) slog.Handler {
	newHandlers := make([]handler.NamedHandler, len(d.handlers))
	for i, h := range d.handlers {
		newHandlers[i] = handler.NamedHandler{Handler: h.WithGroup(name), HandlerType: h.HandlerType}
	}
	return &LogDispatcher{handlers: newHandlers}
}

// Required by slog.Handler interface: Adds attributes to all handlers
func (d *LogDispatcher) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]handler.NamedHandler, len(d.handlers))
	for i, h := range d.handlers {
		newHandlers[i] = handler.NamedHandler{Handler: h.WithAttrs(attrs), HandlerType: h.HandlerType}
	}
	return &LogDispatcher{handlers: newHandlers}
}

// ANSI colors per level
var levelColors = map[slog.Level]string{
	slog.LevelDebug: "\033[36m",
	slog.LevelInfo:  "\033[32m",
	slog.LevelWarn:  "\033[33m",
	slog.LevelError: "\033[31m",
}

const ColorReset = "\033[0m"

// ColorConsoleHandler provides color-coded console logging
type ColorConsoleHandler struct {
	output io.Writer
	level  slog.Level
	attrs  []string
	group  string
}

// Required by slog.Handler interface: Determines if this handler processes a log record at the given level
func (h *ColorConsoleHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

// Required by slog.Handler interface: Processes and outputs a log record
func (h *ColorConsoleHandler) Handle(ctx context.Context, r slog.Record) error {
	// Fetch log level color
	levelColor := levelColors[r.Level]
	if levelColor == "" {
		levelColor = ColorReset
	}

	// Collect attributes
	attrs := append([]string{}, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, h.format(a))
		return true
	})

	// Format and write the log
	message := fmt.Sprintf("%s%s%s: %s [%s]\n", levelColor, r.Level.String(), ColorReset, r.Message, strings.Join(attrs, ", "))
	_, err := io.WriteString(h.output, message)
	return err
}

func (h *ColorConsoleHandler) format(a slog.Attr) string {
	if h.group != "" {
		return fmt.Sprintf("%s.%s=%v", h.group, a.Key, a.Value)
	}
	return fmt.Sprintf("%s=%v", a.Key, a.Value)
}

// Required by slog.Handler interface: Adds attributes to the handler
func (h *ColorConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]string{}, h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, h.format(a))
	}
	return &next
}

// Required by slog.Handler interface: Groups attributes under a namespace
func (h *ColorConsoleHandler) WithGroup(name string) slog.Handler {
	next := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	next.group = name
	return &next
}
