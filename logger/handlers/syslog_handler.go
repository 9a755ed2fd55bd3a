/***************************************************************
 *
 * Copyright (C) 2025, Pelican Project, Morgridge Institute for Research
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

package handlers

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"log/syslog"
	"strings"
	"sync"

	"github.com/chtc/chtc-logengine/config"
)

// syslogCore is shared by a handler and every handler derived from it, since
// they all format into the same buffer before forwarding.
type syslogCore struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	writer *syslog.Writer
}

// SyslogHandler formats records with a child handler and forwards each one to
// syslog at the matching priority.
type SyslogHandler struct {
	core    *syslogCore
	handler slog.Handler
}

// NewSyslogHandler dials the configured syslog endpoint. newHandler builds
// the formatting handler around the internal buffer.
func NewSyslogHandler(syslogOpts config.SyslogOutputConfig, newHandler func(w io.Writer) slog.Handler) (*SyslogHandler, error) {
	writer, err := syslog.Dial(syslogOpts.Network, syslogOpts.Addr, syslog.LOG_DAEMON|syslog.LOG_INFO, syslogOpts.Tag)
	if err != nil {
		return nil, err
	}

	core := &syslogCore{writer: writer}
	return &SyslogHandler{core: core, handler: newHandler(&core.buf)}, nil
}

func (s *SyslogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return s.handler.Enabled(ctx, level)
}

// Required by slog.Handler interface: Processes a log via the writing handler, then
// forward to syslog
func (s *SyslogHandler) Handle(ctx context.Context, r slog.Record) error {
	// Must be thread-safe, need to write to a buffer then immediately read back
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	defer s.core.buf.Reset()

	if err := s.handler.Handle(ctx, r); err != nil {
		return err
	}
	msg := strings.TrimSuffix(s.core.buf.String(), "\n")

	switch {
	case r.Level >= slog.LevelError:
		return s.core.writer.Err(msg)
	case r.Level >= slog.LevelWarn:
		return s.core.writer.Warning(msg)
	case r.Level >= slog.LevelInfo:
		return s.core.writer.Info(msg)
	default:
		return s.core.writer.Debug(msg)
	}
}

// Required by slog.Handler interface: Groups attributes under a namespace for the writing handler
func (s *SyslogHandler) WithGroup(name string) slog.Handler {
	return &SyslogHandler{core: s.core, handler: s.handler.WithGroup(name)}
}

// Required by slog.Handler interface: Adds attributes to the writing handler
func (s *SyslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SyslogHandler{core: s.core, handler: s.handler.WithAttrs(attrs)}
}

// Close releases the syslog connection.
func (s *SyslogHandler) Close() error {
	return s.core.writer.Close()
}
