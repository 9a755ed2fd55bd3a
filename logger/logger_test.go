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
package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chtc/chtc-logengine/config"
)

// TestFileOutput validates that the file output receives JSON records with
// the attributes of child loggers.
func TestFileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logengine.log")

	cfg := config.DiagnosticsConfig{
		LogLevel: "DEBUG",
		FileOutput: config.FileOutputConfig{
			Enabled:  true,
			FilePath: logPath,
		},
	}

	l, err := NewLogger(cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	l.With(slog.String("session", "abcde")).Info("Logging started", slog.String("log_dir", "/tmp/streams"))
	if err := l.Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}

	// Read the log file and validate its contents
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	logContents := string(content)
	expectedValues := []string{
		`"session":"abcde"`,
		`"log_dir":"/tmp/streams"`,
		`"msg":"Logging started"`,
		`"level":"INFO"`,
	}
	for _, value := range expectedValues {
		if !strings.Contains(logContents, value) {
			t.Errorf("log does not contain expected value: %s", value)
		}
	}
}

func TestConsoleLevelFilter(t *testing.T) {
	for _, tt := range []struct {
		name string
		out  config.ConsoleOutputConfig
	}{
		{"text", config.ConsoleOutputConfig{Enabled: true}},
		{"json", config.ConsoleOutputConfig{Enabled: true, JSONOutput: true}},
		{"colors", config.ConsoleOutputConfig{Enabled: true, Colors: true}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l, err := NewLogger(config.DiagnosticsConfig{LogLevel: "WARNING", ConsoleOutput: tt.out}, &buf)
			if err != nil {
				t.Fatalf("failed to initialize logger: %v", err)
			}

			l.Info("quiet")
			l.Warn("loud", slog.String("stream", "series"))

			out := buf.String()
			if strings.Contains(out, "quiet") {
				t.Errorf("INFO record passed a WARNING threshold: %q", out)
			}
			if !strings.Contains(out, "loud") || !strings.Contains(out, "series") {
				t.Errorf("WARN record missing: %q", out)
			}
		})
	}
}

func TestColorConsoleAttrs(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(config.DiagnosticsConfig{
		LogLevel:      "INFO",
		ConsoleOutput: config.ConsoleOutputConfig{Enabled: true, Colors: true},
	}, &buf)
	if err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	l.With(slog.Int("pid", 42)).WithGroup("stream").Error("write failed", slog.String("name", "prices"))

	want := levelColors[slog.LevelError] + "ERROR" + ColorReset + ": write failed [pid=42, stream.name=prices]\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestFallbackConsole(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(config.DiagnosticsConfig{LogLevel: "INFO"}, &buf)
	if err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	l.Info("fallback")
	if !strings.Contains(buf.String(), "msg=fallback") {
		t.Errorf("expected text fallback output, got %q", buf.String())
	}
}

func TestInvalidDiagnostics(t *testing.T) {
	_, err := NewLogger(config.DiagnosticsConfig{LogLevel: "LOUD"}, &bytes.Buffer{})
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "diagnostics.log_level" {
		t.Errorf("expected log_level configuration error, got %v", err)
	}

	_, err = NewLogger(config.DiagnosticsConfig{
		LogLevel:   "INFO",
		FileOutput: config.FileOutputConfig{Enabled: true},
	}, &bytes.Buffer{})
	if !errors.As(err, &cfgErr) || cfgErr.Field != "diagnostics.file_output.file_path" {
		t.Errorf("expected file_path configuration error, got %v", err)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestDispatcherNamesFailingHandler(t *testing.T) {
	l, err := NewLogger(config.DiagnosticsConfig{
		LogLevel:      "INFO",
		ConsoleOutput: config.ConsoleOutputConfig{Enabled: true},
	}, failingWriter{})
	if err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}

	var r slog.Record
	r.Level = slog.LevelInfo
	r.Message = "hello"
	err = l.Handler().Handle(context.Background(), r)
	if err == nil || !strings.Contains(err.Error(), "console_output: disk gone") {
		t.Errorf("expected named console error, got %v", err)
	}
}
