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

package retention

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chtc/chtc-logengine/config"
	"github.com/chtc/chtc-logengine/stream"
)

// Saturday 2025-03-08 00:00 local time
var boundary = time.Date(2025, 3, 8, 0, 0, 15, 0, time.Local)

func testSetup(t *testing.T) (*config.Config, *stream.Sink) {
	t.Helper()
	tmpDir := t.TempDir()
	cfg := &config.Config{
		LogDir:        filepath.Join(tmpDir, "ccp_logs"),
		OutputFile:    filepath.Join(tmpDir, "logging_output.log"),
		LogTypes:      map[string]bool{"series": true, "trades": true, "prices": false},
		StreamOrder:   []string{"series", "trades", "prices"},
		StopDayOfWeek: int(time.Saturday),
		StopHour:      0,
		Format:        config.FormatJSON,
		Retention: config.RetentionConfig{
			PollInterval: 30 * time.Second,
			Cooldown:     60 * time.Second,
		},
	}
	sink := stream.NewSink(cfg, stream.NewOpsLog(cfg.OutputFile))
	if err := sink.Prepare(); err != nil {
		t.Fatalf("failed to prepare sink: %v", err)
	}

	for _, name := range []string{"series", "trades", "prices"} {
		if err := os.WriteFile(sink.Path(name), []byte("{\"level\":\"INFO\"}\n"), 0o644); err != nil {
			t.Fatalf("failed to seed %s: %v", name, err)
		}
	}
	return cfg, sink
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("failed to stat %s: %v", path, err)
	}
	return info.Size()
}

func TestDue(t *testing.T) {
	cfg, sink := testSetup(t)
	s := NewScheduler(cfg, sink, sink.Ops(), discardLogger())

	tests := []struct {
		at   time.Time
		want bool
	}{
		{boundary, true},
		{boundary.Add(44 * time.Second), true},
		{boundary.Add(time.Minute), false},
		{boundary.Add(time.Hour), false},
		{boundary.AddDate(0, 0, 1), false},
		{boundary.AddDate(0, 0, 7), true},
	}
	for _, tt := range tests {
		if got := s.Due(tt.at); got != tt.want {
			t.Errorf("Due(%v) = %v, want %v", tt.at, got, tt.want)
		}
	}
}

func TestCheckTruncatesEnabledStreams(t *testing.T) {
	cfg, sink := testSetup(t)
	s := NewScheduler(cfg, sink, sink.Ops(), discardLogger())

	if !s.Check(boundary) {
		t.Fatal("expected Check to fire at the boundary")
	}
	for _, name := range []string{"series", "trades"} {
		if size := fileSize(t, sink.Path(name)); size != 0 {
			t.Errorf("%s not truncated: %d bytes", name, size)
		}
	}
	// Disabled streams are left alone
	if size := fileSize(t, sink.Path("prices")); size == 0 {
		t.Error("disabled stream prices was truncated")
	}

	ops, err := os.ReadFile(cfg.OutputFile)
	if err != nil {
		t.Fatalf("failed to read operations log: %v", err)
	}
	for _, name := range []string{"series", "trades"} {
		want := fmt.Sprintf("Log file %s cleared.", sink.Path(name))
		if !strings.Contains(string(ops), want) {
			t.Errorf("operations log missing %q", want)
		}
	}
}

func TestCheckReportsFailedStreams(t *testing.T) {
	cfg, sink := testSetup(t)
	// A directory in place of the series file cannot be truncated
	if err := os.Remove(sink.Path("series")); err != nil {
		t.Fatalf("failed to remove series: %v", err)
	}
	if err := os.Mkdir(sink.Path("series"), 0o755); err != nil {
		t.Fatalf("failed to block series: %v", err)
	}

	var buf strings.Builder
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	s := NewScheduler(cfg, sink, sink.Ops(), log)

	if !s.Check(boundary) {
		t.Fatal("expected Check to fire at the boundary")
	}
	if size := fileSize(t, sink.Path("trades")); size != 0 {
		t.Errorf("trades not truncated after series failed: %d bytes", size)
	}

	out := buf.String()
	for _, want := range []string{
		`"msg":"Failed to clear stream"`,
		`"level":"WARN","msg":"Retention boundary reached, some streams not cleared"`,
		`"cleared":1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %s:\n%s", want, out)
		}
	}
	if strings.Contains(out, "streams cleared\"") {
		t.Errorf("boundary logged as fully cleared:\n%s", out)
	}

	ops, err := os.ReadFile(cfg.OutputFile)
	if err != nil {
		t.Fatalf("failed to read operations log: %v", err)
	}
	if strings.Contains(string(ops), sink.Path("series")+" cleared") {
		t.Error("operations log claims series was cleared")
	}
}

func TestCheckOutsideBoundary(t *testing.T) {
	cfg, sink := testSetup(t)
	s := NewScheduler(cfg, sink, sink.Ops(), discardLogger())

	if s.Check(boundary.Add(2 * time.Minute)) {
		t.Fatal("Check fired outside the boundary")
	}
	if size := fileSize(t, sink.Path("series")); size == 0 {
		t.Error("series truncated outside the boundary")
	}
}

func TestRunSleepsCooldownAfterFiring(t *testing.T) {
	cfg, sink := testSetup(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var slept []time.Duration
	fakeSleep := func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		if len(slept) == 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	// First poll at the boundary, second one a minute later
	polls := []time.Time{boundary, boundary.Add(time.Minute)}
	clock := func() time.Time {
		now := polls[0]
		if len(polls) > 1 {
			polls = polls[1:]
		}
		return now
	}

	s := NewScheduler(cfg, sink, sink.Ops(), discardLogger(), WithClock(clock), WithSleep(fakeSleep))
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	want := []time.Duration{60 * time.Second, 30 * time.Second, 30 * time.Second}
	if fmt.Sprint(slept) != fmt.Sprint(want) {
		t.Errorf("sleeps = %v, want %v", slept, want)
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := Sleep(ctx, time.Hour); err == nil {
		t.Fatal("expected cancelled sleep to return an error")
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled sleep did not return promptly")
	}
}
