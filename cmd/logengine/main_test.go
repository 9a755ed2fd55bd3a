package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chtc/chtc-logengine/daemon"
)

// writeTestConfig points every path into a temp dir and keeps diagnostics
// off the real filesystem.
func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "logengine.config.yaml")
	body := fmt.Sprintf(`
log_dir: %[1]s/ccp_logs
logging_output_file: %[1]s/logging_output.log
log_control_file: %[1]s/logging_active.flag
interval_range: [0, 0]
diagnostics:
  log_level: ERROR
  file_output:
    enabled: false
`, dir)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path, dir
}

func invoke(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(""), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUsage(t *testing.T) {
	code, _, stderr := invoke()
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: logengine")

	code, _, stderr = invoke("restart")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, `Unknown command "restart"`)

	code, _, _ = invoke("stop", "--bogus")
	assert.Equal(t, 1, code)
}

func TestConfigCommand(t *testing.T) {
	path, dir := writeTestConfig(t)

	code, stdout, _ := invoke("--config", path, "config")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "log_dir: "+dir+"/ccp_logs")
	assert.Contains(t, stdout, "stop_day_of_week: 6")
}

func TestInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stop_hour: 99\n"), 0o644))

	code, _, stderr := invoke("--config", path, "status")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "stop_hour")
}

func TestStopWhenNotRunning(t *testing.T) {
	path, dir := writeTestConfig(t)

	code, stdout, _ := invoke("--config", path, "stop")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Logging is not currently running.")

	ops, err := os.ReadFile(filepath.Join(dir, "logging_output.log"))
	require.NoError(t, err)
	assert.Contains(t, string(ops), "Logging stop requested, but no active flag file found.")
}

func TestStatusJSON(t *testing.T) {
	path, dir := writeTestConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logging_active.flag"), []byte("4242"), 0o644))

	code, stdout, _ := invoke("--config", path, "status", "--json")
	require.Equal(t, 0, code)

	var report daemon.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.True(t, report.Running)
	assert.Equal(t, "4242", report.PID)
	assert.Len(t, report.Streams, 3)

	code, stdout, _ = invoke("--config", path, "stop")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Logger at PID 4242 has been stopped.")

	code, stdout, _ = invoke("--config", path, "status")
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout, "Logger is not running."))
}

func TestStartUntilStopped(t *testing.T) {
	path, dir := writeTestConfig(t)
	flag := filepath.Join(dir, "logging_active.flag")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan int, 1)
	var stdout bytes.Buffer
	go func() {
		done <- run(ctx, []string{"--config", path, "start"}, strings.NewReader(""), &stdout, &bytes.Buffer{})
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(flag)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	code, _, _ := invoke("--config", path, "start")
	assert.Equal(t, 0, code, "second start is reported, not failed")

	code, _, _ = invoke("--config", path, "stop")
	require.Equal(t, 0, code)

	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("start did not return after stop")
	}
	assert.Contains(t, stdout.String(), "Logging process stopped normally.")
}

func TestGenerationFailureReportedOnce(t *testing.T) {
	path, dir := writeTestConfig(t)
	// A directory in place of a stream file makes the run fail
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ccp_logs", "series.log"), 0o755))

	code, stdout, _ := invoke("--config", path, "start")
	assert.Equal(t, 1, code)
	assert.Equal(t, 1, strings.Count(stdout, "failed to truncate stream series"), stdout)
	assert.Contains(t, stdout, "Logging process stopped with ERROR:")
}

func TestAdoptWithoutFlag(t *testing.T) {
	path, dir := writeTestConfig(t)

	code, stdout, _ := invoke("--config", path, "start", "--adopt")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Logging was stopped before it started.")
	_, err := os.Stat(filepath.Join(dir, "logging_active.flag"))
	assert.True(t, os.IsNotExist(err))
}
