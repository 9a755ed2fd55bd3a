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

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/chtc/chtc-logengine/config"
	"github.com/chtc/chtc-logengine/generator"
	"github.com/chtc/chtc-logengine/retention"
	"github.com/chtc/chtc-logengine/stream"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// Version is written to the operations log when the daemon starts.
var Version = "2.1.0"

// Console receives operator-facing messages. *logrus.Logger satisfies it.
type Console interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Controller starts, stops and reports on the daemon. Run state lives only
// in the liveness flag file, so Stop and Status work from any process.
type Controller struct {
	cfg     *config.Config
	flag    *Flag
	ops     *stream.OpsLog
	sink    *stream.Sink
	log     *slog.Logger
	console Console

	pid         int
	signals     []os.Signal
	maxCycles   int
	factoryOpts []generator.Option
	schedOpts   []retention.Option

	stoppedBySignal atomic.Bool
	lastSignal      atomic.Value // os.Signal
}

type ControllerOption func(*Controller)

// WithSignals replaces the termination signals (SIGTERM and SIGINT).
func WithSignals(sigs ...os.Signal) ControllerOption {
	return func(c *Controller) { c.signals = sigs }
}

// WithMaxCycles bounds the emission loop.
func WithMaxCycles(n int) ControllerOption {
	return func(c *Controller) { c.maxCycles = n }
}

// WithFactoryOptions passes options to the record factory built by Start.
func WithFactoryOptions(opts ...generator.Option) ControllerOption {
	return func(c *Controller) { c.factoryOpts = append(c.factoryOpts, opts...) }
}

// WithSchedulerOptions passes options to the retention scheduler built by Start.
func WithSchedulerOptions(opts ...retention.Option) ControllerOption {
	return func(c *Controller) { c.schedOpts = append(c.schedOpts, opts...) }
}

func NewController(cfg *config.Config, log *slog.Logger, console Console, opts ...ControllerOption) *Controller {
	ops := stream.NewOpsLog(cfg.OutputFile)
	c := &Controller{
		cfg:     cfg,
		flag:    NewFlag(cfg.ControlFile),
		ops:     ops,
		sink:    stream.NewSink(cfg, ops),
		log:     log,
		console: console,
		pid:     os.Getpid(),
		signals: []os.Signal{syscall.SIGTERM, syscall.SIGINT},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Flag returns the liveness flag the controller manages.
func (c *Controller) Flag() *Flag {
	return c.flag
}

// StoppedBySignal reports whether the last Start ended on a termination signal.
func (c *Controller) StoppedBySignal() bool {
	return c.stoppedBySignal.Load()
}

// note writes to the operations log, logging rather than returning failures.
func (c *Controller) note(format string, args ...any) {
	if err := c.ops.Printf(format, args...); err != nil {
		c.log.Warn("Failed to write operations log", slog.String("error", err.Error()))
	}
}

type StartOptions struct {
	// Force starts even if a liveness flag is present, taking it over.
	Force bool
	// Adopt is set by a detached child: the launcher installed the flag with
	// the child's PID. Start runs only if the flag still holds that PID and
	// returns nil without running if it is gone.
	Adopt bool
}

// Start runs the daemon in the calling goroutine until the liveness flag is
// removed, a termination signal arrives, ctx is cancelled, or generation
// fails. Only the last case returns an error.
func (c *Controller) Start(ctx context.Context, opts StartOptions) error {
	if err := c.sink.Prepare(); err != nil {
		return err
	}

	exists, err := c.flag.Exists()
	if err != nil {
		return err
	}
	switch {
	case opts.Adopt && !exists:
		c.console.Infof("Logging was stopped before it started.")
		c.note("Logging stopped before start (PID %d).", c.pid)
		return nil
	case opts.Adopt:
		if owner, err := c.flag.PID(); err != nil || owner != c.pid {
			return c.alreadyRunning()
		}
	case exists && !opts.Force:
		return c.alreadyRunning()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Catch signals before the flag exists, so a controller that sees the
	// flag can always signal us safely.
	c.stoppedBySignal.Store(false)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, c.signals...)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			c.lastSignal.Store(sig)
			c.stoppedBySignal.Store(true)
			cancel()
		case <-runCtx.Done():
		}
	}()

	// An adopted flag is already ours; rewriting it could undo a stop
	// that arrived since the check above.
	if !opts.Adopt {
		if err := c.flag.Write(c.pid); err != nil {
			return err
		}
	}
	defer func() {
		if _, err := c.flag.RemoveIfOwner(c.pid); err != nil {
			c.log.Warn("Failed to remove liveness flag", slog.String("error", err.Error()))
		}
	}()

	session := uuid.NewString()
	log := c.log.With(slog.String("session", session), slog.Int("pid", c.pid))

	c.console.Infof("logengine v%s", Version)
	c.console.Infof("Logging started with PID %d", c.pid)
	c.console.Infof("Generating logs in %s", c.cfg.LogDir)
	c.note("logengine v%s", Version)
	c.note("Logging started with PID %d.", c.pid)
	c.note("Session %s.", session)
	log.Info("Logging started",
		slog.String("log_dir", c.cfg.LogDir),
		slog.Any("streams", c.cfg.Streams()),
		slog.String("format", c.cfg.Format),
	)

	err = c.sink.TruncateAll(c.cfg.Streams())
	if err == nil {
		err = c.run(runCtx, cancel, log)
	}

	switch {
	case err != nil:
		c.console.Errorf("Logging process stopped with ERROR: %v", err)
		c.note("Logging process stopped with ERROR: %v", err)
		log.Error("Logging process stopped", slog.String("error", err.Error()))
		return &reportedError{err: err}
	case c.stoppedBySignal.Load():
		name := signalName(c.lastSignal.Load())
		c.console.Infof("Logging stopped manually (%s received).", name)
		c.note("Logging stopped manually (%s received).", name)
		log.Info("Logging stopped by signal", slog.String("signal", name))
	default:
		c.console.Infof("Logging process stopped normally.")
		c.note("Logging process stopped normally.")
		log.Info("Logging process stopped normally")
	}
	return nil
}

func (c *Controller) alreadyRunning() error {
	pid, _ := c.flag.Read()
	c.console.Warnf("Logging is already running with PID %s.", pid)
	c.note("Logging start requested, but already running with PID %s.", pid)
	return fmt.Errorf("%w with PID %s", ErrAlreadyRunning, pid)
}

// run drives the emitter in the foreground and the retention scheduler (and
// the optional status server) in the background until the emitter returns.
func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, log *slog.Logger) error {
	factory := generator.NewFactory(c.cfg, append([]generator.Option{generator.WithPID(c.pid)}, c.factoryOpts...)...)
	emitter := NewEmitter(c.cfg, c.flag, factory, c.sink, log)
	emitter.MaxCycles = c.maxCycles
	scheduler := retention.NewScheduler(c.cfg, c.sink, c.ops, log, c.schedOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	if c.cfg.HTTP.Enabled {
		server := NewStatusServer(c, c.cfg.HTTP.Addr, log)
		g.Go(func() error {
			return server.Run(gctx)
		})
	}
	g.Go(func() error {
		err := emitter.Run(gctx)
		// The background tasks have no stop condition of their own
		cancel()
		return err
	})
	return g.Wait()
}

func signalName(v any) string {
	sig, ok := v.(syscall.Signal)
	if !ok {
		return "signal"
	}
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return sig.String()
}

type StopOptions struct {
	// Signal also sends SIGTERM to the recorded process.
	Signal bool
}

// Stop clears the liveness flag. ErrNotRunning and ErrProcessGone are
// reported to the console and returned for the caller to inspect; neither
// is a failure.
func (c *Controller) Stop(opts StopOptions) error {
	exists, err := c.flag.Exists()
	if err != nil {
		return err
	}
	if !exists {
		c.console.Warnf("Logging is not currently running.")
		c.note("Logging stop requested, but no active flag file found.")
		return ErrNotRunning
	}

	pid, err := c.flag.Read()
	if err != nil || pid == "" {
		pid = "unknown"
	}

	if err := c.flag.Remove(); err != nil {
		return err
	}

	if opts.Signal {
		if err := terminate(pid); err != nil {
			if errors.Is(err, ErrProcessGone) {
				c.console.Warnf("Process not found, cleaning up.")
				c.note("Logging process %s not found, cleaning up.", pid)
			}
			return err
		}
	}

	c.console.Infof("Logger at PID %s has been stopped.", pid)
	c.note("Logging stopped by user (PID %s).", pid)
	return nil
}

// terminate sends SIGTERM to pid.
func terminate(pid string) error {
	n, err := strconv.Atoi(pid)
	if err != nil || n <= 0 {
		return fmt.Errorf("%w: cannot signal PID %q", ErrProcessGone, pid)
	}
	if err := unix.Kill(n, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("%w: PID %d", ErrProcessGone, n)
		}
		return fmt.Errorf("failed to signal PID %d: %w", n, err)
	}
	return nil
}

type StreamStatus struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
	Size   int64  `json:"size"`
}

// Report is the result of Status.
type Report struct {
	Running   bool           `json:"running"`
	PID       string         `json:"pid,omitempty"`
	Streams   []StreamStatus `json:"streams"`
	DiskAvail uint64         `json:"disk_avail"`
	FlagError string         `json:"flag_error,omitempty"`
}

// String renders the report the way the status command prints it.
func (r Report) String() string {
	var b strings.Builder
	switch {
	case r.Running && r.PID != "":
		fmt.Fprintf(&b, "Logger is running with PID %s.\n", r.PID)
	case r.Running:
		b.WriteString("Logger is running, but PID could not be determined.\n")
	case r.FlagError != "":
		fmt.Fprintf(&b, "Logger state unknown: %s\n", r.FlagError)
	default:
		b.WriteString("Logger is not running.\n")
	}
	for _, s := range r.Streams {
		if s.Exists {
			fmt.Fprintf(&b, "%s.log: %d bytes\n", s.Name, s.Size)
		} else {
			fmt.Fprintf(&b, "%s.log: File not found\n", s.Name)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Status reports run state from the liveness flag alone, plus the size of
// every enabled stream. Missing files are reported, not returned as errors.
func (c *Controller) Status() Report {
	running, err := c.flag.Exists()
	report := Report{Running: running}
	if err != nil {
		report.FlagError = err.Error()
	}
	if report.Running {
		if pid, err := c.flag.Read(); err == nil {
			report.PID = pid
		}
	}

	for _, name := range c.cfg.Streams() {
		st := StreamStatus{Name: name, Path: c.sink.Path(name)}
		size, ok, err := c.sink.Size(name)
		if err != nil {
			c.log.Debug("Failed to stat stream", slog.String("stream", name), slog.String("error", err.Error()))
		}
		st.Exists, st.Size = ok, size
		report.Streams = append(report.Streams, st)
	}

	if avail, err := c.sink.DiskAvailable(); err == nil {
		report.DiskAvail = avail
	}
	return report
}

// Detach launches exe with args as a background daemon in its own process
// group, with output appended to the operations log, and returns its PID.
// The flag is installed here with the child's PID before the child is let
// go, so a stop issued right away reaches it. The child reads its stdin to
// EOF before starting and must be run in adopt mode. opts.Force skips the
// already-running check.
func (c *Controller) Detach(exe string, args []string, opts StartOptions) (int, error) {
	exists, err := c.flag.Exists()
	if err != nil {
		return 0, err
	}
	if exists && !opts.Force {
		pid, _ := c.flag.Read()
		c.console.Warnf("Logging process is already running.")
		return 0, fmt.Errorf("%w with PID %s", ErrAlreadyRunning, pid)
	}
	if err := c.sink.Prepare(); err != nil {
		return 0, err
	}

	out, err := os.OpenFile(c.cfg.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open operations log: %w", err)
	}
	defer out.Close()

	gate, release, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("failed to create start gate: %w", err)
	}
	// Closing the write end, on any path, lets the child proceed
	defer release.Close()

	cmd := exec.Command(exe, args...)
	cmd.Stdin = gate
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	err = cmd.Start()
	gate.Close()
	if err != nil {
		return 0, fmt.Errorf("failed to launch daemon: %w", err)
	}
	pid := cmd.Process.Pid

	// Without the flag the released child finds nothing to adopt and exits
	if err := c.flag.Write(pid); err != nil {
		return 0, err
	}
	release.Close()

	// Reap the child if it exits while we are still around
	go cmd.Wait()

	c.console.Infof("Logging started with PID %d", pid)
	c.log.Info("Daemon detached", slog.Int("pid", pid), slog.String("exe", exe))
	return pid, nil
}
