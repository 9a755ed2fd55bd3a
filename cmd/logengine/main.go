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
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chtc/chtc-logengine/adapters"
	"github.com/chtc/chtc-logengine/config"
	"github.com/chtc/chtc-logengine/daemon"
	"github.com/chtc/chtc-logengine/logger"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// DefaultConfigFile is used when --config is not given and the file exists.
const DefaultConfigFile = "/usr/local/bin/logengine.config.yaml"

const usage = `Usage: logengine [--config path] <command> [flags]

Commands:
  start [--detach] [--force]   generate logs until stopped
  stop [--signal]              clear the liveness flag
  status [--json]              report whether the generator runs
  config                       print the effective configuration
`

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes one CLI invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	global := pflag.NewFlagSet("logengine", pflag.ContinueOnError)
	global.SetOutput(stderr)
	global.SetInterspersed(false)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	configFile := global.StringP("config", "c", "", "path to a YAML configuration file")
	if err := global.Parse(args); err != nil {
		return 1
	}
	if global.NArg() == 0 {
		fmt.Fprint(stderr, usage)
		return 1
	}
	command, rest := global.Arg(0), global.Args()[1:]

	sub := pflag.NewFlagSet(command, pflag.ContinueOnError)
	sub.SetOutput(stderr)
	var detach, force, adopt, signal, asJSON bool
	switch command {
	case "start":
		sub.BoolVar(&detach, "detach", false, "run the generator in the background")
		sub.BoolVar(&force, "force", false, "start even if a liveness flag is present")
		// Set by --detach on the child it launches
		sub.BoolVar(&adopt, "adopt", false, "wait for stdin to close, then run under the flag installed by the launcher")
		sub.MarkHidden("adopt")
	case "stop":
		sub.BoolVar(&signal, "signal", false, "also send SIGTERM to the recorded process")
	case "status":
		sub.BoolVar(&asJSON, "json", false, "print the status report as JSON")
	case "config":
	default:
		fmt.Fprintf(stderr, "Unknown command %q\n\n%s", command, usage)
		return 1
	}
	if err := sub.Parse(rest); err != nil {
		return 1
	}

	path := *configFile
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	cfg, err := config.LoadConfig(path, nil)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	if command == "config" {
		data, err := cfg.YAML()
		if err != nil {
			fmt.Fprintf(stderr, "Failed to render configuration: %v\n", err)
			return 1
		}
		stdout.Write(data)
		return 0
	}

	diag, err := logger.NewLogger(cfg.Diagnostics, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize diagnostics: %v\n", err)
		return 1
	}
	defer diag.Close()

	console := newConsole(stdout, diag)
	controller := daemon.NewController(cfg, diag.Logger, console)

	switch command {
	case "start":
		if detach {
			return exitCode(startDetached(controller, path, force), console)
		}
		if adopt {
			// The launcher closes our stdin once the flag holds our PID
			io.Copy(io.Discard, stdin)
		}
		return exitCode(controller.Start(ctx, daemon.StartOptions{Force: force, Adopt: adopt}), console)
	case "stop":
		return exitCode(controller.Stop(daemon.StopOptions{Signal: signal}), console)
	default:
		report := controller.Status()
		if asJSON {
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				console.Errorf("Failed to encode status: %v", err)
				return 1
			}
			fmt.Fprintln(stdout, string(data))
		} else {
			fmt.Fprintln(stdout, report.String())
		}
		return 0
	}
}

// newConsole builds the operator console: bare messages on stdout, each
// also mirrored into the diagnostic logger.
func newConsole(out io.Writer, diag *logger.Logger) *logrus.Logger {
	console := logrus.New()
	console.SetOutput(out)
	console.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableQuote: true})
	console.AddHook(adapters.NewSlogHook(diag.Logger))
	return console
}

func startDetached(c *daemon.Controller, configFile string, force bool) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	args := []string{}
	if configFile != "" {
		args = append(args, "--config", configFile)
	}
	args = append(args, "start", "--adopt")
	_, err = c.Detach(exe, args, daemon.StartOptions{Force: force})
	return err
}

// exitCode maps a command result to a process exit status. Conditions the
// controller already reported as non-fatal exit 0; other failures are shown
// unless the controller already did.
func exitCode(err error, console daemon.Console) int {
	switch {
	case err == nil,
		errors.Is(err, daemon.ErrNotRunning),
		errors.Is(err, daemon.ErrProcessGone),
		errors.Is(err, daemon.ErrAlreadyRunning):
		return 0
	case daemon.Reported(err):
		return 1
	default:
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			console.Errorf("Configuration error: %v", err)
		} else {
			console.Errorf("%v", err)
		}
		return 1
	}
}
