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

package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Embed the default.yaml file into the binary
//
//go:embed resources/default.yaml
var defaultYAML []byte

// Known streams and their template pools, used when the config file does not
// define its own.
var (
	defaultLogTypes = map[string]bool{"series": true, "trades": true, "prices": true}
	defaultLevels   = []LevelWeight{
		{Level: "INFO", Weight: 50},
		{Level: "WARNING", Weight: 20},
		{Level: "ERROR", Weight: 10},
		{Level: "DEBUG", Weight: 20},
	}
	defaultMessages = map[string][]string{
		"series": {
			"End Process Message",
			"Processing series data batch",
			"Successfully processed message",
		},
		"trades": {
			"Start Process Message",
			"Unknown keyword $id - you should define your own Meta Schema.",
		},
		"prices": {
			`Exchange[ExchangePattern: InOnly, BodyType: String, Body: {"msg_code":"690","msg_sequence":1}`,
		},
	}
)

// FallbackMessage is the only template of a stream with no messages configured.
const FallbackMessage = "No message defined"

// Stream store encodings
const (
	FormatJSON = "json"
	FormatLine = "line"
)

type ConsoleOutputConfig struct {
	Enabled    bool `mapstructure:"enabled" yaml:"enabled"`         // Enable or disable console output
	JSONOutput bool `mapstructure:"json_object" yaml:"json_object"` // If true, output JSON objects; disables colors
	Colors     bool `mapstructure:"colors" yaml:"colors"`           // Enable color-coded logs (ignored if JSONOutput is true)
}

type FileOutputConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`             // Enable or disable file output
	FilePath    string `mapstructure:"file_path" yaml:"file_path"`         // Path to the log file
	MaxFileSize int    `mapstructure:"max_file_size" yaml:"max_file_size"` // Max file size in MB
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`     // Number of backups to retain
	MaxAgeDays  int    `mapstructure:"max_age_days" yaml:"max_age_days"`   // Maximum age of log files in days
}

type SyslogOutputConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	JSONOutput bool   `mapstructure:"json_object" yaml:"json_object"`
	Network    string `mapstructure:"network" yaml:"network"` // "udp", "tcp", or "" for the local daemon
	Addr       string `mapstructure:"addr" yaml:"addr"`
	Tag        string `mapstructure:"tag" yaml:"tag"`
}

// DiagnosticsConfig drives the daemon's own slog output, which is separate
// from the synthetic streams it generates.
type DiagnosticsConfig struct {
	LogLevel      string              `mapstructure:"log_level" yaml:"log_level"` // Log level (e.g., DEBUG, INFO, WARN, ERROR)
	ConsoleOutput ConsoleOutputConfig `mapstructure:"console_output" yaml:"console_output"`
	FileOutput    FileOutputConfig    `mapstructure:"file_output" yaml:"file_output"`
	SyslogOutput  SyslogOutputConfig  `mapstructure:"syslog_output" yaml:"syslog_output"`
}

type RetentionConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Cooldown     time.Duration `mapstructure:"cooldown" yaml:"cooldown"` // Extra sleep after a truncation
}

type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// LevelWeight is one severity label and its relative sampling weight.
type LevelWeight struct {
	Level  string  `yaml:"level"`
	Weight float64 `yaml:"weight"`
}

type Config struct {
	LogDir        string              `mapstructure:"log_dir" yaml:"log_dir"`
	OutputFile    string              `mapstructure:"logging_output_file" yaml:"logging_output_file"`
	ControlFile   string              `mapstructure:"log_control_file" yaml:"log_control_file"`
	LogTypes      map[string]bool     `mapstructure:"log_types" yaml:"log_types"`
	StreamOrder   []string            `mapstructure:"stream_order" yaml:"stream_order"`
	IntervalRange []int               `mapstructure:"interval_range" yaml:"interval_range"` // Inclusive [min, max] seconds
	LogLevels     []LevelWeight       `mapstructure:"-" yaml:"log_levels"`
	Categories    map[string]string   `mapstructure:"categories" yaml:"categories"`
	Messages      map[string][]string `mapstructure:"messages" yaml:"messages"`
	Context       string              `mapstructure:"context" yaml:"context"`
	StopDayOfWeek int                 `mapstructure:"stop_day_of_week" yaml:"stop_day_of_week"` // 0 is Sunday
	StopHour      int                 `mapstructure:"stop_hour" yaml:"stop_hour"`
	Format        string              `mapstructure:"format" yaml:"format"`
	Retention     RetentionConfig     `mapstructure:"retention" yaml:"retention"`
	Diagnostics   DiagnosticsConfig   `mapstructure:"diagnostics" yaml:"diagnostics"`
	HTTP          HTTPConfig          `mapstructure:"http" yaml:"http"`
}

// ConfigurationError reports a missing or invalid setting. The daemon does
// not start when loading returns one.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// LoadConfig loads and merges the configuration in this order:
// 1. Defaults from default.yaml (embedded).
// 2. Configurations from a file (if provided).
// 3. Environment variables (LOGENGINE_ prefix).
// 4. Overrides provided programmatically.
// Map-valued settings absent from every source are then defaulted, and the
// result is validated.
func LoadConfig(configFile string, overrides *Config) (*Config, error) {
	v := viper.New()

	// Load embedded default.yaml
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultYAML)); err != nil {
		return nil, err
	}

	// Load from config file if provided
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", configFile, err)
		}
	}

	// Load environment variables, e.g. LOGENGINE_RETENTION_POLL_INTERVAL
	v.SetEnvPrefix("LOGENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Parse into Config struct
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}

	levels, err := parseLevels(v.Get("log_levels"))
	if err != nil {
		return nil, err
	}
	config.LogLevels = levels

	// Apply overrides if provided
	if overrides != nil {
		ApplyOverrides(config, overrides)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// parseLevels accepts either a label -> weight mapping or a plain list of
// labels, which weighs every label equally. Labels are upper-cased since
// viper folds map keys to lower case.
func parseLevels(raw any) ([]LevelWeight, error) {
	if raw == nil {
		return nil, nil
	}

	var levels []LevelWeight
	switch v := raw.(type) {
	case map[string]any:
		for label, w := range v {
			weight, err := cast.ToFloat64E(w)
			if err != nil {
				return nil, &ConfigurationError{Field: "log_levels." + label, Reason: err.Error()}
			}
			levels = append(levels, LevelWeight{Level: strings.ToUpper(label), Weight: weight})
		}
		sort.Slice(levels, func(i, j int) bool { return levels[i].Level < levels[j].Level })
	case []any:
		for _, l := range v {
			label, err := cast.ToStringE(l)
			if err != nil {
				return nil, &ConfigurationError{Field: "log_levels", Reason: err.Error()}
			}
			levels = append(levels, LevelWeight{Level: strings.ToUpper(label), Weight: 1})
		}
	default:
		return nil, &ConfigurationError{Field: "log_levels", Reason: fmt.Sprintf("unsupported type %T", raw)}
	}
	return levels, nil
}

func (c *Config) applyDefaults() {
	if len(c.LogTypes) == 0 {
		c.LogTypes = make(map[string]bool, len(defaultLogTypes))
		for name, enabled := range defaultLogTypes {
			c.LogTypes[name] = enabled
		}
	}
	if len(c.LogLevels) == 0 {
		c.LogLevels = append([]LevelWeight(nil), defaultLevels...)
	}
	if c.Categories == nil {
		c.Categories = make(map[string]string)
	}
	if c.Messages == nil {
		c.Messages = make(map[string][]string)
		for name, templates := range defaultMessages {
			c.Messages[name] = append([]string(nil), templates...)
		}
	}

	for name := range c.LogTypes {
		if _, ok := c.Categories[name]; !ok {
			c.Categories[name] = fmt.Sprintf("CTE.%s.CCP.TO.CCG.Q", strings.ToUpper(name))
		}
		if len(c.Messages[name]) == 0 {
			c.Messages[name] = []string{FallbackMessage}
		}
	}
	if c.Format == "" {
		c.Format = FormatJSON
	}
}

// Validate checks the invariants the daemon relies on.
func (c *Config) Validate() error {
	if c.LogDir == "" {
		return &ConfigurationError{Field: "log_dir", Reason: "cannot be empty"}
	}
	if c.OutputFile == "" {
		return &ConfigurationError{Field: "logging_output_file", Reason: "cannot be empty"}
	}
	if c.ControlFile == "" {
		return &ConfigurationError{Field: "log_control_file", Reason: "cannot be empty"}
	}

	if len(c.IntervalRange) != 2 {
		return &ConfigurationError{Field: "interval_range", Reason: fmt.Sprintf("expected [min, max], got %v", c.IntervalRange)}
	}
	if c.IntervalRange[0] < 0 || c.IntervalRange[0] > c.IntervalRange[1] {
		return &ConfigurationError{Field: "interval_range", Reason: fmt.Sprintf("need 0 <= min <= max, got %v", c.IntervalRange)}
	}

	total := 0.0
	for _, lw := range c.LogLevels {
		if math.IsNaN(lw.Weight) || math.IsInf(lw.Weight, 0) {
			return &ConfigurationError{Field: "log_levels." + lw.Level, Reason: "weight must be a finite number"}
		}
		if lw.Weight < 0 {
			return &ConfigurationError{Field: "log_levels." + lw.Level, Reason: "weight cannot be negative"}
		}
		total += lw.Weight
	}
	if total == 0 {
		return &ConfigurationError{Field: "log_levels", Reason: "at least one weight must be greater than 0"}
	}

	for _, name := range c.Streams() {
		for i, tmpl := range c.Messages[name] {
			if tmpl == "" {
				return &ConfigurationError{Field: fmt.Sprintf("messages.%s[%d]", name, i), Reason: "template cannot be empty"}
			}
		}
	}

	if c.StopDayOfWeek < 0 || c.StopDayOfWeek > 6 {
		return &ConfigurationError{Field: "stop_day_of_week", Reason: fmt.Sprintf("%d not in [0,6]", c.StopDayOfWeek)}
	}
	if c.StopHour < 0 || c.StopHour > 23 {
		return &ConfigurationError{Field: "stop_hour", Reason: fmt.Sprintf("%d not in [0,23]", c.StopHour)}
	}
	if c.Format != FormatJSON && c.Format != FormatLine {
		return &ConfigurationError{Field: "format", Reason: fmt.Sprintf("unknown format %q", c.Format)}
	}
	if c.Retention.PollInterval <= 0 {
		return &ConfigurationError{Field: "retention.poll_interval", Reason: "must be greater than 0"}
	}
	if c.Retention.Cooldown < 0 {
		return &ConfigurationError{Field: "retention.cooldown", Reason: "cannot be negative"}
	}
	return nil
}

// Streams returns the enabled stream names in emission order: stream_order
// first, then any other enabled stream sorted by name.
func (c *Config) Streams() []string {
	seen := make(map[string]bool, len(c.LogTypes))
	streams := make([]string, 0, len(c.LogTypes))
	for _, name := range c.StreamOrder {
		if c.LogTypes[name] && !seen[name] {
			seen[name] = true
			streams = append(streams, name)
		}
	}

	var rest []string
	for name, enabled := range c.LogTypes {
		if enabled && !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(streams, rest...)
}

// Interval returns the inclusive sleep bounds between emission cycles.
func (c *Config) Interval() (lo, hi time.Duration) {
	return time.Duration(c.IntervalRange[0]) * time.Second, time.Duration(c.IntervalRange[1]) * time.Second
}

// RetentionDay is the configured truncation weekday.
func (c *Config) RetentionDay() time.Weekday {
	return time.Weekday(c.StopDayOfWeek)
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	return data, nil
}

// Apply programmatic overrides to the config
func ApplyOverrides(config, overrides *Config) {
	if overrides.LogDir != "" {
		config.LogDir = overrides.LogDir
	}
	if overrides.OutputFile != "" {
		config.OutputFile = overrides.OutputFile
	}
	if overrides.ControlFile != "" {
		config.ControlFile = overrides.ControlFile
	}
	if overrides.LogTypes != nil {
		config.LogTypes = overrides.LogTypes
	}
	if overrides.IntervalRange != nil {
		config.IntervalRange = overrides.IntervalRange
	}
	if overrides.LogLevels != nil {
		config.LogLevels = overrides.LogLevels
	}
	if overrides.Messages != nil {
		config.Messages = overrides.Messages
	}
	if overrides.Format != "" {
		config.Format = overrides.Format
	}
	if overrides.Diagnostics.LogLevel != "" {
		config.Diagnostics.LogLevel = overrides.Diagnostics.LogLevel
	}
	if overrides.Diagnostics.FileOutput.FilePath != "" {
		config.Diagnostics.FileOutput.Enabled = overrides.Diagnostics.FileOutput.Enabled
		config.Diagnostics.FileOutput.FilePath = overrides.Diagnostics.FileOutput.FilePath
	}
}
