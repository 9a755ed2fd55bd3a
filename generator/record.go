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

package generator

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/chtc/chtc-logengine/config"
)

// TimeLayout is how record and operations-log timestamps are rendered.
const TimeLayout = "2006-01-02 15:04:05"

// Record is one synthetic log entry. It is built and serialized immediately.
type Record struct {
	Timestamp time.Time
	Thread    string
	PID       int
	Level     string
	Category  string
	Context   string
	Message   string
}

// Factory builds records from an immutable configuration. It is not safe for
// concurrent use; the emission loop owns it.
type Factory struct {
	cfg     *config.Config
	rng     *rand.Rand
	synth   *Synthesizer
	pid     int
	now     func() time.Time
	levels  []string
	weights []float64
}

type Option func(*Factory)

// WithRand makes the factory draw from rng, e.g. a seeded source in tests.
func WithRand(rng *rand.Rand) Option {
	return func(f *Factory) { f.rng = rng }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(f *Factory) { f.now = now }
}

// WithPID overrides the process id stamped on records.
func WithPID(pid int) Option {
	return func(f *Factory) { f.pid = pid }
}

func NewFactory(cfg *config.Config, opts ...Option) *Factory {
	f := &Factory{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		pid: os.Getpid(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.synth = NewSynthesizer(f.rng)

	for _, lw := range cfg.LogLevels {
		f.levels = append(f.levels, lw.Level)
		f.weights = append(f.weights, lw.Weight)
	}
	return f
}

// Build creates one record for stream. Configuration inconsistencies come
// back as *config.ConfigurationError.
func (f *Factory) Build(stream, category, context string) (Record, error) {
	level, err := WeightedChoice(f.rng, f.levels, f.weights)
	if err != nil {
		return Record{}, &config.ConfigurationError{Field: "log_levels", Reason: err.Error()}
	}

	templates := f.cfg.Messages[stream]
	if len(templates) == 0 {
		return Record{}, &config.ConfigurationError{Field: "messages." + stream, Reason: "no templates defined"}
	}
	template := templates[f.rng.Intn(len(templates))]

	return Record{
		Timestamp: f.now(),
		Thread:    fmt.Sprintf("k%d", 100000+f.rng.Intn(900000)),
		PID:       f.pid,
		Level:     level,
		Category:  category,
		Context:   context,
		Message:   f.synth.Synthesize(template),
	}, nil
}

// BuildFor creates a record for stream using its configured category and the
// shared context string.
func (f *Factory) BuildFor(stream string) (Record, error) {
	return f.Build(stream, f.cfg.Categories[stream], f.cfg.Context)
}
