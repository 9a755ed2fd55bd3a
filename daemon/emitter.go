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
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/chtc/chtc-logengine/config"
	"github.com/chtc/chtc-logengine/generator"
	"github.com/chtc/chtc-logengine/retention"
)

// Builder produces one record for a stream.
type Builder interface {
	BuildFor(stream string) (generator.Record, error)
}

// Appender persists one record to a stream.
type Appender interface {
	Append(stream string, rec generator.Record) error
}

// Emitter is the foreground generation loop. Each cycle writes one record
// to every enabled stream, in order, then sleeps a random whole number of
// seconds within the configured interval.
type Emitter struct {
	streams []string
	lo, hi  int // seconds
	flag    *Flag
	builder Builder
	sink    Appender
	rng     *rand.Rand
	log     *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	// MaxCycles stops the loop after that many cycles; 0 means unlimited.
	MaxCycles int
	cycles    int
}

func NewEmitter(cfg *config.Config, flag *Flag, builder Builder, sink Appender, log *slog.Logger) *Emitter {
	return &Emitter{
		streams: cfg.Streams(),
		lo:      cfg.IntervalRange[0],
		hi:      cfg.IntervalRange[1],
		flag:    flag,
		builder: builder,
		sink:    sink,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		log:     log.With(slog.String("component", "emitter")),
		sleep:   retention.Sleep,
	}
}

// Cycles returns the number of completed cycles.
func (e *Emitter) Cycles() int {
	return e.cycles
}

// Run loops while the liveness flag exists. Removal of the flag and
// cancellation of ctx both end the loop without error; a failure to build or
// write a record, or to check the flag, is returned.
func (e *Emitter) Run(ctx context.Context) error {
	for {
		running, err := e.flag.Exists()
		if err != nil {
			return err
		}
		if !running {
			break
		}
		if ctx.Err() != nil {
			return nil
		}

		for _, stream := range e.streams {
			rec, err := e.builder.BuildFor(stream)
			if err != nil {
				return fmt.Errorf("failed to build %s record: %w", stream, err)
			}
			if err := e.sink.Append(stream, rec); err != nil {
				return err
			}
		}

		e.cycles++
		if e.MaxCycles > 0 && e.cycles >= e.MaxCycles {
			e.log.Debug("Cycle limit reached", slog.Int("cycles", e.cycles))
			return nil
		}

		if err := e.sleep(ctx, e.interval()); err != nil {
			return nil
		}
	}

	e.log.Info("Liveness flag removed, stopping", slog.String("flag", e.flag.Path()))
	return nil
}

func (e *Emitter) interval() time.Duration {
	return time.Duration(e.lo+e.rng.Intn(e.hi-e.lo+1)) * time.Second
}
