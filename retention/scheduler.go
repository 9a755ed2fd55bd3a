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

// Package retention clears the stream files once a week.
//
// The scheduler polls the wall clock and fires whenever the poll lands in
// minute 0 of the configured weekday and hour. It is level-triggered: a poll
// period that does not divide the minute evenly may see the boundary minute
// zero or two times, and the cooldown after a truncation only makes a second
// firing less likely.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/chtc/chtc-logengine/config"
)

// Store is the part of the stream sink the scheduler truncates.
type Store interface {
	Truncate(stream string) error
	Path(stream string) string
}

// Recorder receives operator-facing status lines.
type Recorder interface {
	Printf(format string, args ...any) error
}

type Scheduler struct {
	streams  []string
	day      time.Weekday
	hour     int
	poll     time.Duration
	cooldown time.Duration

	store Store
	ops   Recorder
	log   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Scheduler)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSleep overrides how the scheduler waits between polls.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

func NewScheduler(cfg *config.Config, store Store, ops Recorder, log *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		streams:  cfg.Streams(),
		day:      cfg.RetentionDay(),
		hour:     cfg.StopHour,
		poll:     cfg.Retention.PollInterval,
		cooldown: cfg.Retention.Cooldown,
		store:    store,
		ops:      ops,
		log:      log.With(slog.String("component", "retention")),
		now:      time.Now,
		sleep:    Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Due reports whether t falls in the retention boundary minute.
func (s *Scheduler) Due(t time.Time) bool {
	return t.Weekday() == s.day && t.Hour() == s.hour && t.Minute() == 0
}

// Check truncates every stream if t is due and reports whether it did.
// A stream that cannot be truncated is logged and skipped.
func (s *Scheduler) Check(t time.Time) bool {
	if !s.Due(t) {
		return false
	}

	cleared := 0
	for _, stream := range s.streams {
		if err := s.store.Truncate(stream); err != nil {
			s.log.Error("Failed to clear stream",
				slog.String("stream", stream),
				slog.String("error", err.Error()),
			)
			continue
		}
		cleared++
		if err := s.ops.Printf("Log file %s cleared.", s.store.Path(stream)); err != nil {
			s.log.Warn("Failed to write operations log", slog.String("error", err.Error()))
		}
	}

	attrs := []any{
		slog.Int("cleared", cleared),
		slog.Int("streams", len(s.streams)),
		slog.Time("at", t),
	}
	if cleared < len(s.streams) {
		s.log.Warn("Retention boundary reached, some streams not cleared", attrs...)
	} else {
		s.log.Info("Retention boundary reached, streams cleared", attrs...)
	}
	return true
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Debug("Retention scheduler started",
		slog.String("day", s.day.String()),
		slog.Int("hour", s.hour),
		slog.Duration("poll", s.poll),
	)

	for {
		if s.Check(s.now()) {
			if err := s.sleep(ctx, s.cooldown); err != nil {
				break
			}
		}
		if err := s.sleep(ctx, s.poll); err != nil {
			break
		}
	}

	s.log.Debug("Retention scheduler exiting")
	return nil
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
