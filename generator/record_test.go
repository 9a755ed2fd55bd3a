package generator

import (
	"errors"
	"math/rand"
	"regexp"
	"testing"
	"time"

	"github.com/chtc/chtc-logengine/config"
)

func testConfig() *config.Config {
	return &config.Config{
		LogTypes:   map[string]bool{"trades": true},
		LogLevels:  []config.LevelWeight{{Level: "INFO", Weight: 1}, {Level: "ERROR", Weight: 0}},
		Categories: map[string]string{"trades": "CTE.TRADES.CCP.TO.CCG.Q"},
		Messages:   map[string][]string{"trades": {"Start Process Message", "Trade * settled"}},
		Context:    "Camel (camel-1) thread #1",
	}
}

func TestFactoryBuild(t *testing.T) {
	fixed := time.Date(2025, 3, 8, 12, 30, 0, 0, time.UTC)
	f := NewFactory(testConfig(),
		WithRand(rand.New(rand.NewSource(3))),
		WithClock(func() time.Time { return fixed }),
		WithPID(4242),
	)

	threadPattern := regexp.MustCompile(`^k\d{6}$`)
	for i := 0; i < 200; i++ {
		rec, err := f.BuildFor("trades")
		if err != nil {
			t.Fatalf("BuildFor failed: %v", err)
		}
		if rec.Level != "INFO" {
			t.Fatalf("zero-weight level drawn: %q", rec.Level)
		}
		if !threadPattern.MatchString(rec.Thread) {
			t.Errorf("thread %q does not match k + 6 digits", rec.Thread)
		}
		if rec.PID != 4242 || !rec.Timestamp.Equal(fixed) {
			t.Errorf("unexpected pid/timestamp %d/%v", rec.PID, rec.Timestamp)
		}
		if rec.Category != "CTE.TRADES.CCP.TO.CCG.Q" || rec.Context != "Camel (camel-1) thread #1" {
			t.Errorf("unexpected category/context %q/%q", rec.Category, rec.Context)
		}
		if regexp.MustCompile(`\*`).MatchString(rec.Message) {
			t.Errorf("message %q still holds a marker", rec.Message)
		}
	}
}

func TestFactoryConfigurationErrors(t *testing.T) {
	cfg := testConfig()
	cfg.LogLevels = []config.LevelWeight{{Level: "INFO", Weight: 0}}
	f := NewFactory(cfg, WithRand(rand.New(rand.NewSource(1))))

	var cfgErr *config.ConfigurationError
	if _, err := f.BuildFor("trades"); !errors.As(err, &cfgErr) || cfgErr.Field != "log_levels" {
		t.Errorf("all-zero weights: got %v", err)
	}

	f = NewFactory(testConfig(), WithRand(rand.New(rand.NewSource(1))))
	if _, err := f.BuildFor("unknown"); !errors.As(err, &cfgErr) || cfgErr.Field != "messages.unknown" {
		t.Errorf("missing templates: got %v", err)
	}
}
