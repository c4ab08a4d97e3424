package notify

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the facade-level, runtime-adjustable settings a Watcher is
// constructed or reconfigured with. Per-watch options (recursion, a
// narrower mask for one path, buffer size) stay functional options on
// Watch/AddWith; Config is for settings that apply watcher-wide and that a
// long-running daemon wants to load from a file rather than wire up in Go.
type Config struct {
	// PollInterval is the delay between scans for the polling backend.
	// Nil means manual polling: the caller drives scans itself via
	// Watcher.Poll. Ignored by native backends. Default 30s.
	PollInterval *time.Duration `yaml:"poll_interval"`

	// CompareContents enables the polling backend's xxhash content
	// comparison fallback. Ignored by native backends.
	CompareContents bool `yaml:"compare_contents"`

	// FollowSymlinks controls whether recursive enumeration (the polling
	// backend's walk, and the file-identity cache's AddPath) follows
	// symlinks. Default true.
	FollowSymlinks bool `yaml:"follow_symlinks"`

	// EventKinds selects which coarse event classes are delivered.
	// Default MaskAll.
	EventKinds EventKindMask `yaml:"event_kinds"`

	// DebounceTimeout, TickRate, and OngoingEvents parameterize a
	// debounce.Mini/debounce.Full wrapped around this Watcher; they are
	// inert unless the caller actually constructs a debouncer. TickRate
	// of zero means DebounceTimeout/4, per the debounce package.
	DebounceTimeout time.Duration `yaml:"debounce_timeout"`
	TickRate        time.Duration `yaml:"tick_rate"`
	OngoingEvents   time.Duration `yaml:"ongoing_events"`
}

// defaultConfigPollInterval is the documented 30s default, distinct from
// backend_poll.go's internal defaultPollInterval (200ms) used when a
// caller adds a raw pollBackend watch directly without going through
// Config — Configure always applies this one.
var defaultConfigPollInterval = 30 * time.Second

// DefaultConfig returns a Config with every field at its documented
// default: automatic polling every 30s, no content comparison, symlinks
// followed, every event kind delivered.
func DefaultConfig() Config {
	iv := defaultConfigPollInterval
	return Config{
		PollInterval:    &iv,
		CompareContents: false,
		FollowSymlinks:  true,
		EventKinds:      MaskAll,
	}
}

// LoadConfig reads a Config from a YAML file, starting from DefaultConfig
// so a partial file only overrides what it mentions.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// validate checks the cross-field invariant the debouncer parameters
// require: the ongoing-event interval can't exceed the overall debounce
// timeout, or a "still going" notice would never fire before the final one.
func (c Config) validate() error {
	if c.OngoingEvents > 0 && c.DebounceTimeout > 0 && c.OngoingEvents > c.DebounceTimeout {
		return ErrInvalidConfig
	}
	return nil
}
