package notify

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if c.PollInterval == nil || *c.PollInterval != 30*time.Second {
		t.Fatalf("PollInterval = %v, want 30s", c.PollInterval)
	}
	if !c.FollowSymlinks {
		t.Fatal("FollowSymlinks: want true by default")
	}
	if c.EventKinds != MaskAll {
		t.Fatalf("EventKinds = %#x, want MaskAll", c.EventKinds)
	}
}

func TestConfigValidate(t *testing.T) {
	c := DefaultConfig()
	c.DebounceTimeout = 1 * time.Second
	c.OngoingEvents = 2 * time.Second
	if err := c.validate(); err != ErrInvalidConfig {
		t.Fatalf("validate() = %v, want ErrInvalidConfig", err)
	}

	c.OngoingEvents = 500 * time.Millisecond
	if err := c.validate(); err != nil {
		t.Fatalf("validate() = %v, want nil", err)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "compare_contents: true\nfollow_symlinks: false\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %s", err)
	}
	if !c.CompareContents {
		t.Fatal("CompareContents: want true from file")
	}
	if c.FollowSymlinks {
		t.Fatal("FollowSymlinks: want false from file")
	}
	// Untouched field keeps the default.
	if c.PollInterval == nil || *c.PollInterval != 30*time.Second {
		t.Fatalf("PollInterval = %v, want default 30s preserved", c.PollInterval)
	}
}
