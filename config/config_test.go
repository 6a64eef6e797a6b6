package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "emubridge.yaml")

	yaml := `
core:
  path: /usr/local/bin/refcore
  rom: /roms/sonic.md
  headless: true
session:
  stop_timeout: 500ms
audio:
  volume: 0.25
  window_size: 2000
log:
  verbose: true
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Core.Path != "/usr/local/bin/refcore" || cfg.Core.ROMPath != "/roms/sonic.md" || !cfg.Core.Headless {
		t.Errorf("core = %+v", cfg.Core)
	}
	if cfg.Session.StopTimeout != 500*time.Millisecond {
		t.Errorf("StopTimeout = %v, want 500ms", cfg.Session.StopTimeout)
	}
	if cfg.Audio.Volume != 0.25 || cfg.Audio.WindowSize != 2000 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if !cfg.Log.Verbose {
		t.Error("Log.Verbose = false, want true")
	}

	// Untouched fields keep their defaults.
	if cfg.Audio.IdealBufferSize != 2048 || cfg.Audio.PressureFactor != 0.002 {
		t.Errorf("defaults lost: %+v", cfg.Audio)
	}
	if !cfg.Session.Active || !cfg.Session.RestartOnExit {
		t.Errorf("session defaults lost: %+v", cfg.Session)
	}
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "core: [\n"},
		{"volume", "audio:\n  volume: 2\n"},
		{"timeout", "session:\n  stop_timeout: -1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := filepath.Join(dir, tt.name+".yaml")
			os.WriteFile(p, []byte(tt.body), 0644)
			if _, err := Load(p); err == nil {
				t.Error("Load should fail")
			}
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Audio.WindowSize != 1024 {
		t.Errorf("WindowSize = %d, want default", cfg.Audio.WindowSize)
	}

	if _, err := LoadOrDefault(""); err != nil {
		t.Errorf("empty path: %v", err)
	}
}

func TestLaunchComparison(t *testing.T) {
	base := Default()
	base.Core.Path = "/bin/core"
	base.Core.ROMPath = "/roms/a.md"

	runtime := *base
	runtime.Log.Verbose = true
	runtime.Audio.Volume = 0.1
	runtime.Audio.PressureFactor = 0.01
	runtime.Session.StopTimeout = time.Second
	runtime.Status.Addr = ":9000"
	if runtime.Launch() != base.Launch() {
		t.Error("runtime-only changes must not change the launch config")
	}

	for name, mutate := range map[string]func(*Config){
		"rom":      func(c *Config) { c.Core.ROMPath = "/roms/b.md" },
		"core":     func(c *Config) { c.Core.Path = "/bin/other" },
		"headless": func(c *Config) { c.Core.Headless = true },
		"mute":     func(c *Config) { c.Core.Mute = true },
		"lua":      func(c *Config) { c.Core.ScriptPath = "/scripts/x.lua" },
		"segments": func(c *Config) { c.Session.SegmentDir = "/tmp/seg" },
	} {
		c := *base
		mutate(&c)
		if c.Launch() == base.Launch() {
			t.Errorf("%s change should change the launch config", name)
		}
	}
}
