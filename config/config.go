// Package config holds the bridge settings loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Core    CoreConfig    `yaml:"core"`
	Session SessionConfig `yaml:"session"`
	Audio   AudioConfig   `yaml:"audio"`
	Log     LogConfig     `yaml:"log"`
	Status  StatusConfig  `yaml:"status"`
}

// CoreConfig decides the subprocess command line. Every field here is
// launch-affecting.
type CoreConfig struct {
	Path                  string `yaml:"path"`
	ROMPath               string `yaml:"rom"`
	StatePath             string `yaml:"load_state"`
	ConfigPath            string `yaml:"config"`
	ScriptPath            string `yaml:"lua"`
	Headless              bool   `yaml:"headless"`
	AcceptBackgroundInput bool   `yaml:"accept_background_input"`
	Mute                  bool   `yaml:"mute"`
	SuppressPopups        bool   `yaml:"suppress_popups"`
}

type SessionConfig struct {
	Active        bool          `yaml:"active"`
	RestartOnExit bool          `yaml:"restart_on_exit"`
	SegmentDir    string        `yaml:"segment_dir"`
	LogDir        string        `yaml:"log_dir"`
	StopTimeout   time.Duration `yaml:"stop_timeout"`
}

type AudioConfig struct {
	Volume              float64 `yaml:"volume"`
	WindowSize          int     `yaml:"window_size"`
	PressureFactor      float64 `yaml:"pressure_factor"`
	IdealBufferSize     int     `yaml:"ideal_buffer_size"`
	MaxEmptyTicks       int     `yaml:"max_empty_ticks"`
	StarvationThreshold int     `yaml:"starvation_threshold"`
}

type LogConfig struct {
	Verbose bool `yaml:"verbose"`
}

type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			Active:        true,
			RestartOnExit: true,
			LogDir:        filepath.Join(os.TempDir(), "emubridge", "logs"),
			StopTimeout:   2 * time.Second,
		},
		Audio: AudioConfig{
			Volume:              1.0,
			WindowSize:          1024,
			PressureFactor:      0.002,
			IdealBufferSize:     2048,
			MaxEmptyTicks:       30,
			StarvationThreshold: 4096,
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, but a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate rejects values the bridge cannot run with.
func (c *Config) Validate() error {
	if c.Audio.Volume < 0 || c.Audio.Volume > 1 {
		return fmt.Errorf("audio.volume %v out of range [0,1]", c.Audio.Volume)
	}
	if c.Session.StopTimeout < 0 {
		return fmt.Errorf("session.stop_timeout must not be negative")
	}
	if c.Audio.WindowSize < 0 || c.Audio.IdealBufferSize < 0 || c.Audio.MaxEmptyTicks < 0 || c.Audio.StarvationThreshold < 0 {
		return fmt.Errorf("audio tuning values must not be negative")
	}
	return nil
}

// LaunchConfig is the part of the configuration that ends up on the
// subprocess command line. Two equal values produce the same process.
type LaunchConfig struct {
	CorePath   string
	SegmentDir string
	Core       CoreConfig
}

// Launch returns the launch-affecting subset. Changing anything outside it
// (log verbosity, volume, resampler tuning, stop timeout, status address)
// never restarts the subprocess.
func (c *Config) Launch() LaunchConfig {
	return LaunchConfig{
		CorePath:   c.Core.Path,
		SegmentDir: c.Session.SegmentDir,
		Core:       c.Core,
	}
}
