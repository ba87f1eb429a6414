package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath = "~/.config/photobooth/config.json"
	defaultParallel   = 2
)

// Config holds user-editable settings for the booth.
type Config struct {
	Processing Processing `json:"processing" yaml:"processing"`
	Logging    Logging    `json:"logging" yaml:"logging"`
	Paths      Paths      `json:"paths" yaml:"paths"`
	Capture    Capture    `json:"capture" yaml:"capture"`
	Compositor Compositor `json:"compositor" yaml:"compositor"`
	Gallery    Gallery    `json:"gallery" yaml:"gallery"`
	Darktable  Darktable  `json:"darktable" yaml:"darktable"`
	Metrics    Metrics    `json:"metrics" yaml:"metrics"`
}

// Processing captures execution preferences for batch jobs.
type Processing struct {
	ParallelJobs int `json:"parallel_jobs" yaml:"parallel_jobs"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level" yaml:"level"`             // debug, info, warn, error
	Format     string `json:"format" yaml:"format"`           // text, json, traditional
	FileOutput bool   `json:"file_output" yaml:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir" yaml:"log_dir"`
}

// Paths configures default output locations.
type Paths struct {
	OutputDir    string `json:"output_dir" yaml:"output_dir"`
	DatabasePath string `json:"database_path" yaml:"database_path"`
	MediaDir     string `json:"media_dir" yaml:"media_dir"`
}

// Capture configures the camera and the shot timing.
type Capture struct {
	WatchDir        string `json:"watch_dir" yaml:"watch_dir"`
	Width           int    `json:"width" yaml:"width"`
	Height          int    `json:"height" yaml:"height"`
	FacingMode      string `json:"facing_mode" yaml:"facing_mode"`
	Countdown       int    `json:"countdown" yaml:"countdown"`
	TickMillis      int    `json:"tick_ms" yaml:"tick_ms"`
	SettleMillis    int    `json:"settle_ms" yaml:"settle_ms"`
	InterShotMillis int    `json:"inter_shot_ms" yaml:"inter_shot_ms"`
	WarmupMillis    int    `json:"warmup_ms" yaml:"warmup_ms"`
	JPEGQuality     int    `json:"jpeg_quality" yaml:"jpeg_quality"`
}

// Compositor configures strip rendering.
type Compositor struct {
	DefaultCount  int    `json:"default_count" yaml:"default_count"`
	DefaultLayout string `json:"default_layout" yaml:"default_layout"`
	DefaultFilter string `json:"default_filter" yaml:"default_filter"`
	Format        string `json:"format" yaml:"format"` // png, jpeg
	JPEGQuality   int    `json:"jpeg_quality" yaml:"jpeg_quality"`
	Backend       string `json:"backend" yaml:"backend"` // native, imagick
}

// Gallery selects and configures the storage/catalog backend.
type Gallery struct {
	Backend          string   `json:"backend" yaml:"backend"` // local, supabase
	Bucket           string   `json:"bucket" yaml:"bucket"`
	Table            string   `json:"table" yaml:"table"`
	PublicBaseURL    string   `json:"public_base_url" yaml:"public_base_url"`
	LocalUser        string   `json:"local_user" yaml:"local_user"`
	UploadsPerMinute int      `json:"uploads_per_minute" yaml:"uploads_per_minute"`
	Supabase         Supabase `json:"supabase" yaml:"supabase"`
}

// Supabase holds hosted platform credentials.
type Supabase struct {
	URL         string `json:"url" yaml:"url"`
	AnonKey     string `json:"anon_key" yaml:"anon_key"`
	AccessToken string `json:"access_token" yaml:"access_token"`
	TimeoutSec  int    `json:"timeout_sec" yaml:"timeout_sec"`
}

// Darktable points at a darktable configuration directory.
type Darktable struct {
	ConfigDir string `json:"config_dir" yaml:"config_dir"`
}

// Metrics controls the Prometheus textfile export.
type Metrics struct {
	Textfile string `json:"textfile" yaml:"textfile"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("PHOTOBOOTH_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		cfg.applyEnv()
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(expanded)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, err
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays platform credentials from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		c.Gallery.Supabase.URL = v
	}
	if v := os.Getenv("SUPABASE_ANON_KEY"); v != "" {
		c.Gallery.Supabase.AnonKey = v
	}
	if v := os.Getenv("SUPABASE_ACCESS_TOKEN"); v != "" {
		c.Gallery.Supabase.AccessToken = v
	}
	if v := os.Getenv("PHOTOBOOTH_USER"); v != "" {
		c.Gallery.LocalUser = v
	}
}

func defaultConfig() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			OutputDir:    "./output",
			DatabasePath: filepath.Join(os.TempDir(), "photobooth.db"),
			MediaDir:     "./media",
		},
		Capture: Capture{
			WatchDir:        "./capture",
			Width:           1280,
			Height:          720,
			FacingMode:      "user",
			Countdown:       3,
			TickMillis:      1000,
			SettleMillis:    100,
			InterShotMillis: 800,
			WarmupMillis:    1500,
			JPEGQuality:     92,
		},
		Compositor: Compositor{
			DefaultCount:  4,
			DefaultLayout: "vertical",
			DefaultFilter: "original",
			Format:        "png",
			JPEGQuality:   92,
			Backend:       "native",
		},
		Gallery: Gallery{
			Backend:          "local",
			Bucket:           "memories",
			Table:            "photos",
			UploadsPerMinute: 30,
			Supabase: Supabase{
				TimeoutSec: 30,
			},
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
