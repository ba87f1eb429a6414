package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	t.Setenv("PHOTOBOOTH_CONFIG", filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("SUPABASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Compositor.DefaultLayout != "vertical" || cfg.Compositor.DefaultCount != 4 {
		t.Fatalf("expected vertical/4 defaults, got %+v", cfg.Compositor)
	}
	if cfg.Gallery.Bucket != "memories" || cfg.Gallery.Table != "photos" {
		t.Fatalf("expected memories/photos, got %+v", cfg.Gallery)
	}
	if cfg.Capture.TickMillis != 1000 || cfg.Capture.SettleMillis != 100 || cfg.Capture.InterShotMillis != 800 {
		t.Fatalf("unexpected capture timing %+v", cfg.Capture)
	}
}

func TestLoadJSONOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"compositor":{"default_layout":"grid-2x2","format":"jpeg"},"gallery":{"backend":"supabase"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PHOTOBOOTH_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Compositor.DefaultLayout != "grid-2x2" || cfg.Compositor.Format != "jpeg" {
		t.Fatalf("expected overrides, got %+v", cfg.Compositor)
	}
	if cfg.Compositor.DefaultFilter != "original" {
		t.Fatalf("expected untouched default filter, got %q", cfg.Compositor.DefaultFilter)
	}
	if cfg.Gallery.Backend != "supabase" {
		t.Fatalf("expected supabase backend, got %q", cfg.Gallery.Backend)
	}
}

func TestLoadYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "capture:\n  watch_dir: /tmp/tether\n  countdown: 5\ngallery:\n  supabase:\n    url: https://file.example\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PHOTOBOOTH_CONFIG", path)
	t.Setenv("SUPABASE_URL", "https://env.example")
	t.Setenv("PHOTOBOOTH_USER", "alex")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Capture.WatchDir != "/tmp/tether" || cfg.Capture.Countdown != 5 {
		t.Fatalf("expected yaml capture values, got %+v", cfg.Capture)
	}
	if cfg.Gallery.Supabase.URL != "https://env.example" {
		t.Fatalf("expected env to win, got %q", cfg.Gallery.Supabase.URL)
	}
	if cfg.Gallery.LocalUser != "alex" {
		t.Fatalf("expected local user from env, got %q", cfg.Gallery.LocalUser)
	}
}

func TestExpandUser(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	got, err := expandUser("~/x/y")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(home, "x/y") {
		t.Fatalf("expected expanded path, got %q", got)
	}
}
