package capture

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSliceDeviceFrames(t *testing.T) {
	frames := TestPattern(2, 8, 8)
	dev := &SliceDevice{Frames: []image.Image{frames[0], nil, frames[1]}}

	stream, err := dev.Acquire(context.Background(), DefaultConstraints)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if dev.Active() != 1 {
		t.Fatalf("expected one active stream, got %d", dev.Active())
	}
	if _, err := stream.Frame(); err != nil {
		t.Fatalf("expected first frame, got %v", err)
	}
	if _, err := stream.Frame(); !errors.Is(err, ErrFrameNotReady) {
		t.Fatalf("expected ErrFrameNotReady, got %v", err)
	}
	if _, err := stream.Frame(); err != nil {
		t.Fatalf("expected third frame, got %v", err)
	}
	if _, err := stream.Frame(); !errors.Is(err, ErrFrameNotReady) {
		t.Fatalf("expected exhausted stream, got %v", err)
	}

	_ = stream.Release()
	_ = stream.Release()
	if dev.Active() != 0 {
		t.Fatalf("expected release to be idempotent, active=%d", dev.Active())
	}
}

func TestSliceDeviceDenied(t *testing.T) {
	dev := &SliceDevice{Denied: true}
	if _, err := dev.Acquire(context.Background(), DefaultConstraints); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestWatchDeviceMissingDir(t *testing.T) {
	dev := &WatchDevice{Dir: filepath.Join(t.TempDir(), "missing")}
	if _, err := dev.Acquire(context.Background(), DefaultConstraints); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestWatchDevicePicksUpNewImages(t *testing.T) {
	dir := t.TempDir()
	dev := &WatchDevice{Dir: dir}
	stream, err := dev.Acquire(context.Background(), DefaultConstraints)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer stream.Release()

	if _, err := stream.Frame(); !errors.Is(err, ErrFrameNotReady) {
		t.Fatalf("expected no frame before a write, got %v", err)
	}

	// encode elsewhere so the drop folder gets one complete write
	tmp := filepath.Join(t.TempDir(), "shot.png")
	f, err := os.Create(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, TestPattern(1, 16, 16)[0]); err != nil {
		t.Fatal(err)
	}
	f.Close()
	data, _ := os.ReadFile(tmp)
	if err := os.WriteFile(filepath.Join(dir, "shot-001.png"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		img, err := stream.Frame()
		if err == nil {
			if img.Bounds().Dx() != 16 {
				t.Fatalf("expected 16px frame, got %v", img.Bounds())
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for frame: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if _, err := stream.Frame(); !errors.Is(err, ErrFrameNotReady) {
		t.Fatalf("expected frame to be consumed, got %v", err)
	}
	if err := stream.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := stream.Release(); err != nil {
		t.Fatalf("second Release failed: %v", err)
	}
}
