package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"photobooth/internal/capture"
	"photobooth/internal/compositor"
	"photobooth/internal/darktable"
	"photobooth/internal/fsutil"
	"photobooth/internal/gallery"
	"photobooth/internal/layout"
	"photobooth/internal/session"
	"photobooth/internal/storage"
)

func main() {
	watchDir := flag.String("watch", "./capture", "camera drop folder to watch")
	dtDir := flag.String("darktable", "", "darktable config dir (default ~/.config/darktable)")
	flag.Parse()

	fmt.Println("🔍 Testing Darktable + Capture Folder + Local Gallery Integration")

	// Setup storage
	store, err := storage.New("test_integration.db")
	if err != nil {
		log.Fatal("Failed to create storage:", err)
	}
	defer store.Close()

	bucket, err := storage.NewBucket("test_integration_media", "")
	if err != nil {
		log.Fatal("Failed to create bucket:", err)
	}
	svc := gallery.NewService(gallery.StaticAuth{User: &gallery.User{ID: "integration"}}, bucket, store)

	// Test darktable database connection
	lib, err := darktable.Open(*dtDir, nil)
	if err != nil {
		log.Fatal("Failed to connect to darktable:", err)
	}
	defer lib.Close()
	fmt.Println("✅ Connected to darktable database")

	ctx := context.Background()
	recent, err := lib.Recent(ctx, layout.MaxPhotos)
	if err != nil {
		log.Fatal("Failed to list recent imports:", err)
	}
	paths := lib.Paths(recent)
	fmt.Printf("📊 %d recent imports, %d on disk\n", len(recent), len(paths))
	for _, p := range recent {
		fmt.Printf("   %s  %s  edited=%t\n", p.Taken.Format("2006-01-02"), p.FullPath, p.IsEdited())
	}

	if len(paths) > 0 {
		images, err := fsutil.ReadFiles(paths)
		if err != nil {
			log.Fatal("Failed to read photos:", err)
		}
		spec := session.Reconcile(len(images), layout.Spec{})
		strip, err := compositor.New().Generate(ctx, compositor.Request{
			LayoutID:   spec.ID,
			FilterID:   "vintage",
			PhotoCount: len(images),
			Images:     images,
		})
		if err != nil {
			log.Fatal("Failed to compose strip:", err)
		}
		photo, err := svc.SaveStrip(ctx, strip, session.DefaultCaption(spec))
		if err != nil {
			log.Fatal("Failed to save strip:", err)
		}
		fmt.Printf("🖼  Saved %s strip (%d bytes) as %s\n", spec.Name, len(strip), photo.URL)
	}

	// Test capture folder
	if err := os.MkdirAll(*watchDir, 0o755); err != nil {
		log.Fatal("Failed to create watch dir:", err)
	}
	abs, _ := filepath.Abs(*watchDir)
	dev := &capture.WatchDevice{Dir: abs}
	stream, err := dev.Acquire(ctx, capture.DefaultConstraints)
	if err != nil {
		log.Fatal("Failed to watch capture folder:", err)
	}
	defer stream.Release()

	fmt.Printf("🎯 Starting 30-second capture test, drop images into %s\n", abs)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	frames := 0
	var last frameID
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\n✅ Test completed. Saw %d new frames.\n", frames)
			return
		case <-ticker.C:
			img, err := stream.Frame()
			if err != nil {
				fmt.Println("⏳ Camera not ready...")
				continue
			}
			b := img.Bounds()
			cur := frameID{w: b.Dx(), h: b.Dy(), ptr: fmt.Sprintf("%p", img)}
			if cur != last {
				frames++
				last = cur
				fmt.Printf("📸 Frame %d: %dx%d\n", frames, cur.w, cur.h)
			}
		}
	}
}

// frameID identifies a decoded frame well enough to spot a new one.
type frameID struct {
	w, h int
	ptr  string
}
