package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListImagesFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.JPG", "a.png", "notes.txt", ".hidden.png", "c.webp"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.png"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err := ListImages(dir)
	if err != nil {
		t.Fatalf("ListImages failed: %v", err)
	}
	want := []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.JPG"), filepath.Join(dir, "c.webp")}
	if len(files) != len(want) {
		t.Fatalf("expected %v, got %v", want, files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, files)
		}
	}
}

func TestContentType(t *testing.T) {
	if got := ContentType("x.JPEG"); got != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %q", got)
	}
	if got := ContentType("x.raw"); got != "application/octet-stream" {
		t.Fatalf("expected octet-stream, got %q", got)
	}
}

func TestReadAndWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "strip.png")
	if err := WriteFileAtomic(path, []byte("png")); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}
	data, err := ReadFiles([]string{path})
	if err != nil {
		t.Fatalf("ReadFiles failed: %v", err)
	}
	if string(data[0]) != "png" {
		t.Fatalf("expected png, got %q", data[0])
	}
	if _, err := ReadFiles([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if got := FirstExisting(filepath.Join(dir, "nope"), path); got != path {
		t.Fatalf("expected %s, got %q", path, got)
	}
}
