package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"photobooth/internal/fsutil"
)

// Bucket is an object store backed by a directory. Keys map to relative paths.
type Bucket struct {
	Root    string
	BaseURL string // optional; file:// URLs are used when empty
}

func NewBucket(root, baseURL string) (*Bucket, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Bucket{Root: abs, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (b *Bucket) path(key string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	if clean == string(filepath.Separator) {
		return "", errors.New("empty object key")
	}
	return filepath.Join(b.Root, clean), nil
}

// ErrObjectExists is returned when uploading to a key that is already taken.
var ErrObjectExists = errors.New("object already exists")

// Upload writes data under key. Existing objects are never overwritten.
func (b *Bucket) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(p); err == nil {
		return fmt.Errorf("%w: %s", ErrObjectExists, key)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return fsutil.WriteFileAtomic(p, data)
}

// PublicURL returns where key can be fetched from.
func (b *Bucket) PublicURL(key string) string {
	if b.BaseURL != "" {
		return b.BaseURL + "/" + strings.TrimLeft(key, "/")
	}
	p, err := b.path(key)
	if err != nil {
		return ""
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String()
}

// Remove deletes the object at key.
func (b *Bucket) Remove(ctx context.Context, key string) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	return os.Remove(p)
}
