// Package export disposes of a finished strip: a local download or a save to
// the gallery.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"photobooth/internal/fsutil"
	"photobooth/internal/gallery"
)

var ErrNoGallery = errors.New("no gallery configured")

// Saver accepts a strip for the gallery.
type Saver interface {
	SaveStrip(ctx context.Context, png []byte, caption string) (gallery.Photo, error)
}

// Sink writes downloads into Dir and forwards saves to Gallery.
type Sink struct {
	dir     string
	gallery Saver
	log     *slog.Logger
	now     func() time.Time
}

type Option func(*Sink)

func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a Sink. g may be nil when only downloads are needed.
func New(dir string, g Saver, opts ...Option) *Sink {
	s := &Sink{dir: dir, gallery: g, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DownloadName is the file name for a download made at t.
func DownloadName(t time.Time) string {
	return fmt.Sprintf("photobooth-strip-%d.png", t.UnixMilli())
}

// Download writes the strip under a timestamped name and returns its path.
func (s *Sink) Download(data []byte) (string, error) {
	return s.DownloadAs(data, DownloadName(s.now()))
}

// DownloadAs writes the strip under name inside the sink directory.
func (s *Sink) DownloadAs(data []byte, name string) (string, error) {
	path := filepath.Join(s.dir, name)
	if err := fsutil.WriteFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	s.log.Info("strip downloaded", "path", path, "bytes", len(data))
	return path, nil
}

// SaveToGallery hands the strip to the gallery. Errors come back unchanged
// so callers can match gallery.ErrNotAuthenticated, *gallery.UploadError and
// *gallery.CatalogWriteError.
func (s *Sink) SaveToGallery(ctx context.Context, data []byte, caption string) (gallery.Photo, error) {
	if s.gallery == nil {
		return gallery.Photo{}, ErrNoGallery
	}
	return s.gallery.SaveStrip(ctx, data, caption)
}
