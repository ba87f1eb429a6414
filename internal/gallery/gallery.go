// Package gallery saves finished strips to object storage and keeps the
// photos catalog in step with it.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"photobooth/internal/fsutil"
	"photobooth/internal/metrics"

	"golang.org/x/time/rate"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotFound         = errors.New("photo not found")
)

// UploadError means the object store rejected the file. Nothing was written
// to the catalog.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string { return fmt.Sprintf("upload %s: %v", e.Key, e.Err) }
func (e *UploadError) Unwrap() error { return e.Err }

// CatalogWriteError means the object was stored but its catalog row was not.
// The object is left in place.
type CatalogWriteError struct {
	Key string
	URL string
	Err error
}

func (e *CatalogWriteError) Error() string {
	return fmt.Sprintf("record %s in catalog: %v", e.Key, e.Err)
}
func (e *CatalogWriteError) Unwrap() error { return e.Err }

// User is the authenticated uploader.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Photo is one catalog row.
type Photo struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	StoragePath string    `json:"storage_path"`
	Caption     string    `json:"caption"`
	UploadedBy  string    `json:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Entry is what gets inserted into the catalog.
type Entry struct {
	URL         string `json:"url"`
	StoragePath string `json:"storage_path"`
	Caption     string `json:"caption"`
	UploadedBy  string `json:"uploaded_by"`
}

// Auth resolves the current user; a nil user means nobody is signed in.
type Auth interface {
	CurrentUser(ctx context.Context) (*User, error)
}

// ObjectStore holds the image bytes.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	PublicURL(key string) string
	Remove(ctx context.Context, key string) error
}

// Catalog is the photos table.
type Catalog interface {
	Insert(ctx context.Context, e Entry) (Photo, error)
	List(ctx context.Context, limit int) ([]Photo, error)
	Get(ctx context.Context, id string) (Photo, error)
	Delete(ctx context.Context, id string) error
}

// StaticAuth always reports the same user.
type StaticAuth struct {
	User *User
}

func (a StaticAuth) CurrentUser(ctx context.Context) (*User, error) {
	return a.User, nil
}

// Service ties auth, storage and catalog together.
type Service struct {
	auth    Auth
	objects ObjectStore
	catalog Catalog
	log     *slog.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter
	now     func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithUploadsPerMinute throttles uploads; zero or less disables throttling.
func WithUploadsPerMinute(n int) Option {
	return func(s *Service) {
		if n <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
	}
}

// WithClock replaces the time source used for object keys.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(auth Auth, objects ObjectStore, catalog Catalog, opts ...Option) *Service {
	s := &Service{
		auth:    auth,
		objects: objects,
		catalog: catalog,
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StripKey is the object key a saved strip gets.
func StripKey(userID string, at time.Time) string {
	return fmt.Sprintf("%s/photobooth-%d.png", userID, at.UnixMilli())
}

// PhotoKey is the object key a single uploaded photo gets.
func PhotoKey(userID string, at time.Time, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "jpg"
	}
	return fmt.Sprintf("%s/%d.%s", userID, at.UnixMilli(), ext)
}

// SaveStrip uploads a PNG strip and records it in the catalog.
func (s *Service) SaveStrip(ctx context.Context, png []byte, caption string) (Photo, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		s.metrics.ObserveSave(err)
		return Photo{}, err
	}
	p, err := s.store(ctx, user, StripKey(user.ID, s.now()), png, "image/png", caption)
	s.metrics.ObserveSave(err)
	return p, err
}

// UploadPhoto stores a single photo with the content type matching ext.
func (s *Service) UploadPhoto(ctx context.Context, data []byte, ext, caption string) (Photo, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return Photo{}, err
	}
	key := PhotoKey(user.ID, s.now(), ext)
	return s.store(ctx, user, key, data, fsutil.ContentType(key), caption)
}

func (s *Service) currentUser(ctx context.Context) (*User, error) {
	if s.auth == nil {
		return nil, ErrNotAuthenticated
	}
	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			return nil, err
		}
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if user == nil || user.ID == "" {
		return nil, ErrNotAuthenticated
	}
	return user, nil
}

func (s *Service) store(ctx context.Context, user *User, key string, data []byte, contentType, caption string) (Photo, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return Photo{}, &UploadError{Key: key, Err: err}
		}
	}
	if err := s.objects.Upload(ctx, key, data, contentType); err != nil {
		s.log.Error("upload failed", "key", key, "error", err)
		return Photo{}, &UploadError{Key: key, Err: err}
	}
	url := s.objects.PublicURL(key)
	photo, err := s.catalog.Insert(ctx, Entry{
		URL:         url,
		StoragePath: key,
		Caption:     caption,
		UploadedBy:  user.ID,
	})
	if err != nil {
		s.log.Warn("catalog write failed, stored object left in place", "key", key, "url", url, "error", err)
		return Photo{}, &CatalogWriteError{Key: key, URL: url, Err: err}
	}
	s.log.Info("photo saved", "id", photo.ID, "key", key, "bytes", len(data))
	return photo, nil
}

// List returns the newest photos first.
func (s *Service) List(ctx context.Context, limit int) ([]Photo, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.catalog.List(ctx, limit)
}

// Delete removes the stored object and then the catalog row. A storage
// failure is logged and does not stop the row from being deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	photo, err := s.catalog.Get(ctx, id)
	if err != nil {
		return err
	}
	if photo.StoragePath != "" {
		if err := s.objects.Remove(ctx, photo.StoragePath); err != nil {
			s.log.Warn("remove stored object", "key", photo.StoragePath, "error", err)
		}
	}
	if err := s.catalog.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete photo %s: %w", id, err)
	}
	s.log.Info("photo deleted", "id", id, "key", photo.StoragePath)
	return nil
}
