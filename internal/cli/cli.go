package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"photobooth/internal/compositor"
	"photobooth/internal/config"
	"photobooth/internal/darktable"
	"photobooth/internal/gallery"
	"photobooth/internal/logging"
	"photobooth/internal/magick"
	"photobooth/internal/metrics"
	"photobooth/internal/pipeline"
	"photobooth/internal/storage"
	"photobooth/internal/supabase"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Version is stamped by the linker.
var Version = "0.1.0-dev"

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

// photoSource lists darktable photos for compose --darktable.
type photoSource interface {
	Recent(ctx context.Context, limit int) ([]darktable.Photo, error)
	Edited(ctx context.Context, limit int) ([]darktable.Photo, error)
	Paths(photos []darktable.Photo) []string
	Close() error
}

// Root holds the dependencies shared by every command. Fields left nil are
// built from the configuration the first time a command runs.
type Root struct {
	cfg        *config.Config
	log        *slog.Logger
	store      *storage.Store
	metrics    *metrics.Metrics
	compositor *compositor.Compositor
	pipeline   pipelineClient
	gallery    *gallery.Service
	supabase   *supabase.Client
	galleryErr error

	openDarktable func(configDir string, logger *slog.Logger) (photoSource, error)
	now           func() time.Time

	closers []func()
}

// NewRoot returns a Root that builds everything from config on first use.
func NewRoot() *Root {
	return &Root{
		openDarktable: func(dir string, logger *slog.Logger) (photoSource, error) {
			return darktable.Open(dir, logger)
		},
		now: time.Now,
	}
}

// setup loads .env and config, then wires logging, storage, the compositor,
// the gallery backend and the job pipeline.
func (r *Root) setup() error {
	_ = godotenv.Load()

	if r.cfg == nil {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		r.cfg = cfg
	}
	if r.log == nil {
		logger, err := logging.Setup(r.cfg.Logging)
		if err != nil {
			return fmt.Errorf("setup logging: %w", err)
		}
		r.log = logger
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	if r.store == nil {
		if err := os.MkdirAll(filepath.Dir(r.cfg.Paths.DatabasePath), 0o755); err != nil {
			return err
		}
		store, err := storage.New(r.cfg.Paths.DatabasePath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		r.store = store
		r.closers = append(r.closers, func() { _ = store.Close() })
	}
	if r.compositor == nil {
		r.compositor = r.newCompositor()
	}
	if r.gallery == nil && r.galleryErr == nil {
		r.gallery, r.galleryErr = r.newGallery()
		if r.galleryErr != nil {
			r.log.Debug("gallery unavailable", "backend", r.cfg.Gallery.Backend, "error", r.galleryErr)
		}
	}
	if r.pipeline == nil {
		deps := pipeline.Deps{Renderer: r.compositor, Metrics: r.metrics}
		if r.gallery != nil {
			deps.Gallery = r.gallery
		}
		p := pipeline.New(context.Background(), r.cfg.Processing.ParallelJobs, r.log, r.store, deps)
		r.pipeline = p
		r.closers = append(r.closers, p.Stop)
	}
	if r.now == nil {
		r.now = time.Now
	}
	return nil
}

func (r *Root) newCompositor() *compositor.Compositor {
	opts := []compositor.Option{compositor.WithLogger(r.log), compositor.WithMetrics(r.metrics)}
	if r.cfg.Compositor.Backend == "imagick" {
		mr := magick.New()
		r.closers = append(r.closers, mr.Close)
		opts = append(opts, compositor.WithFilter(mr.Apply))
		r.log.Info("using ImageMagick filter backend")
	}
	return compositor.New(opts...)
}

// newGallery builds the gallery service for the configured backend.
func (r *Root) newGallery() (*gallery.Service, error) {
	gc := r.cfg.Gallery
	opts := []gallery.Option{
		gallery.WithLogger(r.log),
		gallery.WithMetrics(r.metrics),
		gallery.WithUploadsPerMinute(gc.UploadsPerMinute),
	}

	switch gc.Backend {
	case "", "local":
		bucket, err := storage.NewBucket(filepath.Join(r.cfg.Paths.MediaDir, gc.Bucket), gc.PublicBaseURL)
		if err != nil {
			return nil, err
		}
		var auth gallery.StaticAuth
		if gc.LocalUser != "" {
			auth.User = &gallery.User{ID: gc.LocalUser}
		}
		return gallery.NewService(auth, bucket, r.store, opts...), nil
	case "supabase":
		client, err := supabase.New(supabase.Config{
			ProjectURL:  gc.Supabase.URL,
			AnonKey:     gc.Supabase.AnonKey,
			AccessToken: gc.Supabase.AccessToken,
			Bucket:      gc.Bucket,
			Table:       gc.Table,
			Timeout:     time.Duration(gc.Supabase.TimeoutSec) * time.Second,
			Logger:      r.log,
		})
		if err != nil {
			return nil, err
		}
		r.supabase = client
		return gallery.NewService(client, client, client, opts...), nil
	default:
		return nil, fmt.Errorf("unknown gallery backend %q", gc.Backend)
	}
}

// requireGallery returns the gallery or the reason it could not be built.
func (r *Root) requireGallery() (*gallery.Service, error) {
	if r.gallery == nil {
		if r.galleryErr != nil {
			return nil, fmt.Errorf("gallery unavailable: %w", r.galleryErr)
		}
		return nil, errors.New("gallery unavailable")
	}
	return r.gallery, nil
}

// flushMetrics writes the textfile export when one is configured.
func (r *Root) flushMetrics() {
	if r.cfg == nil || r.cfg.Metrics.Textfile == "" {
		return
	}
	if err := r.metrics.WriteTextfile(r.cfg.Metrics.Textfile); err != nil {
		r.log.Warn("failed to write metrics textfile", "path", r.cfg.Metrics.Textfile, "error", err)
	}
}

// Close releases everything init opened, newest first.
func (r *Root) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	results, unsub := r.pipeline.Subscribe()
	defer unsub()

	if err := r.enqueue(job); err != nil {
		return pipeline.Result{}, err
	}

	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		case res, ok := <-results:
			if !ok {
				return pipeline.Result{}, errors.New("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res, res.Error
			}
		}
	}
}

// maxInFlight keeps unread results below the subscriber buffer.
const maxInFlight = 4

// enqueueAll submits every job and collects their results. When the queue is
// full it waits for a result before trying again.
func (r *Root) enqueueAll(ctx context.Context, jobs []pipeline.Job) ([]pipeline.Result, error) {
	results, unsub := r.pipeline.Subscribe()
	defer unsub()

	pending := make(map[string]int, len(jobs))
	out := make([]pipeline.Result, len(jobs))
	collect := func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-results:
			if !ok {
				return errors.New("pipeline stopped before completion")
			}
			if i, ok := pending[res.Job.ID]; ok {
				out[i] = res
				delete(pending, res.Job.ID)
			}
			return nil
		}
	}

	for i, job := range jobs {
		for len(pending) >= maxInFlight {
			if err := collect(); err != nil {
				return out, err
			}
		}
		for {
			err := r.enqueue(job)
			if err == nil {
				pending[job.ID] = i
				break
			}
			if !errors.Is(err, pipeline.ErrQueueFull) || len(pending) == 0 {
				return out, err
			}
			if err := collect(); err != nil {
				return out, err
			}
		}
	}
	for len(pending) > 0 {
		if err := collect(); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (r *Root) enqueue(job pipeline.Job) error {
	if err := r.pipeline.Submit(job); err != nil {
		return err
	}
	r.log.Info("job queued", "id", job.ID, "type", job.Type)
	return nil
}

func newID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}
