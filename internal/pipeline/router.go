package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"

	"photobooth/internal/compositor"
	"photobooth/internal/fsutil"
	"photobooth/internal/gallery"
	"photobooth/internal/layout"
	"photobooth/internal/metrics"
	"photobooth/internal/session"
)

// Renderer draws a strip.
type Renderer interface {
	Render(ctx context.Context, req compositor.Request) (*image.RGBA, error)
}

// Gallery receives saved strips and uploaded photos.
type Gallery interface {
	SaveStrip(ctx context.Context, png []byte, caption string) (gallery.Photo, error)
	UploadPhoto(ctx context.Context, data []byte, ext, caption string) (gallery.Photo, error)
}

// Deps are the collaborators jobs are routed to. Gallery may be nil when
// only compose jobs run.
type Deps struct {
	Renderer Renderer
	Gallery  Gallery
	Metrics  *metrics.Metrics
}

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log       *slog.Logger
	renderer  Renderer
	gallery   Gallery
	readFiles func(paths []string) ([][]byte, error)
	writeFile func(path string, data []byte) error
}

func newRouter(logger *slog.Logger, deps Deps) Processor {
	return &router{
		log:       logger,
		renderer:  deps.Renderer,
		gallery:   deps.Gallery,
		readFiles: fsutil.ReadFiles,
		writeFile: fsutil.WriteFileAtomic,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobCompose:
		return r.handleCompose(ctx, job)
	case JobSave:
		return r.handleSave(ctx, job)
	case JobUpload:
		return r.handleUpload(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

// request builds the composite request for a job, falling back to the first
// eligible layout when the requested one cannot take the photo count.
func (r *router) request(job Job) (compositor.Request, map[string]any, error) {
	if len(job.Inputs) == 0 {
		return compositor.Request{}, nil, errors.New("no input images")
	}
	if len(job.Inputs) > layout.MaxPhotos {
		return compositor.Request{}, nil, fmt.Errorf("%w: %d images, at most %d", layout.ErrPhotoCount, len(job.Inputs), layout.MaxPhotos)
	}
	count := len(job.Inputs)

	layoutID := getStringOption(job.Options, "layout")
	if layoutID == "" {
		layoutID = layout.DefaultID
	}
	spec, ok := layout.Lookup(layoutID)
	if !ok {
		return compositor.Request{}, nil, fmt.Errorf("%w: %q", layout.ErrUnknownLayout, layoutID)
	}
	chosen := session.Reconcile(count, spec)
	if chosen.ID != spec.ID {
		r.log.Warn("layout cannot take photo count, using fallback", "requested", spec.ID, "layout", chosen.ID, "count", count)
	}

	images, err := r.readFiles(job.Inputs)
	if err != nil {
		return compositor.Request{}, nil, err
	}
	req := compositor.Request{
		LayoutID:   chosen.ID,
		FilterID:   getStringOption(job.Options, "filter"),
		PhotoCount: count,
		Images:     images,
	}
	meta := map[string]any{
		"layout": chosen.ID,
		"filter": req.FilterID,
		"photos": count,
	}
	return req, meta, nil
}

// render draws the job's strip and encodes it in format.
func (r *router) render(ctx context.Context, job Job, format string) ([]byte, map[string]any, error) {
	if r.renderer == nil {
		return nil, nil, errors.New("no renderer configured")
	}
	req, meta, err := r.request(job)
	if err != nil {
		return nil, meta, err
	}
	img, err := r.renderer.Render(ctx, req)
	if err != nil {
		return nil, meta, err
	}
	var buf bytes.Buffer
	if err := compositor.Encode(&buf, img, format, getIntOption(job.Options, "quality")); err != nil {
		return nil, meta, err
	}
	meta["format"] = format
	meta["bytes"] = buf.Len()
	return buf.Bytes(), meta, nil
}

func (r *router) handleCompose(ctx context.Context, job Job) Result {
	format, err := compositor.ParseFormat(getStringOption(job.Options, "format"))
	if err != nil {
		return Result{Job: job, Error: err}
	}
	out, meta, err := r.render(ctx, job, format)
	if err != nil {
		return Result{Job: job, Error: err, Meta: meta}
	}
	if job.Output == "" {
		return Result{Job: job, Error: errors.New("compose job needs an output path"), Meta: meta}
	}
	if err := r.writeFile(job.Output, out); err != nil {
		return Result{Job: job, Error: fmt.Errorf("write %s: %w", job.Output, err), Meta: meta}
	}
	meta["output"] = job.Output
	return Result{Job: job, Meta: meta}
}

func (r *router) handleSave(ctx context.Context, job Job) Result {
	if r.gallery == nil {
		return Result{Job: job, Error: errors.New("no gallery configured")}
	}
	// the gallery stores PNG strips only
	out, meta, err := r.render(ctx, job, compositor.FormatPNG)
	if err != nil {
		return Result{Job: job, Error: err, Meta: meta}
	}
	if job.Output != "" {
		if err := r.writeFile(job.Output, out); err != nil {
			return Result{Job: job, Error: fmt.Errorf("write %s: %w", job.Output, err), Meta: meta}
		}
		meta["output"] = job.Output
	}

	caption := getStringOption(job.Options, "caption")
	if caption == "" {
		spec, _ := layout.Lookup(meta["layout"].(string))
		caption = session.DefaultCaption(spec)
	}
	photo, err := r.gallery.SaveStrip(ctx, out, caption)
	if err != nil {
		return Result{Job: job, Error: err, Meta: meta}
	}
	meta["photo_id"] = photo.ID
	meta["url"] = photo.URL
	meta["storage_path"] = photo.StoragePath
	return Result{Job: job, Meta: meta}
}

func (r *router) handleUpload(ctx context.Context, job Job) Result {
	if r.gallery == nil {
		return Result{Job: job, Error: errors.New("no gallery configured")}
	}
	if len(job.Inputs) == 0 {
		return Result{Job: job, Error: errors.New("no input images")}
	}
	caption := getStringOption(job.Options, "caption")

	var ids []string
	var failed []string
	for _, path := range job.Inputs {
		if err := ctx.Err(); err != nil {
			return Result{Job: job, Error: err, Meta: map[string]any{"uploaded": ids}}
		}
		data, err := r.readFiles([]string{path})
		if err != nil {
			r.log.Warn("skipping unreadable photo", "path", path, "error", err)
			failed = append(failed, path)
			continue
		}
		photo, err := r.gallery.UploadPhoto(ctx, data[0], filepath.Ext(path), caption)
		if err != nil {
			if errors.Is(err, gallery.ErrNotAuthenticated) {
				return Result{Job: job, Error: err}
			}
			r.log.Warn("photo upload failed", "path", path, "error", err)
			failed = append(failed, path)
			continue
		}
		ids = append(ids, photo.ID)
	}

	meta := map[string]any{"uploaded": ids, "failed": failed}
	if len(ids) == 0 {
		return Result{Job: job, Error: fmt.Errorf("all %d uploads failed", len(job.Inputs)), Meta: meta}
	}
	return Result{Job: job, Meta: meta}
}

func getStringOption(options map[string]any, key string) string {
	if v, ok := options[key].(string); ok {
		return v
	}
	return ""
}

func getIntOption(options map[string]any, key string) int {
	switch v := options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
