// Package compositor rasterizes captured photos into a single strip image.
package compositor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"photobooth/internal/filter"
	"photobooth/internal/layout"
	"photobooth/internal/metrics"

	"golang.org/x/image/math/f64"
	"golang.org/x/sync/errgroup"

	xdraw "golang.org/x/image/draw"
)

const (
	borderWidth = 20
	// polaroid card: framePad around the photo, frameExtra added to the height
	framePad   = 10
	frameExtra = 40
)

var (
	// ErrNoImages is returned by Render when there is nothing to draw.
	ErrNoImages = errors.New("no images to composite")

	borderColor = color.RGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}
)

// DecodeError reports the source image that could not be decoded.
type DecodeError struct {
	Index int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image %d: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Request describes one composite.
type Request struct {
	LayoutID string
	FilterID string
	// PhotoCount drives the geometry; zero means len(Images).
	PhotoCount int
	// Images holds encoded photos by slot; nil slots are left blank.
	Images [][]byte
}

func (r Request) count() int {
	if r.PhotoCount > 0 {
		return r.PhotoCount
	}
	return len(r.Images)
}

func (r Request) empty() bool {
	for _, img := range r.Images {
		if img != nil {
			return false
		}
	}
	return true
}

// FilterFunc applies a filter chain to the drawn photo layer.
type FilterFunc func(img *image.RGBA, spec filter.Spec) error

// Compositor draws strips. It is safe for concurrent use.
type Compositor struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	newRand func() *rand.Rand
	filter  FilterFunc
}

// Option customizes a Compositor.
type Option func(*Compositor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compositor) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics records composite counts and durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Compositor) { c.metrics = m }
}

// WithRand supplies the jitter source for scattered layouts.
func WithRand(fn func() *rand.Rand) Option {
	return func(c *Compositor) {
		if fn != nil {
			c.newRand = fn
		}
	}
}

// WithFilter replaces the native filter implementation.
func WithFilter(fn FilterFunc) Option {
	return func(c *Compositor) {
		if fn != nil {
			c.filter = fn
		}
	}
}

// New returns a Compositor with a fresh jitter seed per call.
func New(opts ...Option) *Compositor {
	c := &Compositor{
		log: slog.Default(),
		newRand: func() *rand.Rand {
			return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		},
		filter: func(img *image.RGBA, spec filter.Spec) error {
			filter.Apply(img, spec)
			return nil
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate renders req and encodes it as PNG. It returns (nil, nil) when
// the request has no images.
func (c *Compositor) Generate(ctx context.Context, req Request) ([]byte, error) {
	img, err := c.Render(ctx, req)
	if errors.Is(err, ErrNoImages) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, img, FormatPNG, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Render draws req onto a new canvas.
func (c *Compositor) Render(ctx context.Context, req Request) (img *image.RGBA, err error) {
	start := time.Now()
	defer func() {
		if !errors.Is(err, ErrNoImages) {
			c.metrics.ObserveComposite(req.LayoutID, req.FilterID, time.Since(start), err)
		}
	}()

	if req.empty() {
		return nil, ErrNoImages
	}
	count := req.count()
	if len(req.Images) > count {
		return nil, fmt.Errorf("%d images for a %d photo layout", len(req.Images), count)
	}
	spec, ok := layout.Lookup(req.LayoutID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", layout.ErrUnknownLayout, req.LayoutID)
	}
	fspec, err := filter.Resolve(req.FilterID)
	if err != nil {
		return nil, err
	}

	width, height := layout.CanvasSize(spec.ID, count)

	sources, err := decodeAll(ctx, req.Images)
	if err != nil {
		return nil, err
	}

	placements, err := layout.Compute(spec.ID, count, float64(width), float64(height), c.newRand())
	if err != nil {
		return nil, err
	}

	bounds := image.Rect(0, 0, width, height)
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, image.White, image.Point{}, draw.Src)

	photos := image.NewRGBA(bounds)
	framed := layout.IsFramed(spec.ID)
	for i, src := range sources {
		if src == nil {
			continue
		}
		if framed {
			drawFramed(photos, src, placements[i])
		} else {
			drawPlain(photos, src, placements[i])
		}
	}

	if !fspec.IsIdentity() {
		if err := c.filter(photos, fspec); err != nil {
			return nil, fmt.Errorf("apply filter %s: %w", fspec.ID, err)
		}
	}
	draw.Draw(canvas, bounds, photos, image.Point{}, draw.Over)
	drawBorder(canvas)

	c.log.Debug("composite rendered",
		"layout", spec.ID,
		"filter", fspec.ID,
		"photos", len(sources),
		"width", width,
		"height", height,
		"took", time.Since(start),
	)
	return canvas, nil
}

// decodeAll decodes every slot concurrently; the first failure cancels the rest.
func decodeAll(ctx context.Context, data [][]byte) ([]image.Image, error) {
	out := make([]image.Image, len(data))
	g, gctx := errgroup.WithContext(ctx)
	for i, raw := range data {
		if raw == nil {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, _, err := image.Decode(bytes.NewReader(raw))
			if err != nil {
				return &DecodeError{Index: i, Err: err}
			}
			out[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func drawPlain(dst *image.RGBA, src image.Image, p layout.Placement) {
	r := image.Rect(
		int(math.Round(p.X)),
		int(math.Round(p.Y)),
		int(math.Round(p.X+p.Width)),
		int(math.Round(p.Y+p.Height)),
	)
	xdraw.CatmullRom.Scale(dst, r, src, src.Bounds(), xdraw.Over, nil)
}

// drawFramed draws a white polaroid card and then the photo, both rotated
// about the placement's center.
func drawFramed(dst *image.RGBA, src image.Image, p layout.Placement) {
	cx, cy := p.Center()
	fw := int(math.Round(p.Width)) + framePad*2
	fh := int(math.Round(p.Height)) + frameExtra
	card := image.NewRGBA(image.Rect(0, 0, fw, fh))
	draw.Draw(card, card.Bounds(), image.White, image.Point{}, draw.Src)

	transform(dst, card, cx, cy, -p.Width/2-framePad, -p.Height/2-framePad, float64(fw), float64(fh), p.Rotation)
	transform(dst, src, cx, cy, -p.Width/2, -p.Height/2, p.Width, p.Height, p.Rotation)
}

// transform maps src onto a w×h rect whose top-left sits at (offX, offY)
// relative to (cx, cy), rotated by angle about (cx, cy).
func transform(dst *image.RGBA, src image.Image, cx, cy, offX, offY, w, h, angle float64) {
	sr := src.Bounds()
	sx := w / float64(sr.Dx())
	sy := h / float64(sr.Dy())
	cos, sin := math.Cos(angle), math.Sin(angle)

	a, b := cos*sx, -sin*sy
	d, e := sin*sx, cos*sy
	minX, minY := float64(sr.Min.X), float64(sr.Min.Y)
	m := f64.Aff3{
		a, b, cx + cos*offX - sin*offY - a*minX - b*minY,
		d, e, cy + sin*offX + cos*offY - d*minX - e*minY,
	}
	xdraw.BiLinear.Transform(dst, m, src, sr, xdraw.Over, nil)
}

// drawBorder strokes a borderWidth line centered on the rect inset by half
// its width, which covers the outer borderWidth pixels of every edge.
func drawBorder(canvas *image.RGBA) {
	b := canvas.Bounds()
	c := image.NewUniform(borderColor)
	for _, r := range []image.Rectangle{
		image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+borderWidth),
		image.Rect(b.Min.X, b.Max.Y-borderWidth, b.Max.X, b.Max.Y),
		image.Rect(b.Min.X, b.Min.Y, b.Min.X+borderWidth, b.Max.Y),
		image.Rect(b.Max.X-borderWidth, b.Min.Y, b.Max.X, b.Max.Y),
	} {
		draw.Draw(canvas, r, c, image.Point{}, draw.Src)
	}
}
