// Package magick renders composite filters through ImageMagick's MagickWand.
package magick

import (
	"fmt"
	"image"
	"image/draw"
	"sync"

	"photobooth/internal/filter"

	"gopkg.in/gographics/imagick.v3/imagick"
)

// Renderer owns the MagickWand environment for the life of the process.
type Renderer struct {
	mu     sync.Mutex
	closed bool
}

// New initializes ImageMagick. Call Close when done.
func New() *Renderer {
	imagick.Initialize()
	return &Renderer{}
}

// Close tears the MagickWand environment down.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	imagick.Terminate()
}

// Apply runs the filter chain over img through a wand and writes the result
// back into img. ImageMagick works in HSL for modulate, so results are close
// to, not identical with, the native filters.
func (r *Renderer) Apply(img *image.RGBA, spec filter.Spec) error {
	if spec.IsIdentity() {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("magick renderer closed")
	}
	r.mu.Unlock()

	b := img.Bounds()
	straight := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(straight, straight.Bounds(), img, b.Min, draw.Src)

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ConstituteImage(uint(b.Dx()), uint(b.Dy()), "RGBA", imagick.PIXEL_CHAR, straight.Pix); err != nil {
		return fmt.Errorf("constitute image: %w", err)
	}

	for _, op := range spec.Ops {
		if err := applyOp(mw, op); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	out, err := mw.ExportImagePixels(0, 0, uint(b.Dx()), uint(b.Dy()), "RGBA", imagick.PIXEL_CHAR)
	if err != nil {
		return fmt.Errorf("export pixels: %w", err)
	}
	pix, ok := out.([]byte)
	if !ok || len(pix) != len(straight.Pix) {
		return fmt.Errorf("unexpected pixel buffer %T", out)
	}
	copy(straight.Pix, pix)
	draw.Draw(img, b, straight, image.Point{}, draw.Src)
	return nil
}

func applyOp(mw *imagick.MagickWand, op filter.Op) error {
	switch op.Kind {
	case filter.Grayscale:
		return mw.ModulateImage(100, 100*(1-op.Amount), 100)
	case filter.Sepia:
		_, quantum := imagick.GetQuantumRange()
		return mw.SepiaToneImage(float64(quantum) * 0.8 * op.Amount)
	case filter.Saturate:
		return mw.ModulateImage(100, 100*op.Amount, 100)
	case filter.Brightness:
		return mw.ModulateImage(100*op.Amount, 100, 100)
	case filter.Contrast:
		return mw.BrightnessContrastImage(0, (op.Amount-1)*100)
	case filter.HueRotate:
		// modulate hue: 100 is unchanged, 200 is a half turn
		return mw.ModulateImage(100, 100, 100+op.Amount/1.8)
	case filter.Blur:
		return mw.BlurImage(0, op.Amount)
	}
	return fmt.Errorf("unsupported filter op %q", op.Kind)
}
