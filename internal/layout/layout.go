// Package layout maps a photo count and canvas size to per-photo placements.
package layout

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// Layout identifiers in canonical order.
const (
	Vertical   = "vertical"
	Horizontal = "horizontal"
	Grid2x2    = "grid-2x2"
	Grid2x3    = "grid-2x3"
	Polaroid   = "polaroid"
	Filmstrip  = "filmstrip"
	Scattered  = "scattered"
	Diagonal   = "diagonal"
	Circular   = "circular"
	Story      = "story"
	InstaPost  = "insta-post"

	// DefaultID is the layout a fresh session starts with.
	DefaultID = Vertical

	// Padding is the gap kept around and between photos.
	Padding = 40.0

	MinPhotos = 1
	MaxPhotos = 6
)

var (
	ErrUnknownLayout = errors.New("unknown layout")
	ErrPhotoCount    = errors.New("photo count not supported by layout")
)

// Spec describes one named arrangement.
type Spec struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MinPhotos int    `json:"min_photos"`
	MaxPhotos int    `json:"max_photos"`
}

// Accepts reports whether count lies within the spec's range.
func (s Spec) Accepts(count int) bool {
	return count >= s.MinPhotos && count <= s.MaxPhotos
}

var catalog = []Spec{
	{ID: Vertical, Name: "Classic Vertical", MinPhotos: 2, MaxPhotos: 6},
	{ID: Horizontal, Name: "Classic Horizontal", MinPhotos: 2, MaxPhotos: 6},
	{ID: Grid2x2, Name: "Grid 2×2", MinPhotos: 4, MaxPhotos: 4},
	{ID: Grid2x3, Name: "Grid 2×3", MinPhotos: 6, MaxPhotos: 6},
	{ID: Polaroid, Name: "Polaroid Collage", MinPhotos: 2, MaxPhotos: 6},
	{ID: Filmstrip, Name: "Film Strip", MinPhotos: 3, MaxPhotos: 6},
	{ID: Scattered, Name: "Scattered Polaroids", MinPhotos: 3, MaxPhotos: 6},
	{ID: Diagonal, Name: "Diagonal", MinPhotos: 2, MaxPhotos: 5},
	{ID: Circular, Name: "Circular", MinPhotos: 4, MaxPhotos: 6},
	{ID: Story, Name: "Instagram Story", MinPhotos: 1, MaxPhotos: 4},
	{ID: InstaPost, Name: "Instagram Post", MinPhotos: 1, MaxPhotos: 4},
}

// All returns the catalog in canonical order.
func All() []Spec {
	return append([]Spec(nil), catalog...)
}

// Lookup finds a layout by id.
func Lookup(id string) (Spec, bool) {
	for _, s := range catalog {
		if s.ID == id {
			return s, true
		}
	}
	return Spec{}, false
}

// Eligible lists the layouts accepting count, in canonical order.
func Eligible(count int) []Spec {
	var out []Spec
	for _, s := range catalog {
		if s.Accepts(count) {
			out = append(out, s)
		}
	}
	return out
}

// FirstEligible returns the first layout in canonical order accepting count.
func FirstEligible(count int) (Spec, bool) {
	for _, s := range catalog {
		if s.Accepts(count) {
			return s, true
		}
	}
	return Spec{}, false
}

// IsFramed reports whether photos in the layout get a polaroid frame.
func IsFramed(id string) bool {
	return id == Polaroid || id == Scattered
}

// Placement is the rect one photo occupies. X and Y locate the top-left
// corner of the unrotated rect; Rotation (radians) turns it about its center.
type Placement struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation float64 `json:"rotation"`
}

// Center returns the rect's center point.
func (p Placement) Center() (float64, float64) {
	return p.X + p.Width/2, p.Y + p.Height/2
}

// CanvasSize returns the output size for a layout. Only the vertical strip
// depends on count.
func CanvasSize(id string, count int) (int, int) {
	switch id {
	case Vertical:
		return 600, count*280 + (count+1)*40
	case Horizontal:
		return 1200, 400
	case Grid2x2, Polaroid, Scattered, Diagonal, Circular, InstaPost:
		return 1080, 1080
	case Grid2x3:
		return 1080, 1620
	case Filmstrip:
		return 1400, 500
	case Story:
		return 1080, 1920
	default:
		return 1080, 1512
	}
}

// Compute returns count placements for the layout on a width×height canvas.
// Only polaroid and scattered draw from rng; a nil rng uses a fresh seed.
func Compute(id string, count int, width, height float64, rng *rand.Rand) ([]Placement, error) {
	spec, ok := Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayout, id)
	}
	if !spec.Accepts(count) {
		return nil, fmt.Errorf("%w: %s takes %d-%d photos, got %d", ErrPhotoCount, id, spec.MinPhotos, spec.MaxPhotos, count)
	}

	n := float64(count)
	short := math.Min(width, height)
	out := make([]Placement, count)

	switch id {
	case Vertical:
		h := (height - Padding*(n+1)) / n
		w := width - Padding*2
		for i := range out {
			out[i] = Placement{X: Padding, Y: Padding + float64(i)*(h+Padding), Width: w, Height: h}
		}

	case Horizontal:
		w := (width - Padding*(n+1)) / n
		h := height - Padding*2
		for i := range out {
			out[i] = Placement{X: Padding + float64(i)*(w+Padding), Y: Padding, Width: w, Height: h}
		}

	case Grid2x2:
		size := (width - Padding*3) / 2
		for i := range out {
			col, row := float64(i%2), float64(i/2)
			out[i] = Placement{X: Padding + col*(size+Padding), Y: Padding + row*(size+Padding), Width: size, Height: size}
		}

	case Grid2x3:
		w := (width - Padding*3) / 2
		h := (height - Padding*4) / 3
		for i := range out {
			col, row := float64(i%2), float64(i/2)
			out[i] = Placement{X: Padding + col*(w+Padding), Y: Padding + row*(h+Padding), Width: w, Height: h}
		}

	case Polaroid, Scattered:
		if rng == nil {
			rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
		return scatter(count, width, height, rng), nil

	case Filmstrip:
		w := (width - Padding*(n+1)) / n
		h := w * 1.2
		y := (height - h) / 2
		for i := range out {
			out[i] = Placement{X: Padding + float64(i)*(w+Padding), Y: y, Width: w, Height: h}
		}

	case Diagonal:
		size := short * 0.4
		step := short * 0.15
		if count > 1 {
			if limit := (short - Padding*2 - size) / (n - 1); limit < step {
				step = limit
			}
		}
		for i := range out {
			off := Padding + float64(i)*step
			out[i] = Placement{X: off, Y: off, Width: size, Height: size}
		}

	case Circular:
		radius := short * 0.3
		size := short * 0.25
		cx, cy := width/2, height/2
		for i := range out {
			angle := float64(i)/n*2*math.Pi - math.Pi/2
			out[i] = Placement{
				X:      cx + math.Cos(angle)*radius - size/2,
				Y:      cy + math.Sin(angle)*radius - size/2,
				Width:  size,
				Height: size,
			}
		}

	case Story:
		h := (height - Padding*(n+1)) / n
		w := h * 0.75
		if maxW := width - Padding*2; w > maxW {
			w = maxW
			h = w / 0.75
		}
		x := (width - w) / 2
		y := (height - (n*h + (n-1)*Padding)) / 2
		for i := range out {
			out[i] = Placement{X: x, Y: y + float64(i)*(h+Padding), Width: w, Height: h}
		}

	case InstaPost:
		if count == 1 {
			size := short * 0.85
			out[0] = Placement{X: (width - size) / 2, Y: (height - size) / 2, Width: size, Height: size}
			break
		}
		size := (width - Padding*3) / 2
		for i := range out {
			col, row := float64(i%2), float64(i/2)
			out[i] = Placement{X: Padding + col*(size+Padding), Y: Padding + row*(size+Padding), Width: size, Height: size}
		}
	}

	return out, nil
}

const (
	// scatterAngleRange is the full spread in degrees, so tilts fall within ±7.5°.
	scatterAngleRange = 15.0
	scatterPadFactor  = 1.3
	scatterJitter     = 0.3
)

// scatter lays photos on a coarse grid and jitters each one's position and angle.
func scatter(count int, width, height float64, rng *rand.Rand) []Placement {
	size := math.Min(width, height) * 0.28

	cols, rows := 3, (count+2)/3
	switch {
	case count <= 2:
		cols, rows = 2, 1
	case count <= 4:
		cols, rows = 2, 2
	}

	padded := size * scatterPadFactor
	spacingX := (width - padded) / float64(cols+1)
	spacingY := (height - padded) / float64(rows+1)

	out := make([]Placement, count)
	for i := range out {
		col, row := float64(i%cols), float64(i/cols)
		cx := spacingX*(col+1) + (padded/2)*col
		cy := spacingY*(row+1) + (padded/2)*row
		cx += (rng.Float64() - 0.5) * spacingX * scatterJitter
		cy += (rng.Float64() - 0.5) * spacingY * scatterJitter
		angle := (rng.Float64() - 0.5) * scatterAngleRange * math.Pi / 180

		x := clamp(cx-size/2, 0, width-size)
		y := clamp(cy-size/2, 0, height-size)
		out[i] = Placement{X: x, Y: y, Width: size, Height: size, Rotation: angle}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
