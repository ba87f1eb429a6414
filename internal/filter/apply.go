package filter

import (
	"image"
	"math"
)

type matrix [3][3]float64

// Apply runs the filter chain over img in place. Pixels with zero alpha are
// left alone so a transparent layer stays transparent.
func Apply(img *image.RGBA, s Spec) {
	for _, op := range s.Ops {
		switch op.Kind {
		case Blur:
			blur(img, op.Amount)
		case Brightness:
			perPixel(img, func(c [3]float64) [3]float64 {
				return [3]float64{c[0] * op.Amount, c[1] * op.Amount, c[2] * op.Amount}
			})
		case Contrast:
			perPixel(img, func(c [3]float64) [3]float64 {
				f := func(v float64) float64 { return (v-0.5)*op.Amount + 0.5 }
				return [3]float64{f(c[0]), f(c[1]), f(c[2])}
			})
		default:
			m := colorMatrix(op)
			perPixel(img, func(c [3]float64) [3]float64 {
				return [3]float64{
					m[0][0]*c[0] + m[0][1]*c[1] + m[0][2]*c[2],
					m[1][0]*c[0] + m[1][1]*c[1] + m[1][2]*c[2],
					m[2][0]*c[0] + m[2][1]*c[1] + m[2][2]*c[2],
				}
			})
		}
	}
}

// colorMatrix returns the filter-effects matrix for the matrix-based kinds.
func colorMatrix(op Op) matrix {
	a := op.Amount
	switch op.Kind {
	case Grayscale:
		r := 1 - math.Min(a, 1)
		return matrix{
			{0.2126 + 0.7874*r, 0.7152 - 0.7152*r, 0.0722 - 0.0722*r},
			{0.2126 - 0.2126*r, 0.7152 + 0.2848*r, 0.0722 - 0.0722*r},
			{0.2126 - 0.2126*r, 0.7152 - 0.7152*r, 0.0722 + 0.9278*r},
		}
	case Sepia:
		r := 1 - math.Min(a, 1)
		return matrix{
			{0.393 + 0.607*r, 0.769 - 0.769*r, 0.189 - 0.189*r},
			{0.349 - 0.349*r, 0.686 + 0.314*r, 0.168 - 0.168*r},
			{0.272 - 0.272*r, 0.534 - 0.534*r, 0.131 + 0.869*r},
		}
	case Saturate:
		return matrix{
			{0.213 + 0.787*a, 0.715 - 0.715*a, 0.072 - 0.072*a},
			{0.213 - 0.213*a, 0.715 + 0.285*a, 0.072 - 0.072*a},
			{0.213 - 0.213*a, 0.715 - 0.715*a, 0.072 + 0.928*a},
		}
	case HueRotate:
		rad := a * math.Pi / 180
		cos, sin := math.Cos(rad), math.Sin(rad)
		return matrix{
			{0.213 + cos*0.787 - sin*0.213, 0.715 - cos*0.715 - sin*0.715, 0.072 - cos*0.072 + sin*0.928},
			{0.213 - cos*0.213 + sin*0.143, 0.715 + cos*0.285 + sin*0.140, 0.072 - cos*0.072 - sin*0.283},
			{0.213 - cos*0.213 - sin*0.787, 0.715 - cos*0.715 + sin*0.715, 0.072 + cos*0.928 + sin*0.072},
		}
	}
	return matrix{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// perPixel maps every visible pixel's straight-alpha color through fn and
// clamps the result.
func perPixel(img *image.RGBA, fn func([3]float64) [3]float64) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i := 0; i < len(row); i += 4 {
			alpha := row[i+3]
			if alpha == 0 {
				continue
			}
			af := float64(alpha) / 255
			in := [3]float64{
				float64(row[i]) / 255 / af,
				float64(row[i+1]) / 255 / af,
				float64(row[i+2]) / 255 / af,
			}
			out := fn(in)
			for c := 0; c < 3; c++ {
				row[i+c] = uint8(math.Round(clamp01(out[c]) * af * 255))
			}
		}
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// blur applies a separable gaussian with the given standard deviation in pixels.
func blur(img *image.RGBA, sigma float64) {
	if sigma <= 0 {
		return
	}
	kernel := gaussian(sigma)
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return
	}
	tmp := make([]float64, w*h*4)
	radius := len(kernel) / 2

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc [4]float64
			for k, weight := range kernel {
				sx := clampInt(x+k-radius, 0, w-1)
				off := img.PixOffset(b.Min.X+sx, b.Min.Y+y)
				for c := 0; c < 4; c++ {
					acc[c] += float64(img.Pix[off+c]) * weight
				}
			}
			copy(tmp[(y*w+x)*4:], acc[:])
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc [4]float64
			for k, weight := range kernel {
				sy := clampInt(y+k-radius, 0, h-1)
				base := (sy*w + x) * 4
				for c := 0; c < 4; c++ {
					acc[c] += tmp[base+c] * weight
				}
			}
			off := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			alpha := math.Round(math.Min(255, math.Max(0, acc[3])))
			img.Pix[off+3] = uint8(alpha)
			// premultiplied color may not exceed alpha
			for c := 0; c < 3; c++ {
				img.Pix[off+c] = uint8(math.Min(alpha, math.Round(math.Max(0, acc[c]))))
			}
		}
	}
}

func gaussian(sigma float64) []float64 {
	radius := int(math.Ceil(sigma * 3))
	kernel := make([]float64, radius*2+1)
	var sum float64
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
