package compositor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand/v2"
	"testing"

	"photobooth/internal/filter"
	"photobooth/internal/layout"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidPNG(t *testing.T, c color.RGBA, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func seeded(seed uint64) func() *rand.Rand {
	return func() *rand.Rand { return rand.New(rand.NewPCG(seed, seed+1)) }
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func rgba(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

var (
	red   = color.RGBA{R: 220, G: 30, B: 40, A: 255}
	blue  = color.RGBA{R: 20, G: 60, B: 200, A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	dark  = color.RGBA{R: 0x33, G: 0x33, B: 0x33, A: 255}
)

func TestGenerateWithoutImagesReturnsNil(t *testing.T) {
	out, err := New().Generate(context.Background(), Request{LayoutID: layout.Vertical, PhotoCount: 4})
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = New().Generate(context.Background(), Request{LayoutID: layout.Vertical, PhotoCount: 2, Images: [][]byte{nil, nil}})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGrid2x2BlackAndWhite(t *testing.T) {
	photo := solidPNG(t, red, 64, 64)
	req := Request{
		LayoutID:   layout.Grid2x2,
		FilterID:   "bw",
		PhotoCount: 4,
		Images:     [][]byte{photo, photo, photo, photo},
	}
	out, err := New().Generate(context.Background(), req)
	require.NoError(t, err)

	img := decodePNG(t, out)
	assert.Equal(t, image.Rect(0, 0, 1080, 1080), img.Bounds())

	// border
	assert.Equal(t, dark, rgba(img, 5, 5))
	assert.Equal(t, dark, rgba(img, 1075, 540))
	assert.Equal(t, dark, rgba(img, 540, 19))

	// photos are grayscale
	for _, pt := range []image.Point{{280, 280}, {800, 280}, {280, 800}, {800, 800}} {
		px := rgba(img, pt.X, pt.Y)
		assert.Equal(t, px.R, px.G, "pixel %v", pt)
		assert.Equal(t, px.G, px.B, "pixel %v", pt)
		assert.NotEqual(t, uint8(255), px.R, "pixel %v", pt)
	}

	// background gap between cells stays white
	assert.Equal(t, white, rgba(img, 540, 300))
	assert.Equal(t, white, rgba(img, 30, 30))
}

func TestVerticalIsDeterministic(t *testing.T) {
	a, b := solidPNG(t, red, 40, 30), solidPNG(t, blue, 30, 40)
	req := Request{LayoutID: layout.Vertical, FilterID: filter.OriginalID, PhotoCount: 2, Images: [][]byte{a, b}}

	c := New()
	first, err := c.Generate(context.Background(), req)
	require.NoError(t, err)
	second, err := c.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first, second))
}

func TestScatteredDependsOnSeed(t *testing.T) {
	photo := solidPNG(t, blue, 32, 32)
	req := Request{LayoutID: layout.Scattered, PhotoCount: 3, Images: [][]byte{photo, photo, photo}}

	a, err := New(WithRand(seeded(1))).Generate(context.Background(), req)
	require.NoError(t, err)
	b, err := New(WithRand(seeded(1))).Generate(context.Background(), req)
	require.NoError(t, err)
	c, err := New(WithRand(seeded(99))).Generate(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, bytes.Equal(a, b))
	assert.False(t, bytes.Equal(a, c))
}

func TestPolaroidDrawsFrame(t *testing.T) {
	photo := solidPNG(t, blue, 50, 50)
	req := Request{LayoutID: layout.Polaroid, PhotoCount: 2, Images: [][]byte{photo, photo}}

	out, err := New(WithRand(seeded(5))).Generate(context.Background(), req)
	require.NoError(t, err)
	img := decodePNG(t, out)

	placements, err := layout.Compute(layout.Polaroid, 2, 1080, 1080, seeded(5)())
	require.NoError(t, err)

	for _, p := range placements {
		cx, cy := p.Center()
		center := rgba(img, int(cx), int(cy))
		assert.InDelta(t, float64(blue.B), float64(center.B), 2)
		assert.InDelta(t, float64(blue.R), float64(center.R), 2)

		// midway into the thick bottom edge of the card
		r := p.Height/2 + 18
		fx := cx - math.Sin(p.Rotation)*r
		fy := cy + math.Cos(p.Rotation)*r
		assert.Equal(t, white, rgba(img, int(math.Round(fx)), int(math.Round(fy))))
	}
}

func TestMissingSlotStaysBlank(t *testing.T) {
	photo := solidPNG(t, red, 20, 20)
	req := Request{LayoutID: layout.Vertical, PhotoCount: 3, Images: [][]byte{photo, nil, photo}}
	out, err := New().Generate(context.Background(), req)
	require.NoError(t, err)

	img := decodePNG(t, out)
	assert.Equal(t, image.Rect(0, 0, 600, 1000), img.Bounds())
	assert.Equal(t, white, rgba(img, 300, 500))
	assert.Equal(t, red, rgba(img, 300, 180))
	assert.Equal(t, red, rgba(img, 300, 820))
}

func TestInstaPostSingle(t *testing.T) {
	photo := solidPNG(t, red, 90, 60)
	out, err := New().Generate(context.Background(), Request{LayoutID: layout.InstaPost, Images: [][]byte{photo}})
	require.NoError(t, err)

	img := decodePNG(t, out)
	assert.Equal(t, image.Rect(0, 0, 1080, 1080), img.Bounds())
	assert.Equal(t, red, rgba(img, 540, 540))
	assert.Equal(t, red, rgba(img, 85, 85))
	assert.Equal(t, white, rgba(img, 70, 540))
}

func TestDecodeFailureAbortsComposite(t *testing.T) {
	photo := solidPNG(t, red, 20, 20)
	req := Request{LayoutID: layout.Vertical, PhotoCount: 2, Images: [][]byte{photo, []byte("not an image")}}

	out, err := New().Generate(context.Background(), req)
	require.Error(t, err)
	assert.Nil(t, out)

	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	assert.Equal(t, 1, decErr.Index)
}

func TestFilterHookReceivesLayer(t *testing.T) {
	var got filter.Spec
	hook := func(img *image.RGBA, spec filter.Spec) error {
		got = spec
		return nil
	}
	photo := solidPNG(t, red, 20, 20)
	_, err := New(WithFilter(hook)).Generate(context.Background(), Request{
		LayoutID: layout.Story, FilterID: "vintage", PhotoCount: 1, Images: [][]byte{photo},
	})
	require.NoError(t, err)
	assert.Equal(t, "vintage", got.ID)

	failing := func(*image.RGBA, filter.Spec) error { return errors.New("boom") }
	_, err = New(WithFilter(failing)).Generate(context.Background(), Request{
		LayoutID: layout.Story, FilterID: "vintage", PhotoCount: 1, Images: [][]byte{photo},
	})
	require.ErrorContains(t, err, "boom")
}

func TestRenderValidatesRequest(t *testing.T) {
	photo := solidPNG(t, red, 20, 20)

	_, err := New().Render(context.Background(), Request{LayoutID: "nope", Images: [][]byte{photo, photo}})
	require.ErrorIs(t, err, layout.ErrUnknownLayout)

	_, err = New().Render(context.Background(), Request{LayoutID: layout.Vertical, FilterID: "sparkle", Images: [][]byte{photo, photo}})
	require.ErrorIs(t, err, filter.ErrUnknownFilter)

	_, err = New().Render(context.Background(), Request{LayoutID: layout.Grid2x2, Images: [][]byte{photo, photo}})
	require.ErrorIs(t, err, layout.ErrPhotoCount)
}

func TestEncodeFormats(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, img, FormatJPEG, 0))
	assert.Equal(t, []byte{0xff, 0xd8}, buf.Bytes()[:2])

	f, err := ParseFormat("JPG")
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, f)
	assert.Equal(t, "jpg", Extension(f))
	assert.Equal(t, "image/png", ContentType(FormatPNG))

	_, err = ParseFormat("gif")
	require.Error(t, err)
}
