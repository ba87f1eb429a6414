package layout

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-9

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func TestCatalogOrderAndRanges(t *testing.T) {
	ids := make([]string, 0, len(All()))
	for _, s := range All() {
		ids = append(ids, s.ID)
		assert.LessOrEqual(t, s.MinPhotos, s.MaxPhotos, s.ID)
		assert.GreaterOrEqual(t, s.MinPhotos, MinPhotos, s.ID)
		assert.LessOrEqual(t, s.MaxPhotos, MaxPhotos, s.ID)
	}
	assert.Equal(t, []string{
		Vertical, Horizontal, Grid2x2, Grid2x3, Polaroid, Filmstrip,
		Scattered, Diagonal, Circular, Story, InstaPost,
	}, ids)
}

func TestComputeStaysInsideCanvas(t *testing.T) {
	for _, spec := range All() {
		for count := spec.MinPhotos; count <= spec.MaxPhotos; count++ {
			w, h := CanvasSize(spec.ID, count)
			for seed := uint64(0); seed < 20; seed++ {
				placements, err := Compute(spec.ID, count, float64(w), float64(h), seeded(seed))
				require.NoError(t, err, "%s/%d", spec.ID, count)
				require.Len(t, placements, count, "%s/%d", spec.ID, count)
				for i, p := range placements {
					assert.Positive(t, p.Width, "%s/%d #%d", spec.ID, count, i)
					assert.Positive(t, p.Height, "%s/%d #%d", spec.ID, count, i)
					assert.GreaterOrEqual(t, p.X, -eps, "%s/%d #%d", spec.ID, count, i)
					assert.GreaterOrEqual(t, p.Y, -eps, "%s/%d #%d", spec.ID, count, i)
					assert.LessOrEqual(t, p.X+p.Width, float64(w)+eps, "%s/%d #%d", spec.ID, count, i)
					assert.LessOrEqual(t, p.Y+p.Height, float64(h)+eps, "%s/%d #%d", spec.ID, count, i)
				}
			}
		}
	}
}

func TestComputeRejectsInvalidPairs(t *testing.T) {
	_, err := Compute("hexagon", 3, 1080, 1080, nil)
	require.ErrorIs(t, err, ErrUnknownLayout)

	_, err = Compute(Grid2x2, 3, 1080, 1080, nil)
	require.ErrorIs(t, err, ErrPhotoCount)

	_, err = Compute(Diagonal, 6, 1080, 1080, nil)
	require.ErrorIs(t, err, ErrPhotoCount)
}

func TestGrid2x2Geometry(t *testing.T) {
	w, h := CanvasSize(Grid2x2, 4)
	require.Equal(t, 1080, w)
	require.Equal(t, 1080, h)

	placements, err := Compute(Grid2x2, 4, float64(w), float64(h), nil)
	require.NoError(t, err)

	corners := [][2]float64{{40, 40}, {560, 40}, {40, 560}, {560, 560}}
	for i, p := range placements {
		assert.InDelta(t, corners[i][0], p.X, eps)
		assert.InDelta(t, corners[i][1], p.Y, eps)
		assert.InDelta(t, 480, p.Width, eps)
		assert.InDelta(t, 480, p.Height, eps)
		assert.Zero(t, p.Rotation)
	}
}

func TestInstaPostSingleIsCentered(t *testing.T) {
	placements, err := Compute(InstaPost, 1, 1080, 1080, nil)
	require.NoError(t, err)
	require.Len(t, placements, 1)
	p := placements[0]
	assert.InDelta(t, 918, p.Width, eps)
	assert.InDelta(t, 918, p.Height, eps)
	assert.InDelta(t, 81, p.X, eps)
	assert.InDelta(t, 81, p.Y, eps)
}

func TestVerticalCanvasGrowsWithCount(t *testing.T) {
	_, h2 := CanvasSize(Vertical, 2)
	_, h4 := CanvasSize(Vertical, 4)
	assert.Equal(t, 2*280+3*40, h2)
	assert.Equal(t, 4*280+5*40, h4)

	placements, err := Compute(Vertical, 4, 600, float64(h4), nil)
	require.NoError(t, err)
	for i, p := range placements {
		assert.InDelta(t, 280, p.Height, eps)
		assert.InDelta(t, 520, p.Width, eps)
		assert.InDelta(t, 40+float64(i)*320, p.Y, eps)
	}
}

func TestDeterministicLayoutsIgnoreRNG(t *testing.T) {
	for _, id := range []string{Vertical, Horizontal, Filmstrip, Diagonal, Circular, Story} {
		spec, _ := Lookup(id)
		w, h := CanvasSize(id, spec.MaxPhotos)
		a, err := Compute(id, spec.MaxPhotos, float64(w), float64(h), seeded(1))
		require.NoError(t, err)
		b, err := Compute(id, spec.MaxPhotos, float64(w), float64(h), seeded(2))
		require.NoError(t, err)
		assert.Equal(t, a, b, id)
	}
}

func TestScatterUsesRNG(t *testing.T) {
	a, err := Compute(Scattered, 4, 1080, 1080, seeded(7))
	require.NoError(t, err)
	b, err := Compute(Scattered, 4, 1080, 1080, seeded(7))
	require.NoError(t, err)
	assert.Equal(t, a, b, "same seed must reproduce placements")

	c, err := Compute(Scattered, 4, 1080, 1080, seeded(8))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	for _, p := range a {
		assert.LessOrEqual(t, math.Abs(p.Rotation), 7.5*math.Pi/180)
		assert.InDelta(t, 1080*0.28, p.Width, eps)
	}
}

func TestCircularStartsAtTop(t *testing.T) {
	placements, err := Compute(Circular, 4, 1080, 1080, nil)
	require.NoError(t, err)
	cx, cy := placements[0].Center()
	assert.InDelta(t, 540, cx, 1e-6)
	assert.InDelta(t, 540-1080*0.3, cy, 1e-6)
}

func TestFirstEligible(t *testing.T) {
	cases := map[int]string{1: Story, 2: Vertical, 4: Vertical, 6: Vertical}
	for count, want := range cases {
		got, ok := FirstEligible(count)
		require.True(t, ok)
		assert.Equal(t, want, got.ID, "count %d", count)
	}
	_, ok := FirstEligible(7)
	assert.False(t, ok)

	ids := []string{}
	for _, s := range Eligible(1) {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{Story, InstaPost}, ids)
}

func TestCanvasSizeFallback(t *testing.T) {
	w, h := CanvasSize("unknown", 3)
	assert.Equal(t, 1080, w)
	assert.Equal(t, 1512, h)
}
