package session

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"photobooth/internal/capture"
	"photobooth/internal/compositor"
	"photobooth/internal/layout"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRenderer struct {
	mu    sync.Mutex
	calls int
	last  compositor.Request
	err   error
}

func (f *fakeRenderer) Generate(ctx context.Context, req compositor.Request) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return []byte("composite"), nil
}

type sleepLog struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T, r Renderer, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger()), WithSleep((&sleepLog{}).sleep)}, opts...)
	s := New(r, opts...)
	t.Cleanup(s.Close)
	return s
}

func TestNewSessionDefaults(t *testing.T) {
	s := newTestSession(t, &fakeRenderer{})
	st := s.Snapshot()
	assert.Equal(t, StageSetup, st.Stage)
	assert.Equal(t, 4, st.PhotoCount)
	assert.Equal(t, layout.Vertical, st.Layout.ID)
	assert.Equal(t, "original", st.Filter.ID)
	assert.Zero(t, st.Slots)
	assert.NotEmpty(t, s.ID())
}

func TestSetPhotoCountReselectsLayout(t *testing.T) {
	s := newTestSession(t, &fakeRenderer{})

	require.NoError(t, s.SetPhotoCount(1))
	assert.Equal(t, layout.Story, s.Snapshot().Layout.ID)

	require.NoError(t, s.SetPhotoCount(4))
	require.NoError(t, s.SelectLayout(layout.Grid2x2))
	require.NoError(t, s.SetPhotoCount(4))
	assert.Equal(t, layout.Grid2x2, s.Snapshot().Layout.ID)

	require.NoError(t, s.SetPhotoCount(5))
	require.NoError(t, s.SelectLayout(layout.Diagonal))
	require.NoError(t, s.SetPhotoCount(6))
	assert.Equal(t, layout.Vertical, s.Snapshot().Layout.ID)
}

func TestReconcileNeverLeavesInvalidPair(t *testing.T) {
	for _, current := range layout.All() {
		for count := layout.MinPhotos; count <= layout.MaxPhotos; count++ {
			got := Reconcile(count, current)
			assert.True(t, got.Accepts(count), "%s with %d", current.ID, count)
			if current.Accepts(count) {
				assert.Equal(t, current.ID, got.ID)
			}
		}
	}
}

func TestSetPhotoCountRejectsOutOfRange(t *testing.T) {
	s := newTestSession(t, &fakeRenderer{})
	require.ErrorIs(t, s.SetPhotoCount(0), ErrInvalidCount)
	require.ErrorIs(t, s.SetPhotoCount(7), ErrInvalidCount)
	assert.Equal(t, 4, s.Snapshot().PhotoCount)
}

func TestSelectLayoutRequiresEligibility(t *testing.T) {
	s := newTestSession(t, &fakeRenderer{})
	require.ErrorIs(t, s.SelectLayout(layout.Grid2x3), layout.ErrPhotoCount)
	require.ErrorIs(t, s.SelectLayout("hexagon"), layout.ErrUnknownLayout)
	assert.Equal(t, layout.Vertical, s.Snapshot().Layout.ID)
}

func TestUploadCountMismatchDoesNotMutate(t *testing.T) {
	s := newTestSession(t, &fakeRenderer{})
	err := s.Upload([][]byte{[]byte("a"), []byte("b")})

	var mismatch *CountMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.ErrorIs(t, err, ErrCountMismatch)
	assert.Equal(t, 4, mismatch.Want)
	assert.Equal(t, 2, mismatch.Got)

	st := s.Snapshot()
	assert.Equal(t, StageSetup, st.Stage)
	assert.Zero(t, st.Slots)
}

func TestUploadJumpsToPreview(t *testing.T) {
	s := newTestSession(t, &fakeRenderer{})
	require.NoError(t, s.SetPhotoCount(6))

	files := make([][]byte, 6)
	for i := range files {
		files[i] = []byte{byte(i)}
	}
	require.NoError(t, s.Upload(files))

	st := s.Snapshot()
	assert.Equal(t, StagePreview, st.Stage)
	assert.Equal(t, 6, st.Slots)
	assert.Contains(t, st.Caption, st.Layout.Name)
	assert.Equal(t, "Photo booth strip - Classic Vertical", st.Caption)
	assert.Equal(t, files, s.Images())
}

func TestCaptureSequence(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	sleeps := &sleepLog{}
	dev := &capture.SliceDevice{Frames: capture.TestPattern(2, 32, 24)}

	s := newTestSession(t, &fakeRenderer{},
		WithSleep(sleeps.sleep),
		WithObserver(func(ev Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}),
	)
	require.NoError(t, s.SetPhotoCount(2))
	require.NoError(t, s.Capture(context.Background(), dev))

	st := s.Snapshot()
	assert.Equal(t, StagePreview, st.Stage)
	assert.Equal(t, 2, st.Filled)
	assert.Equal(t, "Photo booth strip - Classic Vertical", st.Caption)
	assert.Zero(t, dev.Active(), "device must be released")

	timing := DefaultTiming()
	assert.Equal(t, []time.Duration{
		timing.Warmup,
		timing.Tick, timing.Tick, timing.Tick, timing.Settle, timing.InterShot,
		timing.Tick, timing.Tick, timing.Tick, timing.Settle,
	}, sleeps.waits)

	kinds := make([]string, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, string(ev.Kind))
	}
	assert.Equal(t, "shot countdown countdown countdown captured shot countdown countdown countdown captured complete", strings.Join(kinds, " "))
	assert.Equal(t, 3, events[1].Remaining)
	assert.Equal(t, 1, events[3].Remaining)

	for _, data := range s.Images() {
		require.NotNil(t, data)
		assert.Equal(t, []byte{0xff, 0xd8}, data[:2], "frames are stored as JPEG")
	}
}

func TestCaptureFrameNotReadyLeavesSlotEmpty(t *testing.T) {
	frames := capture.TestPattern(2, 8, 8)
	dev := &capture.SliceDevice{Frames: []image.Image{frames[0], nil, frames[1]}}
	var notReady int
	s := newTestSession(t, &fakeRenderer{}, WithObserver(func(ev Event) {
		if ev.Kind == EventFrameNotReady {
			notReady++
		}
	}))
	require.NoError(t, s.SetPhotoCount(3))
	require.NoError(t, s.Capture(context.Background(), dev))

	images := s.Images()
	require.Len(t, images, 3)
	assert.NotNil(t, images[0])
	assert.Nil(t, images[1])
	assert.NotNil(t, images[2])
	assert.Equal(t, 1, notReady)
	assert.Equal(t, StagePreview, s.Snapshot().Stage)
}

func TestCaptureDeviceDeniedStaysInSetup(t *testing.T) {
	s := newTestSession(t, &fakeRenderer{})
	require.NoError(t, s.Upload([][]byte{{1}, {2}, {3}, {4}}))
	require.NoError(t, s.StartOver())

	err := s.Capture(context.Background(), &capture.SliceDevice{Denied: true})
	require.ErrorIs(t, err, capture.ErrDeviceUnavailable)
	assert.Equal(t, StageSetup, s.Snapshot().Stage)

	// the session is still usable
	require.NoError(t, s.SetPhotoCount(2))
}

func TestCloseMidCaptureReleasesDevice(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	block := func(ctx context.Context, d time.Duration) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}
	dev := &capture.SliceDevice{Frames: capture.TestPattern(4, 8, 8)}
	s := New(&fakeRenderer{}, WithLogger(quietLogger()), WithSleep(block))

	done := make(chan error, 1)
	go func() { done <- s.Capture(context.Background(), dev) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("capture never started")
	}
	require.Equal(t, 1, dev.Active())

	s.Close()
	assert.Zero(t, dev.Active(), "Close must release the device before returning")

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("capture did not stop after Close")
	}
	assert.Equal(t, StageClosed, s.Snapshot().Stage)
	require.ErrorIs(t, s.SetPhotoCount(2), ErrClosed)
	s.Close()
}

func TestCaptureCancelledReturnsToSetup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dev := &capture.SliceDevice{Frames: capture.TestPattern(4, 8, 8)}
	calls := 0
	s := newTestSession(t, &fakeRenderer{}, WithSleep(func(c context.Context, d time.Duration) error {
		calls++
		if calls == 3 {
			cancel()
		}
		return c.Err()
	}))

	err := s.Capture(ctx, dev)
	require.ErrorIs(t, err, context.Canceled)
	st := s.Snapshot()
	assert.Equal(t, StageSetup, st.Stage)
	assert.Zero(t, st.Slots)
	assert.Zero(t, dev.Active())
}

func TestCaptureRejectedOutsideSetup(t *testing.T) {
	s := newTestSession(t, &fakeRenderer{})
	require.NoError(t, s.Upload([][]byte{{1}, {2}, {3}, {4}}))
	err := s.Capture(context.Background(), &capture.SliceDevice{})
	require.ErrorIs(t, err, ErrWrongStage)
}

func TestPreviewIsCachedUntilInputsChange(t *testing.T) {
	r := &fakeRenderer{}
	s := newTestSession(t, r)

	_, err := s.Preview(context.Background())
	require.ErrorIs(t, err, ErrWrongStage)

	require.NoError(t, s.Upload([][]byte{{1}, {2}, {3}, {4}}))
	out, err := s.Preview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("composite"), out)
	_, err = s.Preview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)

	require.NoError(t, s.SetCaption("our day"))
	_, err = s.Preview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls, "caption does not affect the composite")

	require.NoError(t, s.SelectFilter("noir"))
	_, err = s.Preview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, r.calls)
	assert.Equal(t, "noir", r.last.FilterID)
	assert.Equal(t, 4, r.last.PhotoCount)
	assert.Len(t, r.last.Images, 4)

	require.NoError(t, s.SelectLayout(layout.Grid2x2))
	_, err = s.Preview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, r.calls)
	assert.Equal(t, layout.Grid2x2, r.last.LayoutID)
}

func TestPreviewErrorKeepsPreviewStage(t *testing.T) {
	r := &fakeRenderer{err: errors.New("failed to generate")}
	s := newTestSession(t, r)
	require.NoError(t, s.Upload([][]byte{{1}, {2}, {3}, {4}}))

	_, err := s.Preview(context.Background())
	require.Error(t, err)
	assert.Equal(t, StagePreview, s.Snapshot().Stage)

	r.err = nil
	_, err = s.Preview(context.Background())
	require.NoError(t, err)
}

func TestStartOverRestoresDefaults(t *testing.T) {
	s := newTestSession(t, &fakeRenderer{})
	require.NoError(t, s.SetPhotoCount(2))
	require.NoError(t, s.SelectLayout(layout.Polaroid))
	require.NoError(t, s.SelectFilter("retro"))
	require.NoError(t, s.Upload([][]byte{{1}, {2}}))
	require.NoError(t, s.SetCaption("hello"))

	require.NoError(t, s.StartOver())
	st := s.Snapshot()
	assert.Equal(t, StageSetup, st.Stage)
	assert.Equal(t, 4, st.PhotoCount)
	assert.Equal(t, layout.Vertical, st.Layout.ID)
	assert.Equal(t, "original", st.Filter.ID)
	assert.Zero(t, st.Slots)
	assert.Empty(t, st.Caption)
}

func TestEffectiveCaption(t *testing.T) {
	s := newTestSession(t, &fakeRenderer{})
	require.NoError(t, s.SetPhotoCount(1))
	require.NoError(t, s.Upload([][]byte{{1}}))
	require.NoError(t, s.SetCaption(""))
	assert.Equal(t, "Photo booth strip - Instagram Story", s.EffectiveCaption())
	require.NoError(t, s.SetCaption("beach"))
	assert.Equal(t, "beach", s.EffectiveCaption())
}
