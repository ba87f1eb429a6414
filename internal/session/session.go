// Package session drives one pass through setup, capture and preview.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"photobooth/internal/capture"
	"photobooth/internal/compositor"
	"photobooth/internal/filter"
	"photobooth/internal/layout"
	"photobooth/internal/logging"
	"photobooth/internal/metrics"

	"github.com/google/uuid"
)

// Stage is where a session is in its flow.
type Stage int

const (
	StageSetup Stage = iota
	StageCapturing
	StagePreview
	StageClosed
)

func (s Stage) String() string {
	switch s {
	case StageSetup:
		return "setup"
	case StageCapturing:
		return "capturing"
	case StagePreview:
		return "preview"
	case StageClosed:
		return "closed"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Defaults a session starts with and returns to on StartOver.
const (
	DefaultPhotoCount = 4
	DefaultLayoutID   = layout.DefaultID
	DefaultFilterID   = filter.OriginalID
)

var (
	ErrWrongStage    = errors.New("not allowed in current stage")
	ErrClosed        = errors.New("session closed")
	ErrCountMismatch = errors.New("photo count mismatch")
	ErrInvalidCount  = errors.New("photo count out of range")
)

// CountMismatchError is returned when an upload does not match the target count.
type CountMismatchError struct {
	Want int
	Got  int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("please select exactly %d photos, got %d", e.Want, e.Got)
}

func (e *CountMismatchError) Is(target error) bool { return target == ErrCountMismatch }

// Renderer produces the encoded composite for a request.
type Renderer interface {
	Generate(ctx context.Context, req compositor.Request) ([]byte, error)
}

// Timing controls the capture sequence.
type Timing struct {
	Countdown int
	Tick      time.Duration
	Settle    time.Duration
	InterShot time.Duration
	Warmup    time.Duration
}

// DefaultTiming is a 3-2-1 countdown at one second per tick.
func DefaultTiming() Timing {
	return Timing{
		Countdown: 3,
		Tick:      time.Second,
		Settle:    100 * time.Millisecond,
		InterShot: 800 * time.Millisecond,
		Warmup:    1500 * time.Millisecond,
	}
}

// EventKind labels capture progress events.
type EventKind string

const (
	EventShot          EventKind = "shot"
	EventCountdown     EventKind = "countdown"
	EventCaptured      EventKind = "captured"
	EventFrameNotReady EventKind = "frame_not_ready"
	EventComplete      EventKind = "complete"
)

// Event reports capture progress. Shot is 1-based.
type Event struct {
	Kind      EventKind `json:"kind"`
	Shot      int       `json:"shot,omitempty"`
	Total     int       `json:"total"`
	Remaining int       `json:"remaining,omitempty"`
}

// State is a point-in-time copy of the session.
type State struct {
	ID         string      `json:"id"`
	Stage      Stage       `json:"-"`
	StageName  string      `json:"stage"`
	PhotoCount int         `json:"photo_count"`
	Layout     layout.Spec `json:"layout"`
	Filter     filter.Spec `json:"filter"`
	Slots      int         `json:"slots"`
	Filled     int         `json:"filled"`
	Caption    string      `json:"caption"`
}

// SleepFunc waits for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Session is the mutable state for one compositor run. All methods are safe
// for concurrent use; Capture blocks for the length of the sequence.
type Session struct {
	id          string
	log         *slog.Logger
	renderer    Renderer
	metrics     *metrics.Metrics
	timing      Timing
	sleep       SleepFunc
	observer    func(Event)
	constraints capture.Constraints
	jpegQuality int

	mu      sync.Mutex
	count   int
	layout  layout.Spec
	filter  filter.Spec
	images  [][]byte
	stage   Stage
	caption string
	busy    bool
	stream  capture.Stream
	cancel  context.CancelFunc
	version uint64
	preview []byte
	cached  uint64
}

// Option customizes a Session.
type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

func WithTiming(t Timing) Option { return func(s *Session) { s.timing = t } }

// WithSleep replaces the wall-clock wait used between capture steps.
func WithSleep(fn SleepFunc) Option {
	return func(s *Session) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// WithObserver receives capture events synchronously.
func WithObserver(fn func(Event)) Option { return func(s *Session) { s.observer = fn } }

func WithConstraints(c capture.Constraints) Option { return func(s *Session) { s.constraints = c } }

func WithJPEGQuality(q int) Option { return func(s *Session) { s.jpegQuality = q } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Session) { s.metrics = m } }

// WithID fixes the session id.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// New opens a session in Setup with the default count, layout and filter.
func New(renderer Renderer, opts ...Option) *Session {
	s := &Session{
		id:          uuid.NewString(),
		log:         slog.Default(),
		renderer:    renderer,
		timing:      DefaultTiming(),
		sleep:       sleepCtx,
		constraints: capture.DefaultConstraints,
		jpegQuality: 92,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("session", s.id)
	s.reset()
	return s
}

// Reconcile keeps current when it accepts count and otherwise picks the
// first eligible layout in canonical order.
func Reconcile(count int, current layout.Spec) layout.Spec {
	if current.Accepts(count) {
		return current
	}
	if next, ok := layout.FirstEligible(count); ok {
		return next
	}
	return current
}

// DefaultCaption is the caption a session gets on entering Preview.
func DefaultCaption(l layout.Spec) string {
	return "Photo booth strip - " + l.Name
}

func (s *Session) reset() {
	s.count = DefaultPhotoCount
	s.layout, _ = layout.Lookup(DefaultLayoutID)
	s.filter, _ = filter.Lookup(DefaultFilterID)
	s.images = nil
	s.caption = ""
	s.stage = StageSetup
	s.invalidate()
}

// invalidate drops the cached preview. Callers hold mu.
func (s *Session) invalidate() {
	s.version++
	s.preview = nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	filled := 0
	for _, img := range s.images {
		if img != nil {
			filled++
		}
	}
	return State{
		ID:         s.id,
		Stage:      s.stage,
		StageName:  s.stage.String(),
		PhotoCount: s.count,
		Layout:     s.layout,
		Filter:     s.filter,
		Slots:      len(s.images),
		Filled:     filled,
		Caption:    s.caption,
	}
}

// Images returns a copy of the captured slots; empty slots are nil.
func (s *Session) Images() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.images...)
}

func (s *Session) checkEditable(stages ...Stage) error {
	if s.stage == StageClosed {
		return ErrClosed
	}
	if s.busy {
		return fmt.Errorf("%w: capture in progress", ErrWrongStage)
	}
	for _, st := range stages {
		if s.stage == st {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrWrongStage, s.stage)
}

// SetPhotoCount changes the target count and reselects the layout if the
// current one no longer accepts it.
func (s *Session) SetPhotoCount(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkEditable(StageSetup); err != nil {
		return err
	}
	if n < layout.MinPhotos || n > layout.MaxPhotos {
		return fmt.Errorf("%w: %d", ErrInvalidCount, n)
	}
	prev := s.layout.ID
	s.count = n
	s.layout = Reconcile(n, s.layout)
	if s.layout.ID != prev {
		s.log.Debug("layout reselected", "from", prev, "to", s.layout.ID, "count", n)
	}
	s.invalidate()
	return nil
}

// SelectLayout picks a layout that accepts the current count.
func (s *Session) SelectLayout(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkEditable(StageSetup, StagePreview); err != nil {
		return err
	}
	spec, ok := layout.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %q", layout.ErrUnknownLayout, id)
	}
	if !spec.Accepts(s.count) {
		return fmt.Errorf("%w: %s takes %d-%d photos, session has %d", layout.ErrPhotoCount, id, spec.MinPhotos, spec.MaxPhotos, s.count)
	}
	s.layout = spec
	s.invalidate()
	return nil
}

// SelectFilter picks the color filter.
func (s *Session) SelectFilter(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkEditable(StageSetup, StagePreview); err != nil {
		return err
	}
	spec, err := filter.Resolve(id)
	if err != nil {
		return err
	}
	s.filter = spec
	s.invalidate()
	return nil
}

// Upload sets all images at once and jumps to Preview. The number of files
// must equal the target count; on mismatch nothing changes.
func (s *Session) Upload(files [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkEditable(StageSetup); err != nil {
		return err
	}
	if len(files) != s.count {
		return &CountMismatchError{Want: s.count, Got: len(files)}
	}
	s.images = append([][]byte(nil), files...)
	s.stage = StagePreview
	s.caption = DefaultCaption(s.layout)
	s.invalidate()
	s.log.Info("photos uploaded", "count", len(files), "layout", s.layout.ID)
	return nil
}

// Capture acquires dev and runs the countdown sequence for every shot. It
// returns once the session is in Preview, or with an error and the device
// released. A denied device leaves the session in Setup.
func (s *Session) Capture(ctx context.Context, dev capture.Device) error {
	s.mu.Lock()
	if err := s.checkEditable(StageSetup); err != nil {
		s.mu.Unlock()
		return err
	}
	s.busy = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	stream, err := dev.Acquire(ctx, s.constraints)

	s.mu.Lock()
	if err != nil {
		s.busy = false
		s.cancel = nil
		closed := s.stage == StageClosed
		s.mu.Unlock()
		if closed {
			return ErrClosed
		}
		s.log.Warn("camera unavailable", "error", err)
		return fmt.Errorf("start camera: %w", err)
	}
	if s.stage == StageClosed {
		s.mu.Unlock()
		_ = stream.Release()
		return ErrClosed
	}
	s.stream = stream
	s.stage = StageCapturing
	s.images = nil
	s.invalidate()
	count, layoutID := s.count, s.layout.ID
	s.mu.Unlock()

	s.log.Info("capture started", "count", count, "layout", layoutID)
	err = s.runSequence(ctx, count)
	s.releaseStream()

	s.mu.Lock()
	s.busy = false
	s.cancel = nil
	switch {
	case s.stage == StageClosed:
		s.mu.Unlock()
		return ErrClosed
	case err != nil:
		s.stage = StageSetup
		s.images = nil
		s.invalidate()
		s.mu.Unlock()
		return fmt.Errorf("capture interrupted: %w", err)
	}
	s.stage = StagePreview
	s.caption = DefaultCaption(s.layout)
	s.invalidate()
	slots := len(s.images)
	s.mu.Unlock()

	s.log.Info("capture complete", "slots", slots)
	s.emit(Event{Kind: EventComplete, Total: count})
	return nil
}

func (s *Session) runSequence(ctx context.Context, count int) error {
	if err := s.sleep(ctx, s.timing.Warmup); err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		shot := i + 1
		s.emit(Event{Kind: EventShot, Shot: shot, Total: count})
		for n := s.timing.Countdown; n > 0; n-- {
			s.emit(Event{Kind: EventCountdown, Shot: shot, Total: count, Remaining: n})
			logging.LogCaptureStep(s.log, s.id, shot, "countdown", "remaining", n)
			if err := s.sleep(ctx, s.timing.Tick); err != nil {
				return err
			}
		}
		if err := s.sleep(ctx, s.timing.Settle); err != nil {
			return err
		}
		s.grab(shot, count)
		if shot < count {
			if err := s.sleep(ctx, s.timing.InterShot); err != nil {
				return err
			}
		}
	}
	return nil
}

// grab appends one slot; it stays nil when the stream has no frame.
func (s *Session) grab(shot, count int) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return
	}

	var data []byte
	frame, err := stream.Frame()
	if err == nil {
		data, err = encodeFrame(frame, s.jpegQuality)
	}

	s.mu.Lock()
	if s.stage != StageCapturing {
		s.mu.Unlock()
		return
	}
	s.images = append(s.images, data)
	s.invalidate()
	s.mu.Unlock()

	s.metrics.ObserveFrame(err == nil)
	if err != nil {
		s.log.Warn("frame not ready, slot left empty", "shot", shot, "error", err)
		s.emit(Event{Kind: EventFrameNotReady, Shot: shot, Total: count})
		return
	}
	logging.LogCaptureStep(s.log, s.id, shot, "captured", "bytes", len(data))
	s.emit(Event{Kind: EventCaptured, Shot: shot, Total: count})
}

func encodeFrame(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Session) releaseStream() {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()
	if stream != nil {
		if err := stream.Release(); err != nil {
			s.log.Warn("release camera", "error", err)
		}
	}
}

func (s *Session) emit(ev Event) {
	if s.observer != nil {
		s.observer(ev)
	}
}

// Preview returns the current composite, rendering it only when count,
// layout, filter or images changed since the last call.
func (s *Session) Preview(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if err := s.checkEditable(StagePreview); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.preview != nil && s.cached == s.version {
		out := s.preview
		s.mu.Unlock()
		return out, nil
	}
	version := s.version
	req := compositor.Request{
		LayoutID:   s.layout.ID,
		FilterID:   s.filter.ID,
		PhotoCount: s.count,
		Images:     append([][]byte(nil), s.images...),
	}
	s.mu.Unlock()

	out, err := s.renderer.Generate(ctx, req)
	if err != nil {
		s.log.Error("failed to generate composite", "error", err)
		return nil, err
	}

	s.mu.Lock()
	if s.version == version {
		s.preview = out
		s.cached = version
	}
	s.mu.Unlock()
	return out, nil
}

// SetCaption edits the caption shown with the saved strip.
func (s *Session) SetCaption(caption string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkEditable(StagePreview); err != nil {
		return err
	}
	s.caption = caption
	return nil
}

// EffectiveCaption returns the caption, falling back to the layout default.
func (s *Session) EffectiveCaption() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.caption != "" {
		return s.caption
	}
	return DefaultCaption(s.layout)
}

// StartOver clears the images and restores the defaults.
func (s *Session) StartOver() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkEditable(StageSetup, StagePreview); err != nil {
		return err
	}
	s.reset()
	s.log.Debug("session reset")
	return nil
}

// Close cancels any running capture, releases the device before returning
// and discards all state. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.stage == StageClosed {
		s.mu.Unlock()
		return
	}
	s.stage = StageClosed
	cancel := s.cancel
	stream := s.stream
	s.stream = nil
	s.images = nil
	s.invalidate()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		if err := stream.Release(); err != nil {
			s.log.Warn("release camera", "error", err)
		}
	}
	s.log.Debug("session closed")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
