package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	_ "image/jpeg"
	_ "image/png"

	"photobooth/internal/fsutil"

	"github.com/fsnotify/fsnotify"
)

// WatchDevice treats a tethered camera's drop folder as a live source: the
// newest image written there is the next frame.
type WatchDevice struct {
	Dir string
	Log *slog.Logger
}

// Acquire starts watching Dir.
func (d *WatchDevice) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := d.Log
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrDeviceUnavailable, d.Dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := watcher.Add(d.Dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s := &watchStream{
		watcher: watcher,
		log:     logger.With("watch_dir", d.Dir),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.processEvents()

	logger.Info("watching capture folder", "dir", d.Dir, "width", c.Width, "height", c.Height)
	return s, nil
}

type watchStream struct {
	watcher *fsnotify.Watcher
	log     *slog.Logger
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	mu     sync.Mutex
	latest image.Image
}

// Frame hands out the newest unread image.
func (s *watchStream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil, ErrFrameNotReady
	}
	f := s.latest
	s.latest = nil
	return f, nil
}

// Release stops the watcher and waits for the event loop to exit.
func (s *watchStream) Release() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.watcher.Close()
		s.wg.Wait()
	})
	return err
}

func (s *watchStream) processEvents() {
	defer s.wg.Done()
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !fsutil.IsImageFile(event.Name) {
				continue
			}
			img, err := decodeFile(event.Name)
			if err != nil {
				// cameras write in chunks; a later write event completes the file
				s.log.Debug("frame not decodable yet", "path", event.Name, "error", err)
				continue
			}
			s.mu.Lock()
			s.latest = img
			s.mu.Unlock()
			s.log.Debug("frame received", "path", event.Name)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("capture watcher error", "error", err)

		case <-s.done:
			return
		}
	}
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
