package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"photobooth/internal/capture"
	"photobooth/internal/export"
	"photobooth/internal/fsutil"
	"photobooth/internal/gallery"
	"photobooth/internal/layout"
	"photobooth/internal/session"

	"github.com/spf13/cobra"
)

type boothOptions struct {
	count    int
	layoutID string
	filterID string
	watchDir string
	caption  string
	output   string
	demo     bool
	save     bool
}

func newBoothCmd(root *Root) *cobra.Command {
	var opts boothOptions

	cmd := &cobra.Command{
		Use:   "booth [photos...]",
		Short: "Run a photo booth session",
		Long: `Run one booth session: count down and take --count shots from the camera drop
folder (or a test pattern with --demo), compose the strip, download it to the
output directory and optionally save it to the gallery.

Passing exactly --count photos skips the camera and composes them directly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.runBooth(cmd.Context(), cmd.OutOrStdout(), opts, args)
		},
	}

	cmd.Flags().IntVarP(&opts.count, "count", "n", 0, "Number of photos (default: compositor.default_count)")
	cmd.Flags().StringVarP(&opts.layoutID, "layout", "l", "", "Layout id")
	cmd.Flags().StringVarP(&opts.filterID, "filter", "f", "", "Filter id")
	cmd.Flags().StringVar(&opts.watchDir, "watch-dir", "", "Camera drop folder (default: capture.watch_dir)")
	cmd.Flags().StringVar(&opts.caption, "caption", "", "Gallery caption")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Download directory (default: paths.output_dir)")
	cmd.Flags().BoolVar(&opts.demo, "demo", false, "Capture from a generated test pattern")
	cmd.Flags().BoolVar(&opts.save, "save", false, "Save the strip to the gallery")
	return cmd
}

func (r *Root) sessionTiming() session.Timing {
	c := r.cfg.Capture
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return session.Timing{
		Countdown: c.Countdown,
		Tick:      ms(c.TickMillis),
		Settle:    ms(c.SettleMillis),
		InterShot: ms(c.InterShotMillis),
		Warmup:    ms(c.WarmupMillis),
	}
}

func (r *Root) runBooth(ctx context.Context, out io.Writer, opts boothOptions, files []string) error {
	cc := r.cfg.Capture
	constraints := capture.Constraints{Width: cc.Width, Height: cc.Height, FacingMode: cc.FacingMode}

	sess := session.New(r.compositor,
		session.WithLogger(r.log),
		session.WithMetrics(r.metrics),
		session.WithTiming(r.sessionTiming()),
		session.WithConstraints(constraints),
		session.WithJPEGQuality(cc.JPEGQuality),
		session.WithObserver(func(ev session.Event) { printEvent(out, ev) }),
	)
	defer sess.Close()

	count := opts.count
	if count == 0 {
		count = r.cfg.Compositor.DefaultCount
	}
	if err := sess.SetPhotoCount(count); err != nil {
		return err
	}
	layoutID := opts.layoutID
	if layoutID == "" {
		// Keep the layout SetPhotoCount reconciled to unless the configured
		// default takes this many photos.
		if def, ok := layout.Lookup(r.cfg.Compositor.DefaultLayout); ok && def.Accepts(count) {
			layoutID = def.ID
		}
	}
	if layoutID != "" {
		if err := sess.SelectLayout(layoutID); err != nil {
			return err
		}
	}
	filterID := opts.filterID
	if filterID == "" {
		filterID = r.cfg.Compositor.DefaultFilter
	}
	if err := sess.SelectFilter(filterID); err != nil {
		return err
	}

	if len(files) > 0 {
		images, err := fsutil.ReadFiles(files)
		if err != nil {
			return err
		}
		if err := sess.Upload(images); err != nil {
			return err
		}
	} else {
		var dev capture.Device
		if opts.demo {
			dev = &capture.SliceDevice{Frames: capture.TestPattern(count, cc.Width, cc.Height)}
		} else {
			dir := opts.watchDir
			if dir == "" {
				dir = cc.WatchDir
			}
			dev = &capture.WatchDevice{Dir: dir, Log: r.log}
			fmt.Fprintf(out, "Watching %s for camera frames\n", dir)
		}
		if err := sess.Capture(ctx, dev); err != nil {
			return err
		}
	}

	strip, err := sess.Preview(ctx)
	if err != nil {
		return err
	}
	if strip == nil {
		return errors.New("no frames captured, nothing to compose")
	}
	if opts.caption != "" {
		if err := sess.SetCaption(opts.caption); err != nil {
			return err
		}
	}

	dir := opts.output
	if dir == "" {
		dir = r.cfg.Paths.OutputDir
	}
	var saver export.Saver
	if r.gallery != nil {
		saver = r.gallery
	}
	sink := export.New(dir, saver, export.WithLogger(r.log), export.WithClock(r.now))

	path, err := sink.Download(strip)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Strip downloaded to %s\n", path)

	if !opts.save {
		return nil
	}
	photo, err := sink.SaveToGallery(ctx, strip, sess.EffectiveCaption())
	var catErr *gallery.CatalogWriteError
	switch {
	case errors.Is(err, export.ErrNoGallery):
		return fmt.Errorf("save to gallery: %w", r.galleryUnavailable())
	case errors.Is(err, gallery.ErrNotAuthenticated):
		return errors.New("save to gallery: sign in first (set SUPABASE_ACCESS_TOKEN or PHOTOBOOTH_USER)")
	case errors.As(err, &catErr):
		return fmt.Errorf("strip uploaded to %s but not cataloged: %w", catErr.Key, catErr.Err)
	case err != nil:
		return fmt.Errorf("save to gallery: %w", err)
	}
	fmt.Fprintf(out, "Saved to gallery: %s\n", photo.URL)
	return nil
}

func (r *Root) galleryUnavailable() error {
	if r.galleryErr != nil {
		return r.galleryErr
	}
	return export.ErrNoGallery
}

func printEvent(out io.Writer, ev session.Event) {
	switch ev.Kind {
	case session.EventShot:
		fmt.Fprintf(out, "Photo %d of %d\n", ev.Shot, ev.Total)
	case session.EventCountdown:
		fmt.Fprintf(out, "  %d...\n", ev.Remaining)
	case session.EventCaptured:
		fmt.Fprintln(out, "  click!")
	case session.EventFrameNotReady:
		fmt.Fprintln(out, "  camera not ready, slot left empty")
	case session.EventComplete:
		fmt.Fprintln(out, "All photos taken")
	}
}

// darktableInputs returns up to n photo paths from the darktable library.
func (r *Root) darktableInputs(ctx context.Context, n int, edited bool) ([]string, error) {
	lib, err := r.openDarktable(r.cfg.Darktable.ConfigDir, r.log)
	if err != nil {
		return nil, err
	}
	defer lib.Close()

	list := lib.Recent
	if edited {
		list = lib.Edited
	}
	photos, err := list(ctx, n)
	if err != nil {
		return nil, err
	}
	paths := lib.Paths(photos)
	if len(paths) == 0 {
		return nil, errors.New("no darktable photos found on disk")
	}
	return paths, nil
}
