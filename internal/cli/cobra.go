package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"photobooth/internal/compositor"
	"photobooth/internal/export"
	"photobooth/internal/filter"
	"photobooth/internal/fsutil"
	"photobooth/internal/layout"
	"photobooth/internal/pipeline"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "photobooth",
		Short: "Photobooth composes photo strips and keeps them in a shared gallery",
		Long: `Photobooth captures a burst of photos from a camera drop folder, arranges them
on one of eleven layouts with a color filter, and downloads the strip or saves
it to the shared gallery.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return root.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			root.flushMetrics()
		},
	}

	rootCmd.AddCommand(newLayoutsCmd(root))
	rootCmd.AddCommand(newFiltersCmd(root))
	rootCmd.AddCommand(newComposeCmd(root))
	rootCmd.AddCommand(newBoothCmd(root))
	rootCmd.AddCommand(newBatchCmd(root))
	rootCmd.AddCommand(newGalleryCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newLayoutsCmd(root *Root) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "layouts",
		Short: "List the available layouts",
		Long:  `List every layout with the photo counts it accepts. With --count only the eligible layouts are shown.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			specs := layout.All()
			if count != 0 {
				if count < layout.MinPhotos || count > layout.MaxPhotos {
					return fmt.Errorf("%w: %d", layout.ErrPhotoCount, count)
				}
				specs = layout.Eligible(count)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPHOTOS")
			for _, s := range specs {
				photos := fmt.Sprintf("%d-%d", s.MinPhotos, s.MaxPhotos)
				if s.MinPhotos == s.MaxPhotos {
					photos = fmt.Sprint(s.MinPhotos)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Name, photos)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 0, "Only show layouts that take this many photos")
	return cmd
}

func newFiltersCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "filters",
		Short: "List the available color filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCSS")
			for _, f := range filter.All() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", f.ID, f.Name, f.CSS())
			}
			return w.Flush()
		},
	}
}

func newComposeCmd(root *Root) *cobra.Command {
	var (
		layoutID  string
		filterID  string
		output    string
		format    string
		caption   string
		dir       string
		darktable int
		edited    bool
		save      bool
	)

	cmd := &cobra.Command{
		Use:   "compose [photos...]",
		Short: "Compose a strip from existing photos",
		Long: `Compose one to six photos into a strip. Photos come from the arguments, from
every image in --dir, or from the most recent darktable imports with --darktable N.
With --save the strip is also stored in the gallery.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			inputs := args
			switch {
			case dir != "":
				files, err := fsutil.ListImages(dir)
				if err != nil {
					return fmt.Errorf("list %s: %w", dir, err)
				}
				inputs = files
			case darktable > 0:
				files, err := root.darktableInputs(ctx, darktable, edited)
				if err != nil {
					return err
				}
				inputs = files
			}
			if len(inputs) == 0 {
				return errors.New("no photos given")
			}
			if len(inputs) > layout.MaxPhotos {
				return fmt.Errorf("%w: %d photos, at most %d", layout.ErrPhotoCount, len(inputs), layout.MaxPhotos)
			}

			if layoutID == "" {
				layoutID = root.cfg.Compositor.DefaultLayout
			}
			if filterID == "" {
				filterID = root.cfg.Compositor.DefaultFilter
			}
			if format == "" {
				format = root.cfg.Compositor.Format
			}
			fmtName, err := compositor.ParseFormat(format)
			if err != nil {
				return err
			}

			job := pipeline.Job{
				ID:     newID("compose"),
				Type:   pipeline.JobCompose,
				Inputs: inputs,
				Output: output,
				Options: map[string]any{
					"layout":  layoutID,
					"filter":  filterID,
					"format":  fmtName,
					"quality": root.cfg.Compositor.JPEGQuality,
				},
			}
			if save {
				job.ID = newID("save")
				job.Type = pipeline.JobSave
				job.Options["caption"] = caption
			} else if job.Output == "" {
				job.Output = root.defaultOutput(fmtName)
			}

			res, err := root.enqueueAndWait(ctx, job)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if path, ok := res.Meta["output"].(string); ok {
				fmt.Fprintf(out, "Strip written to %s\n", path)
			}
			if url, ok := res.Meta["url"].(string); ok {
				fmt.Fprintf(out, "Saved to gallery: %s\n", url)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&layoutID, "layout", "l", "", "Layout id (see 'photobooth layouts')")
	cmd.Flags().StringVarP(&filterID, "filter", "f", "", "Filter id (see 'photobooth filters')")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: timestamped file in the output dir)")
	cmd.Flags().StringVar(&format, "format", "", "Output format: png, jpeg")
	cmd.Flags().BoolVar(&save, "save", false, "Save the strip to the gallery")
	cmd.Flags().StringVar(&caption, "caption", "", "Gallery caption (default: derived from the layout)")
	cmd.Flags().StringVar(&dir, "dir", "", "Use every image in this directory")
	cmd.Flags().IntVar(&darktable, "darktable", 0, "Use the N most recent darktable imports")
	cmd.Flags().BoolVar(&edited, "edited", false, "With --darktable, pick the most recently edited photos instead")
	return cmd
}

func newBatchCmd(root *Root) *cobra.Command {
	var (
		group     int
		layoutID  string
		filterID  string
		outputDir string
		save      bool
	)

	cmd := &cobra.Command{
		Use:   "batch <directory>...",
		Short: "Compose strips for every group of photos in one or more directories",
		Long: `Split the images of each directory, in name order, into groups of --group photos
and compose one strip per group. A short final group still gets a strip, on the
first layout that accepts its size when the chosen one does not.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if group == 0 {
				group = root.cfg.Compositor.DefaultCount
			}
			if group < layout.MinPhotos || group > layout.MaxPhotos {
				return fmt.Errorf("%w: group of %d", layout.ErrPhotoCount, group)
			}
			if layoutID == "" {
				layoutID = root.cfg.Compositor.DefaultLayout
			}
			if filterID == "" {
				filterID = root.cfg.Compositor.DefaultFilter
			}
			if outputDir == "" {
				outputDir = root.cfg.Paths.OutputDir
			}
			fmtName, err := compositor.ParseFormat(root.cfg.Compositor.Format)
			if err != nil {
				return err
			}

			var jobs []pipeline.Job
			for _, dir := range args {
				files, err := fsutil.ListImages(dir)
				if err != nil {
					return fmt.Errorf("list %s: %w", dir, err)
				}
				base := filepath.Base(filepath.Clean(dir))
				for i := 0; i < len(files); i += group {
					end := min(i+group, len(files))
					job := pipeline.Job{
						ID:     newID("batch"),
						Type:   pipeline.JobCompose,
						Inputs: files[i:end],
						Output: filepath.Join(outputDir, fmt.Sprintf("%s-strip-%03d.%s", base, i/group+1, compositor.Extension(fmtName))),
						Options: map[string]any{
							"layout":  layoutID,
							"filter":  filterID,
							"format":  fmtName,
							"quality": root.cfg.Compositor.JPEGQuality,
						},
					}
					if save {
						job.Type = pipeline.JobSave
						job.Output = strings.TrimSuffix(job.Output, filepath.Ext(job.Output)) + ".png"
					}
					jobs = append(jobs, job)
				}
			}
			if len(jobs) == 0 {
				return fmt.Errorf("no images found in %s", strings.Join(args, ", "))
			}

			results, err := root.enqueueAll(cmd.Context(), jobs)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var failed int
			for _, res := range results {
				if res.Error != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s: %v\n", res.Job.Output, res.Error)
					continue
				}
				fmt.Fprintf(out, "ok   %s\n", res.Job.Output)
			}
			fmt.Fprintf(out, "%d strips, %d failed\n", len(results), failed)
			if failed > 0 {
				return fmt.Errorf("%d of %d strips failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&group, "group", "n", 0, "Photos per strip (default: compositor.default_count)")
	cmd.Flags().StringVarP(&layoutID, "layout", "l", "", "Layout id")
	cmd.Flags().StringVarP(&filterID, "filter", "f", "", "Filter id")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for the strips")
	cmd.Flags().BoolVar(&save, "save", false, "Also save every strip to the gallery")
	return cmd
}

func (r *Root) defaultOutput(format string) string {
	name := strings.TrimSuffix(export.DownloadName(r.now()), ".png") + "." + compositor.Extension(format)
	return filepath.Join(r.cfg.Paths.OutputDir, name)
}
