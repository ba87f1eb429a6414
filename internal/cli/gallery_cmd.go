package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"photobooth/internal/gallery"
	"photobooth/internal/pipeline"
	"photobooth/internal/supabase"

	"github.com/spf13/cobra"
)

func newGalleryCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gallery",
		Short: "Browse and manage the shared gallery",
	}
	cmd.AddCommand(newGalleryListCmd(root))
	cmd.AddCommand(newGalleryDeleteCmd(root))
	cmd.AddCommand(newGalleryUploadCmd(root))
	cmd.AddCommand(newGalleryWatchCmd(root))
	return cmd
}

func newGalleryListCmd(root *Root) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List gallery photos, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := root.requireGallery()
			if err != nil {
				return err
			}
			photos, err := g.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(photos)
			}
			if len(photos) == 0 {
				fmt.Fprintln(out, "The gallery is empty")
				return nil
			}
			return printPhotos(out, photos)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of photos")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func printPhotos(out io.Writer, photos []gallery.Photo) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tBY\tCAPTION\tURL")
	for _, p := range photos {
		created := ""
		if !p.CreatedAt.IsZero() {
			created = p.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, created, p.UploadedBy, p.Caption, p.URL)
	}
	return w.Flush()
}

func newGalleryDeleteCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete photos and their stored files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := root.requireGallery()
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := g.Delete(cmd.Context(), id); err != nil {
					if errors.Is(err, gallery.ErrNotFound) {
						return fmt.Errorf("photo %s not found", id)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			}
			return nil
		},
	}
}

func newGalleryUploadCmd(root *Root) *cobra.Command {
	var caption string

	cmd := &cobra.Command{
		Use:   "upload <photo>...",
		Short: "Upload photos to the gallery as they are",
		Long:  `Upload each photo unchanged. Files that fail are reported and skipped.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := root.requireGallery(); err != nil {
				return err
			}
			job := pipeline.Job{
				ID:      newID("upload"),
				Type:    pipeline.JobUpload,
				Inputs:  args,
				Options: map[string]any{"caption": caption},
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			uploaded, _ := res.Meta["uploaded"].([]string)
			failed, _ := res.Meta["failed"].([]string)
			for _, path := range failed {
				fmt.Fprintf(out, "skipped %s\n", path)
			}
			fmt.Fprintf(out, "Uploaded %d of %d photos\n", len(uploaded), len(args))
			return nil
		},
	}

	cmd.Flags().StringVar(&caption, "caption", "", "Caption for every uploaded photo")
	return cmd
}

func newGalleryWatchCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print gallery changes as they happen",
		Long:  `Follow the photos table over the realtime feed until interrupted. Needs the supabase backend.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := root.requireGallery(); err != nil {
				return err
			}
			if root.supabase == nil {
				return errors.New("gallery watch needs the supabase backend")
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Watching the gallery, press Ctrl+C to stop")
			return root.supabase.Realtime().Run(cmd.Context(), func(ch supabase.Change) {
				printChange(out, ch)
			})
		},
	}
}

func printChange(out io.Writer, ch supabase.Change) {
	switch ch.Type {
	case "INSERT":
		fmt.Fprintf(out, "+ %s %q by %s %s\n", ch.Record.ID, ch.Record.Caption, ch.Record.UploadedBy, ch.Record.URL)
	case "DELETE":
		fmt.Fprintf(out, "- %s\n", ch.OldRecord.ID)
	default:
		fmt.Fprintf(out, "~ %s %q\n", ch.Record.ID, ch.Record.Caption)
	}
}
