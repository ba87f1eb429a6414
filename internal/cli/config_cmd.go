package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"

	"photobooth/internal/config"

	"github.com/spf13/cobra"
)

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	var asJSON bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(root.redactedConfig())
			}
			return root.configShow(out)
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "Print the full configuration as JSON")

	cmd.AddCommand(show)
	return cmd
}

func (r *Root) configShow(out io.Writer) error {
	cfgPath := os.Getenv("PHOTOBOOTH_CONFIG")
	if cfgPath == "" {
		cfgPath = "(default) ~/.config/photobooth/config.json"
	}
	c := r.cfg
	fmt.Fprintf(out, "Current configuration:\n")
	fmt.Fprintf(out, "Config file: %s\n", cfgPath)
	fmt.Fprintf(out, "\nCapture:\n")
	fmt.Fprintf(out, "  Watch dir: %s\n", c.Capture.WatchDir)
	fmt.Fprintf(out, "  Resolution: %dx%d (%s)\n", c.Capture.Width, c.Capture.Height, c.Capture.FacingMode)
	fmt.Fprintf(out, "  Countdown: %d x %dms\n", c.Capture.Countdown, c.Capture.TickMillis)
	fmt.Fprintf(out, "\nCompositor:\n")
	fmt.Fprintf(out, "  Defaults: %d photos, %s, %s\n", c.Compositor.DefaultCount, c.Compositor.DefaultLayout, c.Compositor.DefaultFilter)
	fmt.Fprintf(out, "  Format: %s\n", c.Compositor.Format)
	fmt.Fprintf(out, "  Backend: %s\n", c.Compositor.Backend)
	fmt.Fprintf(out, "\nGallery:\n")
	fmt.Fprintf(out, "  Backend: %s\n", c.Gallery.Backend)
	fmt.Fprintf(out, "  Bucket: %s, table: %s\n", c.Gallery.Bucket, c.Gallery.Table)
	if c.Gallery.Backend == "supabase" {
		fmt.Fprintf(out, "  Project: %s\n", c.Gallery.Supabase.URL)
		fmt.Fprintf(out, "  Signed in: %t\n", c.Gallery.Supabase.AccessToken != "")
	} else {
		fmt.Fprintf(out, "  Media dir: %s\n", c.Paths.MediaDir)
		fmt.Fprintf(out, "  User: %s\n", c.Gallery.LocalUser)
	}
	fmt.Fprintf(out, "\nPaths:\n")
	fmt.Fprintf(out, "  Output: %s\n", c.Paths.OutputDir)
	fmt.Fprintf(out, "  Database: %s\n", c.Paths.DatabasePath)
	return nil
}

// redactedConfig returns a copy of the config with secrets masked.
func (r *Root) redactedConfig() config.Config {
	c := *r.cfg
	if c.Gallery.Supabase.AnonKey != "" {
		c.Gallery.Supabase.AnonKey = "***"
	}
	if c.Gallery.Supabase.AccessToken != "" {
		c.Gallery.Supabase.AccessToken = "***"
	}
	return c
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "photobooth %s (%s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}
