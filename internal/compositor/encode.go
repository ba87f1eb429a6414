package compositor

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	_ "image/gif"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Output formats.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"

	DefaultJPEGQuality = 92
)

// ParseFormat normalizes a format name.
func ParseFormat(name string) (string, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "", "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	}
	return "", fmt.Errorf("unsupported output format %q", name)
}

// Extension returns the file extension (without dot) for a format.
func Extension(format string) string {
	if format == FormatJPEG {
		return "jpg"
	}
	return "png"
}

// ContentType returns the MIME type for a format.
func ContentType(format string) string {
	if format == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Encode writes img in the given format. quality applies to JPEG only.
func Encode(w io.Writer, img image.Image, format string, quality int) error {
	switch format {
	case FormatPNG, "":
		return png.Encode(w, img)
	case FormatJPEG:
		if quality <= 0 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	}
	return fmt.Errorf("unsupported output format %q", format)
}
