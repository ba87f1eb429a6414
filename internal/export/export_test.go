package export

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"photobooth/internal/gallery"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSaver struct {
	data    []byte
	caption string
	err     error
}

func (r *recordingSaver) SaveStrip(ctx context.Context, png []byte, caption string) (gallery.Photo, error) {
	r.data, r.caption = png, caption
	if r.err != nil {
		return gallery.Photo{}, r.err
	}
	return gallery.Photo{ID: "p1", Caption: caption}, nil
}

func quiet() Option { return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))) }

func TestDownloadUsesTimestampedName(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	at := time.UnixMilli(1712345678901)
	sink := New(dir, nil, quiet(), WithClock(func() time.Time { return at }))

	path, err := sink.Download([]byte("strip"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "photobooth-strip-1712345678901.png"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("strip"), data)
}

func TestSaveToGalleryDelegates(t *testing.T) {
	saver := &recordingSaver{}
	sink := New(t.TempDir(), saver, quiet())

	photo, err := sink.SaveToGallery(context.Background(), []byte("png"), "party")
	require.NoError(t, err)
	assert.Equal(t, "p1", photo.ID)
	assert.Equal(t, []byte("png"), saver.data)
	assert.Equal(t, "party", saver.caption)
}

func TestSaveToGalleryPassesErrorsThrough(t *testing.T) {
	catErr := &gallery.CatalogWriteError{Key: "u/photobooth-1.png", Err: errors.New("denied")}
	sink := New(t.TempDir(), &recordingSaver{err: catErr}, quiet())

	_, err := sink.SaveToGallery(context.Background(), []byte("png"), "")
	var target *gallery.CatalogWriteError
	require.ErrorAs(t, err, &target)

	sink = New(t.TempDir(), &recordingSaver{err: gallery.ErrNotAuthenticated}, quiet())
	_, err = sink.SaveToGallery(context.Background(), []byte("png"), "")
	require.ErrorIs(t, err, gallery.ErrNotAuthenticated)
}

func TestSaveWithoutGallery(t *testing.T) {
	sink := New(t.TempDir(), nil, quiet())
	_, err := sink.SaveToGallery(context.Background(), []byte("png"), "")
	require.ErrorIs(t, err, ErrNoGallery)
}
