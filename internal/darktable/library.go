// Package darktable reads source photos out of a darktable library.
package darktable

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"photobooth/internal/fsutil"

	_ "github.com/mattn/go-sqlite3"
)

// Unix time of 0001-01-01 00:00:00; darktable counts microseconds from there.
const epochOffset = -62135596800

func fromDarktable(us int64) time.Time {
	if us <= 0 {
		return time.Time{}
	}
	return time.Unix(us/1000000+epochOffset, 0)
}

// Photo is one image row joined with its film roll.
type Photo struct {
	ID         int       `json:"id"`
	Filename   string    `json:"filename"`
	Folder     string    `json:"folder"`
	FullPath   string    `json:"full_path"`
	Taken      time.Time `json:"datetime_taken"`
	Changed    time.Time `json:"change_time"`
	HistoryEnd int       `json:"history_end"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
}

// IsEdited reports whether darktable holds an edit history for the photo.
func (p Photo) IsEdited() bool { return p.HistoryEnd > 0 }

// Library is a read-only handle on library.db.
type Library struct {
	path string
	db   *sql.DB
	log  *slog.Logger
}

// Open connects to library.db under configDir. When configDir is empty the
// native and flatpak config locations are tried in that order.
func Open(configDir string, logger *slog.Logger) (*Library, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var candidates []string
	if configDir != "" {
		candidates = []string{filepath.Join(configDir, "library.db")}
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		candidates = []string{
			filepath.Join(home, ".config", "darktable", "library.db"),
			filepath.Join(home, ".var", "app", "org.darktable.Darktable", "config", "darktable", "library.db"),
		}
	}
	path := fsutil.FirstExisting(candidates...)
	if path == "" {
		return nil, fmt.Errorf("darktable library.db not found at %s", candidates[0])
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open library database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("library database ping failed: %w", err)
	}
	logger.Debug("connected to darktable library", "path", path)
	return &Library{path: path, db: db, log: logger}, nil
}

func (l *Library) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

const photoColumns = `i.id, i.filename, f.folder, i.datetime_taken, i.change_timestamp, i.history_end, i.width, i.height`

// Recent returns the most recently imported photos.
func (l *Library) Recent(ctx context.Context, limit int) ([]Photo, error) {
	return l.query(ctx, `SELECT `+photoColumns+`
		FROM images i
		JOIN film_rolls f ON i.film_id = f.id
		ORDER BY i.import_timestamp DESC, i.id DESC
		LIMIT ?`, limit)
}

// Edited returns photos with an edit history, most recently changed first.
func (l *Library) Edited(ctx context.Context, limit int) ([]Photo, error) {
	return l.query(ctx, `SELECT `+photoColumns+`
		FROM images i
		JOIN film_rolls f ON i.film_id = f.id
		WHERE i.history_end > 0
		ORDER BY i.change_timestamp DESC, i.id DESC
		LIMIT ?`, limit)
}

// Folder returns the photos of one film roll in capture order.
func (l *Library) Folder(ctx context.Context, folder string) ([]Photo, error) {
	return l.query(ctx, `SELECT `+photoColumns+`
		FROM images i
		JOIN film_rolls f ON i.film_id = f.id
		WHERE f.folder = ?
		ORDER BY i.datetime_taken ASC, i.id ASC`, folder)
}

func (l *Library) query(ctx context.Context, q string, args ...any) ([]Photo, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query darktable library: %w", err)
	}
	defer rows.Close()

	var photos []Photo
	for rows.Next() {
		var p Photo
		var taken, changed sql.NullInt64
		var width, height sql.NullInt64
		if err := rows.Scan(&p.ID, &p.Filename, &p.Folder, &taken, &changed, &p.HistoryEnd, &width, &height); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		p.FullPath = filepath.Join(p.Folder, p.Filename)
		p.Taken = fromDarktable(taken.Int64)
		p.Changed = fromDarktable(changed.Int64)
		p.Width, p.Height = int(width.Int64), int(height.Int64)
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// Paths returns the full paths of photos whose files still exist on disk.
func (l *Library) Paths(photos []Photo) []string {
	var out []string
	for _, p := range photos {
		if _, err := os.Stat(p.FullPath); err != nil {
			l.log.Warn("darktable photo missing on disk", "id", p.ID, "path", p.FullPath)
			continue
		}
		out = append(out, p.FullPath)
	}
	return out
}
