package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"photobooth/internal/gallery"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for the photos catalog and batch jobs.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS photos (
            id TEXT PRIMARY KEY,
            url TEXT NOT NULL,
            storage_path TEXT NOT NULL,
            caption TEXT,
            uploaded_by TEXT NOT NULL,
            created_at INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_photos_created_at ON photos(created_at);`,
		`CREATE TABLE IF NOT EXISTS processing_jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            inputs_json TEXT,
            output_path TEXT,
            options_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_results (
            job_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Insert adds a catalog row with a fresh id.
func (s *Store) Insert(ctx context.Context, e gallery.Entry) (gallery.Photo, error) {
	if s == nil {
		return gallery.Photo{}, errors.New("store not initialized")
	}
	p := gallery.Photo{
		ID:          uuid.NewString(),
		URL:         e.URL,
		StoragePath: e.StoragePath,
		Caption:     e.Caption,
		UploadedBy:  e.UploadedBy,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO photos (id, url, storage_path, caption, uploaded_by, created_at) VALUES (?, ?, ?, ?, ?, ?);`,
		p.ID, p.URL, p.StoragePath, p.Caption, p.UploadedBy, p.CreatedAt.UnixNano())
	if err != nil {
		return gallery.Photo{}, err
	}
	return p, nil
}

// List returns the newest photos first.
func (s *Store) List(ctx context.Context, limit int) ([]gallery.Photo, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, url, storage_path, caption, uploaded_by, created_at FROM photos ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var photos []gallery.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// Get fetches one photo by id.
func (s *Store) Get(ctx context.Context, id string) (gallery.Photo, error) {
	if s == nil {
		return gallery.Photo{}, errors.New("store not initialized")
	}
	row := s.DB.QueryRowContext(ctx, `SELECT id, url, storage_path, caption, uploaded_by, created_at FROM photos WHERE id=?;`, id)
	p, err := scanPhoto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return gallery.Photo{}, fmt.Errorf("%w: %s", gallery.ErrNotFound, id)
	}
	return p, err
}

// Delete removes a catalog row.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `DELETE FROM photos WHERE id=?;`, id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPhoto(row scanner) (gallery.Photo, error) {
	var p gallery.Photo
	var caption sql.NullString
	var created int64
	if err := row.Scan(&p.ID, &p.URL, &p.StoragePath, &caption, &p.UploadedBy, &created); err != nil {
		return gallery.Photo{}, err
	}
	p.Caption = caption.String
	p.CreatedAt = time.Unix(0, created).UTC()
	return p, nil
}

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string
	JobType     string
	Status      string
	Inputs      []string
	OutputPath  string
	OptionsJSON string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	inputsJSON, _ := json.Marshal(rec.Inputs)
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO processing_jobs (id, job_type, status, inputs_json, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, string(inputsJSON), rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, job_type, status, inputs_json, output_path, options_json, created_at, started_at, completed_at, error_message FROM processing_jobs ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var inputsJSON string
		var created time.Time
		var started, completed sql.NullTime
		var errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.JobType, &rec.Status, &inputsJSON, &rec.OutputPath, &rec.OptionsJSON, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(inputsJSON), &rec.Inputs)
		rec.CreatedAt = created
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}
