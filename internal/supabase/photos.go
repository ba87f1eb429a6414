package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"photobooth/internal/gallery"

	"github.com/tidwall/gjson"
)

func (c *Client) tablePath() string {
	return "/rest/v1/" + url.PathEscape(c.cfg.Table)
}

// Insert adds a row to the photos table and returns it as stored.
func (c *Client) Insert(ctx context.Context, e gallery.Entry) (gallery.Photo, error) {
	body, err := json.Marshal([]gallery.Entry{e})
	if err != nil {
		return gallery.Photo{}, err
	}
	out, err := c.do(ctx, http.MethodPost, c.tablePath(), body, map[string]string{
		"Content-Type": "application/json",
		"Prefer":       "return=representation",
	})
	if err != nil {
		return gallery.Photo{}, err
	}
	rows := gjson.ParseBytes(out).Array()
	if len(rows) == 0 {
		return gallery.Photo{}, fmt.Errorf("insert into %s returned no rows", c.cfg.Table)
	}
	return parsePhoto(rows[0]), nil
}

// List returns up to limit photos, newest first.
func (c *Client) List(ctx context.Context, limit int) ([]gallery.Photo, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "created_at.desc")
	q.Set("limit", fmt.Sprint(limit))
	out, err := c.do(ctx, http.MethodGet, c.tablePath()+"?"+q.Encode(), nil, nil)
	if err != nil {
		return nil, err
	}
	var photos []gallery.Photo
	gjson.ParseBytes(out).ForEach(func(_, row gjson.Result) bool {
		photos = append(photos, parsePhoto(row))
		return true
	})
	return photos, nil
}

// Get fetches one photo by id.
func (c *Client) Get(ctx context.Context, id string) (gallery.Photo, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("id", "eq."+id)
	out, err := c.do(ctx, http.MethodGet, c.tablePath()+"?"+q.Encode(), nil, nil)
	if err != nil {
		return gallery.Photo{}, err
	}
	rows := gjson.ParseBytes(out).Array()
	if len(rows) == 0 {
		return gallery.Photo{}, fmt.Errorf("%w: %s", gallery.ErrNotFound, id)
	}
	return parsePhoto(rows[0]), nil
}

// Delete removes a row by id.
func (c *Client) Delete(ctx context.Context, id string) error {
	q := url.Values{}
	q.Set("id", "eq."+id)
	_, err := c.do(ctx, http.MethodDelete, c.tablePath()+"?"+q.Encode(), nil, nil)
	return err
}

func parsePhoto(row gjson.Result) gallery.Photo {
	return gallery.Photo{
		ID:          row.Get("id").String(),
		URL:         row.Get("url").String(),
		StoragePath: row.Get("storage_path").String(),
		Caption:     row.Get("caption").String(),
		UploadedBy:  row.Get("uploaded_by").String(),
		CreatedAt:   parseTimestamp(row.Get("created_at").String()),
	}
}

// parseTimestamp accepts Postgres timestamps with or without a zone.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999-07"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
