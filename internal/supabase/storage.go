package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

func objectPath(key string) string {
	parts := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// Upload stores data in the bucket under key. Existing objects are not
// overwritten.
func (c *Client) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	path := "/storage/v1/object/" + url.PathEscape(c.cfg.Bucket) + "/" + objectPath(key)
	_, err := c.do(ctx, http.MethodPost, path, data, map[string]string{
		"Content-Type":  contentType,
		"Cache-Control": "3600",
		"x-upsert":      "false",
	})
	return err
}

// PublicURL is the public bucket URL for key.
func (c *Client) PublicURL(key string) string {
	return c.base + "/storage/v1/object/public/" + url.PathEscape(c.cfg.Bucket) + "/" + objectPath(key)
}

// Remove deletes the object at key.
func (c *Client) Remove(ctx context.Context, key string) error {
	body, _ := json.Marshal(map[string][]string{"prefixes": {key}})
	_, err := c.do(ctx, http.MethodDelete, "/storage/v1/object/"+url.PathEscape(c.cfg.Bucket), body, map[string]string{
		"Content-Type": "application/json",
	})
	return err
}
