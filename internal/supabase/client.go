// Package supabase is a thin client for the hosted gallery backend: auth
// user lookup, Storage objects, the PostgREST photos table and the realtime
// change feed.
package supabase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"
)

// Config configures the client.
type Config struct {
	ProjectURL  string
	AnonKey     string
	AccessToken string // signed-in user's JWT; the anon key is used when empty
	Bucket      string
	Table       string
	Timeout     time.Duration
	// Optional additional headers to send on every request.
	DefaultHeaders map[string]string
	// Optional explicit allowlist; if empty, derived from ProjectURL host.
	AllowedHosts []string
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// APIError is a non-2xx reply from the platform.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("supabase: %d %s", e.Status, e.Message)
}

// Client performs Supabase REST calls.
type Client struct {
	cfg     Config
	base    string
	http    *http.Client
	log     *slog.Logger
	headers map[string]string
	allowed map[string]struct{}
	users   *cache.Cache
}

// New creates a Supabase client.
func New(cfg Config) (*Client, error) {
	if cfg.ProjectURL == "" {
		return nil, fmt.Errorf("project URL is required")
	}
	if cfg.AnonKey == "" {
		return nil, fmt.Errorf("anon key is required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "memories"
	}
	if cfg.Table == "" {
		cfg.Table = "photos"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allowed := make(map[string]struct{})
	if len(cfg.AllowedHosts) == 0 {
		if u, err := url.Parse(cfg.ProjectURL); err == nil && u.Hostname() != "" {
			allowed[u.Hostname()] = struct{}{}
		}
	} else {
		for _, h := range cfg.AllowedHosts {
			if h != "" {
				allowed[h] = struct{}{}
			}
		}
	}

	return &Client{
		cfg:  cfg,
		base: strings.TrimRight(cfg.ProjectURL, "/"),
		http: httpClient,
		log:  logger,
		headers: map[string]string{
			"Accept": "application/json",
		},
		allowed: allowed,
		users:   cache.New(5*time.Minute, 10*time.Minute),
	}, nil
}

func (c *Client) bearer() string {
	if c.cfg.AccessToken != "" {
		return c.cfg.AccessToken
	}
	return c.cfg.AnonKey
}

// do sends one request and returns the body of a 2xx reply.
func (c *Client) do(ctx context.Context, method, path string, body []byte, headers map[string]string) ([]byte, error) {
	rawURL := c.base + path
	if err := c.ensureAllowed(rawURL); err != nil {
		return nil, err
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rdr)
	if err != nil {
		return nil, err
	}
	for k, v := range c.mergeHeaders(headers) {
		req.Header.Set(k, v)
	}
	req.Header.Set("apikey", c.cfg.AnonKey)
	if req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer())
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	c.log.Debug("supabase request", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(out, resp.Status)}
	}
	return out, nil
}

func errorMessage(body []byte, fallback string) string {
	if gjson.ValidBytes(body) {
		for _, field := range []string{"message", "error_description", "msg", "error"} {
			if v := gjson.GetBytes(body, field); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" && len(s) < 200 {
		return s
	}
	return fallback
}

func (c *Client) mergeHeaders(h map[string]string) map[string]string {
	merged := make(map[string]string, len(c.cfg.DefaultHeaders)+len(c.headers)+len(h))
	for k, v := range c.headers {
		if v != "" {
			merged[k] = v
		}
	}
	for k, v := range c.cfg.DefaultHeaders {
		if v != "" {
			merged[k] = v
		}
	}
	for k, v := range h {
		if v != "" {
			merged[k] = v
		}
	}
	return merged
}

func (c *Client) ensureAllowed(rawURL string) error {
	if len(c.allowed) == 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("invalid url host")
	}
	if _, ok := c.allowed[host]; !ok {
		return fmt.Errorf("host not allowed for supabase: %s", host)
	}
	return nil
}
