package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"photobooth/internal/gallery"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// Change is one row change on the photos table.
type Change struct {
	Type      string // INSERT, UPDATE, DELETE
	Record    gallery.Photo
	OldRecord gallery.Photo
}

// Realtime follows the photos table over the platform's Phoenix websocket.
type Realtime struct {
	URL               string
	AccessToken       string
	Table             string
	HeartbeatInterval time.Duration
	Dialer            *websocket.Dialer
}

// Realtime returns a change feed for the client's table.
func (c *Client) Realtime() *Realtime {
	return &Realtime{
		URL:               realtimeURL(c.base, c.cfg.AnonKey),
		AccessToken:       c.bearer(),
		Table:             c.cfg.Table,
		HeartbeatInterval: 30 * time.Second,
	}
}

func realtimeURL(base, apiKey string) string {
	ws := base
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	q := url.Values{}
	q.Set("apikey", apiKey)
	q.Set("vsn", "1.0.0")
	return ws + "/realtime/v1/websocket?" + q.Encode()
}

func (r *Realtime) topic() string { return "realtime:public:" + r.Table }

// Run joins the table channel and calls fn for every change until ctx ends.
// A cancelled context is a clean stop and returns nil.
func (r *Realtime) Run(ctx context.Context, fn func(Change)) error {
	dialer := r.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	conn, _, err := dialer.DialContext(ctx, r.URL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	join := map[string]any{
		"topic": r.topic(),
		"event": "phx_join",
		"payload": map[string]any{
			"config": map[string]any{
				"postgres_changes": []map[string]string{
					{"event": "*", "schema": "public", "table": r.Table},
				},
			},
			"access_token": r.AccessToken,
		},
		"ref":      "1",
		"join_ref": "1",
	}
	if err := conn.WriteJSON(join); err != nil {
		return fmt.Errorf("send join: %w", err)
	}

	readErr := make(chan error, 1)
	go func() { readErr <- r.readLoop(conn, fn) }()

	interval := r.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ref := 1
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			<-readErr
			return nil
		case err := <-readErr:
			return err
		case <-ticker.C:
			ref++
			msg := map[string]any{
				"topic":   "phoenix",
				"event":   "heartbeat",
				"payload": map[string]any{},
				"ref":     fmt.Sprint(ref),
			}
			if err := conn.WriteJSON(msg); err != nil {
				return fmt.Errorf("send heartbeat: %w", err)
			}
		}
	}
}

func (r *Realtime) readLoop(conn *websocket.Conn, fn func(Change)) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read realtime message: %w", err)
		}
		msg := gjson.ParseBytes(message)
		switch msg.Get("event").String() {
		case "phx_reply":
			if msg.Get("ref").String() == "1" && msg.Get("payload.status").String() != "ok" {
				reason := msg.Get("payload.response.reason").String()
				if reason == "" {
					reason = msg.Get("payload.status").String()
				}
				return errors.New("join " + r.topic() + " rejected: " + reason)
			}
		case "phx_error", "phx_close":
			if msg.Get("topic").String() == r.topic() {
				return fmt.Errorf("channel %s closed by server", r.topic())
			}
		case "postgres_changes":
			data := msg.Get("payload.data")
			fn(Change{
				Type:      data.Get("type").String(),
				Record:    parsePhoto(data.Get("record")),
				OldRecord: parsePhoto(data.Get("old_record")),
			})
		}
	}
}
