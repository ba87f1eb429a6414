package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"photobooth/internal/gallery"

	"github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"
)

// CurrentUser resolves the signed-in user from the access token. Without a
// token, or when the platform rejects it, it reports gallery.ErrNotAuthenticated.
func (c *Client) CurrentUser(ctx context.Context) (*gallery.User, error) {
	token := c.cfg.AccessToken
	if token == "" {
		return nil, gallery.ErrNotAuthenticated
	}
	if u, ok := c.users.Get(token); ok {
		return u.(*gallery.User), nil
	}

	body, err := c.do(ctx, http.MethodGet, "/auth/v1/user", nil, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %s", gallery.ErrNotAuthenticated, apiErr.Message)
		}
		return nil, err
	}
	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return nil, gallery.ErrNotAuthenticated
	}
	user := &gallery.User{ID: id, Email: gjson.GetBytes(body, "email").String()}
	c.users.Set(token, user, cache.DefaultExpiration)
	return user, nil
}
