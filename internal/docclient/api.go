package docclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nantokaworks/choice-wheel/internal/localdb"
	"github.com/nantokaworks/choice-wheel/internal/settings"
	"github.com/nantokaworks/choice-wheel/internal/types"
)

type wheelEnvelope struct {
	Wheel       types.Wheel `json:"wheel"`
	Phase       string      `json:"phase"`
	ShareURL    string      `json:"share_url"`
	Permissions []string    `json:"permissions"`
}

// WheelInfo is a wheel with the caller's view of it.
type WheelInfo struct {
	Wheel       types.Wheel
	Phase       string
	ShareURL    string
	Permissions []string
}

func (e wheelEnvelope) info() WheelInfo {
	return WheelInfo{Wheel: e.Wheel, Phase: e.Phase, ShareURL: e.ShareURL, Permissions: e.Permissions}
}

// SignIn exchanges an email for an API token and stores it on the client.
func (c *Client) SignIn(ctx context.Context, email, displayName string) (types.User, error) {
	var res struct {
		User  types.User `json:"user"`
		Token string     `json:"token"`
	}
	body := map[string]string{"email": email, "display_name": displayName}
	if err := c.do(ctx, http.MethodPost, "/api/users", body, &res); err != nil {
		return types.User{}, err
	}
	c.Token = res.Token
	return res.User, nil
}

func (c *Client) Me(ctx context.Context) (types.User, error) {
	var res struct {
		User types.User `json:"user"`
	}
	err := c.do(ctx, http.MethodGet, "/api/me", nil, &res)
	return res.User, err
}

func (c *Client) CreateWheel(ctx context.Context, title string, slices []string, visibility types.Visibility) (WheelInfo, error) {
	var res wheelEnvelope
	body := map[string]interface{}{"title": title, "slices": slices, "visibility": visibility}
	if err := c.do(ctx, http.MethodPost, "/api/wheels", body, &res); err != nil {
		return WheelInfo{}, err
	}
	return res.info(), nil
}

func (c *Client) ListWheels(ctx context.Context) ([]types.Wheel, error) {
	var res struct {
		Wheels []types.Wheel `json:"wheels"`
	}
	err := c.do(ctx, http.MethodGet, "/api/wheels", nil, &res)
	return res.Wheels, err
}

func (c *Client) Wheel(ctx context.Context, id string) (WheelInfo, error) {
	var res wheelEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/wheels/"+url.PathEscape(id), nil, &res); err != nil {
		return WheelInfo{}, err
	}
	return res.info(), nil
}

func (c *Client) DeleteWheel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/wheels/"+url.PathEscape(id), nil, nil)
}

func (c *Client) History(ctx context.Context, id string, limit int) ([]localdb.SpinHistory, error) {
	path := "/api/wheels/" + url.PathEscape(id) + "/history"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var res struct {
		History []localdb.SpinHistory `json:"history"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &res)
	return res.History, err
}

func (c *Client) TotalSpins(ctx context.Context) (int64, error) {
	var res struct {
		TotalSpins int64 `json:"total_spins"`
	}
	err := c.do(ctx, http.MethodGet, "/api/stats", nil, &res)
	return res.TotalSpins, err
}

// Timing fetches the shared spin timing so local animations match the server's.
func (c *Client) Timing(ctx context.Context) (settings.SpinTiming, error) {
	var res struct {
		Timing settings.SpinTiming `json:"timing"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/settings", nil, &res); err != nil {
		return settings.SpinTiming{}, err
	}
	return res.Timing.FromMillis(), nil
}

// QR returns the share link QR code as PNG bytes.
func (c *Client) QR(ctx context.Context, id string, size int) ([]byte, error) {
	path := "/api/wheels/" + url.PathEscape(id) + "/qr"
	if size > 0 {
		path += fmt.Sprintf("?size=%d", size)
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return nil, decodeError(res)
	}
	return readAll(res)
}
