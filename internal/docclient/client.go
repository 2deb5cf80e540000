// Package docclient is a docstore.Store backed by a remote wheel server.
// Spin writes go through the server's compare-and-swap endpoint and changes
// arrive over the websocket snapshot stream.
package docclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nantokaworks/choice-wheel/internal/coordinator"
	"github.com/nantokaworks/choice-wheel/internal/docstore"
	"github.com/nantokaworks/choice-wheel/internal/spin"
	"github.com/nantokaworks/choice-wheel/internal/types"
)

const defaultTimeout = 10 * time.Second

// ErrUnsupportedField is returned by Update for fields the server cannot write.
var ErrUnsupportedField = errors.New("field cannot be updated remotely")

// APIError is an error response that has no matching sentinel.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d (%s): %s", e.Status, e.Code, e.Message)
}

// Client talks to one wheel server with one bearer token.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client

	// ReconnectAttempts は購読が切れたときの再接続回数。0 なら既定値。
	ReconnectAttempts uint
	ReconnectDelay    time.Duration
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: defaultTimeout},
	}
}

var _ docstore.Store = (*Client)(nil)

func (c *Client) Get(ctx context.Context, id string) (types.Wheel, error) {
	var w types.Wheel
	err := c.do(ctx, http.MethodGet, "/api/docs/wheels/"+url.PathEscape(id), nil, &w)
	return w, err
}

// CompareAndSwap writes the spin sub-document of next. The server owns the
// other fields and rejects transitions it does not allow.
func (c *Client) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, next types.Wheel) (types.Wheel, error) {
	body := map[string]interface{}{
		"expected_version": expectedVersion,
		"spin":             next.Spin,
	}
	var w types.Wheel
	err := c.do(ctx, http.MethodPut, "/api/docs/wheels/"+url.PathEscape(id)+"/spin", body, &w)
	return w, err
}

func (c *Client) Update(ctx context.Context, id string, fields docstore.Fields) (types.Wheel, error) {
	if fields.Title != nil {
		return types.Wheel{}, fmt.Errorf("%w: title", ErrUnsupportedField)
	}
	if fields.Empty() {
		return c.Get(ctx, id)
	}

	base := "/api/wheels/" + url.PathEscape(id)
	var res wheelEnvelope
	if fields.Slices != nil {
		if err := c.do(ctx, http.MethodPut, base+"/slices", map[string]interface{}{"slices": fields.Slices}, &res); err != nil {
			return types.Wheel{}, err
		}
	}
	if fields.Participants != nil {
		if err := c.do(ctx, http.MethodPut, base+"/participants", map[string]interface{}{"participants": fields.Participants}, &res); err != nil {
			return types.Wheel{}, err
		}
	}
	if fields.Visibility != nil {
		if err := c.do(ctx, http.MethodPut, base+"/visibility", map[string]interface{}{"visibility": *fields.Visibility}, &res); err != nil {
			return types.Wheel{}, err
		}
	}
	return res.Wheel, nil
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// do sends a JSON request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	res, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return decodeError(res)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", method, path, err)
	}
	return nil
}

func readAll(res *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(res.Body, 8<<20))
}

func decodeError(res *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(io.LimitReader(res.Body, 1<<16)).Decode(&body)
	if sentinel := sentinelFor(body.Code, res.StatusCode); sentinel != nil {
		if body.Error == "" || body.Error == sentinel.Error() {
			return sentinel
		}
		return fmt.Errorf("%w: %s", sentinel, body.Error)
	}
	return &APIError{Status: res.StatusCode, Code: body.Code, Message: body.Error}
}

// sentinelFor maps server error codes back to the package errors they came from.
func sentinelFor(code string, status int) error {
	switch code {
	case "conflict":
		return docstore.ErrConflict
	case "not_found":
		return docstore.ErrNotFound
	case "already_spinning":
		return coordinator.ErrAlreadySpinning
	case "permission_denied":
		return coordinator.ErrPermissionDenied
	case "invalid_transition":
		return coordinator.ErrInvalidTransition
	case "empty_wheel":
		return spin.ErrEmptyWheel
	case "unknown_winner":
		return spin.ErrUnknownWinner
	}

	switch status {
	case http.StatusNotFound:
		return docstore.ErrNotFound
	case http.StatusForbidden:
		return coordinator.ErrPermissionDenied
	}
	return nil
}
