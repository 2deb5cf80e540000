package docclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gorilla/websocket"
	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"github.com/nantokaworks/choice-wheel/internal/types"
	"go.uber.org/zap"
)

const (
	defaultReconnectAttempts = 10
	defaultReconnectDelay    = 500 * time.Millisecond
)

// handshakeError is an upgrade the server refused. Redialing will not help.
type handshakeError struct {
	err error
}

func (e *handshakeError) Error() string { return e.err.Error() }
func (e *handshakeError) Unwrap() error { return e.err }

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) wsURL(id string) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := url.Values{}
	q.Set("wheel", id)
	if c.Token != "" {
		q.Set("token", c.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) dial(ctx context.Context, id string) (*websocket.Conn, error) {
	target, err := c.wsURL(id)
	if err != nil {
		return nil, err
	}
	conn, res, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		if res != nil && res.StatusCode != http.StatusSwitchingProtocols {
			defer res.Body.Close()
			return nil, &handshakeError{err: decodeError(res)}
		}
		return nil, err
	}
	return conn, nil
}

// Subscribe streams snapshots of one wheel. A dropped connection is redialed
// with backoff and the server resends the current document on every connect,
// so a change may be delivered more than once.
func (c *Client) Subscribe(ctx context.Context, id string, onChange func(types.Wheel), onError func(error)) (func(), error) {
	if onError == nil {
		onError = func(error) {}
	}

	conn, err := c.dial(ctx, id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &subscription{client: c, id: id, onChange: onChange, onError: onError, done: make(chan struct{})}
	s.setConn(conn)

	go func() {
		<-ctx.Done()
		s.closeConn()
	}()
	go s.run(ctx)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-s.done
		})
	}, nil
}

type subscription struct {
	client   *Client
	id       string
	onChange func(types.Wheel)
	onError  func(error)
	done     chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *subscription) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *subscription) closeConn() {
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.done)

	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		err := s.read(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("Wheel stream disconnected, reconnecting",
			zap.String("wheel_id", s.id),
			zap.Error(err))

		next, err := s.reconnect(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.onError(err)
			}
			return
		}
		s.setConn(next)
		if ctx.Err() != nil {
			next.Close()
			return
		}
	}
}

// read delivers messages until the connection fails.
func (s *subscription) read(ctx context.Context, conn *websocket.Conn) error {
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch msg.Type {
		case "wheel_snapshot":
			var w types.Wheel
			if err := json.Unmarshal(msg.Data, &w); err != nil {
				s.onError(fmt.Errorf("failed to decode snapshot: %w", err))
				continue
			}
			s.onChange(w)
		case "error":
			var body errorBody
			_ = json.Unmarshal(msg.Data, &body)
			if sentinel := sentinelFor(body.Code, 0); sentinel != nil {
				s.onError(sentinel)
			} else {
				s.onError(&APIError{Code: body.Code, Message: body.Error})
			}
		}
	}
}

func (s *subscription) reconnect(ctx context.Context) (*websocket.Conn, error) {
	attempts := s.client.ReconnectAttempts
	if attempts == 0 {
		attempts = defaultReconnectAttempts
	}
	delay := s.client.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}

	return retry.DoWithData(
		func() (*websocket.Conn, error) {
			conn, err := s.client.dial(ctx, s.id)
			var rejected *handshakeError
			if errors.As(err, &rejected) {
				return nil, retry.Unrecoverable(err)
			}
			return conn, err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.MaxDelay(10*time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug("Reconnect attempt failed",
				zap.String("wheel_id", s.id),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	)
}
