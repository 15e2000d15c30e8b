package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/fentz26/lookout/internal/wire"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DefaultHandshakeTimeout bounds the websocket handshake.
const DefaultHandshakeTimeout = 10 * time.Second

// maxUpdateSize is the largest frame the client accepts.
const maxUpdateSize = 16 << 20

// Client reads updates from one websocket connection.
type Client struct {
	target string
	conn   *websocket.Conn
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// WebSocketURL normalizes a target address. http and https are mapped to ws
// and wss.
func WebSocketURL(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnsupportedURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedURL, target)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrUnsupportedURL, target)
	}
	return u.String(), nil
}

// Dial connects to the feed at target.
func Dial(ctx context.Context, target string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	wsURL, err := WebSocketURL(target)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", wsURL, err)
	}
	conn.SetReadLimit(maxUpdateSize)

	logger.Info("feed connected", zap.String("target", wsURL))
	return &Client{target: wsURL, conn: conn, logger: logger}, nil
}

// Target returns the websocket URL the client is connected to.
func (c *Client) Target() string {
	return c.target
}

// Next reads and decodes one update. Cancelling ctx interrupts the read and
// leaves the connection unusable.
func (c *Client) Next(ctx context.Context) (*wire.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if c.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("reading update: %w", err)
	}
	return decodeUpdate(data)
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func decodeUpdate(data []byte) (*wire.Update, error) {
	var update wire.Update
	if err := json.Unmarshal(data, &update); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedUpdate, err)
	}
	return &update, nil
}
