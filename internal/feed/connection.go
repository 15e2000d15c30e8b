package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fentz26/lookout/internal/wire"
	"go.uber.org/zap"
)

// Backoff bounds the delay between reconnection attempts. The delay starts
// at Initial and doubles up to Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff returns the reconnection policy used by the console.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 500 * time.Millisecond, Max: 5 * time.Second}
}

func (b Backoff) next(prev time.Duration) time.Duration {
	if prev <= 0 {
		return b.Initial
	}
	return min(prev*2, b.Max)
}

// Connection is a Source that keeps a websocket feed open, redialing with
// backoff whenever the connection drops.
type Connection struct {
	target  string
	backoff Backoff
	logger  *zap.Logger

	mu       sync.Mutex
	client   *Client
	closed   bool
	connects int
}

// Connect returns a Connection to target. The first dial happens on the first
// call to Next.
func Connect(target string, backoff Backoff, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connection{target: target, backoff: backoff, logger: logger}
}

// Next returns the next update, reconnecting as needed. It only gives up when
// ctx ends, the Connection is closed or the target is not a usable URL.
func (c *Connection) Next(ctx context.Context) (*wire.Update, error) {
	var wait time.Duration
	for {
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		client, err := c.connect(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil, ctx.Err()
			case errors.Is(err, ErrClosed), errors.Is(err, ErrUnsupportedURL):
				return nil, err
			}
			wait = c.backoff.next(wait)
			c.logger.Warn("feed connect failed, retrying", zap.Error(err), zap.Duration("retry_in", wait))
			continue
		}

		update, err := client.Next(ctx)
		switch {
		case err == nil:
			return update, nil
		case errors.Is(err, ErrMalformedUpdate):
			return nil, err
		case ctx.Err() != nil:
			c.drop(client)
			return nil, ctx.Err()
		}

		c.drop(client)
		if c.isClosed() {
			return nil, ErrClosed
		}
		wait = c.backoff.next(0)
		c.logger.Warn("feed disconnected, reconnecting", zap.Error(err), zap.Duration("retry_in", wait))
	}
}

// Connected reports whether a connection is currently open.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

// Connects returns how many times a connection has been established.
func (c *Connection) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// Close closes the current connection and stops reconnecting.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.closed = true
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client != nil {
		return client.Close()
	}
	return nil
}

func (c *Connection) connect(ctx context.Context) (*Client, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.client != nil {
		client := c.client
		c.mu.Unlock()
		return client, nil
	}
	c.mu.Unlock()

	client, err := Dial(ctx, c.target, c.logger)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = client.Close()
		return nil, ErrClosed
	}
	c.client = client
	c.connects++
	return client, nil
}

func (c *Connection) drop(client *Client) {
	c.mu.Lock()
	if c.client == client {
		c.client = nil
	}
	c.mu.Unlock()
	_ = client.Close()
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
