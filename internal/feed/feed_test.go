package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fentz26/lookout/internal/wire"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// sliceSource yields fixed results, then reports ErrClosed.
type sliceSource struct {
	results []sliceResult
}

type sliceResult struct {
	update *wire.Update
	err    error
}

func (s *sliceSource) Next(ctx context.Context) (*wire.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.results) == 0 {
		return nil, ErrClosed
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.update, r.err
}

func (s *sliceSource) Close() error { return nil }

// droppedSource yields one update per dropped-events count, with a
// malformed update after the second.
func droppedSource() (Source, error) {
	return &sliceSource{results: []sliceResult{
		{update: &wire.Update{TaskUpdate: &wire.TaskUpdate{DroppedEvents: 1}}},
		{update: &wire.Update{AsyncOpUpdate: &wire.AsyncOpUpdate{DroppedEvents: 2}}},
		{err: fmt.Errorf("%w: bad frame", ErrMalformedUpdate)},
		{update: &wire.Update{ResourceUpdate: &wire.ResourceUpdate{DroppedEvents: 3}}},
	}}, nil
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://127.0.0.1:6669/updates", want: "ws://127.0.0.1:6669/updates"},
		{in: "https://console.example:443", want: "wss://console.example:443"},
		{in: "ws://localhost:1", want: "ws://localhost:1"},
		{in: "grpc://localhost:6669", wantErr: true},
		{in: "ws://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := WebSocketURL(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientReadsServedUpdates(t *testing.T) {
	srv := httptest.NewServer(NewHandler(droppedSource, zap.NewNop()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, srv.URL, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer client.Close()
	assert.True(t, strings.HasPrefix(client.Target(), "ws://"))

	var dropped []uint64
	for {
		u, err := client.Next(ctx)
		if errors.Is(err, ErrClosed) {
			break
		}
		require.NoError(t, err)
		switch {
		case u.TaskUpdate != nil:
			dropped = append(dropped, u.TaskUpdate.DroppedEvents)
		case u.AsyncOpUpdate != nil:
			dropped = append(dropped, u.AsyncOpUpdate.DroppedEvents)
		case u.ResourceUpdate != nil:
			dropped = append(dropped, u.ResourceUpdate.DroppedEvents)
		}
	}
	// The server skips the malformed update.
	assert.Equal(t, []uint64{1, 2, 3}, dropped)
}

func rawServer(t *testing.T, handle func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientMalformedFrame(t *testing.T) {
	srv := rawServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("{"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"task_update":{"dropped_events":9}}`))
		_, _, _ = conn.ReadMessage()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, srv.URL, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Next(ctx)
	assert.ErrorIs(t, err, ErrMalformedUpdate)

	u, err := client.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), u.TaskUpdate.DroppedEvents)
}

func TestClientNextUnblocksOnCancel(t *testing.T) {
	srv := rawServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})

	client, err := Dial(context.Background(), srv.URL, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientCloseUnblocksNext(t *testing.T) {
	srv := rawServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})

	client, err := Dial(context.Background(), srv.URL, zaptest.NewLogger(t))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := client.Next(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, client.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestConnectionReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := rawServer(t, func(conn *websocket.Conn) {
		n := conns.Add(1)
		body := []byte(`{"task_update":{"dropped_events":` + string(rune('0'+n)) + `}}`)
		_ = conn.WriteMessage(websocket.TextMessage, body)
		// Drop the connection without a close frame.
	})

	c := Connect(srv.URL, Backoff{Initial: time.Millisecond, Max: 10 * time.Millisecond}, zaptest.NewLogger(t))
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := c.Next(ctx)
	require.NoError(t, err)
	second, err := c.Next(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.TaskUpdate.DroppedEvents)
	assert.Equal(t, uint64(2), second.TaskUpdate.DroppedEvents)
	assert.GreaterOrEqual(t, c.Connects(), 2)
}

func TestConnectionRetriesUntilServerIsUp(t *testing.T) {
	var ready atomic.Bool
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	c := Connect(srv.URL, Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond}, zaptest.NewLogger(t))
	defer c.Close()
	time.AfterFunc(30*time.Millisecond, func() { ready.Store(true) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Next(ctx)
	require.NoError(t, err)
	assert.True(t, c.Connected())
	assert.Equal(t, 1, c.Connects())
}

func TestConnectionClosed(t *testing.T) {
	c := Connect("ws://127.0.0.1:1", DefaultBackoff(), zaptest.NewLogger(t))
	require.NoError(t, c.Close())
	_, err := c.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	bad := Connect("grpc://nowhere", DefaultBackoff(), zaptest.NewLogger(t))
	_, err = bad.Next(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedURL)
}

func TestHandlerProxiesConnection(t *testing.T) {
	upstream := rawServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"task_update":{"dropped_events":4}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"task_update":{"dropped_events":5}}`))
		_, _, _ = conn.ReadMessage()
	})
	backoff := Backoff{Initial: time.Millisecond, Max: 10 * time.Millisecond}
	proxy := httptest.NewServer(NewHandler(func() (Source, error) {
		return Connect(upstream.URL, backoff, zap.NewNop()), nil
	}, zap.NewNop()))
	defer proxy.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, proxy.URL, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer client.Close()

	for _, want := range []uint64{4, 5} {
		u, err := client.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, u.TaskUpdate.DroppedEvents)
	}
}

func TestHandlerReportsUnavailableSource(t *testing.T) {
	srv := httptest.NewServer(NewHandler(func() (Source, error) {
		return nil, errors.New("upstream down")
	}, zap.NewNop()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, srv.URL, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Next(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrClosed)
}
