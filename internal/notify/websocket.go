package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	wsMinBackoff = time.Second
	wsMaxBackoff = 30 * time.Second
	wsPongWait   = 60 * time.Second
)

// WebSocketChannel receives notifications from the backend's /ws endpoint
// and reconnects with exponential backoff. The delivery channel is closed
// once the context ends or Close is called.
type WebSocketChannel struct {
	endpoint string
	token    string
	dialer   *websocket.Dialer
	logger   *log.Entry

	minBackoff time.Duration
	maxBackoff time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewWebSocketChannel creates a channel for endpoint (ws:// or wss://)
// authenticated with the session token.
func NewWebSocketChannel(endpoint, token string) *WebSocketChannel {
	return &WebSocketChannel{
		endpoint:   endpoint,
		token:      token,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:     log.WithField("component", "websocket"),
		minBackoff: wsMinBackoff,
		maxBackoff: wsMaxBackoff,
	}
}

func (w *WebSocketChannel) dialURL() (string, error) {
	u, err := url.Parse(w.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	if w.token != "" {
		q := u.Query()
		q.Set("token", w.token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (w *WebSocketChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := w.dialURL()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if w.token != "" {
		header.Set("Authorization", "Bearer "+w.token)
	}
	conn, resp, err := w.dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", w.endpoint, err)
	}
	return conn, nil
}

// Start dials once synchronously so configuration errors surface, then
// serves the connection in the background.
func (w *WebSocketChannel) Start(ctx context.Context) (<-chan []byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	conn, err := w.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	out := make(chan []byte, deliveryBuffer)
	go w.loop(ctx, conn, out)
	return out, nil
}

func (w *WebSocketChannel) loop(ctx context.Context, conn *websocket.Conn, out chan<- []byte) {
	defer close(out)

	backoff := w.minBackoff
	for {
		if conn != nil {
			w.logger.Info("WebSocket connected")
			backoff = w.minBackoff
			w.read(ctx, conn, out)
		}
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > w.maxBackoff {
			backoff = w.maxBackoff
		}

		var err error
		conn, err = w.dial(ctx)
		if err != nil {
			w.logger.WithError(err).WithField("retry_in", backoff).Warn("WebSocket reconnect failed")
			conn = nil
		}
	}
}

// read forwards text frames until the connection fails or ctx ends.
func (w *WebSocketChannel) read(ctx context.Context, conn *websocket.Conn, out chan<- []byte) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				w.logger.WithError(err).Warn("WebSocket read failed")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if kind != websocket.TextMessage {
			continue
		}
		select {
		case out <- data:
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the background loop and closes the delivery channel.
func (w *WebSocketChannel) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
	return nil
}
