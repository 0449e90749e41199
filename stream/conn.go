package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn owns exactly one underlying WebSocket connection: serialized
// writes with deadlines, a read loop feeding the session, and ping/pong
// keepalive with stale-connection detection.
type wsConn struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeTimeout time.Duration
	pingInterval time.Duration
	pingTimeout  time.Duration

	messages chan []byte
	errs     chan error

	// Write serialization
	writeMu sync.Mutex

	mu          sync.Mutex
	lastTraffic time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// dialWS opens the transport. The caller still has to authenticate before
// the server will push data.
func dialWS(ctx context.Context, cfg Config, logger *slog.Logger) (*wsConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	c := &wsConn{
		conn:         conn,
		logger:       logger,
		writeTimeout: cfg.WriteTimeout,
		pingInterval: cfg.PingInterval,
		pingTimeout:  cfg.PingTimeout,
		messages:     make(chan []byte, cfg.BufferSize),
		errs:         make(chan error, 1),
		done:         make(chan struct{}),
		lastTraffic:  time.Now(),
	}

	// Server pings are answered with pongs; both directions count as
	// liveness.
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	go c.keepaliveLoop()

	logger.Debug("websocket connected", "url", cfg.URL)
	return c, nil
}

func (c *wsConn) touch() {
	c.mu.Lock()
	c.lastTraffic = time.Now()
	c.mu.Unlock()
}

// send writes one text message. Safe for concurrent use.
func (c *wsConn) send(data []byte) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// close tears down the transport. Idempotent.
func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.conn.Close()
	})
}

// readLoop reads inbound messages and forwards them to the session in
// arrival order.
func (c *wsConn) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			// Errors after close() are the close itself, not a failure.
			select {
			case <-c.done:
			default:
				select {
				case c.errs <- err:
				default:
				}
			}
			return
		}
		c.touch()

		// A full channel blocks the read and lets TCP backpressure the
		// server instead of losing a message; a dropped snapshot would
		// wedge a feed that is awaiting resync.
		select {
		case c.messages <- data:
		case <-c.done:
			return
		}
	}
}

// keepaliveLoop pings the server and reports a stale connection when no
// traffic arrives for pingTimeout.
func (c *wsConn) keepaliveLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.writeTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.Lock()
			last := c.lastTraffic
			c.mu.Unlock()

			if time.Since(last) > c.pingTimeout {
				c.logger.Warn("no traffic received, connection stale",
					"last_traffic", last,
					"timeout", c.pingTimeout,
				)
				select {
				case c.errs <- ErrStaleConnection:
				default:
				}
				return
			}
		}
	}
}
