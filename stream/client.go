package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Config configures a streaming Client. URL and APIKey are required;
// everything else has defaults from DefaultConfig.
type Config struct {
	// URL is the WebSocket endpoint, e.g. wss://api.parsecapi.com/ws.
	URL string
	// APIKey is the credential sent in the auth handshake.
	APIKey string

	HandshakeTimeout   time.Duration // transport dial timeout
	AuthTimeout        time.Duration // max wait for auth_ok / auth_error
	WriteTimeout       time.Duration // write deadline for outbound messages
	PingInterval       time.Duration // keepalive ping cadence
	PingTimeout        time.Duration // max silence before the connection is stale
	ReconnectBaseDelay time.Duration // delay before the first reconnect attempt
	ReconnectMaxDelay  time.Duration // backoff ceiling
	BufferSize         int           // inbound message channel size
}

// DefaultConfig returns sensible defaults for everything but URL and APIKey.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:   10 * time.Second,
		AuthTimeout:        10 * time.Second,
		WriteTimeout:       5 * time.Second,
		PingInterval:       30 * time.Second,
		PingTimeout:        90 * time.Second,
		ReconnectBaseDelay: 250 * time.Millisecond,
		ReconnectMaxDelay:  30 * time.Second,
		BufferSize:         1000,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.AuthTimeout == 0 {
		c.AuthTimeout = d.AuthTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = d.PingTimeout
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = d.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = d.ReconnectMaxDelay
	}
	if c.BufferSize == 0 {
		c.BufferSize = d.BufferSize
	}
}

// sessionState tracks the session's lifecycle.
type sessionState int

const (
	stateIdle sessionState = iota
	stateConnecting
	stateConnected
	stateReconnecting
	stateClosed
)

// Client is a stateful session against the Parsec real-time feed: it
// authenticates, subscribes to feeds, reconstructs order books from
// snapshot+delta messages, resyncs on sequence gaps, and reconnects with
// resubscription after unexpected transport drops.
type Client struct {
	cfg      Config
	logger   *slog.Logger
	handlers Handlers

	subs *subscriptionSet

	// registry is touched only by the dispatch goroutine (and by the
	// reconnect supervisor while no dispatch goroutine is alive).
	registry *feedRegistry

	mu        sync.Mutex
	state     sessionState
	ws        *wsConn
	attempt   int
	reconnect *time.Timer

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Client. Handlers with nil entries are fine; nil logger
// falls back to slog.Default().
func New(cfg Config, handlers Handlers, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	return &Client{
		cfg:      cfg,
		logger:   logger,
		handlers: handlers,
		subs:     newSubscriptionSet(),
		registry: newFeedRegistry(),
		done:     make(chan struct{}),
	}
}

// Connect opens the transport and performs the auth handshake. It returns
// once the server accepts the credential, or fails with *AuthError on
// rejection (terminal; no reconnect will ever follow) or a wrapped
// transport error. At most one Connect may be in flight per session.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.URL == "" {
		return errors.New("stream: endpoint URL required")
	}
	if c.cfg.APIKey == "" {
		return errors.New("stream: API key required")
	}

	c.mu.Lock()
	switch c.state {
	case stateClosed:
		c.mu.Unlock()
		return ErrClosed
	case stateConnecting, stateConnected, stateReconnecting:
		c.mu.Unlock()
		return ErrConnectInProgress
	}
	c.state = stateConnecting
	c.mu.Unlock()

	err := c.establish(ctx)

	c.mu.Lock()
	if err != nil {
		if c.state == stateConnecting {
			c.state = stateIdle
		}
		c.mu.Unlock()

		var authErr *AuthError
		if errors.As(err, &authErr) {
			// A rejected credential is terminal for the session.
			c.Close()
		}
		return err
	}
	if c.state == stateConnecting && c.ws != nil {
		c.state = stateConnected
	}
	c.mu.Unlock()

	c.emitConnected()
	return nil
}

// Subscribe merges feeds into the desired set and sends one batched
// subscribe message listing all of them. The desired set survives
// reconnects; feeds added while the supervisor is between attempts are
// included in the post-reconnect resubscribe. When there is no live
// transport the desire is still recorded and ErrNotConnected is returned.
func (c *Client) Subscribe(feeds ...Subscription) error {
	if len(feeds) == 0 {
		return nil
	}

	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	c.subs.add(feeds)
	return c.sendSubscribe(feeds)
}

// Unsubscribe removes feeds from the desired set and sends one batched
// unsubscribe message. Book state already buffered for the feeds is left
// orphaned; a later resubscribe replaces it wholesale with a fresh
// snapshot.
func (c *Client) Unsubscribe(keys ...FeedKey) error {
	if len(keys) == 0 {
		return nil
	}

	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	c.subs.remove(keys)

	msg := subscribeMsg{Type: "unsubscribe", Markets: make([]wireMarket, 0, len(keys))}
	for _, k := range keys {
		msg.Markets = append(msg.Markets, wireMarket{ParsecID: k.ParsecID, Outcome: k.Outcome})
	}
	data, _ := json.Marshal(msg)
	return c.send(data)
}

// Close terminates the session: closes the transport if open, cancels any
// pending reconnect, and suppresses all further event emission. Idempotent
// and safe to call from within an event handler.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		if c.reconnect != nil {
			c.reconnect.Stop()
			c.reconnect = nil
		}
		ws := c.ws
		c.ws = nil
		c.mu.Unlock()

		close(c.done)
		if ws != nil {
			ws.close()
		}
		c.logger.Debug("session closed")
	})
}

// Done is closed when the session is permanently over: a deliberate Close
// or a terminal failure such as a rejected credential. Transient reconnect
// cycles do not close it.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Subscriptions returns the current desired feed set.
func (c *Client) Subscriptions() []Subscription {
	return c.subs.all()
}

// establish dials the endpoint, sends the auth request, and waits for the
// server's verdict. On auth_ok it hands the connection to a new dispatch
// goroutine. Called from Connect and from the reconnect supervisor.
func (c *Client) establish(ctx context.Context) error {
	ws, err := dialWS(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}

	auth, _ := json.Marshal(authMsg{Type: "auth", APIKey: c.cfg.APIKey})
	if err := ws.send(auth); err != nil {
		ws.close()
		return err
	}

	timer := time.NewTimer(c.cfg.AuthTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			ws.close()
			return ctx.Err()
		case <-c.done:
			ws.close()
			return ErrClosed
		case <-timer.C:
			ws.close()
			return ErrAuthTimeout
		case err := <-ws.errs:
			ws.close()
			return err
		case data := <-ws.messages:
			var env messageEnvelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.logger.Warn("dropping malformed message during handshake", "error", err)
				continue
			}
			switch env.Type {
			case "auth_ok":
				var ok authOKMsg
				json.Unmarshal(data, &ok)
				c.logger.Debug("authenticated", "customer_id", ok.CustomerID)

				// Close may have landed while auth_ok was queued; adopting
				// the connection then would leak the transport.
				c.mu.Lock()
				if c.state == stateClosed {
					c.mu.Unlock()
					ws.close()
					return ErrClosed
				}
				c.ws = ws
				c.mu.Unlock()

				go c.dispatchLoop(ws)
				return nil
			case "auth_error":
				var ae authErrorMsg
				json.Unmarshal(data, &ae)
				ws.close()
				c.emitError(ServerError{Code: ae.Code, Message: ae.Message})
				return &AuthError{Code: ae.Code, Message: ae.Message}
			default:
				c.logger.Debug("ignoring pre-auth message", "type", env.Type)
			}
		}
	}
}

// dispatchLoop processes inbound messages in arrival order until the
// transport fails or the session closes. It is the only goroutine that
// mutates the feed registry.
func (c *Client) dispatchLoop(ws *wsConn) {
	for {
		select {
		case <-c.done:
			ws.close()
			return
		case err := <-ws.errs:
			c.handleTransportDrop(ws, err)
			return
		case data := <-ws.messages:
			c.dispatch(data, time.Now())
		}
	}
}

// dispatch routes one inbound message by its type tag. Malformed messages
// are dropped with a diagnostic; unknown types are ignored for forward
// compatibility.
func (c *Client) dispatch(data []byte, receivedAt time.Time) {
	var env messageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("dropping malformed message", "error", err)
		return
	}

	switch env.Type {
	case "orderbook":
		var msg snapshotMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed orderbook snapshot", "error", err)
			return
		}
		if msg.ParsecID == "" || msg.Outcome == "" {
			c.logger.Warn("dropping orderbook snapshot without feed key")
			return
		}
		c.emitOrderbook(c.registry.applySnapshot(&msg, receivedAt))

	case "orderbook_delta":
		var msg deltaMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed orderbook delta", "error", err)
			return
		}
		if msg.ParsecID == "" || msg.Outcome == "" {
			c.logger.Warn("dropping orderbook delta without feed key")
			return
		}
		c.handleDelta(&msg, receivedAt)

	case "resync_required":
		var msg resyncRequiredMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed resync_required", "error", err)
			return
		}
		if msg.ParsecID == "" || msg.Outcome == "" {
			c.logger.Warn("dropping resync_required without feed key")
			return
		}
		key := FeedKey{ParsecID: msg.ParsecID, Outcome: msg.Outcome}
		c.registry.markAwaitingResync(key)
		c.sendResync(key)

	case "activity":
		var msg activityMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed activity", "error", err)
			return
		}
		c.emitActivity(msg.toEvent(receivedAt))

	case "slow_reader":
		var msg slowReaderMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed slow_reader", "error", err)
			return
		}
		c.emitSlowReader(msg.ParsecID, msg.Outcome)

	case "heartbeat":
		var msg heartbeatMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed heartbeat", "error", err)
			return
		}
		c.emitHeartbeat(msg.TsMs)

	case "error":
		var msg serverErrorMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed error message", "error", err)
			return
		}
		c.emitError(ServerError{Code: msg.Code, Message: msg.Message})

	case "auth_ok", "auth_error":
		// Handshake already resolved.

	default:
		c.logger.Debug("ignoring unknown message type", "type", env.Type)
	}
}

// handleDelta applies a delta through the registry and acts on the result.
func (c *Client) handleDelta(msg *deltaMsg, receivedAt time.Time) {
	key := FeedKey{ParsecID: msg.ParsecID, Outcome: msg.Outcome}

	book, outcome := c.registry.applyDelta(msg, receivedAt)
	switch outcome {
	case deltaApplied:
		c.emitOrderbook(book)
	case deltaNoBaseline:
		c.logger.Debug("dropping delta without snapshot baseline", "feed", key)
	case deltaSuppressed:
		c.logger.Debug("dropping delta while awaiting resync", "feed", key)
	case deltaGap:
		c.logger.Warn("sequence gap detected",
			"feed", key,
			"server_seq", msg.ServerSeq,
		)
		if c.registry.markAwaitingResync(key) {
			c.sendResync(key)
		}
	}
}

// handleTransportDrop starts the reconnect supervisor after an unexpected
// post-auth closure. Drops after Close, and drops of an already-replaced
// connection, are ignored.
func (c *Client) handleTransportDrop(ws *wsConn, err error) {
	ws.close()

	c.mu.Lock()
	if c.state == stateClosed || c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.state = stateReconnecting
	c.attempt = 0
	c.mu.Unlock()

	reason := "connection lost"
	if err != nil {
		reason = err.Error()
	}
	c.logger.Warn("transport dropped", "reason", reason)
	c.emitDisconnected(reason)
	c.scheduleReconnect()
}

// scheduleReconnect arms the backoff timer for the next attempt. The
// supervisor never runs after Close or an authentication failure.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.state != stateReconnecting {
		c.mu.Unlock()
		return
	}
	c.attempt++
	attempt := c.attempt
	delay := reconnectDelay(attempt, c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay)
	c.reconnect = time.AfterFunc(delay, c.runReconnect)
	c.mu.Unlock()

	c.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
	c.emitReconnecting(attempt, delay)
}

// runReconnect performs one reconnect attempt: re-dial, re-auth, then one
// consolidated resubscribe of the full desired set.
func (c *Client) runReconnect() {
	c.mu.Lock()
	if c.state != stateReconnecting {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// No dispatch goroutine is alive here; prior book state is invalid and
	// will be rebuilt from the fresh snapshots the server sends for each
	// resubscribed feed.
	c.registry.reset()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout+c.cfg.AuthTimeout)
	err := c.establish(ctx)
	cancel()

	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			c.logger.Error("reconnect aborted: credential rejected",
				"code", authErr.Code,
				"message", authErr.Message,
			)
			c.emitDisconnected("authentication failed")
			c.Close()
			return
		}
		c.logger.Warn("reconnect attempt failed", "error", err)
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	recovered := c.state == stateReconnecting && c.ws != nil
	if recovered {
		c.state = stateConnected
		c.attempt = 0
	}
	c.mu.Unlock()
	if !recovered {
		// Dropped again (or closed) before the handshake settled; the next
		// cycle is already scheduled.
		return
	}

	c.logger.Info("reconnected")
	c.emitConnected()

	if desired := c.subs.all(); len(desired) > 0 {
		if err := c.sendSubscribe(desired); err != nil {
			c.logger.Warn("resubscribe failed", "error", err)
		}
	}
}

// reconnectDelay computes the capped exponential backoff for an attempt
// (numbered from 1). The first attempt fires after the small base delay.
func reconnectDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		d = max
	}
	return d
}

// sendSubscribe sends one batched subscribe message for the given feeds.
func (c *Client) sendSubscribe(feeds []Subscription) error {
	msg := subscribeMsg{Type: "subscribe", Markets: make([]wireMarket, 0, len(feeds))}
	for _, f := range feeds {
		msg.Markets = append(msg.Markets, wireMarket{
			ParsecID: f.ParsecID,
			Outcome:  f.Outcome,
			Depth:    f.Depth,
		})
	}
	data, _ := json.Marshal(msg)
	return c.send(data)
}

// sendResync requests a fresh snapshot for one feed. The server tolerates
// duplicate resync requests.
func (c *Client) sendResync(key FeedKey) {
	data, _ := json.Marshal(resyncMsg{Type: "resync", ParsecID: key.ParsecID, Outcome: key.Outcome})
	if err := c.send(data); err != nil {
		c.logger.Warn("resync request failed", "feed", key, "error", err)
	}
}

func (c *Client) send(data []byte) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		return ErrNotConnected
	}
	return ws.send(data)
}

// -----------------------------------------------------------------------------
// Event emission. All emission stops permanently once the session closes.
// -----------------------------------------------------------------------------

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) emitConnected() {
	if c.closed() || c.handlers.OnConnected == nil {
		return
	}
	c.handlers.OnConnected()
}

func (c *Client) emitOrderbook(b Orderbook) {
	if c.closed() || c.handlers.OnOrderbook == nil {
		return
	}
	c.handlers.OnOrderbook(b)
}

func (c *Client) emitActivity(a Activity) {
	if c.closed() || c.handlers.OnActivity == nil {
		return
	}
	c.handlers.OnActivity(a)
}

func (c *Client) emitError(e ServerError) {
	if c.closed() || c.handlers.OnError == nil {
		return
	}
	c.handlers.OnError(e)
}

func (c *Client) emitDisconnected(reason string) {
	if c.closed() || c.handlers.OnDisconnected == nil {
		return
	}
	c.handlers.OnDisconnected(reason)
}

func (c *Client) emitReconnecting(attempt int, delay time.Duration) {
	if c.closed() || c.handlers.OnReconnecting == nil {
		return
	}
	c.handlers.OnReconnecting(attempt, delay)
}

func (c *Client) emitSlowReader(parsecID, outcome string) {
	if c.closed() || c.handlers.OnSlowReader == nil {
		return
	}
	c.handlers.OnSlowReader(parsecID, outcome)
}

func (c *Client) emitHeartbeat(tsMs int64) {
	if c.closed() || c.handlers.OnHeartbeat == nil {
		return
	}
	c.handlers.OnHeartbeat(tsMs)
}
