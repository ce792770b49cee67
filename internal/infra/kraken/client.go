package kraken

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"market_hub/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
	pingInterval     = 30 * time.Second
	inboundBuffer    = 256
)

// subscribeRequest is the public channel subscribe frame.
type subscribeRequest struct {
	Event        string       `json:"event"`
	Pair         []string     `json:"pair,omitempty"`
	Subscription subscription `json:"subscription"`
}

type subscription struct {
	Name  []string `json:"name"`
	Token string   `json:"token,omitempty"`
}

type pingRequest struct {
	Event string `json:"event"`
}

// Client implements domain.Transport over the exchange's v2 WebSocket API.
// It owns the sockets and framing only; reconnect scheduling and
// re-subscription belong to the ingestor.
type Client struct {
	publicURL  string
	privateURL string
	signer     *Signer

	mu        sync.RWMutex
	conn      *websocket.Conn
	privConn  *websocket.Conn
	msgs      chan json.RawMessage
	privMsgs  chan json.RawMessage
	cancel    context.CancelFunc
	pingersWg sync.WaitGroup

	// Serializes writes per socket; gorilla allows only one concurrent writer.
	writeMu     sync.Mutex
	privWriteMu sync.Mutex

	logger *slog.Logger
}

// NewClient creates a transport for the given WebSocket endpoints.
func NewClient(publicURL, privateURL string, signer *Signer) *Client {
	return &Client{
		publicURL:  publicURL,
		privateURL: privateURL,
		signer:     signer,
		logger:     slog.Default().With("module", "kraken_client"),
	}
}

// Connect opens the public stream and starts pumping raw frames into the
// Messages channel. The channel is closed when the connection drops.
func (c *Client) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.publicURL, nil)
	if err != nil {
		return domain.NewTransportError("connect", err)
	}

	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.conn = conn
	c.msgs = make(chan json.RawMessage, inboundBuffer)
	c.cancel = cancel
	c.mu.Unlock()

	c.pingersWg.Add(1)
	go c.pingLoop(ctx, &c.writeMu, conn)
	go c.readLoop(conn, c.msgs, "public")

	c.logger.Info("public stream connected")
	return nil
}

// ConnectPrivate opens the authenticated stream. A rejected handshake is
// surfaced as a non-retriable AuthError; the public stream is unaffected.
func (c *Client) ConnectPrivate(ctx context.Context) error {
	if c.signer == nil {
		return &domain.AuthError{Err: domain.ErrMissingCredentials}
	}
	headers, err := c.signer.AuthHeaders()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, c.privateURL, headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			return &domain.AuthError{Err: err}
		}
		return domain.NewTransportError("connect_private", err)
	}

	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.privConn = conn
	c.privMsgs = make(chan json.RawMessage, inboundBuffer)
	prevCancel := c.cancel
	c.cancel = func() {
		if prevCancel != nil {
			prevCancel()
		}
		cancel()
	}
	c.mu.Unlock()

	c.pingersWg.Add(1)
	go c.pingLoop(ctx, &c.privWriteMu, conn)
	go c.readLoop(conn, c.privMsgs, "private")

	c.logger.Info("private stream connected")
	return nil
}

// Disconnect closes both sockets. The read loops exit and close their
// message channels.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.privConn != nil {
		c.privConn.Close()
		c.privConn = nil
	}
	c.mu.Unlock()

	c.pingersWg.Wait()
}

// SendSubscribe requests channels for a pair on the public stream.
func (c *Client) SendSubscribe(pair string, channels []string) error {
	req := subscribeRequest{
		Event:        "subscribe",
		Pair:         []string{pair},
		Subscription: subscription{Name: channels},
	}
	return c.writeJSON(&c.writeMu, c.publicConn(), req)
}

// SendPrivateSubscribe requests private channels on the authenticated stream.
func (c *Client) SendPrivateSubscribe(channels []string) error {
	req := subscribeRequest{
		Event: "subscribe",
		Subscription: subscription{
			Name:  channels,
			Token: c.signer.apiKey,
		},
	}
	return c.writeJSON(&c.privWriteMu, c.privateConn(), req)
}

// Messages yields raw inbound frames from the public stream.
func (c *Client) Messages() <-chan json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.msgs
}

// PrivateMessages yields raw inbound frames from the private stream.
func (c *Client) PrivateMessages() <-chan json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.privMsgs
}

func (c *Client) publicConn() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) privateConn() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.privConn
}

func (c *Client) writeJSON(writeMu *sync.Mutex, conn *websocket.Conn, v any) error {
	if conn == nil {
		return domain.NewTransportError("write", domain.ErrNotConnected)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return domain.NewTransportError("write", err)
	}
	return nil
}

func (c *Client) pingLoop(ctx context.Context, writeMu *sync.Mutex, conn *websocket.Conn) {
	defer c.pingersWg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeJSON(writeMu, conn, pingRequest{Event: "ping"}); err != nil {
				return
			}
		}
	}
}

// readLoop pumps frames until the socket errors, then closes the channel
// so the ingestor observes the disconnect.
func (c *Client) readLoop(conn *websocket.Conn, out chan<- json.RawMessage, stream string) {
	defer close(out)

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("stream closed",
				slog.String("stream", stream),
				slog.Any("error", err))
			return
		}

		raw := make(json.RawMessage, len(msg))
		copy(raw, msg)
		select {
		case out <- raw:
		default:
			// Consumer stalled; drop rather than block the socket read.
			c.logger.Warn("inbound buffer full, dropping frame", slog.String("stream", stream))
		}
	}
}
