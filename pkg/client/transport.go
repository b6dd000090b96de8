package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/railgrid/server/internal/protocol"
)

// ConnState tracks where the transport is in its connect cycle.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

const (
	backoffInitial = 500 * time.Millisecond
	backoffMax     = 30 * time.Second
)

var ErrNotConnected = errors.New("not connected")
var ErrClosed = errors.New("client closed")

// Conn is the minimal socket surface the transport needs, so tests can
// substitute an in-memory pipe for a real websocket.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens one connection attempt.
type Dialer func(ctx context.Context) (Conn, error)

// WebsocketDialer dials the server's /ws endpoint. The url must carry the
// session and token query parameters.
func WebsocketDialer(url string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		c, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return wsConn{c}, nil
	}
}

type wsConn struct{ c *websocket.Conn }

func (w wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "bye")
}

// Client maintains a connection with capped-backoff reconnects. Joined
// game and lobby rooms are tracked and replayed after every reconnect, so
// the server re-sends a fresh baseline and the caller's reducer heals.
type Client struct {
	dial Dialer

	mu          sync.Mutex
	conn        Conn
	state       ConnState
	handlers    map[string]func(protocol.ServerMessage)
	reconnected []func()
	gameRooms   map[string]struct{}
	lobbyRooms  map[string]struct{}
	clientSeq   uint64
	connects    int
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(dial Dialer) *Client {
	return &Client{
		dial:       dial,
		state:      StateDisconnected,
		handlers:   make(map[string]func(protocol.ServerMessage)),
		gameRooms:  make(map[string]struct{}),
		lobbyRooms: make(map[string]struct{}),
	}
}

// On registers the handler for one event name, replacing any previous
// handler so repeated registration never double-fires.
func (c *Client) On(event string, fn func(protocol.ServerMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = fn
}

// OnReconnected registers a callback fired after room replay completes on
// every reconnect (not the first connect).
func (c *Client) OnReconnected(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnected = append(c.reconnected, fn)
}

// Connect starts the connection loop and returns once the first dial
// succeeds or ctx expires. Dial failures are retried with capped backoff,
// the first attempt included; ctx bounds only how long Connect waits for
// readiness. The loop keeps reconnecting until Close.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.ctx != nil {
		c.mu.Unlock()
		return errors.New("already connected")
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.done = make(chan struct{})
	c.state = StateConnecting
	c.mu.Unlock()

	ready := make(chan error, 1)
	go c.run(ready)

	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}
}

func (c *Client) run(ready chan<- error) {
	defer close(c.done)
	backoff := backoffInitial
	first := true
	for {
		conn, err := c.dial(c.ctx)
		if err != nil {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, backoffMax)
			continue
		}
		backoff = backoffInitial

		c.mu.Lock()
		c.conn = conn
		c.state = StateConnected
		c.connects++
		replay := c.connects > 1
		c.mu.Unlock()

		if first {
			ready <- nil
			first = false
		}
		if replay {
			c.replayRooms()
			c.mu.Lock()
			fns := append([]func(){}, c.reconnected...)
			c.mu.Unlock()
			for _, fn := range fns {
				fn()
			}
		}

		c.readUntilError(conn)

		c.mu.Lock()
		c.conn = nil
		if c.closed {
			c.state = StateDisconnected
			c.mu.Unlock()
			return
		}
		c.state = StateReconnecting
		c.mu.Unlock()

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

func (c *Client) readUntilError(conn Conn) {
	for {
		data, err := conn.Read(c.ctx)
		if err != nil {
			_ = conn.Close()
			return
		}
		msg, err := protocol.DecodeServer(data)
		if err != nil {
			continue // tolerate frames from newer servers
		}
		c.mu.Lock()
		fn := c.handlers[msg.Event()]
		c.mu.Unlock()
		if fn != nil {
			fn(msg)
		}
	}
}

// replayRooms re-joins every tracked room exactly once per reconnect; the
// join triggers a fresh state:init from the server.
func (c *Client) replayRooms() {
	c.mu.Lock()
	games := make([]string, 0, len(c.gameRooms))
	for id := range c.gameRooms {
		games = append(games, id)
	}
	lobbies := make([]string, 0, len(c.lobbyRooms))
	for id := range c.lobbyRooms {
		lobbies = append(lobbies, id)
	}
	c.mu.Unlock()

	for _, id := range games {
		_ = c.write(protocol.JoinGame{SessionID: id})
	}
	for _, id := range lobbies {
		_ = c.write(protocol.JoinLobby{SessionID: id})
	}
}

func (c *Client) write(msg protocol.ClientMessage) error {
	data, err := protocol.EncodeClient(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(c.ctx, 3*time.Second)
	defer cancel()
	return conn.Write(ctx, data)
}

// JoinGame subscribes to a session's game stream. The subscription is
// tracked and replayed on reconnect.
func (c *Client) JoinGame(sessionID string) error {
	c.mu.Lock()
	c.gameRooms[sessionID] = struct{}{}
	c.mu.Unlock()
	return c.write(protocol.JoinGame{SessionID: sessionID})
}

// Resync requests a fresh baseline for a joined session. Use it after the
// reducer reports a Gap.
func (c *Client) Resync(sessionID string) error {
	return c.write(protocol.JoinGame{SessionID: sessionID})
}

func (c *Client) JoinLobby(sessionID string) error {
	c.mu.Lock()
	c.lobbyRooms[sessionID] = struct{}{}
	c.mu.Unlock()
	return c.write(protocol.JoinLobby{SessionID: sessionID})
}

func (c *Client) LeaveLobby(sessionID string) error {
	c.mu.Lock()
	delete(c.lobbyRooms, sessionID)
	c.mu.Unlock()
	return c.write(protocol.LeaveLobby{SessionID: sessionID})
}

// SendAction submits a play and returns the clientSeq assigned to it, to
// correlate with the ack on the resulting patch.
func (c *Client) SendAction(sessionID, actionType string, payload json.RawMessage) (uint64, error) {
	c.mu.Lock()
	c.clientSeq++
	seq := c.clientSeq
	c.mu.Unlock()
	err := c.write(protocol.Action{
		SessionID: sessionID,
		Type:      actionType,
		Payload:   payload,
		ClientSeq: seq,
	})
	return seq, err
}

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close stops the reconnect loop and drops the connection.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateDisconnected
	conn := c.conn
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
}
