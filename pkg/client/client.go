// Package client is the player side of the game protocol: it connects,
// walks through the lobby and keeps a local copy of every player's state.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lrnzgll/subprime-shutdown/internal/conn"
	"github.com/lrnzgll/subprime-shutdown/pkg/protocol"
)

const (
	TLSPort          = 443
	WelcomeTimeout   = 10 * time.Second
	ReplyTimeout     = 10 * time.Second
	GameStartTimeout = 300 * time.Second
)

var (
	ErrTimeout          = errors.New("timed out waiting for server")
	ErrGameNotReady     = errors.New("game has not started")
	ErrPeerDisconnected = errors.New("player disconnected")
)

// ConnectError reports a failure to reach the server or to be greeted by it.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("connect %s: %v", e.Addr, e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

// ServerError is an error reply from the server.
type ServerError struct {
	Action protocol.Action
	Reason string
}

func (e *ServerError) Error() string { return fmt.Sprintf("%s: %s", e.Action, e.Reason) }

// ProgressFunc is called while a long wait is still running.
type ProgressFunc func(waitingFor []protocol.Action, elapsed time.Duration)

type Options struct {
	TLSConfig      *tls.Config
	PollInterval   time.Duration
	WelcomeTimeout time.Duration
	// Progress notices start after ProgressAfter and repeat every
	// ProgressEvery.
	ProgressAfter time.Duration
	ProgressEvery time.Duration
	Progress      ProgressFunc
	Logger        *zap.Logger
}

type Option func(*Options)

func WithTLS(cfg *tls.Config) Option { return func(o *Options) { o.TLSConfig = cfg } }

func WithLogger(l *zap.Logger) Option { return func(o *Options) { o.Logger = l } }

func WithProgress(f ProgressFunc) Option { return func(o *Options) { o.Progress = f } }

// WithPollInterval sets how long each receive attempt blocks. Non-positive
// values fall back to the default.
func WithPollInterval(d time.Duration) Option {
	return func(o *Options) { o.PollInterval = d }
}

// WithProgressSchedule overrides when progress notices fire.
func WithProgressSchedule(after, every time.Duration) Option {
	return func(o *Options) {
		o.ProgressAfter = after
		o.ProgressEvery = every
	}
}

func WithWelcomeTimeout(d time.Duration) Option {
	return func(o *Options) { o.WelcomeTimeout = d }
}

func defaultOptions() Options {
	return Options{
		PollInterval:   100 * time.Millisecond,
		WelcomeTimeout: WelcomeTimeout,
		ProgressAfter:  60 * time.Second,
		ProgressEvery:  30 * time.Second,
	}
}

type Client struct {
	conn *conn.Conn
	opts Options
	log  *zap.Logger

	mu         sync.Mutex
	clientID   int
	roomID     string
	inviteCode string
	gameReady  bool
	players    []protocol.PlayerState
	lastSent   map[string]any
	departed   []protocol.PlayerDisconnected
}

// Connect dials host:port and blocks until the server's welcome arrives.
// Port 443 negotiates TLS; without a TLS config the server's certificate is
// not verified since servers generate a self-signed one by default.
func Connect(ctx context.Context, host string, port int, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.TLSConfig == nil && port == TLSPort {
		o.TLSConfig = &tls.Config{ServerName: host, InsecureSkipVerify: true}
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	if o.TLSConfig != nil {
		tc := tls.Client(nc, o.TLSConfig)
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = nc.Close()
			return nil, &ConnectError{Addr: addr, Err: fmt.Errorf("tls handshake: %w", err)}
		}
		nc = tc
	}

	c := newClient(conn.New(nc, conn.Options{}), o)
	if _, err := c.WaitForMessage([]protocol.Action{protocol.ActionWelcome}, o.WelcomeTimeout); err != nil {
		_ = c.Close()
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	c.log = c.log.With(zap.Int("client_id", c.ClientID()))
	c.log.Info("connected", zap.String("addr", addr))
	return c, nil
}

func newClient(c *conn.Conn, o Options) *Client {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultOptions().PollInterval
	}
	return &Client{conn: c, opts: o, log: o.Logger.Named("client")}
}

// WaitForMessage polls until a message with one of the given actions
// arrives or timeout elapses. Everything else that arrives meanwhile updates
// the local state. A timeout leaves the connection usable.
func (c *Client) WaitForMessage(actions []protocol.Action, timeout time.Duration) (protocol.Message, error) {
	start := time.Now()
	deadline := start.Add(timeout)
	nextNotice := start.Add(c.opts.ProgressAfter)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return protocol.Message{}, fmt.Errorf("%w: %v after %s", ErrTimeout, actions, timeout)
		}

		msg, err := c.conn.TryReceive(min(remaining, c.opts.PollInterval))
		if err != nil {
			return protocol.Message{}, err
		}
		if msg != nil {
			c.processMessage(*msg)
			if slices.Contains(actions, msg.Action) {
				return *msg, nil
			}
		}

		if c.opts.ProgressEvery > 0 && !time.Now().Before(nextNotice) {
			c.progress(actions, time.Since(start))
			nextNotice = nextNotice.Add(c.opts.ProgressEvery)
		}
	}
}

func (c *Client) progress(actions []protocol.Action, elapsed time.Duration) {
	if c.opts.Progress != nil {
		c.opts.Progress(actions, elapsed)
		return
	}
	c.log.Info("still waiting", zap.Any("actions", actions), zap.Duration("elapsed", elapsed.Round(time.Second)))
}

// CreateGame asks for a new room and returns its invite code.
func (c *Client) CreateGame(name string) (string, error) {
	if err := c.send(protocol.ActionCreateGame, protocol.CreateGame{PlayerName: name}); err != nil {
		return "", err
	}
	msg, err := c.WaitForMessage([]protocol.Action{protocol.ActionGameCreated, protocol.ActionCreateGame}, ReplyTimeout)
	if err != nil {
		return "", err
	}
	if msg.IsError() {
		return "", &ServerError{Action: msg.Action, Reason: msg.Error}
	}
	return c.InviteCode(), nil
}

// JoinGame joins the room with the given invite code. Success arrives as
// the room-wide player_joined broadcast, which also carries the code in its
// canonical form. Failure arrives as a join_game error reply.
func (c *Client) JoinGame(code, name string) error {
	if err := c.send(protocol.ActionJoinGame, protocol.JoinGame{InviteCode: code, PlayerName: name}); err != nil {
		return err
	}
	msg, err := c.WaitForMessage([]protocol.Action{protocol.ActionPlayerJoined, protocol.ActionJoinGame}, ReplyTimeout)
	if err != nil {
		return err
	}
	if msg.IsError() {
		return &ServerError{Action: msg.Action, Reason: msg.Error}
	}
	return nil
}

func (c *Client) WaitForGameStart() error {
	if c.GameReady() {
		return nil
	}
	_, err := c.WaitForMessage([]protocol.Action{protocol.ActionGameStarted}, GameStartTimeout)
	return err
}

func (c *Client) send(action protocol.Action, payload any) error {
	msg, err := protocol.NewMessage(action, payload)
	if err != nil {
		return err
	}
	return c.conn.Send(msg)
}

func (c *Client) processMessage(msg protocol.Message) {
	if msg.IsError() {
		c.log.Warn("server error", zap.String("action", string(msg.Action)), zap.String("error", msg.Error))
		return
	}

	var err error
	switch msg.Action {
	case protocol.ActionWelcome:
		var w protocol.Welcome
		if err = msg.Decode(&w); err == nil {
			c.mu.Lock()
			c.clientID = w.ClientID
			c.mu.Unlock()
		}

	case protocol.ActionGameCreated:
		var gc protocol.GameCreated
		if err = msg.Decode(&gc); err == nil {
			c.mu.Lock()
			c.roomID, c.inviteCode = gc.RoomID, gc.InviteCode
			c.mu.Unlock()
		}

	case protocol.ActionPlayerJoined:
		var pj protocol.PlayerJoined
		if err = msg.Decode(&pj); err == nil {
			c.mu.Lock()
			c.roomID, c.players = pj.RoomID, pj.Players
			if pj.InviteCode != "" {
				c.inviteCode = pj.InviteCode
			}
			c.mu.Unlock()
			c.log.Info("player joined", zap.Int("player_id", pj.PlayerID), zap.String("name", pj.PlayerName))
		}

	case protocol.ActionGameStarted:
		var gs protocol.GameStarted
		if err = msg.Decode(&gs); err == nil {
			c.mu.Lock()
			c.roomID, c.players, c.gameReady = gs.RoomID, gs.Players, true
			c.mu.Unlock()
			c.log.Info("game started", zap.Int("players", len(gs.Players)))
		}

	case protocol.ActionGameUpdate:
		var gu protocol.GameUpdate
		if err = msg.Decode(&gu); err == nil {
			c.mu.Lock()
			c.players = gu.Players
			c.mu.Unlock()
		}

	case protocol.ActionPlayerDisconnected:
		var pd protocol.PlayerDisconnected
		if err = msg.Decode(&pd); err == nil {
			c.mu.Lock()
			c.departed = append(c.departed, pd)
			c.mu.Unlock()
			c.log.Info("player disconnected", zap.Int("player_id", pd.PlayerID), zap.String("reason", pd.Reason))
		}

	default:
		c.log.Debug("unhandled message", zap.String("action", string(msg.Action)))
	}
	if err != nil {
		c.log.Warn("bad payload", zap.String("action", string(msg.Action)), zap.Error(err))
	}
}

func (c *Client) ClientID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Client) InviteCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inviteCode
}

func (c *Client) GameReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameReady
}

// Players returns a copy of the last known state of every player.
func (c *Client) Players() []protocol.PlayerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.PlayerState, len(c.players))
	for i, p := range c.players {
		out[i] = p.Clone()
	}
	return out
}

// Self returns this client's own entry in Players.
func (c *Client) Self() (protocol.PlayerState, bool) {
	id := c.ClientID()
	for _, p := range c.Players() {
		if p.ID == id {
			return p, true
		}
	}
	return protocol.PlayerState{}, false
}

func (c *Client) Close() error {
	return c.conn.Close()
}
