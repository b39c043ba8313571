package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lrnzgll/subprime-shutdown/internal/conn"
	"github.com/lrnzgll/subprime-shutdown/internal/hub"
	"github.com/lrnzgll/subprime-shutdown/internal/room"
	"github.com/lrnzgll/subprime-shutdown/internal/tlsutil"
	"github.com/lrnzgll/subprime-shutdown/pkg/protocol"
)

type running struct {
	srv    *Server
	cancel context.CancelFunc
	done   chan error
}

func startServer(t *testing.T, opts Options) *running {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	log := zaptest.NewLogger(t)
	h := hub.NewHub(ctx, hub.Options{Logger: log, Room: room.Options{PollInterval: 20 * time.Millisecond}})

	opts.Addr = "127.0.0.1:0"
	opts.PollInterval = 20 * time.Millisecond
	opts.Logger = log
	srv := New(h, opts)
	require.NoError(t, srv.Listen())

	r := &running{srv: srv, cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-r.done
	})
	return r
}

func dial(t *testing.T, addr net.Addr) *conn.Conn {
	t.Helper()
	nc, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	c := conn.New(nc, conn.Options{})
	t.Cleanup(func() { c.Close() })
	return c
}

func recv(t *testing.T, c *conn.Conn, action protocol.Action) protocol.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m, err := c.TryReceive(time.Until(deadline))
		require.NoError(t, err)
		if m != nil && m.Action == action {
			return *m
		}
	}
	t.Fatalf("timed out waiting for %s", action)
	return protocol.Message{}
}

func welcomeID(t *testing.T, c *conn.Conn) int {
	t.Helper()
	m := recv(t, c, protocol.ActionWelcome)
	assert.Equal(t, protocol.StatusSuccess, m.Status)
	var w protocol.Welcome
	require.NoError(t, m.Decode(&w))
	assert.NotEmpty(t, w.Message)
	return w.ClientID
}

func request(t *testing.T, c *conn.Conn, action protocol.Action, payload any) {
	t.Helper()
	m, err := protocol.NewMessage(action, payload)
	require.NoError(t, err)
	require.NoError(t, c.Send(m))
}

func TestServer_WelcomeAssignsIncreasingIDs(t *testing.T) {
	r := startServer(t, Options{})

	first := welcomeID(t, dial(t, r.srv.Addr()))
	second := welcomeID(t, dial(t, r.srv.Addr()))
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestServer_CreateJoinPlay(t *testing.T) {
	r := startServer(t, Options{})

	host := dial(t, r.srv.Addr())
	hostID := welcomeID(t, host)
	request(t, host, protocol.ActionCreateGame, protocol.CreateGame{PlayerName: "Ada"})
	var gc protocol.GameCreated
	require.NoError(t, recv(t, host, protocol.ActionGameCreated).Decode(&gc))
	assert.Equal(t, hostID, gc.HostID)

	guest := dial(t, r.srv.Addr())
	guestID := welcomeID(t, guest)

	// Codes match regardless of case.
	request(t, guest, protocol.ActionJoinGame, protocol.JoinGame{InviteCode: strings.ToLower(gc.InviteCode), PlayerName: "Bo"})

	for _, c := range []*conn.Conn{host, guest} {
		recv(t, c, protocol.ActionPlayerJoined)
		recv(t, c, protocol.ActionGameStarted)
	}

	request(t, guest, protocol.ActionGameAction, map[string]any{"player": map[string]any{"x": 69, "y": 14, "direction": 3}})
	var gu protocol.GameUpdate
	require.NoError(t, recv(t, host, protocol.ActionGameUpdate).Decode(&gu))
	require.Len(t, gu.Players, 2)
	assert.Equal(t, guestID, gu.Players[1].ID)
	assert.Equal(t, 69, gu.Players[1].X)
	assert.Equal(t, protocol.DirectionLeft, gu.Players[1].Direction)

	require.NoError(t, guest.Close())
	var pd protocol.PlayerDisconnected
	require.NoError(t, recv(t, host, protocol.ActionPlayerDisconnected).Decode(&pd))
	assert.Equal(t, guestID, pd.PlayerID)
}

func TestServer_AdminRoomsAndWebSocket(t *testing.T) {
	r := startServer(t, Options{AdminAddr: "127.0.0.1:0"})
	base := "http://" + r.srv.AdminAddr().String()

	host := dial(t, r.srv.Addr())
	welcomeID(t, host)
	request(t, host, protocol.ActionCreateGame, nil)
	var gc protocol.GameCreated
	require.NoError(t, recv(t, host, protocol.ActionGameCreated).Decode(&gc))

	resp, err := http.Get(base + "/rooms")
	require.NoError(t, err)
	var body struct {
		Rooms []hub.RoomInfo `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	require.Len(t, body.Rooms, 1)
	assert.Equal(t, gc.InviteCode, body.Rooms[0].InviteCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws://"+r.srv.AdminAddr().String()+"/ws", nil)
	require.NoError(t, err)
	guest := conn.New(websocket.NetConn(ctx, ws, websocket.MessageText), conn.Options{})
	defer guest.Close()

	welcomeID(t, guest)
	request(t, guest, protocol.ActionJoinGame, protocol.JoinGame{InviteCode: gc.InviteCode})
	recv(t, guest, protocol.ActionGameStarted)
	recv(t, host, protocol.ActionGameStarted)
}

func TestServer_TLS(t *testing.T) {
	cfg, err := tlsutil.Config(tlsutil.Options{})
	require.NoError(t, err)
	r := startServer(t, Options{TLS: cfg})

	nc, err := tls.Dial("tcp", r.srv.Addr().String(), &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	c := conn.New(nc, conn.Options{})
	defer c.Close()
	assert.Equal(t, 1, welcomeID(t, c))
}

func TestServer_ShutdownClosesEverything(t *testing.T) {
	r := startServer(t, Options{})

	lobby := dial(t, r.srv.Addr())
	welcomeID(t, lobby)
	host := dial(t, r.srv.Addr())
	welcomeID(t, host)
	request(t, host, protocol.ActionCreateGame, nil)
	recv(t, host, protocol.ActionGameCreated)

	r.cancel()
	select {
	case err := <-r.done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("Serve did not return")
	}
	r.done <- nil // for the cleanup

	for _, c := range []*conn.Conn{lobby, host} {
		_, err := c.TryReceive(time.Second)
		require.Error(t, err, "connection should be closed by the server")
	}

	_, err := net.DialTimeout("tcp", r.srv.Addr().String(), 200*time.Millisecond)
	require.Error(t, err)
}

func TestServer_BindFailure(t *testing.T) {
	r := startServer(t, Options{})
	h := hub.NewHub(context.Background(), hub.Options{})
	defer h.Shutdown()

	srv := New(h, Options{Addr: r.srv.Addr().String()})
	require.Error(t, srv.Listen())
}
