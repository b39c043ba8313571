package hub

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lrnzgll/subprime-shutdown/internal/conn"
	"github.com/lrnzgll/subprime-shutdown/internal/engine"
	"github.com/lrnzgll/subprime-shutdown/internal/room"
)

func newHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	opts.Logger = zaptest.NewLogger(t)
	h := NewHub(ctx, opts)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

func pipeConn(t *testing.T) *conn.Conn {
	t.Helper()
	a, b := net.Pipe()
	c := conn.New(a, conn.Options{})
	peer := conn.New(b, conn.Options{})
	t.Cleanup(func() {
		c.Close()
		peer.Close()
	})
	return c
}

func TestHub_Create_Get_SamePointer(t *testing.T) {
	h := newHub(t, Options{})

	reply := make(chan *room.Room, 1)
	h.Inbox() <- CreateRoom{HostID: 1, Reply: reply}
	rm1 := <-reply
	require.NotNil(t, rm1)

	h.Inbox() <- GetRoom{ID: rm1.ID(), Reply: reply}
	rm2 := <-reply

	if rm1 != rm2 {
		t.Fatalf("expected same room pointer")
	}
	assert.Equal(t, engine.StateWaiting, rm1.State())
	assert.Equal(t, 1, rm1.HostID())
}

func TestGenerateCode_Format(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, CodeLength)
		require.True(t, ValidCode(code), "bad code %q", code)
		assert.Equal(t, strings.ToUpper(code[:3]), code[:3])
	}
	assert.False(t, ValidCode("abc123"))
	assert.False(t, ValidCode("AB1234"))
	assert.False(t, ValidCode("ABCD12"))
	assert.Equal(t, "ABC123", NormalizeCode(" abc123 "))
}

func TestHub_FindRoom_CaseInsensitive(t *testing.T) {
	h := newHub(t, Options{})
	rm, err := h.CreateRoom(1)
	require.NoError(t, err)

	found, err := h.FindRoom(strings.ToLower(rm.InviteCode()))
	require.NoError(t, err)
	assert.Same(t, rm, found)

	_, err = h.FindRoom("nope")
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestHub_FindRoom_SkipsRoomsThatStarted(t *testing.T) {
	h := newHub(t, Options{})
	rm, err := h.CreateRoom(1)
	require.NoError(t, err)

	_, err = rm.AddHost(1, pipeConn(t), "Ada")
	require.NoError(t, err)
	_, err = rm.AddPlayer(2, pipeConn(t), "Bo")
	require.NoError(t, err)

	found, err := h.FindRoom(rm.InviteCode())
	require.NoError(t, err, "ready rooms are still joinable")
	assert.Same(t, rm, found)

	require.NoError(t, rm.Start())
	_, err = h.FindRoom(rm.InviteCode())
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestHub_BindAndRoomOf(t *testing.T) {
	h := newHub(t, Options{})
	rm, err := h.CreateRoom(7)
	require.NoError(t, err)

	require.NoError(t, h.Bind(7, rm.ID()))
	id, err := h.RoomOf(7)
	require.NoError(t, err)
	assert.Equal(t, rm.ID(), id)

	id, err = h.RoomOf(8)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestHub_ReaperEvictsCompletedRooms(t *testing.T) {
	h := newHub(t, Options{ReapInterval: 20 * time.Millisecond})
	keep, err := h.CreateRoom(1)
	require.NoError(t, err)
	done, err := h.CreateRoom(2)
	require.NoError(t, err)
	require.NoError(t, h.Bind(2, done.ID()))

	done.Shutdown("finished")
	<-done.Done()

	require.Eventually(t, func() bool {
		_, err := h.GetRoom(done.ID())
		return err != nil
	}, time.Second, 10*time.Millisecond)

	id, err := h.RoomOf(2)
	require.NoError(t, err)
	assert.Empty(t, id, "client mapping goes with the room")

	_, err = h.GetRoom(keep.ID())
	require.NoError(t, err, "waiting rooms survive the reaper")
}

func TestHub_ReaperClosesIdleWaitingRooms(t *testing.T) {
	h := newHub(t, Options{ReapInterval: 20 * time.Millisecond, RoomIdleTTL: 50 * time.Millisecond})
	rm, err := h.CreateRoom(1)
	require.NoError(t, err)

	select {
	case <-rm.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("idle room was not closed")
	}
	require.Eventually(t, func() bool {
		rooms, err := h.List()
		return err == nil && len(rooms) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHub_List(t *testing.T) {
	h := newHub(t, Options{})
	rm, err := h.CreateRoom(3)
	require.NoError(t, err)

	rooms, err := h.List()
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, rm.ID(), rooms[0].ID)
	assert.Equal(t, rm.InviteCode(), rooms[0].InviteCode)
	assert.Equal(t, engine.StateWaiting, rooms[0].State)
	assert.Equal(t, 0, rooms[0].Members)
}

func TestHub_ShutdownClosesRooms(t *testing.T) {
	h := newHub(t, Options{})
	rm, err := h.CreateRoom(1)
	require.NoError(t, err)
	host := pipeConn(t)
	_, err = rm.AddHost(1, host, "Ada")
	require.NoError(t, err)

	h.Shutdown()
	// Shutdown only returns once every room has finished.
	select {
	case <-rm.Done():
	default:
		t.Fatalf("room still running after hub shutdown")
	}
	assert.Equal(t, engine.StateCompleted, rm.State())
	assert.True(t, host.IsBroken())

	_, err = h.CreateRoom(2)
	require.ErrorIs(t, err, ErrHubClosed)
}
