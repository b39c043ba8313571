package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lrnzgll/subprime-shutdown/internal/conn"
	"github.com/lrnzgll/subprime-shutdown/internal/engine"
	"github.com/lrnzgll/subprime-shutdown/pkg/protocol"
)

var ErrRoomClosed = errors.New("room closed")
var ErrAlreadyMember = errors.New("already a member")

const DefaultPollInterval = time.Second

type Msg interface{ isRoomMsg() }

// Join adds a member. Announce broadcasts player_joined to the whole room,
// which the host's own creation join skips.
type Join struct {
	ClientID int
	Name     string
	Conn     *conn.Conn
	Announce bool
	Reply    chan JoinResult
}

func (Join) isRoomMsg() {}

type JoinResult struct {
	SpawnIndex  int
	State       engine.RoomState
	BecameReady bool
	Err         error
}

type Start struct {
	Reply chan error
}

func (Start) isRoomMsg() {}

type FromClient struct {
	ClientID int
	Player   json.RawMessage
}

func (FromClient) isRoomMsg() {}

type Disconnect struct {
	ClientID int
	Reason   string
}

func (Disconnect) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type Shutdown struct {
	Reason string
}

func (Shutdown) isRoomMsg() {}

type workersDone struct{}

func (workersDone) isRoomMsg() {}

type View struct {
	ID         string
	InviteCode string
	HostID     int
	State      engine.RoomState
	Members    []int
	Live       []int
	Players    []protocol.PlayerState
}

type Options struct {
	PollInterval time.Duration
	Logger       *zap.Logger
}

type member struct {
	id   int
	name string
	conn *conn.Conn
	live bool
}

// Room is a single-writer actor: members, player state and every broadcast
// are only touched from loop.
type Room struct {
	id        string
	code      string
	hostID    int
	createdAt time.Time

	inbox   chan Msg
	members []*member
	players map[int]protocol.PlayerState
	workers sync.WaitGroup

	mu    sync.RWMutex
	state engine.RoomState
	size  int

	poll     time.Duration
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
}

func New(parent context.Context, id, code string, hostID int, opts Options) *Room {
	ctx, cancel := context.WithCancel(parent)
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	r := &Room{
		id:        id,
		code:      code,
		hostID:    hostID,
		createdAt: time.Now(),
		inbox:     make(chan Msg, 64),
		players:   make(map[int]protocol.PlayerState),
		state:     engine.StateWaiting,
		poll:      opts.PollInterval,
		log:       opts.Logger.With(zap.String("room_id", id), zap.String("invite_code", code)),
		ctx:       ctx,
		cancel:    cancel,
		finished:  make(chan struct{}),
	}

	go r.loop()
	return r
}

func (r *Room) loop() {
	defer r.finish()
	for {
		select {
		case <-r.ctx.Done():
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				msg.Reply <- r.join(msg)

			case Start:
				msg.Reply <- r.start()

			case FromClient:
				r.apply(msg)

			case Disconnect:
				r.handleDisconnect(msg.ClientID, msg.Reason)

			case GetState:
				msg.Reply <- r.view()

			case workersDone:
				r.complete("all member workers exited")

			case Shutdown:
				r.complete(msg.Reason)
			}
		}
	}
}

func (r *Room) join(msg Join) JoinResult {
	cur := r.State()
	if r.member(msg.ClientID) != nil {
		return JoinResult{State: cur, Err: ErrAlreadyMember}
	}
	next, err := engine.StateAfterJoin(cur, len(r.members)+1)
	if err != nil {
		return JoinResult{State: cur, Err: err}
	}

	index := len(r.members)
	player := engine.NewPlayer(msg.ClientID, msg.Name, index)
	r.members = append(r.members, &member{id: msg.ClientID, name: player.Name, conn: msg.Conn, live: true})
	r.players[msg.ClientID] = player
	r.setState(next)

	r.log.Info("player joined",
		zap.Int("client_id", msg.ClientID),
		zap.String("name", player.Name),
		zap.Int("spawn_index", index),
		zap.String("state", string(next)))

	if msg.Announce {
		joined, err := protocol.Success(protocol.ActionPlayerJoined, protocol.PlayerJoined{
			RoomID:     r.id,
			InviteCode: r.code,
			PlayerID:   msg.ClientID,
			PlayerName: player.Name,
			Players:    r.snapshot(),
		})
		if err == nil {
			r.broadcast(joined, noone)
		}
	}

	return JoinResult{
		SpawnIndex:  index,
		State:       next,
		BecameReady: cur == engine.StateWaiting && next == engine.StateReady,
	}
}

func (r *Room) start() error {
	next, err := engine.Transition(r.State(), engine.StateInProgress)
	if err != nil {
		return err
	}
	r.setState(next)

	// Workers only forward into the inbox, so nothing they read is applied
	// before game_started has gone out.
	for _, m := range r.members {
		r.workers.Add(1)
		go r.work(m)
	}
	go func() {
		r.workers.Wait()
		r.post(workersDone{})
	}()

	started, err := protocol.Success(protocol.ActionGameStarted, protocol.GameStarted{
		RoomID:  r.id,
		Players: r.snapshot(),
	})
	if err != nil {
		return err
	}
	r.log.Info("game started", zap.Int("members", len(r.members)))
	r.broadcast(started, noone)
	return nil
}

func (r *Room) apply(msg FromClient) {
	if r.State() != engine.StateInProgress {
		return
	}
	m := r.member(msg.ClientID)
	if m == nil || !m.live {
		return
	}

	merged, err := engine.MergePlayer(r.players[msg.ClientID], msg.Player)
	if err != nil {
		r.log.Warn("dropping game action", zap.Int("client_id", msg.ClientID), zap.Error(err))
		return
	}
	r.players[msg.ClientID] = merged

	update, err := protocol.Success(protocol.ActionGameUpdate, protocol.GameUpdate{
		RoomID:  r.id,
		Players: r.snapshot(),
	})
	if err != nil {
		return
	}
	r.broadcast(update, noone)
}

func (r *Room) handleDisconnect(clientID int, reason string) {
	m := r.member(clientID)
	if m == nil || !m.live {
		return
	}
	m.live = false
	cause := m.conn.Err()
	_ = m.conn.Close()
	r.log.Info("player disconnected",
		zap.Int("client_id", clientID),
		zap.String("reason", reason),
		zap.NamedError("cause", cause))

	notice, err := protocol.Success(protocol.ActionPlayerDisconnected, protocol.PlayerDisconnected{
		PlayerID: clientID,
		Reason:   reason,
	})
	if err == nil {
		r.broadcast(notice, clientID)
	}

	if r.liveCount() == 0 {
		r.complete("no live members")
	}
}

const noone = 0

// broadcast sends to every live member except skip. A failed send counts as
// that member disconnecting.
func (r *Room) broadcast(m protocol.Message, skip int) {
	var failed []int
	for _, mb := range r.members {
		if !mb.live || mb.id == skip {
			continue
		}
		if err := mb.conn.Send(m); err != nil {
			r.log.Debug("send failed", zap.Int("client_id", mb.id), zap.Error(err))
			failed = append(failed, mb.id)
		}
	}
	for _, id := range failed {
		r.handleDisconnect(id, "connection lost")
	}
}

func (r *Room) complete(reason string) {
	cur := r.State()
	if cur.Terminal() {
		return
	}
	next, err := engine.Transition(cur, engine.StateCompleted)
	if err != nil {
		r.log.Error("cannot complete room", zap.Error(err))
		return
	}
	r.setState(next)
	r.log.Info("room completed", zap.String("reason", reason))
	r.cancel()
}

// finish runs when the loop exits, including when the parent context is
// cancelled without a Shutdown message. Nothing in the room logs or writes
// after finished is closed.
func (r *Room) finish() {
	defer close(r.finished)
	if !r.State().Terminal() {
		r.setState(engine.StateCompleted)
		r.log.Info("room completed", zap.String("reason", "server shutting down"))
	}
	for _, m := range r.members {
		if m.live {
			m.live = false
			_ = m.conn.Close()
		}
	}
	r.cancel()
	r.workers.Wait()
}

func (r *Room) member(id int) *member {
	for _, m := range r.members {
		if m.id == id {
			return m
		}
	}
	return nil
}

func (r *Room) liveCount() int {
	n := 0
	for _, m := range r.members {
		if m.live {
			n++
		}
	}
	return n
}

// snapshot flattens player state in join order.
func (r *Room) snapshot() []protocol.PlayerState {
	out := make([]protocol.PlayerState, 0, len(r.members))
	for _, m := range r.members {
		p := r.players[m.id].Clone()
		p.ID = m.id
		out = append(out, p)
	}
	return out
}

func (r *Room) view() View {
	v := View{
		ID:         r.id,
		InviteCode: r.code,
		HostID:     r.hostID,
		State:      r.State(),
		Players:    r.snapshot(),
	}
	for _, m := range r.members {
		v.Members = append(v.Members, m.id)
		if m.live {
			v.Live = append(v.Live, m.id)
		}
	}
	return v
}

func (r *Room) setState(s engine.RoomState) {
	r.mu.Lock()
	r.state = s
	r.size = len(r.members)
	r.mu.Unlock()
}

func (r *Room) State() engine.RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Size is the number of members that ever joined.
func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

func (r *Room) ID() string           { return r.id }
func (r *Room) InviteCode() string   { return r.code }
func (r *Room) HostID() int          { return r.hostID }
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// Done is closed once the room has completed, its member connections are
// closed and its workers have exited.
func (r *Room) Done() <-chan struct{} { return r.finished }

// Expose the inbox so tests can drive the actor directly.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) post(m Msg) bool {
	select {
	case r.inbox <- m:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// AddHost registers the creator without announcing it.
func (r *Room) AddHost(clientID int, c *conn.Conn, name string) (JoinResult, error) {
	return r.add(Join{ClientID: clientID, Name: name, Conn: c})
}

// AddPlayer registers a joining player and broadcasts player_joined.
func (r *Room) AddPlayer(clientID int, c *conn.Conn, name string) (JoinResult, error) {
	return r.add(Join{ClientID: clientID, Name: name, Conn: c, Announce: true})
}

func (r *Room) add(j Join) (JoinResult, error) {
	j.Reply = make(chan JoinResult, 1)
	if !r.post(j) {
		return JoinResult{State: r.State()}, ErrRoomClosed
	}
	res, ok := await(r, j.Reply)
	if !ok {
		return JoinResult{State: r.State()}, ErrRoomClosed
	}
	return res, res.Err
}

func (r *Room) Start() error {
	reply := make(chan error, 1)
	if !r.post(Start{Reply: reply}) {
		return ErrRoomClosed
	}
	err, ok := await(r, reply)
	if !ok {
		return ErrRoomClosed
	}
	return err
}

func (r *Room) View() (View, error) {
	reply := make(chan View, 1)
	if !r.post(GetState{Reply: reply}) {
		return View{}, fmt.Errorf("view %s: %w", r.id, ErrRoomClosed)
	}
	v, ok := await(r, reply)
	if !ok {
		return View{}, fmt.Errorf("view %s: %w", r.id, ErrRoomClosed)
	}
	return v, nil
}

// Leave reports a member whose connection failed outside the member workers,
// for example before the game started.
func (r *Room) Leave(clientID int, reason string) {
	r.post(Disconnect{ClientID: clientID, Reason: reason})
}

func (r *Room) Shutdown(reason string) {
	r.post(Shutdown{Reason: reason})
}

// await prefers a reply that raced with the room closing.
func await[T any](r *Room, reply <-chan T) (T, bool) {
	select {
	case v := <-reply:
		return v, true
	case <-r.ctx.Done():
		select {
		case v := <-reply:
			return v, true
		default:
			var zero T
			return zero, false
		}
	}
}
