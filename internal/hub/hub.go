package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lrnzgll/subprime-shutdown/internal/engine"
	"github.com/lrnzgll/subprime-shutdown/internal/room"
)

var ErrRoomNotFound = errors.New("room not found")
var ErrHubClosed = errors.New("hub closed")

const maxCodeAttempts = 32

type HubMsg interface{ isHubMsg() }

type CreateRoom struct {
	HostID int
	Reply  chan *room.Room // nil when no code could be allocated
}

// FindRoom looks up a joinable room by invite code.
type FindRoom struct {
	Code  string
	Reply chan *room.Room
}

type GetRoom struct {
	ID    string
	Reply chan *room.Room
}

type BindClient struct {
	ClientID int
	RoomID   string
}

type RoomOf struct {
	ClientID int
	Reply    chan string
}

type ListRooms struct {
	Reply chan []RoomInfo
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (FindRoom) isHubMsg()    {}
func (GetRoom) isHubMsg()     {}
func (BindClient) isHubMsg()  {}
func (RoomOf) isHubMsg()      {}
func (ListRooms) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

type RoomInfo struct {
	ID         string           `json:"id"`
	InviteCode string           `json:"invite_code"`
	HostID     int              `json:"host_id"`
	State      engine.RoomState `json:"state"`
	Members    int              `json:"members"`
	CreatedAt  time.Time        `json:"created_at"`
}

type Options struct {
	ReapInterval time.Duration
	// RoomIdleTTL bounds how long a room may sit in waiting. Zero disables.
	RoomIdleTTL time.Duration
	Room        room.Options
	Logger      *zap.Logger
}

// Hub owns the room registry. All maps are touched only by loop.
type Hub struct {
	inbox    chan HubMsg
	rooms    map[string]*room.Room
	clients  map[int]string
	opts     Options
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
}

func NewHub(parent context.Context, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Room.Logger == nil {
		opts.Room.Logger = opts.Logger
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		rooms:   make(map[string]*room.Room),
		clients: make(map[int]string),
		opts:    opts,
		log:     opts.Logger.Named("hub"),
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed after the hub and every room it held have shut down.
func (h *Hub) Done() <-chan struct{} { return h.finished }

func (h *Hub) loop() {
	defer close(h.finished)
	ticker := time.NewTicker(h.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case <-ticker.C:
			h.reap()

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				msg.Reply <- h.createRoom(msg.HostID)

			case FindRoom:
				msg.Reply <- h.findRoom(msg.Code)

			case GetRoom:
				msg.Reply <- h.rooms[msg.ID] // May be nil

			case BindClient:
				h.clients[msg.ClientID] = msg.RoomID

			case RoomOf:
				msg.Reply <- h.clients[msg.ClientID]

			case ListRooms:
				msg.Reply <- h.list()

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) createRoom(hostID int) *room.Room {
	code, err := h.uniqueCode()
	if err != nil {
		h.log.Error("cannot allocate invite code", zap.Error(err))
		return nil
	}
	id := uuid.NewString()
	rm := room.New(h.ctx, id, code, hostID, h.opts.Room)
	h.rooms[id] = rm
	h.log.Info("room created", zap.String("room_id", id), zap.String("invite_code", code), zap.Int("host_id", hostID))
	return rm
}

// uniqueCode only guards against codes held by rooms that have not completed.
func (h *Hub) uniqueCode() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		c, err := GenerateCode()
		if err != nil {
			return "", err
		}
		if !h.codeInUse(c) {
			return c, nil
		}
		h.log.Debug("collision on code, regenerating", zap.String("invite_code", c))
	}
	return "", fmt.Errorf("no free invite code after %d attempts", maxCodeAttempts)
}

func (h *Hub) codeInUse(code string) bool {
	for _, rm := range h.rooms {
		if rm.InviteCode() == code && !rm.State().Terminal() {
			return true
		}
	}
	return false
}

func (h *Hub) findRoom(code string) *room.Room {
	code = NormalizeCode(code)
	for _, rm := range h.rooms {
		if rm.InviteCode() == code && rm.State().Joinable() {
			return rm
		}
	}
	return nil
}

func (h *Hub) list() []RoomInfo {
	out := make([]RoomInfo, 0, len(h.rooms))
	for _, rm := range h.rooms {
		out = append(out, RoomInfo{
			ID:         rm.ID(),
			InviteCode: rm.InviteCode(),
			HostID:     rm.HostID(),
			State:      rm.State(),
			Members:    rm.Size(),
			CreatedAt:  rm.CreatedAt(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// reap evicts completed rooms and shuts down rooms that waited too long for a
// second player. Those are evicted on the following sweep.
func (h *Hub) reap() {
	now := time.Now()
	for id, rm := range h.rooms {
		switch st := rm.State(); {
		case st.Terminal():
			h.remove(id)
		case st == engine.StateWaiting && h.opts.RoomIdleTTL > 0 && now.Sub(rm.CreatedAt()) >= h.opts.RoomIdleTTL:
			h.log.Info("closing idle room", zap.String("room_id", id), zap.Duration("age", now.Sub(rm.CreatedAt()).Round(time.Second)))
			rm.Shutdown("no opponent joined in time")
		}
	}
}

func (h *Hub) remove(id string) {
	rm, ok := h.rooms[id]
	if !ok {
		return
	}
	if !rm.State().Terminal() {
		rm.Shutdown("room removed")
	}
	delete(h.rooms, id)
	for cid, rid := range h.clients {
		if rid == id {
			delete(h.clients, cid)
		}
	}
	h.log.Info("room evicted", zap.String("room_id", id), zap.String("invite_code", rm.InviteCode()))
}

func (h *Hub) shutdown() {
	for _, rm := range h.rooms {
		rm.Shutdown("server shutting down")
	}
	for _, rm := range h.rooms {
		<-rm.Done()
	}
	clear(h.rooms)
	clear(h.clients)
	h.cancel()
}

func (h *Hub) post(m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

func request[T any](h *Hub, m HubMsg, reply chan T) (T, error) {
	var zero T
	if err := h.post(m); err != nil {
		return zero, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-h.ctx.Done():
		return zero, ErrHubClosed
	}
}

func (h *Hub) CreateRoom(hostID int) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	rm, err := request(h, CreateRoom{HostID: hostID, Reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	if rm == nil {
		return nil, errors.New("could not create room")
	}
	return rm, nil
}

// FindRoom matches invite codes case-insensitively against rooms that are
// still waiting or ready.
func (h *Hub) FindRoom(code string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	rm, err := request(h, FindRoom{Code: code, Reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	if rm == nil {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, NormalizeCode(code))
	}
	return rm, nil
}

func (h *Hub) GetRoom(id string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	rm, err := request(h, GetRoom{ID: id, Reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	if rm == nil {
		return nil, ErrRoomNotFound
	}
	return rm, nil
}

func (h *Hub) Bind(clientID int, roomID string) error {
	return h.post(BindClient{ClientID: clientID, RoomID: roomID})
}

// RoomOf returns the room id a client belongs to, or "".
func (h *Hub) RoomOf(clientID int) (string, error) {
	reply := make(chan string, 1)
	return request(h, RoomOf{ClientID: clientID, Reply: reply}, reply)
}

func (h *Hub) List() ([]RoomInfo, error) {
	reply := make(chan []RoomInfo, 1)
	return request(h, ListRooms{Reply: reply}, reply)
}

// Shutdown completes every room and returns once they have all finished.
func (h *Hub) Shutdown() {
	_ = h.post(ShutdownHub{})
	<-h.finished
}
