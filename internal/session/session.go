// Package session drives one client through the lobby until its connection
// is handed to a room.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lrnzgll/subprime-shutdown/internal/conn"
	"github.com/lrnzgll/subprime-shutdown/internal/room"
	"github.com/lrnzgll/subprime-shutdown/pkg/protocol"
)

// errHandedOff marks the moment a room took ownership of the connection.
var errHandedOff = errors.New("connection handed to room")

type Registry interface {
	CreateRoom(hostID int) (*room.Room, error)
	FindRoom(code string) (*room.Room, error)
	Bind(clientID int, roomID string) error
}

type Options struct {
	PollInterval time.Duration
	Logger       *zap.Logger
}

type Session struct {
	id   int
	conn *conn.Conn
	reg  Registry
	poll time.Duration
	log  *zap.Logger
}

func New(clientID int, c *conn.Conn, reg Registry, opts Options) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = room.DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Session{
		id:   clientID,
		conn: c,
		reg:  reg,
		poll: opts.PollInterval,
		log:  opts.Logger,
	}
}

// Run serves lobby requests until the client creates or joins a room, the
// connection fails, or ctx is cancelled. It returns nil only after a room
// owns the connection; in every other case the connection is closed.
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			_ = s.conn.Close()
			return err
		}

		msg, err := s.conn.TryReceive(s.poll)
		if err != nil {
			_ = s.conn.Close()
			return err
		}
		if msg == nil {
			continue
		}

		switch msg.Action {
		case protocol.ActionCreateGame:
			err = s.createGame(*msg)
		case protocol.ActionJoinGame:
			err = s.joinGame(*msg)
		default:
			s.log.Debug("unexpected action in lobby", zap.String("action", string(msg.Action)))
			err = s.reply(protocol.Failure(msg.Action, fmt.Sprintf("unknown action %q", msg.Action)))
		}

		switch {
		case errors.Is(err, errHandedOff):
			return nil
		case err != nil:
			_ = s.conn.Close()
			return err
		}
	}
}

func (s *Session) createGame(msg protocol.Message) error {
	var req protocol.CreateGame
	if err := msg.Decode(&req); err != nil {
		return s.reply(protocol.Failure(protocol.ActionCreateGame, err.Error()))
	}

	rm, err := s.reg.CreateRoom(s.id)
	if err != nil {
		s.log.Warn("create room failed", zap.Error(err))
		return s.reply(protocol.Failure(protocol.ActionCreateGame, err.Error()))
	}
	if _, err := rm.AddHost(s.id, s.conn, req.PlayerName); err != nil {
		rm.Shutdown("host could not join")
		return s.reply(protocol.Failure(protocol.ActionCreateGame, err.Error()))
	}
	if err := s.reg.Bind(s.id, rm.ID()); err != nil {
		rm.Shutdown("registry closed")
		return err
	}

	created, err := protocol.Success(protocol.ActionGameCreated, protocol.GameCreated{
		RoomID:     rm.ID(),
		InviteCode: rm.InviteCode(),
		HostID:     s.id,
	})
	if err == nil {
		err = s.conn.Send(created)
	}
	if err != nil {
		rm.Leave(s.id, "connection lost")
	}
	s.log.Info("game created", zap.String("room_id", rm.ID()), zap.String("invite_code", rm.InviteCode()))
	return errHandedOff
}

func (s *Session) joinGame(msg protocol.Message) error {
	var req protocol.JoinGame
	if err := msg.Decode(&req); err != nil {
		return s.reply(protocol.Failure(protocol.ActionJoinGame, err.Error()))
	}
	if req.InviteCode == "" {
		return s.reply(protocol.Failure(protocol.ActionJoinGame, "invite code required"))
	}

	rm, err := s.reg.FindRoom(req.InviteCode)
	if err != nil {
		s.log.Debug("join lookup failed", zap.String("invite_code", req.InviteCode), zap.Error(err))
		return s.reply(protocol.Failure(protocol.ActionJoinGame, err.Error()))
	}
	res, err := rm.AddPlayer(s.id, s.conn, req.PlayerName)
	if err != nil {
		s.log.Debug("join rejected", zap.String("room_id", rm.ID()), zap.Error(err))
		return s.reply(protocol.Failure(protocol.ActionJoinGame, err.Error()))
	}
	if err := s.reg.Bind(s.id, rm.ID()); err != nil {
		s.log.Warn("bind failed", zap.Error(err))
	}
	s.log.Info("joined game", zap.String("room_id", rm.ID()), zap.Int("spawn_index", res.SpawnIndex))

	if res.BecameReady {
		if err := rm.Start(); err != nil {
			s.log.Warn("start failed", zap.String("room_id", rm.ID()), zap.Error(err))
		}
	}
	return errHandedOff
}

func (s *Session) reply(m protocol.Message) error {
	if err := s.conn.Send(m); err != nil {
		return fmt.Errorf("reply %s: %w", m.Action, err)
	}
	return nil
}
