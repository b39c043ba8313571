package room

import (
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/lrnzgll/subprime-shutdown/pkg/protocol"
)

// work pumps one member's connection into the room inbox until the member
// goes away or the room completes. The bounded poll is what lets it notice
// completion.
func (r *Room) work(m *member) {
	defer r.workers.Done()
	log := r.log.With(zap.Int("client_id", m.id))

	for r.ctx.Err() == nil {
		msg, err := m.conn.TryReceive(r.poll)
		if err != nil {
			if r.ctx.Err() == nil {
				log.Debug("member read failed", zap.Error(err))
			}
			r.post(Disconnect{ClientID: m.id, Reason: disconnectReason(err)})
			return
		}
		if msg == nil {
			continue
		}

		switch msg.Action {
		case protocol.ActionGameAction:
			var action protocol.GameAction
			if err := msg.Decode(&action); err != nil {
				log.Warn("bad game_action payload", zap.Error(err))
				continue
			}
			r.post(FromClient{ClientID: m.id, Player: action.Player})
		default:
			log.Debug("ignoring action during game", zap.String("action", string(msg.Action)))
		}
	}
}

func disconnectReason(err error) string {
	switch {
	case errors.Is(err, io.EOF):
		return "player left the game"
	case errors.Is(err, protocol.ErrMalformedMessage):
		return "malformed message"
	default:
		return "connection lost"
	}
}
