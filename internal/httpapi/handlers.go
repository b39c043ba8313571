package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/lrnzgll/subprime-shutdown/internal/hub"
)

type RoomLister interface {
	List() ([]hub.RoomInfo, error)
}

// ConnServer runs the game protocol over an already established connection
// and blocks until that connection is finished.
type ConnServer interface {
	ServeConn(ctx context.Context, nc net.Conn)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func ListRooms(h RoomLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := h.List()
		if err != nil {
			http.Error(w, "registry unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Rooms []hub.RoomInfo `json:"rooms"`
		}{Rooms: rooms})
	}
}

// WebSocket upgrades the request and speaks the line protocol over text
// frames, one record per frame.
func WebSocket(srv ConnServer, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// Game clients are not browsers and send no Origin header.
			// OriginPatterns: []string{"localhost:*"},
		})
		if err != nil {
			log.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer c.CloseNow()

		nc := websocket.NetConn(r.Context(), c, websocket.MessageText)
		srv.ServeConn(r.Context(), nc)
		_ = c.Close(websocket.StatusNormalClosure, "bye")
	}
}
