package protocol

import "encoding/json"

// Client -> Server
// create_game:
//   player_name: string (optional)
//
// join_game:
//   invite_code: string (case-insensitive)
//   player_name: string (optional)
//
// game_action:
//   player: partial PlayerState, only changed fields plus x, y, direction

// Server -> Client
// welcome:             client_id, message
// game_created:        room_id, invite_code, host_id
// player_joined:       room_id, invite_code, player_id, player_name, players (whole room)
// game_started:        room_id, players                           (whole room)
// game_update:         room_id, players                           (whole room)
// player_disconnected: player_id, reason                          (remaining members)
//
// Error replies echo the request action:
//   {"action":"join_game","status":"error","error":"room not found"}

type Action string

const (
	ActionWelcome            Action = "welcome"
	ActionCreateGame         Action = "create_game"
	ActionGameCreated        Action = "game_created"
	ActionJoinGame           Action = "join_game"
	ActionPlayerJoined       Action = "player_joined"
	ActionGameStarted        Action = "game_started"
	ActionGameAction         Action = "game_action"
	ActionGameUpdate         Action = "game_update"
	ActionPlayerDisconnected Action = "player_disconnected"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type Welcome struct {
	ClientID int    `json:"client_id"`
	Message  string `json:"message"`
}

type CreateGame struct {
	PlayerName string `json:"player_name,omitempty"`
}

type GameCreated struct {
	RoomID     string `json:"room_id"`
	InviteCode string `json:"invite_code"`
	HostID     int    `json:"host_id"`
}

type JoinGame struct {
	InviteCode string `json:"invite_code"`
	PlayerName string `json:"player_name,omitempty"`
}

type PlayerJoined struct {
	RoomID     string        `json:"room_id"`
	InviteCode string        `json:"invite_code"`
	PlayerID   int           `json:"player_id"`
	PlayerName string        `json:"player_name"`
	Players    []PlayerState `json:"players"`
}

type GameStarted struct {
	RoomID  string        `json:"room_id"`
	Players []PlayerState `json:"players"`
}

// GameAction carries the raw player object so the room can merge only the
// fields the client actually sent.
type GameAction struct {
	Player json.RawMessage `json:"player"`
}

type GameUpdate struct {
	RoomID  string        `json:"room_id"`
	Players []PlayerState `json:"players"`
}

type PlayerDisconnected struct {
	PlayerID int    `json:"player_id"`
	Reason   string `json:"reason"`
}
