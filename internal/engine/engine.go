package engine

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid transition")
var ErrRoomNotJoinable = errors.New("room is not accepting players")
var ErrInvalidPlayer = errors.New("invalid player state")

type RoomState string

const (
	StateWaiting    RoomState = "waiting"
	StateReady      RoomState = "ready"
	StateInProgress RoomState = "in_progress"
	StateCompleted  RoomState = "completed"
)

// MinPlayers is the member count at which a room becomes ready.
const MinPlayers = 2

// Transition validates a lifecycle step. States only move forward, and any
// live state may be forced straight to completed.
func Transition(from, to RoomState) (RoomState, error) {
	for _, next := range legalSteps[from] {
		if next == to {
			return to, nil
		}
	}
	return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func (s RoomState) Joinable() bool {
	return s == StateWaiting || s == StateReady
}

func (s RoomState) Terminal() bool {
	return s == StateCompleted
}

// StateAfterJoin returns the state a room moves to once it holds members
// players.
func StateAfterJoin(s RoomState, members int) (RoomState, error) {
	if !s.Joinable() {
		return s, fmt.Errorf("%w: %s", ErrRoomNotJoinable, s)
	}
	if s == StateWaiting && members >= MinPlayers {
		return Transition(s, StateReady)
	}
	return s, nil
}
