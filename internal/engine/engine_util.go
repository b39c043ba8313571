package engine

import (
	"encoding/json"
	"fmt"

	"github.com/lrnzgll/subprime-shutdown/pkg/protocol"
)

const (
	MapWidth  = 80
	MapHeight = 24
)

type Point struct{ X, Y int }

var (
	CornerA = Point{X: 10, Y: 10}
	CornerB = Point{X: 70, Y: 14}
)

// SpawnPoint only knows two corners: the first member gets CornerA and every
// later member lands on CornerB.
func SpawnPoint(index int) Point {
	if index == 0 {
		return CornerA
	}
	return CornerB
}

func DefaultName(index int) string {
	return fmt.Sprintf("Player %d", index+1)
}

// NewPlayer seeds the state for the member at spawn index.
func NewPlayer(id int, name string, index int) protocol.PlayerState {
	if name == "" {
		name = DefaultName(index)
	}
	p := SpawnPoint(index)
	return protocol.PlayerState{
		ID:        id,
		Name:      name,
		X:         p.X,
		Y:         p.Y,
		Health:    protocol.MaxHealth,
		Direction: protocol.DirectionRight,
		Bullets:   []protocol.Bullet{},
		Score:     0,
	}
}

// MergePlayer overwrites the fields present in partial and keeps the rest.
// The id always stays pinned to the owner.
func MergePlayer(current protocol.PlayerState, partial json.RawMessage) (protocol.PlayerState, error) {
	next := current.Clone()
	if len(partial) == 0 {
		return next, nil
	}
	if err := json.Unmarshal(partial, &next); err != nil {
		return current, fmt.Errorf("%w: %v", ErrInvalidPlayer, err)
	}
	next.ID = current.ID
	if !next.Direction.Valid() {
		return current, fmt.Errorf("%w: direction %d", ErrInvalidPlayer, next.Direction)
	}
	if next.Bullets == nil {
		next.Bullets = []protocol.Bullet{}
	}
	next.Health = clamp(next.Health, 0, protocol.MaxHealth)
	return next, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
