package protocol

import "fmt"

type Direction int

const (
	DirectionUp Direction = iota
	DirectionRight
	DirectionDown
	DirectionLeft
)

func (d Direction) Valid() bool {
	return d >= DirectionUp && d <= DirectionLeft
}

func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "UP"
	case DirectionRight:
		return "RIGHT"
	case DirectionDown:
		return "DOWN"
	case DirectionLeft:
		return "LEFT"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

type Bullet struct {
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Direction Direction `json:"direction"`
}

const MaxHealth = 100

// PlayerState is the serializable player blob. The server only merges and
// relays it; gameplay rules live with the clients.
type PlayerState struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Health    int       `json:"health"`
	Direction Direction `json:"direction"`
	Bullets   []Bullet  `json:"bullets"`
	Score     int       `json:"score"`
}

func (p PlayerState) Alive() bool { return p.Health > 0 }

// Clone returns a copy that shares no bullet storage with p.
func (p PlayerState) Clone() PlayerState {
	c := p
	c.Bullets = append([]Bullet{}, p.Bullets...)
	return c
}
