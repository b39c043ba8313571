package client

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"

	"github.com/lrnzgll/subprime-shutdown/pkg/protocol"
)

// Always sent, even when unchanged, so receivers can predict movement.
var pinnedFields = []string{"x", "y", "direction"}

// SendGameAction sends only the fields of p that changed since the last
// successful send, plus position and direction.
func (c *Client) SendGameAction(p protocol.PlayerState) error {
	if !c.GameReady() {
		return ErrGameNotReady
	}

	cur, err := fields(p)
	if err != nil {
		return err
	}

	c.mu.Lock()
	d := delta(c.lastSent, cur)
	c.mu.Unlock()

	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal delta: %w", err)
	}
	if err := c.send(protocol.ActionGameAction, protocol.GameAction{Player: raw}); err != nil {
		return err
	}

	c.mu.Lock()
	c.lastSent = cur
	c.mu.Unlock()
	return nil
}

// ProcessUpdates drains at most one pending message without blocking. It
// returns ErrPeerDisconnected once another player has left.
func (c *Client) ProcessUpdates() error {
	msg, err := c.conn.TryReceive(0)
	if err != nil {
		return err
	}
	if msg != nil {
		c.processMessage(*msg)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.departed) > 0 {
		pd := c.departed[0]
		c.departed = c.departed[1:]
		return fmt.Errorf("%w: player %d: %s", ErrPeerDisconnected, pd.PlayerID, pd.Reason)
	}
	return nil
}

// fields flattens p to its wire form so comparisons see exactly what would
// be sent.
func fields(p protocol.PlayerState) (map[string]any, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal player: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("flatten player: %w", err)
	}
	return m, nil
}

func delta(prev, cur map[string]any) map[string]any {
	if prev == nil {
		return maps.Clone(cur)
	}
	out := make(map[string]any, len(cur))
	for k, v := range cur {
		if old, ok := prev[k]; !ok || !reflect.DeepEqual(old, v) {
			out[k] = v
		}
	}
	for _, k := range pinnedFields {
		if v, ok := cur[k]; ok {
			out[k] = v
		}
	}
	return out
}
