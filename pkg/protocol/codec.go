package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedMessage = errors.New("malformed message")

// Message is the envelope for every record on the wire. Status is empty on
// requests.
type Message struct {
	Action Action          `json:"action"`
	Status Status          `json:"status,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// NewMessage creates a request with a marshaled payload.
func NewMessage(action Action, payload any) (Message, error) {
	if payload == nil {
		return Message{Action: action}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", action, err)
	}
	return Message{Action: action, Data: data}, nil
}

// Success creates a successful response or broadcast.
func Success(action Action, payload any) (Message, error) {
	m, err := NewMessage(action, payload)
	if err != nil {
		return Message{}, err
	}
	m.Status = StatusSuccess
	return m, nil
}

func Failure(action Action, reason string) Message {
	return Message{Action: action, Status: StatusError, Error: reason}
}

func (m Message) IsError() bool { return m.Status == StatusError }

// Decode unmarshals the data object into target. A message without data
// leaves target untouched.
func (m Message) Decode(target any) error {
	if len(m.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Data, target); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformedMessage, m.Action, err)
	}
	return nil
}

// Encode produces one newline-terminated record.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Action, err)
	}
	return append(b, '\n'), nil
}

// Decode parses a single record. Unknown actions are valid; bad JSON, a
// missing action or data that is not an object is rejected. Null data is
// treated as absent.
func Decode(line []byte) (Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Message{}, fmt.Errorf("%w: not a JSON object", ErrMalformedMessage)
	}
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.Action == "" {
		return Message{}, fmt.Errorf("%w: missing action", ErrMalformedMessage)
	}
	switch d := bytes.TrimSpace(m.Data); {
	case len(d) == 0:
	case bytes.Equal(d, []byte("null")):
		m.Data = nil
	case d[0] != '{':
		return Message{}, fmt.Errorf("%w: %s data is not an object", ErrMalformedMessage, m.Action)
	}
	return m, nil
}
