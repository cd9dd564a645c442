package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidMessage is returned by Decode and Validate for malformed input.
var ErrInvalidMessage = errors.New("invalid signaling message")

// Encode serializes a Message into a JSON frame.
func Encode(msg *Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// Decode deserializes a JSON frame into a Message. Unknown fields and trailing
// data are rejected.
func Decode(data []byte) (*Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected trailing data", ErrInvalidMessage)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate checks the fields required by each message type.
func (m *Message) Validate() error {
	switch {
	case m.Type.IsPeer():
		if m.To == "" {
			return fmt.Errorf("%w: %s message missing to", ErrInvalidMessage, m.Type)
		}
		if m.Payload == "" {
			return fmt.Errorf("%w: %s message missing payload", ErrInvalidMessage, m.Type)
		}
	case m.Type == TypeWelcome:
		if m.To == "" {
			return fmt.Errorf("%w: welcome message missing to", ErrInvalidMessage)
		}
	case m.Type == TypePeerJoined, m.Type == TypePeerLeft:
		if m.From == "" {
			return fmt.Errorf("%w: %s message missing from", ErrInvalidMessage, m.Type)
		}
	case m.Type == TypeError:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}
