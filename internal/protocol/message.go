// Package protocol defines the JSON frames exchanged between devices and the relay.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

type MessageType string

const (
	TypeGet      MessageType = "get"
	TypeUpdate   MessageType = "update"
	TypeGetState MessageType = "getState"
)

// Encoding is the only blob encoding in the current protocol
const Encoding = "base64"

var ErrInvalidMessage = errors.New("invalid message")

// Envelope is one frame on the wire
type Envelope struct {
	Type    MessageType `json:"type"`
	Payload *Payload    `json:"payload,omitempty"`
	Clients *int        `json:"clients,omitempty"`
}

// Payload addresses a document and optionally carries its blob.
// Binary is nil when the relay has nothing stored for ID.
type Payload struct {
	ID       string  `json:"id"`
	Binary   *string `json:"binary,omitempty"`
	Encoding string  `json:"encoding,omitempty"`
}

// MarshalJSON writes a bare {"id"} request when Encoding is unset.
// Otherwise binary is always present, as null when there is no blob.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.Encoding == "" {
		return json.Marshal(struct {
			ID string `json:"id"`
		}{p.ID})
	}
	return json.Marshal(struct {
		ID       string  `json:"id"`
		Binary   *string `json:"binary"`
		Encoding string  `json:"encoding"`
	}{p.ID, p.Binary, p.Encoding})
}

// HasBinary reports whether the payload carries a blob
func (p *Payload) HasBinary() bool {
	return p != nil && p.Binary != nil
}

// Data decodes the blob. Returns nil when there is none.
func (p *Payload) Data() ([]byte, error) {
	if !p.HasBinary() {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(*p.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: binary is not base64: %v", ErrInvalidMessage, err)
	}
	return data, nil
}

// NewGet requests the stored blob for id
func NewGet(id string) *Envelope {
	return &Envelope{Type: TypeGet, Payload: &Payload{ID: id}}
}

// NewGetReply answers a get; data may be nil when nothing is stored
func NewGetReply(id string, data []byte) *Envelope {
	return &Envelope{Type: TypeGet, Payload: blobPayload(id, data)}
}

// NewUpdate carries a new blob for id
func NewUpdate(id string, data []byte) *Envelope {
	if data == nil {
		data = []byte{}
	}
	return &Envelope{Type: TypeUpdate, Payload: blobPayload(id, data)}
}

// NewGetState requests diagnostics from the relay
func NewGetState() *Envelope {
	return &Envelope{Type: TypeGetState}
}

// NewGetStateReply reports the relay's connection count
func NewGetStateReply(clients int) *Envelope {
	return &Envelope{Type: TypeGetState, Clients: &clients}
}

func blobPayload(id string, data []byte) *Payload {
	p := &Payload{ID: id, Encoding: Encoding}
	if data != nil {
		s := base64.StdEncoding.EncodeToString(data)
		p.Binary = &s
	}
	return p
}

// Marshal encodes the envelope as a JSON frame
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Parse validates and decodes an inbound frame.
// Any failure wraps ErrInvalidMessage.
func Parse(data []byte) (*Envelope, error) {
	if err := ValidateFrame(data); err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch env.Type {
	case TypeGet:
		if env.Payload == nil {
			return nil, fmt.Errorf("%w: get without payload", ErrInvalidMessage)
		}
	case TypeUpdate:
		if !env.Payload.HasBinary() {
			return nil, fmt.Errorf("%w: update without binary", ErrInvalidMessage)
		}
	}

	if env.Payload.HasBinary() {
		if _, err := env.Payload.Data(); err != nil {
			return nil, err
		}
	}
	return &env, nil
}
