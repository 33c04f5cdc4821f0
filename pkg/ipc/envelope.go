// Package ipc defines the typed messages exchanged between gracehost
// processes and the newline-delimited JSON channel that carries them.
//
// Every message is an Envelope whose Type selects a fixed schema. Types are
// grouped by category (the part before the first dot) so that one channel
// can carry mesh traffic alongside other process messages; a Mux
// dispatches each category to its own handler.
package ipc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bft-labs/gracehost/internal/domain"
)

// Type discriminates envelopes.
type Type string

// Message types.
const (
	TypeMeshJoin         Type = "mesh.join"
	TypeMeshLeave        Type = "mesh.leave"
	TypeMeshSend         Type = "mesh.send"
	TypeMeshDeliver      Type = "mesh.deliver"
	TypeMeshNodesRequest Type = "mesh.nodes.request"
	TypeMeshNodes        Type = "mesh.nodes"
	TypeProcessHello     Type = "process.hello"
)

// Categories.
const (
	CategoryMesh    = "mesh"
	CategoryProcess = "process"
)

// Envelope is the wire message between processes.
type Envelope struct {
	Type    Type                       `json:"type"`
	ID      string                     `json:"id,omitempty"`
	From    string                     `json:"from,omitempty"`
	Channel string                     `json:"channel,omitempty"`
	Data    json.RawMessage            `json:"data,omitempty"`
	Nodes   map[string]domain.MeshNode `json:"nodes,omitempty"`
}

// schema lists the fields a message type requires.
type schema struct {
	id      bool
	from    bool
	channel bool
	data    bool
}

var schemas = map[Type]schema{
	TypeMeshJoin:         {channel: true},
	TypeMeshLeave:        {channel: true},
	TypeMeshSend:         {channel: true, data: true},
	TypeMeshDeliver:      {channel: true, data: true},
	TypeMeshNodesRequest: {id: true},
	TypeMeshNodes:        {id: true},
	TypeProcessHello:     {from: true},
}

// Category returns the type prefix before the first dot.
func (t Type) Category() string {
	c, _, _ := strings.Cut(string(t), ".")
	return c
}

// Validate checks the envelope against its type's schema.
func (e Envelope) Validate() error {
	s, ok := schemas[e.Type]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownMessage, e.Type)
	}
	switch {
	case s.id && e.ID == "":
		return fmt.Errorf("%w: %s requires id", domain.ErrInvalidMessage, e.Type)
	case s.from && e.From == "":
		return fmt.Errorf("%w: %s requires from", domain.ErrInvalidMessage, e.Type)
	case s.channel && e.Channel == "":
		return fmt.Errorf("%w: %s requires channel", domain.ErrInvalidMessage, e.Type)
	case s.data && len(e.Data) == 0:
		return fmt.Errorf("%w: %s requires data", domain.ErrInvalidMessage, e.Type)
	}
	if len(e.Data) > 0 && !json.Valid(e.Data) {
		return fmt.Errorf("%w: %s data is not valid json", domain.ErrInvalidMessage, e.Type)
	}
	return nil
}

// Marshal encodes v as envelope data.
func Marshal(v interface{}) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	return b, nil
}
