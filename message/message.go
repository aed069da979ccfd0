// Package message defines the Message exchanged between host and client.
//
// A Message is the decoded form of one frame. It is built once by the codec and never
// mutated afterwards; it lives only in transit and in the client's pending-call table.
//
//   - call:     Token, Procedure and Payload (JSON args) are set.
//   - response: Token and Payload (JSON result) are set.
//   - error:    Token, ErrorKind and Error are set.
package message

import (
	"encoding/json"

	"port-rpc/errs"
)

// Kind is the role of a message on the wire.
type Kind byte

const (
	KindCall     Kind = 0
	KindResponse Kind = 1
	KindError    Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindResponse:
		return "response"
	case KindError:
		return "error"
	}
	return "unknown"
}

// Message carries a single call or its outcome.
type Message struct {
	Kind      Kind
	Token     uint32          // correlation token, chosen by the client
	Procedure string          // e.g. "counter.increment"; calls only
	Payload   json.RawMessage // args (call) or result (response)
	ErrorKind errs.Kind       // error frames only
	Error     string          // error frames only
}

// Err returns the coded error carried by an error message, or nil.
func (m *Message) Err() error {
	if m.Kind != KindError {
		return nil
	}
	return errs.FromWire(m.ErrorKind, m.Error)
}
