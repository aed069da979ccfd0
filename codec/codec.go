// Package codec frames calls and responses.
//
// A frame's header carries the message kind and the correlation token; the body carries the
// rest of the message and is serialized with one of the body codecs below. The codec treats
// tokens as opaque and copies them through unchanged.
package codec

import (
	"encoding/json"

	"port-rpc/errs"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

// Body is the serialized part of a message that does not live in the frame header.
type Body struct {
	Procedure string          `json:"procedure,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ErrorKind errs.Kind       `json:"error_kind,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}
