// Package protocol implements the frame format shared by every port-rpc channel.
//
// A frame is a fixed 14-byte header followed by a variable-length body. Over a byte stream
// the receiver reads the header first to learn the body length, then reads exactly that
// many bytes. Message-oriented transports (WebSocket) carry one whole frame per message.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│  token  │ bodyLen │    body ...    │
//	│ prt  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic number bytes: "prt" (port-rpc).
const (
	MagicNumber byte = 0x70 // 'p'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x74 // 't'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (token) + 4 (bodyLen)

	// MaxBodyLen bounds a single frame so a corrupt length cannot make the reader allocate
	// arbitrary memory.
	MaxBodyLen uint32 = 16 << 20
)

// MsgType distinguishes the frame roles.
type MsgType byte

const (
	MsgTypeCall      MsgType = 0 // client → host
	MsgTypeResponse  MsgType = 1 // host → client, success
	MsgTypeError     MsgType = 2 // host → client, failure
	MsgTypeHeartbeat MsgType = 3 // keepalive probe, no body
	MsgTypeHello     MsgType = 4 // first frame of a stream channel: name + identity
)

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// ErrCorruptStream means the byte stream lost frame alignment; the reader cannot recover
// the next frame boundary and the stream must be dropped.
var ErrCorruptStream = errors.New("protocol: corrupt stream")

// Header represents the fixed 14-byte frame header.
type Header struct {
	CodecType byte    // Serialization format of the body: 0=JSON, 1=Binary
	MsgType   MsgType // Call, Response, Error, Heartbeat or Hello
	Token     uint32  // Correlation token; the host echoes the call's token on its reply
	BodyLen   uint32  // Body length in bytes
}

func (h *Header) put(buf []byte) {
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Token)
	binary.BigEndian.PutUint32(buf[10:14], h.BodyLen)
}

// Marshal returns a complete frame (header + body) as one byte slice.
// BodyLen is taken from len(body).
func Marshal(h *Header, body []byte) []byte {
	h.BodyLen = uint32(len(body))
	buf := make([]byte, HeaderSize+len(body))
	h.put(buf)
	copy(buf[HeaderSize:], body)
	return buf
}

// Encode writes a complete frame (header + body) to w in a single Write.
// The caller must hold a write lock if multiple goroutines share the same writer.
func Encode(w io.Writer, h *Header, body []byte) error {
	_, err := w.Write(Marshal(h, body))
	return err
}

// ReadFrame reads one complete frame from a byte stream and returns it unparsed.
//
// Only the fields needed to find the next frame boundary are checked here (magic, version,
// body length). A frame with an unknown codec or message type is still returned whole, so
// the caller can drop it and keep reading.
func ReadFrame(r io.Reader) ([]byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, err
	}
	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, fmt.Errorf("%w: invalid magic number: %x", ErrCorruptStream, headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, fmt.Errorf("%w: unsupported version: %d", ErrCorruptStream, headerBuf[3])
	}
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	if bodyLen > MaxBodyLen {
		return nil, fmt.Errorf("%w: body too large: %d", ErrCorruptStream, bodyLen)
	}

	frame := make([]byte, HeaderSize+int(bodyLen))
	copy(frame, headerBuf)
	if _, err := io.ReadFull(r, frame[HeaderSize:]); err != nil {
		return nil, err
	}
	return frame, nil
}

// Parse validates a complete frame and splits it into header and body.
func Parse(frame []byte) (*Header, []byte, error) {
	if len(frame) < HeaderSize {
		return nil, nil, fmt.Errorf("short frame: %d bytes", len(frame))
	}
	if frame[0] != MagicNumber || frame[1] != MagicByte2 || frame[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", frame[0:3])
	}
	if frame[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", frame[3])
	}
	if frame[4] != CodecTypeJSON && frame[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", frame[4])
	}
	msgType := MsgType(frame[5])
	if msgType > MsgTypeHello {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	bodyLen := binary.BigEndian.Uint32(frame[10:14])
	if int(bodyLen) != len(frame)-HeaderSize {
		return nil, nil, fmt.Errorf("body length mismatch: header says %d, frame has %d", bodyLen, len(frame)-HeaderSize)
	}

	return &Header{
		CodecType: frame[4],
		MsgType:   msgType,
		Token:     binary.BigEndian.Uint32(frame[6:10]),
		BodyLen:   bodyLen,
	}, frame[HeaderSize:], nil
}
