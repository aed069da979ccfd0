package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"port-rpc/errs"
)

type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	b, ok := v.(*Body)
	if !ok {
		return nil, errors.New("BinaryCodec: v must be *Body")
	}
	if len(b.Procedure) > math.MaxUint16 || len(b.Error) > math.MaxUint16 {
		return nil, errors.New("BinaryCodec: string field too long")
	}
	total := 2 + len(b.Procedure) + 4 + len(b.Payload) + 4 + 2 + len(b.Error)
	buf := make([]byte, total)

	offset := 0
	// Procedure -- 2 byte length + n bytes
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(b.Procedure)))
	offset += 2
	offset += copy(buf[offset:], b.Procedure)

	// Payload -- 4 byte length + n bytes
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(b.Payload)))
	offset += 4
	offset += copy(buf[offset:], b.Payload)

	// ErrorKind -- 4 bytes
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(b.ErrorKind))
	offset += 4

	// Error -- 2 byte length + n bytes
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(b.Error)))
	offset += 2
	copy(buf[offset:], b.Error)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	b, ok := v.(*Body)
	if !ok {
		return errors.New("BinaryCodec: v must be *Body")
	}
	r := reader{data: data}

	procLen := r.uint16()
	b.Procedure = string(r.bytes(int(procLen)))
	payloadLen := r.uint32()
	if payload := r.bytes(int(payloadLen)); len(payload) > 0 {
		b.Payload = append([]byte(nil), payload...)
	}
	b.ErrorKind = errs.Kind(r.uint32())
	errLen := r.uint16()
	b.Error = string(r.bytes(int(errLen)))

	if r.err != nil {
		return r.err
	}
	if r.off != len(data) {
		return fmt.Errorf("BinaryCodec: %d trailing bytes", len(data)-r.off)
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// reader walks a buffer and records the first out-of-range read instead of panicking.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = fmt.Errorf("BinaryCodec: need %d bytes at offset %d, have %d", n, r.off, len(r.data)-r.off)
		return nil
	}
	out := r.data[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) uint16() uint16 {
	if b := r.bytes(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) uint32() uint32 {
	if b := r.bytes(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}
