package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"port-rpc/errs"
	"port-rpc/message"
	"port-rpc/protocol"
)

// ErrControlFrame is returned by Decode for heartbeat and hello frames. They are valid
// frames but carry no message.
var ErrControlFrame = errors.New("codec: control frame")

// EncodeCall frames a call. args is serialized as JSON; a nil args produces an empty payload.
func EncodeCall(ct CodecType, procedure string, token uint32, args any) ([]byte, error) {
	if procedure == "" {
		return nil, errs.SerializationError.Print("empty procedure")
	}
	payload, err := marshalPayload(args)
	if err != nil {
		return nil, err
	}
	return encode(ct, protocol.MsgTypeCall, token, &Body{Procedure: procedure, Payload: payload})
}

// EncodeResponse frames a successful result for the call with the given token.
func EncodeResponse(ct CodecType, token uint32, result any) ([]byte, error) {
	payload, err := marshalPayload(result)
	if err != nil {
		return nil, err
	}
	return encode(ct, protocol.MsgTypeResponse, token, &Body{Payload: payload})
}

// EncodeError frames a failed outcome. The error's kind is preserved; uncoded errors are
// sent as HandlerError.
func EncodeError(ct CodecType, token uint32, err error) ([]byte, error) {
	ce := errs.Wrap(err)
	if ce == nil {
		ce = errs.HandlerError
	}
	return encode(ct, protocol.MsgTypeError, token, &Body{ErrorKind: ce.Kind(), Error: ce.Error()})
}

// EncodeHeartbeat returns a keepalive frame.
func EncodeHeartbeat() []byte {
	return protocol.Marshal(&protocol.Header{MsgType: protocol.MsgTypeHeartbeat}, nil)
}

// Decode parses a frame into a Message. It never panics: every malformed frame yields an
// error matching errs.SerializationError, except control frames which yield ErrControlFrame.
func Decode(frame []byte) (msg *message.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg, err = nil, errs.SerializationError.Printf("decode panic: %v", r)
		}
	}()

	h, raw, err := protocol.Parse(frame)
	if err != nil {
		return nil, errs.SerializationError.Print(err.Error())
	}
	switch h.MsgType {
	case protocol.MsgTypeHeartbeat, protocol.MsgTypeHello:
		return nil, ErrControlFrame
	}

	var body Body
	if err := GetCodec(CodecType(h.CodecType)).Decode(raw, &body); err != nil {
		return nil, errs.SerializationError.Print(err.Error())
	}
	if len(body.Payload) > 0 && !json.Valid(body.Payload) {
		return nil, errs.SerializationError.Print("payload is not valid JSON")
	}

	msg = &message.Message{Token: h.Token, Payload: body.Payload}
	switch h.MsgType {
	case protocol.MsgTypeCall:
		if body.Procedure == "" {
			return nil, errs.SerializationError.Print("call without procedure")
		}
		msg.Kind = message.KindCall
		msg.Procedure = body.Procedure
	case protocol.MsgTypeResponse:
		msg.Kind = message.KindResponse
	case protocol.MsgTypeError:
		if body.ErrorKind <= errs.KindOK || body.ErrorKind > errs.KindChannelClosed {
			return nil, errs.SerializationError.Printf("invalid error kind %d", body.ErrorKind)
		}
		msg.Kind = message.KindError
		msg.ErrorKind = body.ErrorKind
		msg.Error = body.Error
	}
	return msg, nil
}

func encode(ct CodecType, mt protocol.MsgType, token uint32, body *Body) ([]byte, error) {
	data, err := GetCodec(ct).Encode(body)
	if err != nil {
		return nil, errs.SerializationError.Print(err.Error())
	}
	h := protocol.Header{CodecType: byte(ct), MsgType: mt, Token: token}
	return protocol.Marshal(&h, data), nil
}

func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(p) > 0 && !json.Valid(p) {
			return nil, errs.SerializationError.Print("payload is not valid JSON")
		}
		return p, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errs.SerializationError.Print(fmt.Sprintf("marshal payload: %v", err))
	}
	return data, nil
}

// TypeOf reports the body codec a frame was written with. Only meaningful for frames that
// Decode accepted; replies use the same codec as the call.
func TypeOf(frame []byte) CodecType {
	if len(frame) < protocol.HeaderSize {
		return CodecTypeJSON
	}
	return CodecType(frame[4])
}
