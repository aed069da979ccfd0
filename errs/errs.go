// Package errs defines the coded errors that cross the wire between host and client.
//
// Every failure a caller can observe is one of five kinds. A kind is carried as a numeric
// code in error frames, and the client rebuilds an error of the same kind on its side, so
// errors.Is works the same way on both ends.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies an error class on the wire.
type Kind int32

const (
	KindOK                 Kind = 0
	KindUnauthorized       Kind = 1 // identity mismatch at connect time
	KindUnknownProcedure   Kind = 2 // dispatch lookup miss
	KindHandlerError       Kind = 3 // fault raised inside a handler
	KindSerializationError Kind = 4 // malformed frame or payload
	KindChannelClosed      Kind = 5 // channel dropped while calls were pending
)

var kindNames = map[Kind]string{
	KindOK:                 "OK",
	KindUnauthorized:       "UNAUTHORIZED",
	KindUnknownProcedure:   "UNKNOWN_PROCEDURE",
	KindHandlerError:       "HANDLER_ERROR",
	KindSerializationError: "SERIALIZATION_ERROR",
	KindChannelClosed:      "CHANNEL_CLOSED",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("KIND_%d", int32(k))
}

var (
	Unauthorized       = New(KindUnauthorized, "UNAUTHORIZED")
	UnknownProcedure   = New(KindUnknownProcedure, "UNKNOWN_PROCEDURE")
	HandlerError       = New(KindHandlerError, "HANDLER_ERROR")
	SerializationError = New(KindSerializationError, "SERIALIZATION_ERROR")
	ChannelClosed      = New(KindChannelClosed, "CHANNEL_CLOSED")
)

// CodeError is an error with a wire kind.
type CodeError interface {
	error
	Kind() Kind
	Print(extras ...string) CodeError
	Printf(format string, args ...any) CodeError
	Is(error) bool
}

func New(kind Kind, desc string) CodeError {
	return &codeError{kind: kind, desc: desc}
}

// FromWire rebuilds an error received in an error frame.
func FromWire(kind Kind, msg string) CodeError {
	if msg == "" {
		msg = kind.String()
	}
	return &codeError{kind: kind, desc: msg}
}

// Wrap converts any error into a CodeError. Errors that already carry a kind keep it,
// everything else becomes a HandlerError with the original message.
func Wrap(err error) CodeError {
	if err == nil {
		return nil
	}
	var ce CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return &codeError{kind: KindHandlerError, desc: err.Error()}
}

// KindOf reports the kind of err, or KindHandlerError for uncoded errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	var ce CodeError
	if errors.As(err, &ce) {
		return ce.Kind()
	}
	return KindHandlerError
}

type codeError struct {
	kind Kind
	desc string
}

func (e *codeError) Kind() Kind {
	return e.kind
}

func (e *codeError) Error() string {
	return e.desc
}

func (e *codeError) String() string {
	return fmt.Sprintf("kind: %s, desc: %s", e.kind, e.desc)
}

func (e *codeError) Print(extras ...string) CodeError {
	if len(extras) == 0 {
		return e
	}
	builder := strings.Builder{}
	builder.WriteString(e.desc)
	for _, extra := range extras {
		builder.WriteByte(',')
		builder.WriteString(extra)
	}
	return &codeError{kind: e.kind, desc: builder.String()}
}

func (e *codeError) Printf(format string, args ...any) CodeError {
	if len(format) == 0 {
		return e
	}
	return &codeError{kind: e.kind, desc: fmt.Sprintf(e.desc+","+format, args...)}
}

// Is matches any CodeError of the same kind.
func (e *codeError) Is(target error) bool {
	if x, ok := target.(CodeError); ok {
		return x.Kind() == e.kind
	}
	return false
}
