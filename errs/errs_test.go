package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsByKind(t *testing.T) {
	err := UnknownProcedure.Printf("name=%s", "counter.reset")
	if !errors.Is(err, UnknownProcedure) {
		t.Fatalf("expect %v to match UnknownProcedure", err)
	}
	if errors.Is(err, HandlerError) {
		t.Fatalf("expect %v not to match HandlerError", err)
	}
	if err.Error() != "UNKNOWN_PROCEDURE,name=counter.reset" {
		t.Fatalf("unexpected desc: %q", err.Error())
	}
}

func TestWrap(t *testing.T) {
	plain := errors.New("boom")
	wrapped := Wrap(plain)
	if wrapped.Kind() != KindHandlerError {
		t.Fatalf("expect HandlerError, got %v", wrapped.Kind())
	}
	if wrapped.Error() != "boom" {
		t.Fatalf("message not preserved: %q", wrapped.Error())
	}

	coded := fmt.Errorf("dispatch: %w", ChannelClosed)
	if Wrap(coded).Kind() != KindChannelClosed {
		t.Fatalf("expect wrapped CodeError to keep its kind")
	}
	if Wrap(nil) != nil {
		t.Fatal("expect Wrap(nil) == nil")
	}
}

func TestFromWire(t *testing.T) {
	err := FromWire(KindHandlerError, "counter overflow")
	if !errors.Is(err, HandlerError) {
		t.Fatal("expect rebuilt error to match its kind")
	}
	if FromWire(KindChannelClosed, "").Error() != "CHANNEL_CLOSED" {
		t.Fatal("expect empty message to fall back to the kind name")
	}
	if KindOf(err) != KindHandlerError || KindOf(nil) != KindOK {
		t.Fatal("KindOf mismatch")
	}
}
