package procedure

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"port-rpc/errs"
)

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

var (
	add   = Define[addArgs, int]("arith.add")
	fail  = Define[Void, int]("arith.fail")
	panik = Define[Void, int]("arith.panic")
)

func newArith(t *testing.T, logger *zap.Logger) *Registry {
	t.Helper()
	reg := NewRegistry(logger)
	if err := Handle(reg, add, func(ctx context.Context, in addArgs) (int, error) {
		return in.A + in.B, nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := Handle(reg, fail, func(ctx context.Context, _ Void) (int, error) {
		return 0, errors.New("division by zero")
	}); err != nil {
		t.Fatal(err)
	}
	if err := Handle(reg, panik, func(ctx context.Context, _ Void) (int, error) {
		var m map[string]int
		m["x"] = 1
		return 0, nil
	}); err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestDispatch(t *testing.T) {
	reg := newArith(t, nil)

	out, err := reg.Dispatch(context.Background(), "arith.add", json.RawMessage(`{"a":1,"b":2}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "3" {
		t.Fatalf("expect 3, got %s", out)
	}
}

func TestDispatchUnknown(t *testing.T) {
	reg := newArith(t, nil)

	_, err := reg.Dispatch(context.Background(), "arith.Add", nil)
	if !errors.Is(err, errs.UnknownProcedure) {
		t.Fatalf("expect UnknownProcedure for case-mismatched name, got %v", err)
	}
}

func TestDispatchHandlerError(t *testing.T) {
	reg := newArith(t, nil)

	_, err := reg.Dispatch(context.Background(), "arith.fail", nil)
	if !errors.Is(err, errs.HandlerError) {
		t.Fatalf("expect HandlerError, got %v", err)
	}
	if err.Error() != "division by zero" {
		t.Fatalf("message not preserved: %q", err.Error())
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	reg := newArith(t, zap.New(core))

	_, err := reg.Dispatch(context.Background(), "arith.panic", nil)
	if !errors.Is(err, errs.HandlerError) {
		t.Fatalf("expect HandlerError, got %v", err)
	}
	if logs.FilterMessage("procedure panicked").Len() != 1 {
		t.Fatalf("expect one panic record, got %d", logs.Len())
	}
}

func TestDispatchBadInput(t *testing.T) {
	reg := newArith(t, nil)

	_, err := reg.Dispatch(context.Background(), "arith.add", json.RawMessage(`"three"`))
	if !errors.Is(err, errs.SerializationError) {
		t.Fatalf("expect SerializationError, got %v", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := newArith(t, nil)
	err := Handle(reg, add, func(ctx context.Context, in addArgs) (int, error) { return 0, nil })
	if err == nil {
		t.Fatal("expect duplicate registration to fail")
	}
	if err := reg.Register(Descriptor{Name: "x"}); err == nil {
		t.Fatal("expect descriptor without handler to fail")
	}

	names := reg.Names()
	want := []string{"arith.add", "arith.fail", "arith.panic"}
	if len(names) != len(want) {
		t.Fatalf("expect %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expect %v, got %v", want, names)
		}
	}

	d, ok := reg.Lookup("arith.fail")
	if !ok || d.Input != nil || d.Output.Kind().String() != "int" {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
}
