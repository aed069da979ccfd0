// Package procedure holds the static table of procedures a host exposes.
//
// Procedures are declared once as typed values (Procedure[I, O]) that both the host and the
// client build against; the host binds a handler to each declaration at start-up and the
// table is read-only afterwards. Dispatch is an exact-name lookup.
package procedure

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"runtime/debug"
	"sort"
	"sync"

	"go.uber.org/zap"

	"port-rpc/errs"
)

// Handler runs one procedure. args is the raw JSON payload of the call (possibly empty);
// the result is serialized as JSON. Handlers may block.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Descriptor describes one registered procedure.
type Descriptor struct {
	Name    string
	Handler Handler
	Input   reflect.Type // nil when the procedure takes no input
	Output  reflect.Type
}

// Procedure is a typed, shared declaration of a procedure's name and contract.
type Procedure[I, O any] struct {
	Name string
}

// Define declares a procedure.
func Define[I, O any](name string) Procedure[I, O] {
	return Procedure[I, O]{Name: name}
}

// Void is the input type of procedures that take no arguments.
type Void struct{}

// Handle binds fn to proc in reg. The JSON payload is decoded into I before fn runs;
// a payload that does not fit I fails the call with SerializationError.
func Handle[I, O any](reg *Registry, proc Procedure[I, O], fn func(ctx context.Context, in I) (O, error)) error {
	var input reflect.Type
	if t := reflect.TypeFor[I](); t != reflect.TypeFor[Void]() {
		input = t
	}
	return reg.Register(Descriptor{
		Name:   proc.Name,
		Input:  input,
		Output: reflect.TypeFor[O](),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in I
			if len(args) > 0 && string(args) != "null" {
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, errs.SerializationError.Printf("%s: decode input: %v", proc.Name, err)
				}
			}
			return fn(ctx, in)
		},
	})
}

// Registry maps procedure names to descriptors.
type Registry struct {
	mu     sync.RWMutex
	procs  map[string]*Descriptor
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		procs:  make(map[string]*Descriptor),
		logger: logger,
	}
}

// Register adds a descriptor. Names are unique.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("procedure: empty name")
	}
	if d.Handler == nil {
		return fmt.Errorf("procedure: %s has no handler", d.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.procs[d.Name]; ok {
		return fmt.Errorf("procedure: %s already registered", d.Name)
	}
	r.procs[d.Name] = &d
	r.logger.Debug("procedure registered", zap.String("procedure", d.Name))
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.procs[name]
	return d, ok
}

// Names returns the registered procedure names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.procs))
	for name := range r.procs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the named procedure and returns its JSON result.
//
// The returned error is always a CodeError: UnknownProcedure for a lookup miss, the handler's
// own kind if it returned a coded error, HandlerError otherwise. A handler panic is recovered
// and reported as HandlerError; it never escapes Dispatch.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) (result json.RawMessage, err error) {
	d, ok := r.Lookup(name)
	if !ok {
		return nil, errs.UnknownProcedure.Printf("no procedure %q", name)
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("procedure panicked",
				zap.String("procedure", name),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			result, err = nil, errs.HandlerError.Printf("%s: panic: %v", name, p)
		}
	}()

	out, herr := d.Handler(ctx, args)
	if herr != nil {
		return nil, errs.Wrap(herr)
	}
	data, merr := json.Marshal(out)
	if merr != nil {
		return nil, errs.SerializationError.Printf("%s: encode output: %v", name, merr)
	}
	return data, nil
}
