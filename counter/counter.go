// Package counter is the one stateful procedure group of the host: a single integer that
// clients can read and increment.
package counter

import (
	"context"
	"sync"

	"port-rpc/procedure"
)

// Shared declarations used by both host and client.
var (
	Get       = procedure.Define[procedure.Void, int64]("counter.get")
	Increment = procedure.Define[procedure.Void, int64]("counter.increment")
)

// Service owns the counter state for the lifetime of the host.
// Its value is only reachable through the registered handlers.
type Service struct {
	mu    sync.Mutex
	value int64
}

func NewService() *Service {
	return &Service{}
}

// Register binds the counter procedures to reg.
func (s *Service) Register(reg *procedure.Registry) error {
	if err := procedure.Handle(reg, Get, s.get); err != nil {
		return err
	}
	return procedure.Handle(reg, Increment, s.increment)
}

func (s *Service) get(ctx context.Context, _ procedure.Void) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, nil
}

// increment returns the new value; the read-modify-write happens under one lock hold.
func (s *Service) increment(ctx context.Context, _ procedure.Void) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value++
	return s.value, nil
}
