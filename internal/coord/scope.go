// Package coord holds the three phase coordinators (discussion, voting and
// night) and the plumbing they share: a per-phase Scope that owns timers
// and cancellation, and a Dispatcher that fans agent requests out.
//
// Coordinators never touch lobby state directly. They decide who is asked
// what and turn agent answers into engine commands; the lobby goroutine
// applies those commands, so every mutation stays on one goroutine.
package coord

import (
	"context"
	"sync"
	"time"
)

// Scope is the lifetime of one phase. Its context is cancelled and its
// timers are stopped on Close, so nothing started for a superseded phase
// can fire against the next one. Gen tags everything the phase produces.
type Scope struct {
	Gen uint64
	Ctx context.Context

	cancel context.CancelFunc
	mu     sync.Mutex
	timers map[string]*time.Timer
	slots  map[string]context.CancelFunc
	closed bool
}

func NewScope(parent context.Context, gen uint64) *Scope {
	ctx, cancel := context.WithCancel(parent)
	return &Scope{
		Gen:    gen,
		Ctx:    ctx,
		cancel: cancel,
		timers: map[string]*time.Timer{},
		slots:  map[string]context.CancelFunc{},
	}
}

// After arms (or re-arms) the named timer. fire runs on its own goroutine
// and must only post back to the owner.
func (s *Scope) After(name string, d time.Duration, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if t, ok := s.timers[name]; ok {
		t.Stop()
	}
	s.timers[name] = time.AfterFunc(d, fire)
}

func (s *Scope) Stop(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
}

// Slot returns the context for the named in-flight request. Taking a slot
// cancels whatever request held it before.
func (s *Scope) Slot(name string) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.slots[name]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(s.Ctx)
	s.slots[name] = cancel
	return ctx
}

// Release cancels the request holding the named slot, if any.
func (s *Scope) Release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.slots[name]; ok {
		cancel()
		delete(s.slots, name)
	}
}

func (s *Scope) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
	for name, cancel := range s.slots {
		cancel()
		delete(s.slots, name)
	}
	s.cancel()
}

func (s *Scope) Done() bool {
	return s.Ctx.Err() != nil
}
