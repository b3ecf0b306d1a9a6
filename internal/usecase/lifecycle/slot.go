// Package lifecycle tracks the single in-flight operation of a UI surface.
//
// A Slot hands out Handles. Starting a new operation cancels the previous
// one and bumps the slot's generation, so callbacks that arrive late for a
// superseded handle can tell they are stale and become no-ops.
package lifecycle

import (
	"context"
	"sync"
)

// Slot holds at most one live Handle.
type Slot struct {
	mu      sync.Mutex
	name    string
	gen     uint64
	current *Handle
}

// NewSlot creates an empty slot. The name is used only for diagnostics.
func NewSlot(name string) *Slot {
	return &Slot{name: name}
}

// Name returns the slot's diagnostic name.
func (s *Slot) Name() string { return s.name }

// Begin cancels the current handle, if any, and returns a fresh one whose
// context derives from parent.
func (s *Slot) Begin(parent context.Context) *Handle {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	prev := s.current
	s.gen++
	h := &Handle{slot: s, gen: s.gen, ctx: ctx, cancel: cancel}
	s.current = h
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	return h
}

// Cancel cancels the current handle and leaves the slot empty. Callbacks of
// the cancelled handle observe Live() == false from here on.
func (s *Slot) Cancel() {
	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.gen++
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
}

// Current returns the live handle, or nil.
func (s *Slot) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Generation returns the slot's generation counter.
func (s *Slot) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Handle identifies one operation started on a Slot.
type Handle struct {
	slot   *Slot
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// Context is cancelled when the handle is superseded, cancelled, or its
// parent context ends. Pass it to every blocking call made for the operation.
func (h *Handle) Context() context.Context { return h.ctx }

// Generation returns the slot generation this handle was issued at.
func (h *Handle) Generation() uint64 { return h.gen }

// Cancel cancels this handle. It is a no-op if the handle was already
// superseded. The slot is emptied only if h is still current.
func (h *Handle) Cancel() {
	h.slot.mu.Lock()
	if h.slot.current == h {
		h.slot.current = nil
		h.slot.gen++
	}
	h.slot.mu.Unlock()
	h.cancel()
}

// Live reports whether h is still the slot's current handle and has not been
// cancelled. State owners check Live under their own lock before applying a
// result, which makes every callback of a stale handle a no-op.
func (h *Handle) Live() bool {
	if h.ctx.Err() != nil {
		return false
	}
	h.slot.mu.Lock()
	defer h.slot.mu.Unlock()
	return h.slot.current == h && h.slot.gen == h.gen
}
