// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package kthread

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// interrupts models the single-CPU interrupt mask. Holding the mask is the
// scheduler's only mutual-exclusion mechanism: there are no blocking locks
// inside the scheduler, because the scheduler is what locks are built on.
//
// The mask is a mutex whose owner is tracked by goroutine id. Ownership
// tracking is what makes nesting work (a re-mask by the holder is a no-op
// that reports the prior level as OFF) and what lets the mask survive a
// context switch: the mutex is acquired on one thread's goroutine and
// released on another's, with scheduleTail re-homing the recorded owner.
type interrupts struct {
	// Prevent copying
	_ [0]func()

	mu sync.Mutex

	// owner is the id of the goroutine holding the mask, 0 when unmasked.
	owner atomic.Uint64

	// inHandler is set while the timer tick handler runs. Operations that
	// may suspend the caller are fatal from interrupt context.
	inHandler atomic.Bool
}

// mask disables interrupt delivery and returns the previous level.
// Idempotent for the current holder, so critical sections nest.
func (i *interrupts) mask(gid uint64) IntrLevel {
	if i.owner.Load() == gid {
		return IntrOff
	}
	i.mu.Lock()
	i.owner.Store(gid)
	return IntrOn
}

// unmask releases the mask. The caller need not be the acquiring goroutine;
// a context switch hands the held mask to the resumed thread.
func (i *interrupts) unmask() {
	i.owner.Store(0)
	i.mu.Unlock()
}

// held reports whether gid currently holds the mask.
func (i *interrupts) held(gid uint64) bool {
	return i.owner.Load() == gid
}

// MaskInterrupts disables interrupt delivery and returns the previous level,
// which must be handed back to RestoreInterrupts. Masking is re-entrant for
// the running thread, preserving proper nesting for callers that already
// masked for their own reasons.
func (s *Scheduler) MaskInterrupts() IntrLevel {
	return s.intr.mask(getGoroutineID())
}

// RestoreInterrupts restores the interrupt level saved by a matching
// MaskInterrupts call. The level is restored to its prior value, not
// unconditionally enabled.
//
// Restoring to IntrOn is the point at which an armed deferred yield is
// delivered to the running thread.
func (s *Scheduler) RestoreInterrupts(old IntrLevel) {
	gid := getGoroutineID()
	if old == IntrOff {
		// Restoring to a masked level: the caller must still be inside an
		// enclosing masked section.
		if !s.intr.held(gid) {
			s.kernelPanic("RestoreInterrupts: restore to OFF without holding the mask")
		}
		return
	}
	if !s.intr.held(gid) {
		s.kernelPanic("RestoreInterrupts: restore of an unheld interrupt mask")
	}
	// Deferred preemption: consume the pending yield only on the running
	// thread's goroutine, never on an external unblocker's.
	deliver := false
	if s.yieldPending && !s.intr.inHandler.Load() && s.running != nil && s.running.gid == gid {
		s.yieldPending = false
		deliver = true
	}
	s.intr.unmask()
	if deliver {
		s.Yield()
	}
}

// InterruptLevel returns the interrupt level observed by the caller: IntrOff
// if the calling goroutine holds the mask, IntrOn otherwise.
func (s *Scheduler) InterruptLevel() IntrLevel {
	if s.intr.held(getGoroutineID()) {
		return IntrOff
	}
	return IntrOn
}

// InInterrupt reports whether the caller is executing in interrupt context.
func (s *Scheduler) InInterrupt() bool {
	return s.intr.inHandler.Load() && s.intr.held(getGoroutineID())
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
