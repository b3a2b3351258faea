package kthread

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrOutOfMemory is returned by Create when the thread budget is
	// exhausted and no TCB-plus-stack region can be allocated. A failed
	// Create never partially constructs a thread.
	ErrOutOfMemory = errors.New("kthread: out of memory")

	// ErrAlreadyStarted is returned when Start() is called on a scheduler
	// that already has an idle thread.
	ErrAlreadyStarted = errors.New("kthread: scheduler already started")
)

// InvariantError is the value a kernel halt panics with. It indicates a bug
// in a caller or in the scheduler itself, never an expected runtime
// condition: unblocking a non-blocked thread, sleeping with a negative
// deadline, sleeping twice concurrently, scheduling with interrupts enabled,
// or running on a thread whose guard word is corrupted.
//
// There is deliberately no recovery path. Execution past a broken scheduler
// invariant risks silent data corruption across every structure the
// scheduler owns, so the only safe response is an immediate halt with
// diagnostic output.
type InvariantError struct {
	Message string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	if e.Message == "" {
		return "kthread: invariant violation"
	}
	return "kthread: invariant violation: " + e.Message
}

// Is implements type-based matching: any *InvariantError matches any other.
func (e *InvariantError) Is(target error) bool {
	var t *InvariantError
	return errors.As(target, &t)
}

// kernelPanic emits a critical diagnostic and halts. It is the analogue of a
// kernel panic: callers must treat it as not returning.
func (s *Scheduler) kernelPanic(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.logger().Crit().Str("panic", msg).Log("kernel halt")
	panic(&InvariantError{Message: msg})
}

// assertf halts the kernel unless cond holds.
func (s *Scheduler) assertf(cond bool, format string, args ...any) {
	if !cond {
		s.kernelPanic(format, args...)
	}
}
