// Package kthread implements a preemptive green-thread scheduler with a
// tick-driven sleep subsystem, modelled after a single-CPU kernel: one thread
// of execution runs at a time, a periodic timer tick drives preemption and
// wakeups, and all scheduler state is protected by masking "interrupts"
// rather than by blocking locks.
//
// # Architecture
//
// The scheduler is built around a [Scheduler] core that owns the ready queue
// (FIFO of runnable threads), the sleep queue (blocked threads ordered by
// wakeup tick, with a cached minimum for O(1) rejection), the all-threads
// registry, and the distinguished idle thread. Each [Thread] is backed by a
// goroutine; the context-switch primitive hands a token between goroutines so
// that exactly one executes at any instant.
//
// Lifecycle operations mirror a classic kernel: [Scheduler.Create],
// [Scheduler.Block], [Scheduler.Unblock], [Scheduler.Yield],
// [Scheduler.Sleep], and [Scheduler.Exit]. The hardware clock is modelled by
// [Scheduler.Tick], driven either manually or by a [TimerDevice].
//
// # Execution Model
//
// Mutual exclusion inside the scheduler is interrupt masking, not locking:
// [Scheduler.MaskInterrupts] returns the prior level and
// [Scheduler.RestoreInterrupts] restores it, preserving nesting for callers
// that masked for their own reasons. The mask survives a context switch; it
// is released on the resumed thread's side once the switch completes.
//
// Preemption is cooperative at the machine level: when a time slice expires
// the tick handler arms a deferred yield, which is delivered the next time
// the running thread restores the interrupt mask to enabled (the moment
// pending interrupts fire on real hardware). A thread that never calls into
// the scheduler is not preemptible; Go provides no way to interrupt
// arbitrary code.
//
// # Thread Safety
//
// [Scheduler.Unblock] and [Scheduler.Tick] are safe to call from any
// goroutine, including "interrupt context". All other lifecycle operations
// must be called by the running thread. Threads blocked in external wait
// queues (semaphores, locks built on Block/Unblock) are owned by that
// structure until unblocked; a blocked thread is a member of exactly one
// queue at a time.
//
// # Usage
//
//	s, err := kthread.New(
//	    kthread.WithTimeSlice(4),
//	    kthread.WithLogger(logger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := s.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
//	_, _ = s.Create("worker", kthread.PriorityDefault, func(arg any) {
//	    s.Sleep(s.Ticks() + 100)
//	}, nil)
//
//	dev := s.StartTimer(time.Millisecond)
//	defer dev.Stop()
//	s.Sleep(s.Ticks() + 1000)
//
// # Error Types
//
// Expected failures return sentinel errors ([ErrOutOfMemory],
// [ErrAlreadyStarted]). Broken scheduler invariants are not recoverable:
// they halt via panic with an [*InvariantError] after emitting a critical
// diagnostic, because continuing past a broken invariant risks silent
// corruption of every structure the scheduler owns.
package kthread
