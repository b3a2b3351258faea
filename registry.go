package kthread

import "slices"

// The all-threads registry tracks every live thread in registration order.
// Threads are added when created and removed when they exit. It is used by
// diagnostics and iteration, never by scheduling decisions, and its linkage
// is independent of a thread's runtime state.

// registryAdd appends t to the all-threads registry. Interrupts must be
// masked.
func (s *Scheduler) registryAdd(t *Thread) {
	s.assertf(s.InterruptLevel() == IntrOff, "registryAdd: interrupts enabled")
	s.all = append(s.all, t)
}

// registryRemove unlinks t from the all-threads registry. Interrupts must be
// masked.
func (s *Scheduler) registryRemove(t *Thread) {
	s.assertf(s.InterruptLevel() == IntrOff, "registryRemove: interrupts enabled")
	i := slices.Index(s.all, t)
	s.assertf(i >= 0, "registryRemove: thread %q not registered", t.name)
	s.all = slices.Delete(s.all, i, i+1)
}

// allocateTID returns an id for a new thread. IDs are monotonic and never
// reused.
func (s *Scheduler) allocateTID() ThreadID {
	return ThreadID(s.nextTID.Add(1))
}

// ForEach invokes fn once per registered thread, in registration order.
// Interrupts must already be masked by the caller; fn must not unmask them
// and must not block.
func (s *Scheduler) ForEach(fn func(*Thread)) {
	s.assertf(s.InterruptLevel() == IntrOff, "ForEach: interrupts enabled")
	for _, t := range s.all {
		fn(t)
	}
}

// ThreadCount returns the number of registered threads, including the
// bootstrap and idle threads.
func (s *Scheduler) ThreadCount() int {
	old := s.MaskInterrupts()
	n := len(s.all)
	s.RestoreInterrupts(old)
	return n
}

// ReadyCount returns the number of threads in the ready queue.
func (s *Scheduler) ReadyCount() int {
	old := s.MaskInterrupts()
	n := len(s.ready)
	s.RestoreInterrupts(old)
	return n
}

// SleepingCount returns the number of threads in the sleep queue. The empty
// cached minimum short-circuits without masking at all.
func (s *Scheduler) SleepingCount() int {
	if s.sleepers.min.Load() == sleepQueueEmpty {
		return 0
	}
	old := s.MaskInterrupts()
	n := len(s.sleepers.threads)
	s.RestoreInterrupts(old)
	return n
}
