package kthread

// Stats is a point-in-time snapshot of scheduler counters. Tick counts are
// categorized by what was running when the timer interrupt fired: the idle
// thread, a thread with an address space attached (user), or any other
// thread (kernel).
type Stats struct {
	Ticks       int64
	IdleTicks   int64
	KernelTicks int64
	UserTicks   int64

	ReadyThreads    int
	SleepingThreads int
	TotalThreads    int
}

// Stats returns a consistent snapshot of the scheduler's counters, taken
// with interrupts masked.
func (s *Scheduler) Stats() Stats {
	old := s.MaskInterrupts()
	st := Stats{
		Ticks:           s.ticks.Load(),
		IdleTicks:       s.idleTicks,
		KernelTicks:     s.kernelTicks,
		UserTicks:       s.userTicks,
		ReadyThreads:    len(s.ready),
		SleepingThreads: len(s.sleepers.threads),
		TotalThreads:    len(s.all),
	}
	s.RestoreInterrupts(old)
	return st
}

// LogStats emits the current counters through the configured logger, one
// event, at notice level. Printed at shutdown by convention.
func (s *Scheduler) LogStats() {
	st := s.Stats()
	s.logger().Notice().
		Uint64("scheduler", s.id).
		Int64("ticks", st.Ticks).
		Int64("idle_ticks", st.IdleTicks).
		Int64("kernel_ticks", st.KernelTicks).
		Int64("user_ticks", st.UserTicks).
		Int("ready", st.ReadyThreads).
		Int("sleeping", st.SleepingThreads).
		Int("threads", st.TotalThreads).
		Log("scheduler statistics")
}
