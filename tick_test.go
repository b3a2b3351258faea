package kthread

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTick_Accounting verifies the tick counter and the kernel/user
// categorization of ticks.
func TestTick_Accounting(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	require.NoError(t, s.Start())

	for i := 0; i < 3; i++ {
		s.Tick()
	}
	st := s.Stats()
	assert.Equal(t, int64(3), st.Ticks)
	assert.Equal(t, int64(3), st.KernelTicks)
	assert.Equal(t, int64(0), st.UserTicks)

	s.SetAddressSpace(struct{}{})
	s.Tick()
	st = s.Stats()
	assert.Equal(t, int64(4), st.Ticks)
	assert.Equal(t, int64(3), st.KernelTicks)
	assert.Equal(t, int64(1), st.UserTicks)
}

// TestTick_FromMaskedContextFatal verifies that raising the timer interrupt
// while the caller holds the mask halts instead of deadlocking.
func TestTick_FromMaskedContextFatal(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	s.MaskInterrupts()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic ticking from a masked context")
		err, ok := r.(error)
		require.True(t, ok, "panic value is %T, want error", r)
		var ie *InvariantError
		assert.True(t, errors.As(err, &ie))
	}()
	s.Tick()
}

// TestTick_TimeSlicePreemption verifies deferred preemption: slice expiry
// arms a pending yield that is delivered only when the running thread
// restores interrupts to the enabled level, not before.
func TestTick_TimeSlicePreemption(t *testing.T) {
	s, err := New(WithTimeSlice(2))
	require.NoError(t, err)
	require.NoError(t, s.Start())

	ran := false
	_, err = s.Create("observer", PriorityDefault, func(any) {
		ran = true
	}, nil)
	require.NoError(t, err)

	s.Tick()
	s.Tick() // slice expires; yield armed but not yet delivered
	require.False(t, ran, "preemption delivered outside a restore point")

	old := s.MaskInterrupts()
	require.False(t, ran)
	s.RestoreInterrupts(old) // delivery point
	assert.True(t, ran, "pending yield not delivered at restore")
}

// TestTick_NoPreemptionBeforeSliceExpiry verifies a restore with an
// unexpired slice does not yield.
func TestTick_NoPreemptionBeforeSliceExpiry(t *testing.T) {
	s, err := New(WithTimeSlice(4))
	require.NoError(t, err)
	require.NoError(t, s.Start())

	ran := false
	_, err = s.Create("observer", PriorityDefault, func(any) {
		ran = true
	}, nil)
	require.NoError(t, err)

	s.Tick()
	old := s.MaskInterrupts()
	s.RestoreInterrupts(old)
	assert.False(t, ran, "yield delivered before slice expiry")
}

// TestTick_PendingYieldDiesWithItsSlice verifies a yield armed against one
// thread is discarded at the context switch: the successor starts a fresh
// slice and must not be preempted at its first restore, which would break
// FIFO dispatch order.
func TestTick_PendingYieldDiesWithItsSlice(t *testing.T) {
	s, err := New(WithTimeSlice(1))
	require.NoError(t, err)
	require.NoError(t, s.Start())

	mainTh := s.Current()

	var order []string
	_, err = s.Create("w1", PriorityDefault, func(any) {
		order = append(order, "w1")
	}, nil)
	require.NoError(t, err)
	_, err = s.Create("w2", PriorityDefault, func(any) {
		order = append(order, "w2")
		s.Unblock(mainTh)
	}, nil)
	require.NoError(t, err)

	s.Tick() // bootstrap thread's slice expires; yield armed

	// Switch away without ever restoring to enabled: the armed yield must
	// not ride along into w1's first restore.
	old := s.MaskInterrupts()
	s.Block()
	s.RestoreInterrupts(old)

	assert.Equal(t, []string{"w1", "w2"}, order)
}

// TestThread_AccessorsUnderLiveTimer polls another thread's status and
// wakeup tick while a wall-clock timer drives wakeups. Each read is taken
// under the mask; every observed value must be one the thread can legally
// hold while suspended.
func TestThread_AccessorsUnderLiveTimer(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	require.NoError(t, s.Start())

	var sleeper *Thread
	_, err = s.Create("sleeper", PriorityDefault, func(any) {
		old := s.MaskInterrupts()
		sleeper = s.Current()
		s.RestoreInterrupts(old)
		s.Sleep(s.Ticks() + 30)
	}, nil)
	require.NoError(t, err)
	s.Yield() // sleeper runs until it sleeps
	require.NotNil(t, sleeper)

	dev := s.StartTimer(200 * time.Microsecond)
	for s.Ticks() < 30 {
		// The sleeper cannot run until this thread yields: it only moves
		// between BLOCKED (queued) and READY (woken).
		if st := sleeper.Status(); st != StatusBlocked && st != StatusReady {
			dev.Stop()
			t.Fatalf("sleeper status = %s, want BLOCKED or READY", st)
		}
		if wk := sleeper.WakeupTick(); wk != notSleeping && wk <= 0 {
			dev.Stop()
			t.Fatalf("sleeper wakeupTick = %d, want cleared or strictly positive", wk)
		}
	}
	dev.Stop()

	s.Yield() // sleeper finishes
	assert.Equal(t, 2, s.ThreadCount())
}

// TestSleep_RoundTrip drives the timer by hand: a sleeping thread wakes on
// exactly the tick its deadline arrives, not before.
func TestSleep_RoundTrip(t *testing.T) {
	s, err := New(WithTimeSlice(100)) // avoid preemption noise
	require.NoError(t, err)
	require.NoError(t, s.Start())

	woke := false
	_, err = s.Create("sleeper", PriorityDefault, func(any) {
		s.Sleep(s.Ticks() + 3)
		woke = true
	}, nil)
	require.NoError(t, err)

	s.Yield() // sleeper runs until it sleeps
	require.Equal(t, 1, s.SleepingCount())
	require.False(t, woke)

	s.Tick()
	s.Tick()
	require.Equal(t, 1, s.SleepingCount(), "woke before the deadline")

	s.Tick() // deadline arrives
	require.Equal(t, 0, s.SleepingCount())
	require.False(t, woke, "sleeper ran before being scheduled")

	s.Yield()
	assert.True(t, woke)
	assert.Equal(t, 2, s.ThreadCount())
}

// TestSleep_ElapsedDeadlineReturnsImmediately verifies a deadline at or
// before the current tick is a no-op: the thread stays RUNNING and never
// touches the sleep queue.
func TestSleep_ElapsedDeadlineReturnsImmediately(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	require.NoError(t, s.Start())

	s.Tick()
	s.Tick()

	s.Sleep(0)
	s.Sleep(s.Ticks())
	assert.Equal(t, 0, s.SleepingCount())
	assert.Equal(t, StatusRunning, s.Current().Status())
}

// TestSleep_NegativeDeadlineFatal verifies a negative deadline halts: it
// can only come from arithmetic overflow or a corrupted caller.
func TestSleep_NegativeDeadlineFatal(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic on negative deadline")
		err, ok := r.(error)
		require.True(t, ok, "panic value is %T, want error", r)
		var ie *InvariantError
		assert.True(t, errors.As(err, &ie))
	}()
	s.Sleep(-1)
}

// TestSleep_MultipleSleepersWakeInDeadlineOrder verifies interleaved
// deadlines resolve in deadline order regardless of creation order.
func TestSleep_MultipleSleepersWakeInDeadlineOrder(t *testing.T) {
	s, err := New(WithTimeSlice(100))
	require.NoError(t, err)
	require.NoError(t, s.Start())

	var order []string
	for _, tc := range []struct {
		name  string
		until int64
	}{{"late", 50}, {"early", 10}, {"mid", 30}} {
		tc := tc
		_, err := s.Create(tc.name, PriorityDefault, func(any) {
			s.Sleep(tc.until)
			order = append(order, tc.name)
		}, nil)
		require.NoError(t, err)
	}

	s.Yield() // all three run and go to sleep
	require.Equal(t, 3, s.SleepingCount())

	for s.Ticks() < 50 {
		s.Tick()
	}
	require.Equal(t, 0, s.SleepingCount())

	s.Yield() // woken threads run in wake order
	assert.Equal(t, []string{"early", "mid", "late"}, order)
}

// TestTimerDevice_EndToEnd runs the scheduler against a real wall-clock
// timer: the bootstrap thread sleeps on ticks and is woken by the device,
// with the idle thread soaking up the dead time.
func TestTimerDevice_EndToEnd(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	require.NoError(t, s.Start())

	woke := false
	_, err = s.Create("companion", PriorityDefault, func(any) {
		s.Sleep(s.Ticks() + 5)
		woke = true
	}, nil)
	require.NoError(t, err)
	s.Yield()

	dev := s.StartTimer(200 * time.Microsecond)
	target := s.Ticks() + 20
	s.Sleep(target)
	dev.Stop()

	assert.GreaterOrEqual(t, s.Ticks(), target)
	assert.True(t, woke)

	st := s.Stats()
	assert.Positive(t, st.IdleTicks, "idle thread accrued no ticks while everyone slept")
	assert.Equal(t, 0, st.SleepingThreads)
}

// TestTimerDevice_StopIdempotent verifies Stop may be called repeatedly.
func TestTimerDevice_StopIdempotent(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	require.NoError(t, s.Start())

	dev := s.StartTimer(time.Millisecond)
	dev.Stop()
	dev.Stop()
}

// TestStats_Counts verifies the queue and registry counters in a mixed
// state: one sleeper, one ready, plus main and idle.
func TestStats_Counts(t *testing.T) {
	s, err := New(WithTimeSlice(100))
	require.NoError(t, err)
	require.NoError(t, s.Start())

	_, err = s.Create("sleeper", PriorityDefault, func(any) {
		s.Sleep(1000)
	}, nil)
	require.NoError(t, err)

	var parked *Thread
	_, err = s.Create("parked", PriorityDefault, func(any) {
		old := s.MaskInterrupts()
		parked = s.Current()
		s.Block()
		s.RestoreInterrupts(old)
	}, nil)
	require.NoError(t, err)

	s.Yield() // both run and suspend
	s.Unblock(parked)

	st := s.Stats()
	assert.Equal(t, 1, st.SleepingThreads)
	assert.Equal(t, 1, st.ReadyThreads)
	assert.Equal(t, 4, st.TotalThreads)

	// LogStats with no logger configured is a no-op, not a crash.
	s.LogStats()
}
