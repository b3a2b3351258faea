package kthread

import (
	"sync"
	"time"
)

// Tick is the timer interrupt handler. It advances the tick counter,
// accounts the tick to the running thread's category, wakes expired
// sleepers, and arms a preemptive yield when the running thread's time slice
// expires. The yield itself is deferred: it is delivered to the running
// thread the next time it restores interrupts to the enabled level, which is
// the analogue of returning from the interrupt frame.
//
// Tick may be driven by any goroutine, typically a TimerDevice. Raising it
// from inside a masked section would deadlock the simulated CPU and is
// fatal.
func (s *Scheduler) Tick() {
	gid := getGoroutineID()
	if s.intr.held(gid) {
		s.kernelPanic("Tick: timer interrupt raised from a masked context")
	}

	s.intr.mu.Lock()
	s.intr.owner.Store(gid)
	s.intr.inHandler.Store(true)

	s.ticks.Add(1)

	cur := s.running
	switch {
	case cur == s.idle:
		s.idleTicks++
	case cur != nil && cur.aspace != nil:
		s.userTicks++
	default:
		s.kernelTicks++
	}

	s.sliceTicks++
	if s.sliceTicks >= s.timeSlice {
		s.yieldPending = true
	}

	s.wakeExpired()

	s.intr.inHandler.Store(false)
	s.intr.owner.Store(0)
	s.intr.mu.Unlock()

	// Kick the idle thread's halt. Non-blocking: the cap-1 token coalesces
	// ticks that land while idle is still waking up.
	select {
	case s.haltCh <- struct{}{}:
	default:
	}
}

// Ticks returns the number of timer ticks since the scheduler booted.
func (s *Scheduler) Ticks() int64 {
	return s.ticks.Load()
}

// TimerDevice drives a scheduler's Tick at a fixed wall-clock interval,
// standing in for the hardware timer. It is the only component that relates
// ticks to real time; the scheduler itself never does.
type TimerDevice struct {
	// Prevent copying
	_ [0]func()

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// StartTimer begins delivering timer interrupts to s every interval until
// Stop is called.
func (s *Scheduler) StartTimer(interval time.Duration) *TimerDevice {
	d := &TimerDevice{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(d.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-d.stop:
				return
			case <-ticker.C:
				s.Tick()
			}
		}
	}()
	return d
}

// Stop halts the timer and waits for any in-flight tick to complete.
// Idempotent.
func (d *TimerDevice) Stop() {
	d.once.Do(func() { close(d.stop) })
	<-d.done
}
