package kthread

import (
	"runtime"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

// DefaultTimeSlice is the number of timer ticks given to each thread before
// the tick handler arms a preemptive yield.
const DefaultTimeSlice = 4

var schedulerIDCounter atomic.Uint64

// Scheduler owns all state for one simulated CPU: the ready queue, the sleep
// queue, the all-threads registry, the idle thread, and the interrupt mask
// that protects them. Multiple independent schedulers may coexist in one
// process.
//
// The goroutine that calls New is adopted as the bootstrap ("main") thread
// and is RUNNING from that point on. Lifecycle methods other than Unblock
// and Tick must be called by the running thread.
type Scheduler struct {
	// Prevent copying
	_ [0]func()

	intr interrupts

	// Tick counter, incremented once per Tick since boot. Deadlines are
	// expressed purely in ticks, never wall-clock time.
	ticks atomic.Int64

	nextTID atomic.Int64

	// haltCh is the idle thread's "hlt": a cap-1 token written by the tick
	// handler. The buffered token closes the enable-then-halt race, so no
	// tick is wasted between unmasking and waiting.
	haltCh chan struct{}

	log *logiface.Logger[logiface.Event]

	// activate is invoked once per completed context switch, after the new
	// thread becomes RUNNING, so an address-space layer can install the
	// thread's address space. Runs with interrupts masked; must not block.
	activate func(*Thread)

	// Fields below are protected by the interrupt mask.

	ready    []*Thread
	sleepers sleepQueue
	all      []*Thread

	running *Thread
	idle    *Thread
	initial *Thread

	// sliceTicks counts ticks since the last switch; at timeSlice the tick
	// handler arms yieldPending, delivered when interrupt context exits.
	sliceTicks   int
	timeSlice    int
	yieldPending bool

	idleTicks   int64
	kernelTicks int64
	userTicks   int64

	maxThreads int

	// mlfqs selects the multi-level feedback queue policy. Read once at
	// startup; the policy itself is not implemented, round-robin is always
	// used.
	mlfqs bool

	id      uint64
	started bool
}

// New creates a scheduler and transforms the calling goroutine into its
// bootstrap thread, named "main", with status RUNNING. The bootstrap
// thread's memory is not scheduler-allocated and is never destroyed.
//
// Call Start before creating threads that must actually run.
func New(opts ...Option) (*Scheduler, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		id:         schedulerIDCounter.Add(1),
		haltCh:     make(chan struct{}, 1),
		log:        cfg.logger,
		activate:   cfg.activate,
		timeSlice:  cfg.timeSlice,
		maxThreads: cfg.maxThreads,
		mlfqs:      cfg.mlfqs,
	}
	s.sleepers.init()

	main := newThread(s, "main", PriorityDefault)
	main.id = s.allocateTID()
	main.gid = getGoroutineID()
	main.status = StatusRunning
	s.all = append(s.all, main)
	s.running = main
	s.initial = main

	return s, nil
}

// Start creates the idle thread and begins preemptive scheduling. The idle
// thread is placed on the ready queue so it is scheduled exactly once to
// record itself; Start yields to let that happen and returns once the idle
// thread has initialized.
func (s *Scheduler) Start() error {
	old := s.MaskInterrupts()
	if s.started {
		s.RestoreInterrupts(old)
		return ErrAlreadyStarted
	}
	s.started = true
	s.RestoreInterrupts(old)

	started := make(chan struct{})
	if _, err := s.Create("idle", PriorityMin, func(any) {
		s.idleLoop(started)
	}, nil); err != nil {
		old := s.MaskInterrupts()
		s.started = false
		s.RestoreInterrupts(old)
		return err
	}

	// Let the idle thread run once and record itself.
	s.Yield()
	<-started

	s.logger().Info().
		Uint64("scheduler", s.id).
		Int("time_slice", s.timeSlice).
		Bool("mlfqs", s.mlfqs).
		Log("scheduler started")
	return nil
}

// idleLoop is the body of the idle thread. After recording itself it is
// never present in the ready queue again: nextToRun returns it as a special
// case when the ready queue is empty.
func (s *Scheduler) idleLoop(started chan<- struct{}) {
	old := s.MaskInterrupts()
	s.idle = s.Current()
	s.RestoreInterrupts(old)
	close(started)

	for {
		// Let someone else run.
		s.MaskInterrupts()
		s.Block()

		// Rescheduled with the mask still held: re-enable interrupts and
		// wait for the next tick. The cap-1 token makes the two steps
		// effectively atomic; a tick landing in between is not lost.
		s.RestoreInterrupts(IntrOn)
		<-s.haltCh
	}
}

// Create allocates and initializes a new thread named name with the given
// priority, which executes fn(arg), and adds it to the ready queue. Returns
// the thread id, or TIDError and ErrOutOfMemory when the thread budget is
// exhausted.
//
// Once Start has been called the new thread may be scheduled, and may even
// exit, before Create returns. Use Block/Unblock or primitives built on them
// to enforce ordering.
func (s *Scheduler) Create(name string, priority int, fn ThreadFunc, arg any) (ThreadID, error) {
	s.assertf(fn != nil, "Create: nil entry function")
	s.assertf(priority >= PriorityMin && priority <= PriorityMax,
		"Create: priority %d outside [%d, %d]", priority, PriorityMin, PriorityMax)

	t := newThread(s, name, priority)

	old := s.MaskInterrupts()
	if s.maxThreads > 0 && len(s.all) >= s.maxThreads {
		s.RestoreInterrupts(old)
		return TIDError, ErrOutOfMemory
	}
	t.id = s.allocateTID()
	s.registryAdd(t)
	s.RestoreInterrupts(old)

	// Synthesize the initial execution context: first dispatch lands in the
	// trampoline, which completes the switch, enables interrupts, runs the
	// entry function, and exits on return.
	go s.trampoline(t, fn, arg)

	s.logger().Debug().
		Uint64("scheduler", s.id).
		Int64("thread", int64(t.id)).
		Str("name", t.name).
		Int("priority", t.priority).
		Log("thread created")

	s.Unblock(t)
	return t.id, nil
}

// trampoline is the basis for every created thread.
func (s *Scheduler) trampoline(t *Thread, fn ThreadFunc, arg any) {
	prev := <-t.resume // first dispatch
	s.scheduleTail(prev)
	s.RestoreInterrupts(IntrOn) // the scheduler runs with interrupts masked
	fn(arg)
	s.Exit() // if fn returns, kill the thread
}

// Current returns the running thread, with sanity checks: the caller must be
// the running thread, its guard word intact, its status RUNNING, and its
// wakeup tick the not-sleeping sentinel.
func (s *Scheduler) Current() *Thread {
	t := s.running
	s.assertf(t != nil && t.gid == getGoroutineID(), "Current: caller is not the running thread")
	s.assertf(t.valid(), "Current: guard word corrupted (thread state overwritten?)")
	s.assertf(t.status == StatusRunning, "Current: running thread has status %s", t.status)
	s.assertf(t.wakeupTick == notSleeping, "Current: running thread is marked sleeping")
	return t
}

// CurrentID returns the running thread's id.
func (s *Scheduler) CurrentID() ThreadID {
	return s.Current().id
}

// Name returns the running thread's name.
func (s *Scheduler) Name() string {
	return s.Current().name
}

// SetPriority sets the running thread's priority. Stored only: the ready
// queue remains FIFO.
func (s *Scheduler) SetPriority(priority int) {
	s.assertf(priority >= PriorityMin && priority <= PriorityMax,
		"SetPriority: priority %d outside [%d, %d]", priority, PriorityMin, PriorityMax)
	s.Current().priority = priority
}

// Priority returns the running thread's priority.
func (s *Scheduler) Priority() int {
	return s.Current().priority
}

// SetAddressSpace attaches an opaque address-space descriptor to the running
// thread. The scheduler never inspects it beyond nil-ness: a thread with a
// non-nil descriptor is accounted as user time by the tick handler.
func (s *Scheduler) SetAddressSpace(aspace any) {
	cur := s.Current()
	old := s.MaskInterrupts()
	cur.aspace = aspace
	s.RestoreInterrupts(old)
}

// Block puts the running thread to sleep until a later Unblock makes it
// READY again. It must be called with interrupts already masked, outside
// interrupt context. It is usually a better idea to use a synchronization
// primitive built on top of Block/Unblock.
func (s *Scheduler) Block() {
	s.assertf(!s.InInterrupt(), "Block: called from interrupt context")
	s.assertf(s.InterruptLevel() == IntrOff, "Block: interrupts must be masked")

	s.Current().status = StatusBlocked
	s.schedule()
}

// Unblock transitions BLOCKED thread t to READY and appends it to the ready
// queue. Fatal if t is not BLOCKED: use Yield to make the running thread
// ready.
//
// Unblock does not preempt the caller. This can be important: a caller that
// masked interrupts itself may expect to atomically unblock a thread and
// update other data before any new scheduling decision is made. It is safe
// from any context, including interrupt context.
func (s *Scheduler) Unblock(t *Thread) {
	s.assertf(t.valid(), "Unblock: not a thread (guard word corrupted?)")

	old := s.MaskInterrupts()
	s.assertf(t.status == StatusBlocked, "Unblock: thread %q is %s, not BLOCKED", t.name, t.status)
	s.readyPush(t)
	t.status = StatusReady
	s.RestoreInterrupts(old)
}

// Yield gives up the CPU. The running thread is not put to sleep and may be
// scheduled again immediately. Not legal from interrupt context.
func (s *Scheduler) Yield() {
	s.assertf(!s.InInterrupt(), "Yield: called from interrupt context")

	cur := s.Current()
	old := s.MaskInterrupts()
	if cur != s.idle {
		s.readyPush(cur)
	}
	cur.status = StatusReady
	s.schedule()
	s.RestoreInterrupts(old)
}

// Sleep blocks the running thread until the scheduler's tick counter reaches
// untilTick. A deadline that has already passed returns immediately without
// blocking: scheduling delays may make the nominal wake time stale by the
// time Sleep runs, and the pre-check deliberately reads the tick counter
// without masking (the relaxed semantic is part of the contract). A negative
// deadline is fatal. The idle thread is never put to sleep.
func (s *Scheduler) Sleep(untilTick int64) {
	s.assertf(untilTick >= 0, "Sleep: negative deadline %d", untilTick)
	if untilTick <= s.Ticks() {
		return
	}

	s.assertf(!s.InInterrupt(), "Sleep: called from interrupt context")
	cur := s.Current() // asserts the not-sleeping sentinel

	old := s.MaskInterrupts()
	if cur != s.idle {
		cur.status = StatusBlocked
		cur.wakeupTick = untilTick
		s.sleepInsert(cur)
		s.schedule()
	}
	s.RestoreInterrupts(old)
}

// Exit deschedules the running thread and destroys it. Never returns.
//
// The thread is removed from the registry, marked DYING, and switched away
// from; the next thread to run destroys it in scheduleTail. It cannot free
// its own state while still executing on it.
func (s *Scheduler) Exit() {
	s.assertf(!s.InInterrupt(), "Exit: called from interrupt context")
	cur := s.Current()

	s.logger().Debug().
		Uint64("scheduler", s.id).
		Int64("thread", int64(cur.id)).
		Str("name", cur.name).
		Log("thread exiting")

	s.MaskInterrupts()
	s.registryRemove(cur)
	cur.status = StatusDying
	s.schedule()
	panic("unreachable")
}

// readyPush appends t to the ready queue tail, asserting single queue
// membership.
func (s *Scheduler) readyPush(t *Thread) {
	s.assertf(s.InterruptLevel() == IntrOff, "readyPush: interrupts enabled")
	s.assertf(t.queue == queueNone, "readyPush: thread %q already linked into %s queue", t.name, t.queue)
	t.queue = queueReady
	s.ready = append(s.ready, t)
}

// readyPop removes and returns the ready queue head.
func (s *Scheduler) readyPop() *Thread {
	t := s.ready[0]
	s.ready[0] = nil
	s.ready = s.ready[1:]
	t.queue = queueNone
	return t
}

// nextToRun chooses and returns the next thread to be scheduled: the ready
// queue head, or the idle thread when the queue is empty. The idle thread is
// never in the ready queue itself (except for its single bootstrap pass).
func (s *Scheduler) nextToRun() *Thread {
	if len(s.ready) == 0 {
		s.assertf(s.idle != nil, "nextToRun: ready queue empty before Start")
		return s.idle
	}
	return s.readyPop()
}

// schedule finds another thread to run and switches to it. At entry,
// interrupts must be masked and the running thread's status must already
// have been changed away from RUNNING. For a DYING caller this call never
// returns; its goroutine terminates after handing off.
func (s *Scheduler) schedule() {
	cur := s.running
	s.assertf(s.InterruptLevel() == IntrOff, "schedule: interrupts enabled")
	s.assertf(cur.status != StatusRunning, "schedule: caller still RUNNING")

	next := s.nextToRun()
	s.assertf(next.valid(), "schedule: next thread guard word corrupted")

	if cur == next {
		s.scheduleTail(nil)
		return
	}

	s.running = next
	prev, alive := cur.switchTo(next)
	if !alive {
		runtime.Goexit()
	}
	s.scheduleTail(prev)
}

// scheduleTail completes a thread switch. It runs on the newly running
// thread's goroutine, with interrupts still masked: it marks the thread
// RUNNING, starts a new time slice, takes over the interrupt mask, notifies
// the address-space layer, and destroys the previous thread if it was DYING.
// prev is nil when no switch occurred, and on a thread's first dispatch it
// is whoever dispatched it.
func (s *Scheduler) scheduleTail(prev *Thread) {
	cur := s.running

	// The mask was acquired on the previous thread's goroutine; this thread
	// owns it now.
	cur.gid = getGoroutineID()
	s.intr.owner.Store(cur.gid)

	cur.status = StatusRunning
	s.sliceTicks = 0
	// A yield armed against the previous thread dies with its slice; it must
	// not be delivered to a thread whose slice just started.
	s.yieldPending = false

	if s.activate != nil {
		s.activate(cur)
	}

	// Destroy the thread we switched from, if dying. This must happen late
	// so Exit doesn't pull the rug out from under itself. The bootstrap
	// thread's memory was not scheduler-allocated and is left alone.
	if prev != nil && prev.status == StatusDying && prev != s.initial {
		s.assertf(prev != cur, "scheduleTail: destroying the running thread")
		s.destroy(prev)
	}
}

// destroy releases a DYING thread's state: the guard word is poisoned so a
// stale reference trips the validity assertions, and the saved context is
// closed. The garbage collector reclaims the rest.
func (s *Scheduler) destroy(t *Thread) {
	t.guard = 0
	close(t.resume)
}
