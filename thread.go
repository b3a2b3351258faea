package kthread

// Guard word stored in every live TCB. A mismatch means the structure was
// corrupted (the moral equivalent of a kernel stack overflow) and is fatal.
const threadGuard uint32 = 0xcd6abf4b

// wakeup-tick sentinel: the thread is not linked into the sleep queue.
const notSleeping int64 = -1

// Thread priorities. Stored on the TCB but not acted upon: priority
// scheduling is not implemented, the ready queue is strictly FIFO.
const (
	PriorityMin     = 0
	PriorityDefault = 31
	PriorityMax     = 63
)

// ThreadID identifies a thread. IDs are allocated monotonically and never
// reused for the lifetime of a scheduler.
type ThreadID int64

// TIDError is returned by Create alongside a non-nil error.
const TIDError ThreadID = -1

// ThreadFunc is a thread's entry point. When it returns, the thread exits.
type ThreadFunc func(arg any)

// queueTag records which scheduler-owned queue a thread is linked into.
// A BLOCKED thread is a member of at most one wait structure at a time; the
// tag makes that single-membership invariant checkable on every enqueue
// (external wait queues keep their own linkage and leave the tag at
// queueNone).
type queueTag uint8

const (
	queueNone queueTag = iota
	queueReady
	queueSleeping
)

func (q queueTag) String() string {
	switch q {
	case queueNone:
		return "none"
	case queueReady:
		return "ready"
	case queueSleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}

// Thread is a thread control block. It is exclusively owned by its
// scheduler while alive; fields are stable only while interrupts are masked
// or the scheduler is quiescent.
type Thread struct {
	// Prevent copying
	_ [0]func()

	sched *Scheduler

	// resume is the saved execution context: dispatch sends the outgoing
	// thread here and the first receive resumes this thread. Capacity 1 so
	// dispatch never blocks on a goroutine that has not parked yet.
	resume chan *Thread

	// gid is the backing goroutine's id, recorded each time the thread
	// completes a switch. It identifies "the current thread" the way a
	// kernel rounds the stack pointer down to the TCB page.
	gid uint64

	// aspace is the opaque address-space descriptor, if any. The scheduler
	// never inspects it beyond nil-ness (for tick accounting).
	aspace any

	name     string
	id       ThreadID
	priority int

	status ThreadStatus

	// wakeupTick is notSleeping unless the thread is linked into the sleep
	// queue, in which case it is strictly positive.
	wakeupTick int64

	queue queueTag

	guard uint32
}

// newThread does basic initialization of a BLOCKED thread. The caller
// registers it and allocates its id.
func newThread(s *Scheduler, name string, priority int) *Thread {
	return &Thread{
		sched:      s,
		resume:     make(chan *Thread, 1),
		name:       name,
		priority:   priority,
		status:     StatusBlocked,
		wakeupTick: notSleeping,
		guard:      threadGuard,
	}
}

// valid reports whether t appears to point to a live thread.
func (t *Thread) valid() bool {
	return t != nil && t.guard == threadGuard
}

// ID returns the thread's identifier.
func (t *Thread) ID() ThreadID { return t.id }

// Name returns the thread's human-readable name.
func (t *Thread) Name() string { return t.name }

// Priority returns the thread's stored priority.
func (t *Thread) Priority() int { return t.priority }

// Status returns the thread's status. The read is taken under the interrupt
// mask: the tick handler and other threads mutate status, so an unmasked
// read of another thread's field would race. The value may be stale by the
// time the caller acts on it.
func (t *Thread) Status() ThreadStatus {
	old := t.sched.MaskInterrupts()
	status := t.status
	t.sched.RestoreInterrupts(old)
	return status
}

// WakeupTick returns the tick at which the sleeping thread is due, or -1 if
// the thread is not linked into the sleep queue. Read under the interrupt
// mask, with the same staleness caveat as Status.
func (t *Thread) WakeupTick() int64 {
	old := t.sched.MaskInterrupts()
	tick := t.wakeupTick
	t.sched.RestoreInterrupts(old)
	return tick
}

// switchTo transfers the CPU from t to next. It returns the previously
// running thread once t is resumed. A DYING thread hands off and reports
// done=false without parking: its goroutine must not run again.
func (t *Thread) switchTo(next *Thread) (prev *Thread, done bool) {
	next.resume <- t
	if t.status == StatusDying {
		return nil, false
	}
	return <-t.resume, true
}
