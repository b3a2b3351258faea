package kthread

// ThreadStatus represents the current state of a thread.
//
// State Machine:
//
//	StatusBlocked → StatusReady     [Unblock, sleep-queue wakeup]
//	StatusReady → StatusRunning     [schedule]
//	StatusRunning → StatusReady     [Yield, preemption]
//	StatusRunning → StatusBlocked   [Block, Sleep]
//	StatusRunning → StatusDying     [Exit]
//	StatusDying → (terminal)
//
// A thread is created BLOCKED, registered, and immediately unblocked. On a
// single CPU exactly one thread is RUNNING at any instant. A DYING thread is
// destroyed by whichever thread is scheduled next, after the context switch
// completes; it can never destroy itself.
type ThreadStatus uint32

const (
	// StatusRunning indicates the thread currently holds the CPU.
	StatusRunning ThreadStatus = iota
	// StatusReady indicates the thread is runnable but not running.
	StatusReady
	// StatusBlocked indicates the thread is waiting: sleeping, or parked in
	// an external wait queue, or simply blocked until an explicit Unblock.
	StatusBlocked
	// StatusDying indicates the thread has exited and awaits destruction by
	// its successor.
	StatusDying
)

// String returns a human-readable representation of the status.
func (s ThreadStatus) String() string {
	switch s {
	case StatusRunning:
		return "RUNNING"
	case StatusReady:
		return "READY"
	case StatusBlocked:
		return "BLOCKED"
	case StatusDying:
		return "DYING"
	default:
		return "UNKNOWN"
	}
}

// IntrLevel is the interrupt delivery state observed by a caller.
type IntrLevel uint8

const (
	// IntrOff indicates the calling goroutine holds the interrupt mask.
	IntrOff IntrLevel = iota
	// IntrOn indicates interrupts are deliverable to the calling goroutine.
	IntrOn
)

// String returns a human-readable representation of the level.
func (l IntrLevel) String() string {
	switch l {
	case IntrOff:
		return "OFF"
	case IntrOn:
		return "ON"
	default:
		return "UNKNOWN"
	}
}
