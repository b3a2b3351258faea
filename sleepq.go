package kthread

import (
	"slices"
	"sync/atomic"
)

// Sentinel for the cached minimum when the sleep queue is empty.
const sleepQueueEmpty int64 = -1

// sleepQueue holds BLOCKED threads waiting for a future tick, sorted
// ascending by wakeup tick. min caches the smallest wakeup tick present
// (sleepQueueEmpty iff the queue is empty) so the per-tick wake pass can
// reject without touching the queue at all on most ticks.
//
// Insertion is a linear scan: a teaching-scale system expects few
// concurrently sleeping threads. A balanced tree or timer wheel could be
// substituted so long as the externally observable minimum-cache invariant
// is preserved.
type sleepQueue struct {
	threads []*Thread
	min     atomic.Int64
}

func (q *sleepQueue) init() {
	q.min.Store(sleepQueueEmpty)
}

func (q *sleepQueue) empty() bool {
	return len(q.threads) == 0
}

func (q *sleepQueue) front() *Thread {
	return q.threads[0]
}

func (q *sleepQueue) popFront() *Thread {
	t := q.threads[0]
	q.threads = q.threads[1:]
	t.queue = queueNone
	return t
}

// assertSleepMinInvariant checks "min == sleepQueueEmpty iff the queue is
// empty" (stated as an implication, matching how the wake pass uses it).
func (s *Scheduler) assertSleepMinInvariant() {
	s.assertf(s.sleepers.min.Load() != sleepQueueEmpty || s.sleepers.empty(),
		"sleep queue non-empty with empty cached minimum")
}

// sleepInsert links t into the sleep queue in ascending wakeup-tick order,
// updating the cached minimum if necessary. Interrupts must be masked, t
// must be BLOCKED, and t's wakeup tick must be strictly positive.
func (s *Scheduler) sleepInsert(t *Thread) {
	s.assertf(s.InterruptLevel() == IntrOff, "sleepInsert: interrupts enabled")
	s.assertf(t.valid(), "sleepInsert: not a thread")
	s.assertf(t.status == StatusBlocked, "sleepInsert: thread %q is %s, not BLOCKED", t.name, t.status)
	s.assertf(t.wakeupTick > 0, "sleepInsert: wakeup tick %d not strictly positive", t.wakeupTick)
	s.assertf(t.queue == queueNone, "sleepInsert: thread %q already linked into %s queue", t.name, t.queue)
	s.assertSleepMinInvariant()

	q := &s.sleepers
	t.queue = queueSleeping

	// Fast path: empty queue, or due no later than the cached minimum.
	// Push to the front and the minimum is the new deadline.
	if min := q.min.Load(); min == sleepQueueEmpty || t.wakeupTick <= min {
		q.threads = slices.Insert(q.threads, 0, t)
		q.min.Store(t.wakeupTick)
		return
	}

	// Otherwise insert at the sorted position. The cached minimum is
	// unchanged: the new deadline is greater than it.
	i := 0
	for i < len(q.threads) && q.threads[i].wakeupTick <= t.wakeupTick {
		i++
	}
	q.threads = slices.Insert(q.threads, i, t)
}

// wakeExpired moves every due thread from the sleep queue to the ready
// queue. Invoked once per timer tick, in interrupt context; the cached
// minimum bounds the cost to O(1) on ticks with nothing due. May also be
// driven directly with interrupts masked.
func (s *Scheduler) wakeExpired() {
	now := s.ticks.Load()
	s.assertSleepMinInvariant()

	// Nothing due: don't touch the queue at all.
	if min := s.sleepers.min.Load(); min == sleepQueueEmpty || now < min {
		return
	}

	s.assertf(s.InterruptLevel() == IntrOff, "wakeExpired: interrupts enabled")

	// Pop due threads front-to-back. The sort invariant means the first
	// still-future deadline ends the pass: no later element can be due.
	q := &s.sleepers
	for !q.empty() {
		front := q.front()
		s.assertf(front.valid(), "wakeExpired: corrupted thread in sleep queue")
		s.assertf(front.status == StatusBlocked, "wakeExpired: thread %q is %s, not BLOCKED", front.name, front.status)
		s.assertf(front.wakeupTick > 0, "wakeExpired: wakeup tick %d not strictly positive", front.wakeupTick)

		if front.wakeupTick > now {
			q.min.Store(front.wakeupTick)
			break
		}

		q.popFront()
		// Clear the sentinel before the thread can become RUNNING again.
		front.wakeupTick = notSleeping
		s.Unblock(front)
	}

	if q.empty() {
		q.min.Store(sleepQueueEmpty)
	}
}
