package sched

import (
	"math/bits"
	"sync/atomic"

	"nexke/kernel"
	"nexke/kernel/inttab"
	"nexke/kernel/list"
	"nexke/kernel/sync"
)

// The per-CPU control block (§3.7) is split across packages to avoid an
// import cycle: inttab owns curIPL/intCount/trapCount/spuriousInts/
// intActive (consulted by the trap dispatcher, which must not import
// sched); this package owns everything scheduling touches. There being
// only ever one CPU in this core, the CCB is package-level state rather
// than an indexed-by-CPU array.
var (
	runQueues    [NumPriorities]list.List[Thread]
	readyBitmap  uint64
	runQueueLock sync.Spinlock

	curThread  *Thread
	idleThread *Thread

	preemptDisableCount int
	preemptRequested    bool

	lastSchedule int64
	nextTID      uint64
)

func init() {
	inttab.SetPreemptionHooks(DisablePreemption, EnablePreemption, RequestPreemption)
}

// DisablePreemption increments the hold count; while it is non-zero,
// Preempt and RequestPreemption leave their Schedule() call to
// EnablePreemption. Direct Schedule() calls are not held off.
func DisablePreemption() {
	runQueueLock.Acquire()
	preemptDisableCount++
	runQueueLock.Release()
}

// EnablePreemption decrements the hold count, honoring a request that
// arrived while preemption was held.
func EnablePreemption() {
	runQueueLock.Acquire()
	preemptDisableCount--
	runRequested := preemptDisableCount == 0 && preemptRequested
	if runRequested {
		preemptRequested = false
	}
	runQueueLock.Release()
	if runRequested {
		Schedule()
	}
}

// RequestPreemption runs Schedule now or, if preemption is currently held
// off, marks a preemption as pending for EnablePreemption to honor. inttab's
// hardware-interrupt dispatch calls it through the hook registered in init.
func RequestPreemption() {
	runQueueLock.Acquire()
	if preemptDisableCount > 0 {
		preemptRequested = true
		runQueueLock.Release()
		return
	}
	runQueueLock.Release()
	Schedule()
}

// admit pushes t onto its priority's run queue: head if it is resuming
// from a preemption with quantum remaining (keeps its place), tail
// otherwise (FCFS). Caller holds runQueueLock.
func admit(t *Thread) {
	t.link.Init(t)
	q := &runQueues[t.Priority]
	if t.Preempted && t.TicksLeft > 0 {
		q.PushFront(&t.link)
	} else {
		q.PushBack(&t.link)
	}
	t.Preempted = false
	readyBitmap |= 1 << uint(t.Priority)
}

// ReadyThread admits t to its run queue and preempts the current thread
// if t now outranks it.
func ReadyThread(t *Thread) {
	runQueueLock.Acquire()
	t.Lock.Acquire()
	t.TicksLeft = t.Quantum
	if t.Quantum == 0 {
		t.TicksLeft = DefaultQuantum
		t.Quantum = DefaultQuantum
	}
	t.State = StateReady
	admit(t)
	preempt := curThread != nil && t.Priority < curThread.Priority
	t.Lock.Release()
	runQueueLock.Release()

	if preempt {
		Preempt()
	}
}

// highestReady returns the priority of the highest-priority non-empty
// queue, and ok=false if the bitmap is empty.
func highestReady() (int, bool) {
	if readyBitmap == 0 {
		return 0, false
	}
	return bits.TrailingZeros64(readyBitmap), true
}

// stopThread runs before a context switch away from outgoing: it
// re-admits it if still runnable, or opens its wait-asserted gate (sets
// waitAsserted to 1, releasing TskThreadCheckAssert) if it parked on a
// wait object. The idle thread is never admitted to a run
// queue; it is only ever selected through Schedule's fallback path.
func stopThread(outgoing *Thread) {
	outgoing.Lock.Acquire()
	switch outgoing.State {
	case StateRunning:
		outgoing.State = StateReady
		if outgoing.Flags&FlagIdle == 0 {
			admit(outgoing)
		}
	case StateWaiting:
		atomic.StoreInt32(&outgoing.waitAsserted, 1)
	}
	outgoing.Lock.Release()
}

// Schedule picks the highest-priority ready thread and switches to it. If
// the current thread is still RUNNING and nothing outranks it, this is a
// no-op.
//
// Schedule only ever performs the bookkeeping switch and signals the
// chosen thread's resume channel; it never blocks its caller. A real
// single-CPU kernel can invoke Schedule() synchronously from whatever
// happens to be running (an interrupt handler included) because nothing
// else can be executing concurrently; over goroutines that guarantee does
// not hold; a thread that has just triggered someone else's preemption
// keeps running until it reaches one of this package's actual suspension
// points: WaitOnObj or the idle loop, each of which parks on its own
// thread's resume channel directly rather than through Schedule, or
// TerminateSelf, whose goroutine exits after its final Schedule call. This mirrors how even a real preemptive kernel only acts on a
// pending preemption request at the next checkpoint (trap return); the
// checkpoint granularity here is just coarser, since nothing can forcibly
// suspend a running goroutine mid-instruction.
func Schedule() {
	runQueueLock.Acquire()

	prio, ok := highestReady()
	if ok && curThread != nil && curThread.State == StateRunning && prio >= curThread.Priority {
		ok = false // nothing outranks the current thread; no-op
	}
	if !ok && curThread != nil && curThread.State == StateRunning {
		runQueueLock.Release()
		return
	}

	var next *Thread
	if ok {
		q := &runQueues[prio]
		link := q.PopFront()
		next = link.Owner()
		if q.Empty() {
			readyBitmap &^= 1 << uint(prio)
		}
	} else {
		next = idleThread
	}

	outgoing := curThread
	if outgoing == next {
		runQueueLock.Release()
		return
	}

	next.Lock.Acquire()
	next.State = StateRunning
	next.Preempted = false
	next.Lock.Release()
	curThread = next
	lastSchedule++
	runQueueLock.Release()

	if outgoing != nil {
		stopThread(outgoing)
	}

	next.resume <- struct{}{}
}

// Preempt marks the current thread preempted and either runs Schedule
// immediately or, if preemption is currently held off, defers it.
func Preempt() {
	runQueueLock.Acquire()
	if curThread != nil {
		curThread.Lock.Acquire()
		curThread.Preempted = true
		curThread.Lock.Release()
	}
	held := preemptDisableCount > 0
	if held {
		preemptRequested = true
	}
	runQueueLock.Release()
	if !held {
		Schedule()
	}
}

// SetThreadPrio changes t's priority, relocating it between run queues and
// preempting the current thread if warranted (§4.5). Handles the three
// cases atomically: RUNNING just updates the field and preempts if
// outranked; READY relocates between queue buckets; anything else simply
// updates the field.
func SetThreadPrio(t *Thread, newPrio int) *kernel.Error {
	if newPrio < 0 || newPrio >= NumPriorities {
		return errInvalidPriority
	}

	runQueueLock.Acquire()
	t.Lock.Acquire()

	switch t.State {
	case StateRunning:
		t.Priority = newPrio
		shouldPreempt := false
		if prio, ok := highestReady(); ok && prio < newPrio {
			shouldPreempt = true
		}
		t.Lock.Release()
		runQueueLock.Release()
		if shouldPreempt {
			Preempt()
		}
		return nil

	case StateReady:
		runQueues[t.Priority].Remove(&t.link)
		if runQueues[t.Priority].Empty() {
			readyBitmap &^= 1 << uint(t.Priority)
		}
		t.Priority = newPrio
		admit(t)
		isCurHigher := curThread != nil && newPrio < curThread.Priority
		t.Lock.Release()
		runQueueLock.Release()
		if isCurHigher {
			Preempt()
		}
		return nil

	default:
		t.Priority = newPrio
		t.Lock.Release()
		runQueueLock.Release()
		return nil
	}
}
