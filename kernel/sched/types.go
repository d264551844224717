// Package sched is the single-CPU priority scheduler: run queues, wait
// objects, time-slicing and thread termination. It depends on inttab and
// ktime (for the time-slice and wait-timeout events). Its only use of
// inttab is registering its own preemption hooks there via
// SetPreemptionHooks rather than inttab importing this package, so the
// dependency only ever runs one way; the run-queue lock is taken without
// raising the IPL.
//
// Grounded on gopheros' cooperative-run-queue idiom (kernel/kernel.go),
// generalized to the priority run-queue array, ready bitmap and wait-object
// model this spec adds. Since this hosted core has no real CPU register
// file to context-switch, each Thread is backed by one goroutine parked on
// a private channel: Schedule() still performs the single-CPU handoff the
// spec describes (at most one thread RUNNING at a time, chosen by
// priority), it just signals "resume" over a channel instead of restoring
// a saved stack pointer.
package sched

import (
	"runtime"
	"sync/atomic"

	"nexke/kernel"
	"nexke/kernel/ktime"
	"nexke/kernel/list"
	"nexke/kernel/sync"
)

// NumPriorities bounds the run-queue array; index 0 is highest priority.
// A uint64 ready bitmap covers the full range.
const NumPriorities = 64

// DefaultQuantum is the number of scheduler ticks a round-robin/normal
// thread runs before TIMESLICE_DELTA forces a preemption request.
const DefaultQuantum = 5

// TimesliceDelta is the periodic time-event interval driving time slicing,
// in nanoseconds (10ms).
const TimesliceDelta = 10_000_000

// Policy is a thread's scheduling policy.
type Policy int

const (
	PolicyNormal Policy = iota
	PolicyFIFO
	PolicyRoundRobin
)

// State is a thread's lifecycle state (§3.6).
type State int

const (
	StateCreated State = iota
	StateReady
	StateRunning
	StateWaiting
	StateTerminating
)

// Flag modifies scheduling behavior for a thread.
type Flag uint32

const (
	FlagIdle Flag = 1 << iota
	FlagFixedPrio
	FlagFifo
)

// WaitType classifies what a WaitObject is blocking on.
type WaitType int

const (
	WaitTimer WaitType = iota
	WaitMsg
	WaitSemaphore
	WaitCondition
	WaitMutex
	WaitQueue
)

// WaitResult is the outcome ClearWait assigns.
type WaitResult int

const (
	ResultInProgress WaitResult = iota
	ResultSuccess
	ResultTimeout
)

// WaitObject is an owner/target pair blocking a thread (§3.6).
type WaitObject struct {
	Owner   *Thread
	Waiter  *Thread
	Type    WaitType
	Timeout int64
	Target  any
	Result  WaitResult

	targetLink list.Link[WaitObject] // linked into the target's wait-list
	ownedLink  list.Link[WaitObject] // linked into owner.Owned

	timer *ktime.TimeEvent
	Lock  sync.Spinlock
}

// Thread is one schedulable unit (§3.6).
type Thread struct {
	link list.Link[Thread] // ready/wait queue link; first logical field

	Lock sync.Spinlock

	TID      uint64
	Name     string
	Priority int
	Policy   Policy
	State    State
	Flags    Flag

	Quantum   int
	TicksLeft int

	Entry func(arg any)
	Arg   any

	ExitCode int

	Wait  WaitObject // embedded wait, used by AssertWait/WaitOnObj
	Timer WaitObject // embedded timeout-only wait, used for sleeps

	Owned list.List[WaitObject]

	joinWaiters list.List[Thread]
	joinLock    sync.Spinlock
	joinClosed  bool

	Preempted      bool
	TimeoutPending bool
	waitAsserted   int32 // atomic gate; see TskThreadCheckAssert

	refCount int32

	resume chan struct{}
	done   chan struct{}
}

// Done returns the channel DestroyThread closes once t's resources have
// been released. Used by kernel/work to know when a terminator item has
// actually finished, not merely been dequeued.
func (t *Thread) Done() <-chan struct{} { return t.done }

// TskThreadCheckAssert spins until t's wait has been fully recorded by
// stopThread, i.e. until it is safe for a waker to free the wait object
// without racing a thread that has not yet parked.
func TskThreadCheckAssert(t *Thread) {
	for atomic.LoadInt32(&t.waitAsserted) == 0 {
		runtime.Gosched()
	}
}

var (
	errInvalidPriority = &kernel.Error{Module: "sched", Message: "priority out of range"}
	errNotWaiting      = &kernel.Error{Module: "sched", Message: "thread is not in a waitable state"}
)
