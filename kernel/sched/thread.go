package sched

import (
	"sync/atomic"

	"nexke/kernel"
)

// terminatorEnqueueFn is registered by kernel/work at init so TerminateSelf
// can hand a thread to the terminator work queue without sched importing
// work (work already depends on sched, for DestroyThread; the reverse
// edge would cycle).
var terminatorEnqueueFn func(t *Thread)

// SetTerminator registers the terminator work queue's enqueue function.
func SetTerminator(fn func(t *Thread)) { terminatorEnqueueFn = fn }

// NewThread allocates a thread in the CREATED state. entry runs on its own
// goroutine once StartThread admits it to a run queue for the first time.
func NewThread(name string, prio int, policy Policy, entry func(arg any), arg any) *Thread {
	t := &Thread{
		TID:      atomic.AddUint64(&nextTID, 1),
		Name:     name,
		Priority: prio,
		Policy:   policy,
		State:    StateCreated,
		Quantum:  DefaultQuantum,
		Entry:    entry,
		Arg:      arg,
		refCount: 1,
		resume:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	if policy == PolicyFIFO {
		t.Flags |= FlagFifo
	}
	return t
}

// NewIdleThread creates and installs the CCB's idle thread: the thread
// Schedule() picks when the ready bitmap is empty. It never sits on a run
// queue itself.
func NewIdleThread() *Thread {
	t := NewThread("idle", NumPriorities-1, PolicyNormal, func(any) {
		for {
			<-idleThread.resume
		}
	}, nil)
	t.Flags |= FlagIdle
	t.State = StateReady
	go runThread(t)
	idleThread = t
	return t
}

func runThread(t *Thread) {
	<-t.resume
	t.Entry(t.Arg)
	if t.Flags&FlagIdle == 0 {
		TerminateSelf(0)
	}
}

// StartThread transitions t from CREATED to READY and launches its
// goroutine, which parks immediately until Schedule() first selects it.
func StartThread(t *Thread) {
	go runThread(t)
	ReadyThread(t)
}

// TerminateSelf ends the calling thread (per spec, always the current
// thread): marks it TERMINATING, releases every thread joined on it,
// wakes its owned wait objects with SUCCESS, and hands it to the
// terminator work queue unless refcount stays non-zero, in which case
// the last JoinThread caller hands it to that queue instead.
func TerminateSelf(code int) {
	t := curThread

	t.Lock.Acquire()
	t.State = StateTerminating
	t.ExitCode = code
	t.Lock.Release()

	t.joinLock.Acquire()
	t.joinClosed = true
	for l := t.joinWaiters.PopFront(); l != nil; l = t.joinWaiters.PopFront() {
		ReadyThread(l.Owner())
	}
	t.joinLock.Release()

	t.Owned.Do(func(w *WaitObject) {
		ClearWait(w, ResultSuccess)
	})

	if atomic.AddInt32(&t.refCount, -1) == 0 && terminatorEnqueueFn != nil {
		terminatorEnqueueFn(t)
	}

	Schedule() // this goroutine is never scheduled back in
}

// JoinThread blocks the caller until t terminates, then hands t to the
// terminator work queue for destruction if no other reference remains.
func JoinThread(t *Thread) int {
	return joinThread(t, 0)
}

// JoinThreadTimeout is JoinThread bounded by a timeout in nanoseconds.
func JoinThreadTimeout(t *Thread, timeoutNs int64) (code int, timedOut bool) {
	code = joinThread(t, timeoutNs)
	return code, code == -1
}

func joinThread(t *Thread, timeoutNs int64) int {
	atomic.AddInt32(&t.refCount, 1)

	t.joinLock.Acquire()
	if t.joinClosed {
		code := t.ExitCode
		t.joinLock.Release()
		finishJoin(t)
		return code
	}

	self := curThread
	self.Wait = WaitObject{Owner: self, Waiter: self, Type: WaitQueue, Target: t, Timeout: timeoutNs}
	self.Wait.targetLink.Init(&self.Wait)
	t.joinWaiters.PushBack(&self.link)
	t.joinLock.Release()

	AssertWait(timeoutNs, &self.Wait, WaitQueue)
	WaitOnObj(&self.Wait, 0)

	code := t.ExitCode
	if self.Wait.Result == ResultTimeout {
		code = -1
	}
	finishJoin(t)
	return code
}

func finishJoin(t *Thread) {
	if atomic.AddInt32(&t.refCount, -1) == 0 && terminatorEnqueueFn != nil {
		terminatorEnqueueFn(t)
	}
}

// DestroyThread releases a terminated thread's resources. Called by the
// terminator work queue's worker once refcount has reached zero.
func DestroyThread(t *Thread) *kernel.Error {
	t.Lock.Acquire()
	defer t.Lock.Release()
	if t.State != StateTerminating {
		return errNotWaiting
	}
	close(t.done)
	return nil
}
