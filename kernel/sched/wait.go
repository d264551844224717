package sched

import (
	"sync/atomic"

	"nexke/kernel/ktime"
)

// OwnWait requests, on a successful WaitOnObj, that the wait object be
// linked into the calling thread's owned list.
const OwnWait = 1

// AssertWait marks the current thread WAITING on w and, if timeout is
// positive, arms a timer that resolves w with ResultTimeout. Per §4.5 this
// is called with the target's lock already held by the caller.
func AssertWait(timeout int64, w *WaitObject, typ WaitType) {
	t := curThread

	t.Lock.Acquire()
	t.State = StateWaiting
	atomic.StoreInt32(&t.waitAsserted, 0)
	t.Lock.Release()

	w.Lock.Acquire()
	w.Type = typ
	w.Timeout = timeout
	w.Result = ResultInProgress
	w.Waiter = t
	w.Owner = t
	w.Lock.Release()

	if timeout > 0 {
		t.TimeoutPending = true
		w.timer = ktime.RegisterEvent(ktime.Now()+timeout, 0, ktime.EventThreadWake, w, false, func(payload any) {
			wo := payload.(*WaitObject)
			if ClearWait(wo, ResultTimeout) {
				WakeObj(wo)
			}
		})
	}
}

// WaitOnObj suspends the current thread until w's result leaves
// ResultInProgress. If flags requests OwnWait and the wait succeeded, w is
// linked into the thread's owned list.
//
// Schedule() itself never blocks its caller (see its doc comment), so the
// actual parking happens here: self is always the calling goroutine's own
// thread (AssertWait, called just before this, only ever marks curThread
// WAITING), so blocking on self.resume is safe regardless of who else is
// running concurrently.
func WaitOnObj(w *WaitObject, flags int) WaitResult {
	self := w.Waiter
	Schedule()
	<-self.resume

	self.TimeoutPending = false
	if flags&OwnWait != 0 && w.Result == ResultSuccess {
		w.ownedLink.Init(w)
		self.Owned.PushBack(&w.ownedLink)
	}
	return w.Result
}

// ClearWait is the single atomic handoff between a wait's success and
// timeout paths: only the first caller (while still IN_PROG) wins,
// deregisters the other path's timer, and sets result.
func ClearWait(w *WaitObject, result WaitResult) bool {
	w.Lock.Acquire()
	defer w.Lock.Release()
	if w.Result != ResultInProgress {
		return false
	}
	if w.timer != nil {
		ktime.CancelEvent(w.timer)
		w.timer = nil
	}
	w.Result = result
	return true
}

// WakeObj readies w's waiter. Callers resolve the outcome with ClearWait
// first (WakeObj does not re-resolve it) — the usual pattern is
// `if ClearWait(w, ResultSuccess) { WakeObj(w) }`, called only by whichever
// path won the race. Spins on the waiter's wait-asserted gate first, so it
// never reads a wait object the target thread has not finished parking
// into.
func WakeObj(w *WaitObject) {
	t := w.Waiter
	if t == nil {
		return
	}
	TskThreadCheckAssert(t)
	ReadyThread(t)
}
