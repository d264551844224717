package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nexke/kernel/list"
)

func resetSched() {
	runQueueLock.Acquire()
	for i := range runQueues {
		runQueues[i] = list.List[Thread]{}
	}
	readyBitmap = 0
	curThread = nil
	idleThread = nil
	preemptDisableCount = 0
	preemptRequested = false
	runQueueLock.Release()
}

func TestReadyThreadSetsBitmapAndQueue(t *testing.T) {
	resetSched()
	th := NewThread("worker", 10, PolicyNormal, func(any) {}, nil)

	ReadyThread(th)

	require.Equal(t, StateReady, th.State)
	require.NotZero(t, readyBitmap&(1<<10))
	prio, ok := highestReady()
	require.True(t, ok)
	require.Equal(t, 10, prio)
}

func TestReadyThreadPreemptedResumeGoesToHead(t *testing.T) {
	resetSched()
	a := NewThread("a", 5, PolicyNormal, func(any) {}, nil)
	b := NewThread("b", 5, PolicyNormal, func(any) {}, nil)

	ReadyThread(a) // first in, FCFS tail

	// Simulate a having been preempted mid-quantum: stopThread would have
	// re-admitted it at the head rather than the tail.
	runQueueLock.Acquire()
	runQueues[5].Remove(&a.link)
	readyBitmap &^= 1 << 5
	a.Preempted = true
	a.TicksLeft = 2
	admit(a)
	runQueueLock.Release()

	ReadyThread(b) // fresh, FCFS tail

	front := runQueues[5].Front().Owner()
	require.Equal(t, "a", front.Name, "a resumed with ticks left, so it kept the head")
}

func TestSetThreadPrioRelocatesReadyThread(t *testing.T) {
	resetSched()
	th := NewThread("worker", 20, PolicyNormal, func(any) {}, nil)
	ReadyThread(th)

	require.NoError(t, SetThreadPrio(th, 5))
	require.Zero(t, readyBitmap&(1<<20))
	require.NotZero(t, readyBitmap&(1<<5))
	require.Equal(t, 5, th.Priority)
}

func TestSetThreadPrioRejectsOutOfRange(t *testing.T) {
	resetSched()
	th := NewThread("worker", 20, PolicyNormal, func(any) {}, nil)
	require.Error(t, SetThreadPrio(th, NumPriorities))
}

func waitState(t *testing.T, th *Thread, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		th.Lock.Acquire()
		s := th.State
		th.Lock.Release()
		if s == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("thread %s never reached state %v", th.Name, want)
}

// TestPriorityPreemption is scenario S5: readying a higher-priority thread
// while a lower-priority one runs hands the CPU to the new thread by the
// next Schedule() call.
func TestPriorityPreemption(t *testing.T) {
	resetSched()
	NewIdleThread()

	lowRunning := make(chan struct{})
	lowMayExit := make(chan struct{})
	low := NewThread("low", 30, PolicyNormal, func(any) {
		close(lowRunning)
		<-lowMayExit
	}, nil)
	high := NewThread("high", 10, PolicyNormal, func(any) {}, nil)

	StartThread(low)
	Schedule() // bootstrap: no current thread yet, hands off to low
	<-lowRunning
	waitState(t, low, StateRunning)
	require.Equal(t, low, curThread)

	StartThread(high) // outranks low; ReadyThread triggers Preempt()
	waitState(t, high, StateRunning)
	require.Equal(t, high, curThread)

	close(lowMayExit)
}

// TestWaitTimeout is scenario S6: a thread sleeping with no waker times
// out on its own and becomes ready again with ResultTimeout.
func TestWaitTimeout(t *testing.T) {
	resetSched()
	NewIdleThread()
	StartClock()

	var result WaitResult
	done := make(chan struct{})
	w := NewThread("sleeper", 15, PolicyNormal, func(any) {
		wo := &WaitObject{}
		AssertWait(int64(30*time.Millisecond), wo, WaitTimer)
		result = WaitOnObj(wo, 0)
		close(done)
	}, nil)

	before := time.Now()
	StartThread(w)
	Schedule() // bootstrap: no current thread yet, hands off to w

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sleeper never woke")
	}
	require.Equal(t, ResultTimeout, result)
	require.GreaterOrEqual(t, time.Since(before), 30*time.Millisecond)
}

func TestClearWaitOnlyFirstCallerWins(t *testing.T) {
	w := &WaitObject{}
	var wins int32
	done := make(chan bool, 2)
	go func() { done <- ClearWait(w, ResultSuccess) }()
	go func() { done <- ClearWait(w, ResultTimeout) }()
	for i := 0; i < 2; i++ {
		if <-done {
			atomic.AddInt32(&wins, 1)
		}
	}
	require.Equal(t, int32(1), wins)
	require.NotEqual(t, ResultInProgress, w.Result)
}
