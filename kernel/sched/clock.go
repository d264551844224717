package sched

import (
	"time"

	"nexke/kernel/ktime"
)

var clockStarted bool

// StartClock arms the periodic time-slice event and starts the background
// goroutine driving ktime.TimerTick. Real architectures drive TimerTick
// from the timer GSI's HwInt chain handler; this hosted core has no timer
// hardware to interrupt on, so a goroutine stands in for it, ticking at a
// resolution well below TimesliceDelta.
func StartClock() {
	if clockStarted {
		return
	}
	clockStarted = true

	ktime.RegisterEvent(ktime.Now()+TimesliceDelta, TimesliceDelta, ktime.EventCallback, nil, true, func(any) {
		tickTimeslice()
	})

	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			ktime.TimerTick(ktime.Now())
		}
	}()
}

// tickTimeslice runs on every TimesliceDelta firing: non-FIFO current
// threads lose a tick; at zero, preemption is requested.
func tickTimeslice() {
	runQueueLock.Acquire()
	t := curThread
	runQueueLock.Release()
	if t == nil || t.Flags&FlagFifo != 0 {
		return
	}

	t.Lock.Acquire()
	t.TicksLeft--
	expired := t.TicksLeft <= 0
	t.Lock.Release()

	if expired {
		Preempt()
	}
}
