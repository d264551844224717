// Package ktime maintains the deadline-ordered timer-event list driven by
// the architecture's timer interrupt (delivered through inttab's HwInt
// dispatch for the timer GSI). It is generic over what a deadline firing
// means: callers supply the callback at registration, so this package
// carries no dependency on sched or inttab and cannot form an import cycle
// with either.
//
// Grounded on the timer-queue idiom of original_source/platform/pc/pit.c
// and original_source/armv8/timer.c, generalized to an architecture-neutral
// monotonic-ns deadline list.
package ktime

import (
	"time"

	"nexke/kernel/list"
	"nexke/kernel/sync"
)

// Now returns the current monotonic time in nanoseconds. Architecture
// backends would read this off a hardware clock source (HPET, PM timer,
// the ARM generic timer); this hosted core reads the Go runtime's
// monotonic clock instead.
func Now() int64 { return time.Now().UnixNano() }

// EventType classifies a TimeEvent for diagnostics; behavior is identical
// for both, driven entirely by the registered callback.
type EventType int

const (
	EventCallback EventType = iota
	EventThreadWake
)

// Flag tracks a TimeEvent's lifecycle state.
type Flag uint32

const (
	FlagInUse Flag = 1 << iota
	FlagExpired
	FlagPeriodic
)

// TimeEvent is one entry of the deadline-ordered event list.
type TimeEvent struct {
	Deadline int64 // monotonic nanoseconds
	Delta    int64 // re-arm interval for periodic events
	Type     EventType
	Payload  any
	Flags    Flag

	callback func(payload any)
	link     list.Link[TimeEvent]
}

var (
	events list.List[TimeEvent]
	lock   sync.Spinlock
)

// RegisterEvent inserts a new event in deadline order and returns it.
// Periodic events are re-armed at deadline+delta every time they fire,
// before their callback runs, so a callback that cancels its own event
// observes a consistent list.
func RegisterEvent(deadline, delta int64, typ EventType, payload any, periodic bool, callback func(payload any)) *TimeEvent {
	ev := &TimeEvent{
		Deadline: deadline,
		Delta:    delta,
		Type:     typ,
		Payload:  payload,
		Flags:    FlagInUse,
		callback: callback,
	}
	if periodic {
		ev.Flags |= FlagPeriodic
	}
	ev.link.Init(ev)

	lock.Acquire()
	insertOrdered(ev)
	lock.Release()
	return ev
}

func insertOrdered(ev *TimeEvent) {
	var after *list.Link[TimeEvent]
	events.Do(func(o *TimeEvent) {
		if after == nil && o.Deadline > ev.Deadline {
			after = &o.link
		}
	})
	if after == nil {
		events.PushBack(&ev.link)
		return
	}
	// list has no InsertBefore; rebuild the tail from after forward is
	// overkill for a core this small, so splice by removing the
	// remainder and re-pushing it behind ev.
	var tail []*TimeEvent
	for l := after; l != nil; l = events.Next(l) {
		tail = append(tail, l.Owner())
	}
	for _, t := range tail {
		events.Remove(&t.link)
	}
	events.PushBack(&ev.link)
	for _, t := range tail {
		t.link.Init(t)
		events.PushBack(&t.link)
	}
}

// CancelEvent removes ev if it has not yet fired. Returns false if ev had
// already expired (no-op in that case).
func CancelEvent(ev *TimeEvent) bool {
	lock.Acquire()
	defer lock.Release()
	if ev.Flags&FlagExpired != 0 {
		return false
	}
	if ev.link.Linked() {
		events.Remove(&ev.link)
	}
	ev.Flags &^= FlagInUse
	return true
}

// TimerTick fires every event whose deadline is at or before now. Called
// from the timer interrupt's HwInt chain handler.
func TimerTick(now int64) {
	for {
		lock.Acquire()
		front := events.Front()
		if front == nil || front.Owner().Deadline > now {
			lock.Release()
			return
		}
		ev := front.Owner()
		events.Remove(front)

		if ev.Flags&FlagPeriodic != 0 {
			ev.Deadline += ev.Delta
			ev.link.Init(ev)
			insertOrdered(ev)
		} else {
			ev.Flags |= FlagExpired
			ev.Flags &^= FlagInUse
		}
		lock.Release()

		if ev.callback != nil {
			ev.callback(ev.Payload)
		}
	}
}
