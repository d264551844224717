// Package work is the terminator work queue (§4.5): a single-consumer FIFO
// that destroys threads after TerminateSelf has dropped their refcount to
// zero. Threads cannot free their own stack and Thread struct as part of
// their own exit, so TerminateSelf hands them off here instead of calling
// DestroyThread directly.
package work

import (
	"context"

	"golang.org/x/sync/semaphore"

	"nexke/kernel/kfmt"
	"nexke/kernel/list"
	"nexke/kernel/sched"
	"nexke/kernel/sync"
)

// node wraps a queued thread; sched.Thread's own link field is private to
// sched (it belongs to the run queues), so the terminator queue threads
// its own list rather than reaching into that field.
type node struct {
	link list.Link[node]
	t    *sched.Thread
}

var (
	lock     sync.Spinlock
	pending  list.List[node]
	doorbell = make(chan struct{}, 1)

	// admit gates the processing of one item at a time. The background
	// worker goroutine is the only real consumer, but gating the actual
	// work through the semaphore (rather than relying on "there happens
	// to be one goroutine") keeps the one-item-at-a-time guarantee true
	// even when a test drains the queue directly alongside the worker.
	admit = semaphore.NewWeighted(1)
)

func init() {
	sched.SetTerminator(Enqueue)
	go worker()
}

// Enqueue pushes t onto the terminator queue and wakes the worker. Called
// by TerminateSelf once a thread's refcount reaches zero.
func Enqueue(t *sched.Thread) {
	n := &node{t: t}
	n.link.Init(n)

	lock.Acquire()
	pending.PushBack(&n.link)
	lock.Release()

	select {
	case doorbell <- struct{}{}:
	default:
	}
}

func worker() {
	for range doorbell {
		Drain()
	}
}

// Drain processes every thread currently queued, oldest first, calling
// sched.DestroyThread on each. Exported so tests can synchronize on
// completion instead of racing the background worker goroutine.
func Drain() {
	ctx := context.Background()
	for {
		lock.Acquire()
		front := pending.PopFront()
		lock.Release()
		if front == nil {
			return
		}
		t := front.Owner().t

		if err := admit.Acquire(ctx, 1); err != nil {
			return
		}
		if err := sched.DestroyThread(t); err != nil {
			kfmt.Printf("work: destroy %s failed: %s\n", t.Name, err.Message)
		}
		admit.Release(1)
	}
}
