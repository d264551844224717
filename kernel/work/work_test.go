package work

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nexke/kernel/sched"
)

func TestEnqueueDestroysThread(t *testing.T) {
	th := sched.NewThread("victim", 20, sched.PolicyNormal, func(any) {}, nil)
	th.State = sched.StateTerminating

	Enqueue(th)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-th.Done():
			return
		default:
			time.Sleep(time.Millisecond)
		}
	}
	t.Fatal("terminator worker never destroyed the thread")
}

func TestDrainProcessesInFIFOOrder(t *testing.T) {
	var order []string
	record := func(name string) *sched.Thread {
		th := sched.NewThread(name, 20, sched.PolicyNormal, func(any) {}, nil)
		th.State = sched.StateTerminating
		return th
	}

	a, b, c := record("a"), record("b"), record("c")
	Enqueue(a)
	Enqueue(b)
	Enqueue(c)

	// Once the last-queued thread is destroyed, FIFO processing means every
	// earlier one already is.
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("%s never destroyed", c.Name)
	}
	for _, th := range []*sched.Thread{a, b, c} {
		select {
		case <-th.Done():
			order = append(order, th.Name)
		default:
		}
	}
	require.Equal(t, []string{"a", "b", "c"}, order)
}
