package inttab

import "nexke/kernel/sync"

// HwIntCtrl is the architecture's hardware interrupt controller contract
// (§4.4): one implementation per controller kind (8259A / APIC / GIC) is
// installed at platform init via SetController.
type HwIntCtrl struct {
	BeginInterrupt      func(vector int) (spurious bool)
	EndInterrupt        func(vector int)
	EnableInterrupt     func(vector int)
	DisableInterrupt    func(vector int)
	SetIpl              func(ipl int)
	ConnectInterrupt    func(rec *HwIntRecord) (vector int, ok bool)
	DisconnectInterrupt func(vector int)
	GetVector           func(gsi int) int
}

var (
	table      [MaxInts]*Interrupt
	tableLock  sync.Spinlock
	controller *HwIntCtrl

	curIPL  int
	iplLock sync.Spinlock

	intCount     uint64
	trapCount    uint64
	spuriousInts uint64
	intActive    bool
)

// IPL levels used by this core; architectures map their own priority
// scale onto these via controller.SetIpl.
const (
	IPLLow  = 0
	IPLHigh = 15
)

// SetController installs the architecture's hardware interrupt controller.
func SetController(c *HwIntCtrl) { controller = c }

// Controller returns the currently installed controller.
func Controller() *HwIntCtrl { return controller }

// preemption hooks, installed by sched at init to let the HwInt dispatch
// path disable/enable preemption without inttab importing sched (sched
// imports inttab, not the reverse).
var (
	preemptDisableFn func()
	preemptEnableFn  func()
	preemptRequestFn func()
)

// SetPreemptionHooks registers the scheduler's preemption-control
// functions. Must be called before any hardware interrupt is dispatched.
func SetPreemptionHooks(disable, enable, request func()) {
	preemptDisableFn = disable
	preemptEnableFn = enable
	preemptRequestFn = request
}

// Stats returns (intCount, trapCount, spuriousInts) since boot.
func Stats() (uint64, uint64, uint64) { return intCount, trapCount, spuriousInts }

// CurIPL returns the CCB's current IPL.
func CurIPL() int {
	iplLock.Acquire()
	defer iplLock.Release()
	return curIPL
}
