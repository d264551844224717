package cpu

import "sync/atomic"

var (
	cpuidFn = ID

	interruptsEnabled int32 = 1
	haltCount         uint64
	flushAllCount     uint64
	flushAddrCount    uint64
	activePDT         uintptr
	lastCR2           uint64
)

// EnableInterrupts enables interrupt handling. Real hardware executes STI;
// this hosted build has no flag register to set, so it just updates the
// bit IPL programming and InterruptsEnabled read back.
func EnableInterrupts() {
	atomic.StoreInt32(&interruptsEnabled, 1)
}

// DisableInterrupts disables interrupt handling (hosted CLI).
func DisableInterrupts() {
	atomic.StoreInt32(&interruptsEnabled, 0)
}

// InterruptsEnabled reports the hosted interrupt-enable flag maintained by
// EnableInterrupts/DisableInterrupts in place of the real CPU flags
// register.
func InterruptsEnabled() bool {
	return atomic.LoadInt32(&interruptsEnabled) != 0
}

// Halt stops instruction execution. On real hardware this is HLT and never
// returns; a hosted build has no instruction stream to stop, so it only
// counts invocations. The "a panicking kernel never returns" contract is
// enforced by kfmt.Panic re-panicking with the original error after
// calling this, not by Halt itself.
func Halt() {
	atomic.AddUint64(&haltCount, 1)
}

// HaltCount returns the number of times Halt has been called.
func HaltCount() uint64 { return atomic.LoadUint64(&haltCount) }

// FlushTLBEntry flushes a TLB entry for a particular virtual address. A
// hosted build has no TLB; this only counts calls, mirroring how
// mul.SimBackend stands in for the page-table cache's hardware flush.
func FlushTLBEntry(virtAddr uintptr) {
	atomic.AddUint64(&flushAddrCount, 1)
}

// FlushAddrCount returns the number of times FlushTLBEntry has been called.
func FlushAddrCount() uint64 { return atomic.LoadUint64(&flushAddrCount) }

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr) {
	atomic.StoreUintptr(&activePDT, pdtPhysAddr)
	atomic.AddUint64(&flushAllCount, 1)
}

// FlushAllCount returns the number of times SwitchPDT has flushed the TLB.
func FlushAllCount() uint64 { return atomic.LoadUint64(&flushAllCount) }

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr {
	return atomic.LoadUintptr(&activePDT)
}

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64 {
	return atomic.LoadUint64(&lastCR2)
}

// SetCR2 records the faulting address a simulated page fault would have
// left in CR2, for a hosted fault handler to hand to ReadCR2 callers.
func SetCR2(addr uint64) {
	atomic.StoreUint64(&lastCR2, addr)
}

// ID returns information about the CPU and its features. Real hardware
// executes a CPUID instruction with EAX=leaf; a hosted build has no CPU to
// query, so it reports a fixed GenuineIntel leaf-0 vendor string and zero
// feature bits for every other leaf, which is enough for IsIntel below to
// exercise the real decode logic.
func ID(leaf uint32) (uint32, uint32, uint32, uint32) {
	if leaf == 0 {
		return 0, 0x756e6547, 0x6c65746e, 0x49656e69 // "Genu", "ntel", "ineI"
	}
	return 0, 0, 0, 0
}

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}
