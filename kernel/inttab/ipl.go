package inttab

import (
	"nexke/kernel/cpu"
	"nexke/kernel/kfmt"
)

// RaiseIpl raises the CCB's current IPL to newIpl, which must not be lower
// than the current level, and returns the previous level for a matching
// LowerIpl. Briefly disables CPU interrupts while updating CCB state;
// programs the controller unless reaching IPLHigh, which instead disables
// all maskable interrupts directly.
func RaiseIpl(newIpl int) int {
	wasEnabled := cpu.InterruptsEnabled()
	cpu.DisableInterrupts()

	iplLock.Acquire()
	old := curIPL
	if newIpl < old {
		iplLock.Release()
		if wasEnabled {
			cpu.EnableInterrupts()
		}
		kfmt.Panic(errIplViolation)
	}
	curIPL = newIpl
	programIpl(newIpl)
	iplLock.Release()

	if wasEnabled && newIpl < IPLHigh {
		cpu.EnableInterrupts()
	}
	return old
}

// LowerIpl lowers the CCB's current IPL to oldIpl, which must not be
// higher than the current level. Lowering from IPLHigh to a level below it
// re-enables CPU interrupts.
func LowerIpl(oldIpl int) {
	wasEnabled := cpu.InterruptsEnabled()
	cpu.DisableInterrupts()

	iplLock.Acquire()
	if oldIpl > curIPL {
		iplLock.Release()
		if wasEnabled {
			cpu.EnableInterrupts()
		}
		kfmt.Panic(errIplViolation)
	}
	fromHigh := curIPL >= IPLHigh
	curIPL = oldIpl
	programIpl(oldIpl)
	iplLock.Release()

	if wasEnabled || (fromHigh && oldIpl < IPLHigh) {
		cpu.EnableInterrupts()
	}
}

// programIpl reflects ipl to hardware. IPLHigh is not programmed into the
// controller: RaiseIpl leaves CPU interrupts disabled for it and LowerIpl
// re-enables them; every other level goes through the controller's mask
// window.
func programIpl(ipl int) {
	if ipl >= IPLHigh {
		return
	}
	if controller != nil && controller.SetIpl != nil {
		controller.SetIpl(ipl)
	}
}
