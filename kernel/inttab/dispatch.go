package inttab

import "nexke/kernel/kfmt"

// TrapDispatch is the architecture trap entry's single call into this core.
// It looks the vector up in the table, routes it by IntType, and for
// hardware interrupts walks the owning chain under the controller's
// begin/end-interrupt bracket.
func TrapDispatch(ctx *Context) {
	intCount++

	if ctx.Vector < 0 || ctx.Vector >= MaxInts {
		badTrap(ctx)
		return
	}
	tableLock.Acquire()
	entry := table[ctx.Vector]
	tableLock.Release()
	if entry == nil {
		badTrap(ctx)
		return
	}

	entry.Lock.Acquire()
	entry.CallCount++
	entry.Lock.Release()

	switch entry.Type {
	case TypeException:
		if !entry.ExecFn(ctx) {
			badTrap(ctx)
		}
	case TypeService:
		entry.SvcFn(ctx)
	case TypeHwInt:
		dispatchHwInt(entry, ctx)
	default:
		badTrap(ctx)
	}
}

// dispatchHwInt runs one hardware-interrupt chain: preemption is held off
// for the duration, the controller's begin/end-interrupt bracket guards
// the chain walk, and IPL is raised to the chain's level and restored
// before return.
func dispatchHwInt(entry *Interrupt, ctx *Context) {
	if preemptDisableFn != nil {
		preemptDisableFn()
	}
	defer func() {
		if preemptEnableFn != nil {
			preemptEnableFn()
		}
	}()

	if controller == nil || controller.BeginInterrupt == nil {
		spuriousInts++
		return
	}
	if spurious := controller.BeginInterrupt(ctx.Vector); spurious {
		spuriousInts++
		return
	}

	c := entry.Chain
	oldIpl := IPLLow
	if c != nil {
		oldIpl = RaiseIpl(c.IPL)
	}

	handled := false
	if c != nil {
		intActive = true
		c.head.Do(func(r *HwIntRecord) {
			if !handled && r.Handler != nil && r.Handler() {
				handled = true
			}
		})
		intActive = false
	}
	if !handled {
		spuriousInts++
	}

	if c != nil {
		LowerIpl(oldIpl)
	}

	if controller.EndInterrupt != nil {
		controller.EndInterrupt(ctx.Vector)
	}

	if handled && preemptRequestFn != nil {
		preemptRequestFn()
	}
}

func badTrap(ctx *Context) {
	trapCount++
	kfmt.Panic(errBadTrap)
}
