package inttab

import (
	"nexke/kernel"
	"nexke/kernel/sync"
)

// InstallExec installs an exception handler at vector v, which must be
// below CPUBaseHwInt.
func InstallExec(v int, h ExecHandler) *kernel.Error {
	return install(v, &Interrupt{Vector: v, Type: TypeException, ExecFn: h})
}

// InstallSvc installs a service-trap handler at vector v, which must be
// below CPUBaseHwInt.
func InstallSvc(v int, h SvcHandler) *kernel.Error {
	return install(v, &Interrupt{Vector: v, Type: TypeService, SvcFn: h})
}

func install(v int, entry *Interrupt) *kernel.Error {
	if v < 0 || v >= CPUBaseHwInt {
		return errBadVector
	}
	tableLock.Acquire()
	defer tableLock.Release()
	if table[v] != nil {
		return errAlreadyInUse
	}
	table[v] = entry
	return nil
}

// UninstallInterrupt clears the table entry at vector v.
func UninstallInterrupt(v int) *kernel.Error {
	tableLock.Acquire()
	defer tableLock.Release()
	if v < 0 || v >= MaxInts || table[v] == nil {
		return errNotInstalled
	}
	table[v] = nil
	return nil
}

// compatible reports whether rec may share a's existing chain.
func compatible(a *Chain, rec *HwIntRecord) bool {
	if rec.Flags&NonChainable != 0 || a.Mode == ModeEdge {
		return false
	}
	return a.Polarity == rec.Polarity && a.Mode == rec.Mode
}

var chains = map[int]*Chain{}
var chainsLock sync.Spinlock

// ConnectInterrupt assigns rec a vector, installing it at the head of its
// GSI's chain. Returns the vector, or -1 if rec is incompatible with an
// existing, unremappable chain.
func ConnectInterrupt(rec *HwIntRecord) int {
	chainsLock.Acquire()
	c, ok := chains[rec.GSI]
	if !ok {
		c = &Chain{GSI: rec.GSI, Mode: rec.Mode, Polarity: rec.Polarity}
		chains[rec.GSI] = c
	}
	chainsLock.Release()

	c.Lock.Acquire()
	defer c.Lock.Release()

	if c.Length == 0 {
		vector, ok := controller.ConnectInterrupt(rec)
		if !ok {
			return -1
		}
		c.Vector = vector
		c.IPL = rec.IPL
		c.Mode = rec.Mode
		c.Polarity = rec.Polarity
	} else {
		if !compatible(c, rec) {
			return -1
		}
		if rec.Flags&ForceIPL != 0 && c.IPL != rec.IPL {
			if !remapChain(c, rec.IPL) {
				return -1
			}
		}
	}

	rec.Vector = c.Vector
	rec.link.Init(rec)
	c.head.PushFront(&rec.link)
	c.Length++
	if c.Length >= 2 {
		c.head.Do(func(r *HwIntRecord) { r.Flags |= Chained })
	}

	if controller.EnableInterrupt != nil {
		controller.EnableInterrupt(c.Vector)
	}
	return c.Vector
}

// remapChain reallocates c's vector at newIpl and retargets every record
// currently on the chain. Fails (without side effects) if the chain has
// been marked NoRemap by a previous use.
func remapChain(c *Chain, newIpl int) bool {
	if c.NoRemap {
		return false
	}
	dummy := &HwIntRecord{GSI: c.GSI, IPL: newIpl, Mode: c.Mode, Polarity: c.Polarity}
	vector, ok := controller.ConnectInterrupt(dummy)
	if !ok {
		return false
	}
	c.Vector = vector
	c.IPL = newIpl
	c.head.Do(func(r *HwIntRecord) { r.Vector = vector })
	c.NoRemap = true
	return true
}

// DisconnectInterrupt removes rec from its chain, masking and freeing the
// vector if the chain becomes empty.
func DisconnectInterrupt(rec *HwIntRecord) {
	chainsLock.Acquire()
	c, ok := chains[rec.GSI]
	chainsLock.Release()
	if !ok {
		return
	}

	c.Lock.Acquire()
	defer c.Lock.Release()

	c.head.Remove(&rec.link)
	c.Length--
	if c.Length == 1 {
		c.head.Do(func(r *HwIntRecord) { r.Flags &^= Chained })
	}
	if c.Length == 0 {
		if controller.DisconnectInterrupt != nil {
			controller.DisconnectInterrupt(c.Vector)
		}
		chainsLock.Acquire()
		delete(chains, rec.GSI)
		chainsLock.Release()
	}
}
