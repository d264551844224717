package inttab

import "nexke/kernel/sync"

// SimController is a software-only HwIntCtrl: it allocates vectors out of
// the CPUBaseHwInt..MaxInts range and tracks per-vector enable state and
// GSI assignment, but drives no real hardware. It exists so the chain/IPL
// logic in this package is host-testable without an 8259A, APIC, or GIC
// backend; a real architecture installs its own HwIntCtrl via
// SetController instead. BeginInterrupt/EndInterrupt/SetIpl are no-ops
// beyond bookkeeping, since there is no physical controller to ack.
type SimController struct {
	lock sync.Spinlock

	nextVector int
	free       []int
	gsiVector  map[int]int
	enabled    map[int]bool
}

// NewSimController returns a ready-to-install SimController.
func NewSimController() *SimController {
	return &SimController{
		nextVector: CPUBaseHwInt,
		gsiVector:  make(map[int]int),
		enabled:    make(map[int]bool),
	}
}

// HwIntCtrl builds the HwIntCtrl function table bound to this instance,
// suitable for inttab.SetController.
func (s *SimController) HwIntCtrl() *HwIntCtrl {
	return &HwIntCtrl{
		BeginInterrupt:      s.beginInterrupt,
		EndInterrupt:        s.endInterrupt,
		EnableInterrupt:     s.enableInterrupt,
		DisableInterrupt:    s.disableInterrupt,
		SetIpl:              s.setIpl,
		ConnectInterrupt:    s.connectInterrupt,
		DisconnectInterrupt: s.disconnectInterrupt,
		GetVector:           s.getVector,
	}
}

func (s *SimController) allocVector() int {
	if n := len(s.free); n > 0 {
		v := s.free[n-1]
		s.free = s.free[:n-1]
		return v
	}
	v := s.nextVector
	s.nextVector++
	return v
}

func (s *SimController) connectInterrupt(rec *HwIntRecord) (int, bool) {
	s.lock.Acquire()
	defer s.lock.Release()
	if v, ok := s.gsiVector[rec.GSI]; ok {
		return v, true
	}
	if s.nextVector >= MaxInts && len(s.free) == 0 {
		return 0, false
	}
	v := s.allocVector()
	s.gsiVector[rec.GSI] = v
	return v, true
}

func (s *SimController) disconnectInterrupt(vector int) {
	s.lock.Acquire()
	defer s.lock.Release()
	for gsi, v := range s.gsiVector {
		if v == vector {
			delete(s.gsiVector, gsi)
			break
		}
	}
	delete(s.enabled, vector)
	s.free = append(s.free, vector)
}

func (s *SimController) enableInterrupt(vector int) {
	s.lock.Acquire()
	defer s.lock.Release()
	s.enabled[vector] = true
}

func (s *SimController) disableInterrupt(vector int) {
	s.lock.Acquire()
	defer s.lock.Release()
	s.enabled[vector] = false
}

func (s *SimController) beginInterrupt(vector int) bool {
	s.lock.Acquire()
	defer s.lock.Release()
	return !s.enabled[vector] // spurious if nothing claims this vector anymore
}

func (s *SimController) endInterrupt(vector int) {}

func (s *SimController) setIpl(ipl int) {}

func (s *SimController) getVector(gsi int) int {
	s.lock.Acquire()
	defer s.lock.Release()
	if v, ok := s.gsiVector[gsi]; ok {
		return v
	}
	return -1
}
