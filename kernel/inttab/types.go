// Package inttab is the interrupt core: it holds the per-vector interrupt
// table, assigns vectors to hardware lines through a per-architecture
// controller, arbitrates IPL, and dispatches traps.
//
// Grounded on gopheros' kernel/irq package (src/gopheros/kernel/irq) for
// the exception/IRQ table and handler-registration idiom, generalized from
// a fixed x86 vector table to the chained-hardware-interrupt model and IPL
// arbitration this spec adds.
package inttab

import (
	"nexke/kernel"
	"nexke/kernel/list"
	"nexke/kernel/sync"
)

// MaxInts bounds the per-vector interrupt table.
const MaxInts = 256

// CPUBaseHwInt is the first vector number reserved for hardware interrupts;
// InstallExec/InstallSvc refuse vectors at or above it.
const CPUBaseHwInt = 32

// IntType classifies an installed Interrupt.
type IntType int

const (
	TypeException IntType = iota
	TypeService
	TypeHwInt
)

// ExecHandler handles a CPU exception; returning false means "unhandled",
// routing to BadTrap.
type ExecHandler func(ctx *Context) bool

// SvcHandler handles a software-service trap unconditionally.
type SvcHandler func(ctx *Context)

// HwHandler handles one hardware interrupt in a chain; returning true
// stops the chain walk.
type HwHandler func() bool

// Context is the architecture trap context; this core only needs the
// vector number out of it; the rest is architecture-private.
type Context struct {
	Vector int
	Data   any
}

// Interrupt is one entry of the per-vector table (§3.5).
type Interrupt struct {
	Vector int
	Type   IntType

	ExecFn ExecHandler
	SvcFn  SvcHandler

	Chain *Chain // HwInt only

	CallCount uint64
	Lock      sync.Spinlock
}

// Mode is a hardware interrupt's trigger mode.
type Mode int

const (
	ModeEdge Mode = iota
	ModeLevel
)

// Polarity is a hardware interrupt's signal polarity.
type Polarity int

const (
	PolarityHigh Polarity = iota
	PolarityLow
)

// HwIntFlag modifies ConnectInterrupt's chaining behavior.
type HwIntFlag uint32

const (
	NonChainable HwIntFlag = 1 << iota
	ForceIPL
	Chained
	Internal
)

// HwIntRecord describes one hardware interrupt source (§3.5).
type HwIntRecord struct {
	GSI      int
	Internal bool

	IPL      int
	Mode     Mode
	Polarity Polarity
	Flags    HwIntFlag

	Vector  int
	Handler HwHandler

	link list.Link[HwIntRecord]
}

// Chain is the per-GSI chain of HwIntRecords sharing one vector (§3.5).
type Chain struct {
	GSI      int
	Vector   int
	IPL      int
	Mode     Mode
	Polarity Polarity
	NoRemap  bool

	head   list.List[HwIntRecord]
	Length int
	Lock   sync.Spinlock
}

var (
	errBadVector    = &kernel.Error{Module: "inttab", Message: "vector out of range for this install kind"}
	errAlreadyInUse = &kernel.Error{Module: "inttab", Message: "vector already installed"}
	errNotInstalled = &kernel.Error{Module: "inttab", Message: "no interrupt installed at vector"}
	errBadTrap      = &kernel.Error{Module: "inttab", Message: "trap on unpopulated vector"}
	errIncompatible = &kernel.Error{Module: "inttab", Message: "chain attributes incompatible"}
	errNoRemap      = &kernel.Error{Module: "inttab", Message: "chain is not remappable"}
	errIplViolation = &kernel.Error{Module: "inttab", Message: "invalid ipl raise/lower"}
)

// ErrBadTrap is the error BadTrap reports for a trap on an unpopulated
// vector; surfaced here (rather than only panicking) so tests can observe
// it without crashing the process.
var ErrBadTrap = errBadTrap
