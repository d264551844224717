// Package bootinfo is the boot-info record (§6): consumed, never emitted.
// A loader (multiboot2, UEFI stub, whatever the architecture uses) fills
// in an Info before handing control to the core; nothing in this package
// parses a loader's native format, which is architecture glue out of
// scope here.
package bootinfo

import (
	"strings"

	"nexke/kernel/mem/pm"
)

// Info is everything the core needs out of the loader before PM, KVM, MUL
// and the architecture backend can stand up: the physical memory map (in
// pm's own MemMapEntry type rather than a duplicate one), an early memory
// pool for allocations before PM.Init has run, the raw kernel-arguments
// string, the module list, a display descriptor, the log sink's base
// address, and the architecture-component table ACPI (or an equivalent
// platform prober) discovers.
type Info struct {
	MemMap []pm.MemMapEntry

	EarlyPoolBase uintptr
	EarlyPoolSize uint64

	RawArgs string

	Modules []Module

	Display Display

	LogBase uintptr

	Arch ArchComponents
}

// Module is one boot module (initrd-style blob) the loader staged.
type Module struct {
	Name string
	Base uintptr
	Size uint64
}

// Display describes the framebuffer the loader already set up, or
// requests the architecture's default text/serial console when Default is
// true (in which case the other fields are meaningless).
type Display struct {
	Default bool

	FramebufferBase uintptr
	Width, Height   uint32
	BPP             uint32
	RedMask         uint32
	GreenMask       uint32
	BlueMask        uint32
}

// Args is the parsed kernel-arguments string: space-separated
// `key[=value] | key` tokens, no quoting, values ending at the next
// space.
type Args struct {
	values map[string]string
}

// ParseArgs splits raw on whitespace and builds a lookup table. A bare
// `key` (no `=`) is recorded with an empty value so Has/Lookup can still
// distinguish "present as a flag" from "absent".
func ParseArgs(raw string) Args {
	a := Args{values: make(map[string]string)}
	for _, tok := range strings.Fields(raw) {
		if key, val, ok := strings.Cut(tok, "="); ok {
			a.values[key] = val
		} else {
			a.values[tok] = ""
		}
	}
	return a
}

// Lookup returns the value for key and whether key appeared at all
// (bare or with a value).
func (a Args) Lookup(key string) (string, bool) {
	v, ok := a.values[key]
	return v, ok
}

// Has reports whether key appeared, bare or with a value.
func (a Args) Has(key string) bool {
	_, ok := a.values[key]
	return ok
}
