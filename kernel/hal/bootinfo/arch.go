package bootinfo

// CPUDescriptor is one CPU entry an external ACPI (MADT) walker reports
// through PltAddCpu. APICID is the local APIC ID on PC; architectures
// without a local-APIC concept repurpose it as whatever CPU-addressable
// identifier they have.
type CPUDescriptor struct {
	APICID  uint32
	BootCPU bool
	Enabled bool
}

// IntCtrlDescriptor is one interrupt controller entry (I/O APIC, GIC
// distributor, ...) reported through PltAddIntCtrl.
type IntCtrlDescriptor struct {
	ID      uint32
	Address uintptr
	GSIBase int
}

// IntOverride is a GSI remapping a platform table can request (e.g. the PC
// ISA IRQ0 routed to GSI 2 through the MADT's interrupt source override),
// reported through PltAddInterrupt.
type IntOverride struct {
	SourceIRQ int
	GSI       int
	Polarity  int
	Mode      int
}

// ArchComponents accumulates the CPUs, interrupt controllers, and line
// overrides an external table walker (ACPI/AML parsing is explicitly out
// of scope, §6) discovers. The architecture backend reads these back
// during its own bring-up; this struct is purely the sink.
type ArchComponents struct {
	CPUs      []CPUDescriptor
	IntCtrls  []IntCtrlDescriptor
	Overrides []IntOverride
}

// PltAddCpu records one discovered CPU.
func (a *ArchComponents) PltAddCpu(d CPUDescriptor) { a.CPUs = append(a.CPUs, d) }

// PltAddIntCtrl records one discovered interrupt controller.
func (a *ArchComponents) PltAddIntCtrl(d IntCtrlDescriptor) { a.IntCtrls = append(a.IntCtrls, d) }

// PltAddInterrupt records one discovered line override.
func (a *ArchComponents) PltAddInterrupt(o IntOverride) { a.Overrides = append(a.Overrides, o) }
