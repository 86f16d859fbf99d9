package model

// ProgMode is the programming-mode bitmask an AVRPART declares support for.
type ProgMode uint16

const (
	ModeISP ProgMode = 1 << iota
	ModePDI
	ModeUPDI
	ModeTPI
	ModeHVPP
	ModeHVSP
	ModeJTAG
	ModeDebugWIRE
	ModeAWire
	ModeSPM
)

// AVRPART is one supported MCU, built during config parse and never
// mutated thereafter; Dup produces the independent, mutable copy the
// engine uses for a programming run and for verification (spec.md §3).
type AVRPART struct {
	ID          string
	Desc        string
	Family      string
	ProgModes   ProgMode
	Signature   [3]byte
	STK500Devcode  int
	AVR910Devcode  int
	HasSTK500Devcode bool
	HasAVR910Devcode bool

	ChipEraseDelayUS int

	// Registers visible from outside the part.
	RegIDR   int
	RegRAMPZ int
	RegSPMCR int
	RegEECR  int
	RegEIND  int
	HaveIDR, HaveRAMPZ, HaveSPMCR, HaveEECR, HaveEIND bool

	// Base addresses.
	NVMBase       int
	OCDBase       int
	SysCfgBase    int

	// HV/JTAG timing, named loosely; values are opaque microsecond/
	// millisecond counts the drivers that need them interpret.
	HVTiming map[string]int

	// Mem is the ordered list of memory descriptors this part owns.
	// Order is preserved from the config file (spec.md §4.1: "stable
	// iteration order").
	Mem []*AVRMEM

	// ConfigFile/ConfigLine record where this part was declared, for
	// "-p '?'" listing (spec.md §6).
	ConfigFile string
	ConfigLine int
}

// FindMem returns the named memory, or nil. Name matching is
// case-sensitive exact match; the predicate-based "any kind of flash"
// lookups (IsFlashLike etc.) operate on top of this, in config.LocateMem.
func (p *AVRPART) FindMem(name string) *AVRMEM {
	for _, m := range p.Mem {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Dup deep-copies Buf, Tags and the opcode array of every memory while
// sharing the part's interned strings and opcode bit templates
// themselves (opcode templates are immutable once parsed), matching
// spec.md §9's avr_dup_part note.
func (p *AVRPART) Dup() *AVRPART {
	cp := *p
	cp.Mem = make([]*AVRMEM, len(p.Mem))
	for i, m := range p.Mem {
		mm := *m
		mm.Buf = append([]byte(nil), m.Buf...)
		mm.Tags = append([]uint8(nil), m.Tags...)
		mm.Opcodes = m.Opcodes // OPCODE templates are immutable; share.
		cp.Mem[i] = &mm
	}
	return &cp
}
