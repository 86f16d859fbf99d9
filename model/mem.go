package model

import "strings"

// Tag values for AVRMEM.Tags, adapted from the teacher's per-page "key"
// byte in emu/memory (access/modify bits folded into one byte per 2KiB
// page) down to one tag byte per memory byte: Unspecified means "verify
// must skip this position", Allocated means "has a defined value".
const (
	TagUnspecified uint8 = 0
	TagAllocated   uint8 = 1 << 0
)

// OpIndex names the OP_MAX opcode slots a memory may carry.
type OpIndex int

const (
	OpRead OpIndex = iota
	OpWrite
	OpReadLo
	OpReadHi
	OpWriteLo
	OpWriteHi
	OpLoadExtAddr
	OpLoadpage
	OpWritepage
	OpChipErase
	OpPgmEnable
	OpMax
)

// AVRMEM is one named memory of a part: flash, eeprom, the individual
// fuse bytes, lock, signature, calibration, sigrow, userrow/usersig,
// bootrow, application/apptable/boot sub-ranges of flash, io, sram.
//
// Invariants (spec.md §3): if Paged then PageSize*NumPages == Size;
// len(Buf) == len(Tags) == Size; a byte is compared during verify iff its
// tag has TagAllocated set.
type AVRMEM struct {
	Name string

	Paged    bool
	Size     int
	PageSize int
	NumPages int

	MinWriteDelayUS int
	MaxWriteDelayUS int
	HaveReadBack    bool
	ReadBackP1      uint8
	ReadBackP2      uint8

	Offset    int  // flat any-memory address-space offset, §4.5
	InitVal   uint8
	HaveBitmask bool
	Bitmask   uint8

	Buf  []byte
	Tags []uint8

	Opcodes [OpMax]*OPCODE

	// CycleCounter marks EEPROM memories eligible for the 32-bit
	// erase/rewrite counter stored in their last four bytes (spec.md §4.2).
	CycleCounter bool
}

// NewAVRMEM allocates Buf/Tags sized to size and fills Buf with initval.
func NewAVRMEM(name string, size int) *AVRMEM {
	m := &AVRMEM{
		Name: Intern(name),
		Size: size,
		Buf:  make([]byte, size),
		Tags: make([]uint8, size),
	}
	return m
}

// SetInitVal fills every byte of Buf with v, for memories whose declared
// default (e.g. 0xff for erased flash) differs from the zero value.
func (m *AVRMEM) SetInitVal(v uint8) {
	m.InitVal = v
	for i := range m.Buf {
		m.Buf[i] = v
	}
}

// Put writes a byte at addr and marks it allocated, matching the
// access/modify bit convention borrowed from the teacher's emu/memory
// key byte (there: access|modify bits per page; here: one allocated bit
// per byte).
func (m *AVRMEM) Put(addr int, value byte) {
	m.Buf[addr] = value
	m.Tags[addr] |= TagAllocated
}

// Allocated reports whether addr has a defined (verify-eligible) value.
func (m *AVRMEM) Allocated(addr int) bool {
	return m.Tags[addr]&TagAllocated != 0
}

// flashAliases are memory names the engine treats as "some kind of
// flash" per spec.md §4.1's predicate-based lookup (locate_mem answering
// "is this any kind of flash?" for flash/application/apptable/boot).
var flashAliases = map[string]bool{
	"flash":       true,
	"application": true,
	"apptable":    true,
	"boot":        true,
}

// IsFlashLike reports whether name names a memory inside the flash
// address space.
func IsFlashLike(name string) bool {
	return flashAliases[strings.ToLower(name)]
}

// eepromAliases holds only "eeprom" itself; the userrow family and other
// EEPROM-shaped memories are not included (spec.md §4.2).
var eepromAliases = map[string]bool{
	"eeprom": true,
}

// IsEEPROMLike reports whether name names the EEPROM memory.
func IsEEPROMLike(name string) bool {
	return eepromAliases[strings.ToLower(name)]
}

// fuseAliases covers the individual fuse byte memories and the combined
// "fuse" memory some parts declare instead of lfuse/hfuse/efuse.
var fuseAliases = map[string]bool{
	"fuse":  true,
	"lfuse": true,
	"hfuse": true,
	"efuse": true,
	"lock":  true,
}

// IsFuseLike reports whether name names a fuse or lock-bits memory.
func IsFuseLike(name string) bool {
	return fuseAliases[strings.ToLower(name)]
}

// sigrowAliases covers the signature row and its calibration/prodsig
// companions.
var sigrowAliases = map[string]bool{
	"signature":   true,
	"calibration": true,
	"sigrow":      true,
	"prodsig":     true,
}

// IsSigrowLike reports whether name names a signature-row memory.
func IsSigrowLike(name string) bool {
	return sigrowAliases[strings.ToLower(name)]
}
