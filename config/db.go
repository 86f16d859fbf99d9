package config

import (
	"os"
	"strings"

	"github.com/rforge/avrctl/errs"
	"github.com/rforge/avrctl/model"
)

// Database is the parsed contents of one or more config files: the
// ordered collection of programmers and parts, in file order, with
// later declarations of the same id additively merging into the earlier
// one rather than replacing it (spec.md §4.1: "A part or programmer
// declared a second time with the same id amends the first declaration
// field by field rather than replacing it").
type Database struct {
	Programmers []*model.PROGRAMMER
	Parts       []*model.AVRPART

	progByID map[string]*model.PROGRAMMER
	partByID map[string]*model.AVRPART
}

// NewDatabase returns an empty Database ready for Load.
func NewDatabase() *Database {
	return &Database{
		progByID: map[string]*model.PROGRAMMER{},
		partByID: map[string]*model.AVRPART{},
	}
}

// Load parses file's contents and merges them into db.
func (db *Database) Load(file string) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return errs.Wrap(errs.ErrConfig, err, "reading config file "+file)
	}
	return parseFile(file, string(raw), db)
}

func (db *Database) addProgrammer(p *model.PROGRAMMER) {
	key := strings.ToLower(p.ID)
	if existing, ok := db.progByID[key]; ok {
		mergeProgrammer(existing, p)
		return
	}
	internProgrammer(p)
	db.progByID[key] = p
	db.Programmers = append(db.Programmers, p)
}

func (db *Database) addPart(p *model.AVRPART) {
	key := strings.ToLower(p.ID)
	if existing, ok := db.partByID[key]; ok {
		mergePart(existing, p)
		return
	}
	internPart(p)
	db.partByID[key] = p
	db.Parts = append(db.Parts, p)
}

// mergeProgrammer folds the fields set on extra onto base, field by
// field: any non-zero-value field on extra overwrites base's, leaving
// fields extra left unset untouched. Pins and aliases merge additively.
func mergeProgrammer(base, extra *model.PROGRAMMER) {
	if extra.Type != "" {
		base.Type = extra.Type
	}
	for k, v := range extra.Pins {
		base.Pins[k] = v
	}
	base.Aliases = append(base.Aliases, extra.Aliases...)
	if extra.USBVendor != 0 {
		base.USBVendor = extra.USBVendor
	}
	if extra.USBProduct != 0 {
		base.USBProduct = extra.USBProduct
	}
	if extra.USBSerial != "" {
		base.USBSerial = extra.USBSerial
	}
	if extra.HaveBaud {
		base.Baud, base.HaveBaud = extra.Baud, true
	}
	if extra.HaveBitClock {
		base.BitClockHz, base.HaveBitClock = extra.BitClockHz, true
	}
	if extra.HasSTK500Devcode {
		base.STK500Devcode, base.HasSTK500Devcode = extra.STK500Devcode, true
	}
	if extra.HasAVR910Devcode {
		base.AVR910Devcode, base.HasAVR910Devcode = extra.AVR910Devcode, true
	}
}

// mergePart folds extra's fields onto base the same way, additionally
// merging/overwriting memory blocks by name.
func mergePart(base, extra *model.AVRPART) {
	if extra.Desc != "" {
		base.Desc = extra.Desc
	}
	if extra.Family != "" {
		base.Family = extra.Family
	}
	if extra.ProgModes != 0 {
		base.ProgModes |= extra.ProgModes
	}
	if extra.Signature != [3]byte{} {
		base.Signature = extra.Signature
	}
	if extra.HasSTK500Devcode {
		base.STK500Devcode, base.HasSTK500Devcode = extra.STK500Devcode, true
	}
	if extra.HasAVR910Devcode {
		base.AVR910Devcode, base.HasAVR910Devcode = extra.AVR910Devcode, true
	}
	if extra.ChipEraseDelayUS != 0 {
		base.ChipEraseDelayUS = extra.ChipEraseDelayUS
	}
	if extra.HaveIDR {
		base.RegIDR, base.HaveIDR = extra.RegIDR, true
	}
	if extra.HaveRAMPZ {
		base.RegRAMPZ, base.HaveRAMPZ = extra.RegRAMPZ, true
	}
	if extra.HaveSPMCR {
		base.RegSPMCR, base.HaveSPMCR = extra.RegSPMCR, true
	}
	if extra.HaveEECR {
		base.RegEECR, base.HaveEECR = extra.RegEECR, true
	}
	if extra.HaveEIND {
		base.RegEIND, base.HaveEIND = extra.RegEIND, true
	}
	if extra.NVMBase != 0 {
		base.NVMBase = extra.NVMBase
	}
	if extra.OCDBase != 0 {
		base.OCDBase = extra.OCDBase
	}
	if extra.SysCfgBase != 0 {
		base.SysCfgBase = extra.SysCfgBase
	}
	for k, v := range extra.HVTiming {
		base.HVTiming[k] = v
	}
	for _, m := range extra.Mem {
		if existing := base.FindMem(m.Name); existing != nil {
			mergeMem(existing, m)
			continue
		}
		base.Mem = append(base.Mem, m)
	}
}

// mergeMem folds extra's explicitly-set fields onto base the same
// non-zero-wins way mergeProgrammer/mergePart do: a later declaration of
// the same memory amends rather than replaces. Boolean fields with no
// "was this set" flag (Paged, CycleCounter) can only ever be turned on by
// a later block, never back off, which matches how the rest of this
// merge already treats flags it has no explicit presence bit for.
func mergeMem(base, extra *model.AVRMEM) {
	if extra.Paged {
		base.Paged = true
	}
	if extra.Size != 0 {
		base.Size = extra.Size
		if len(base.Buf) != extra.Size {
			buf := make([]byte, extra.Size)
			tags := make([]uint8, extra.Size)
			copy(buf, base.Buf)
			copy(tags, base.Tags)
			for i := len(base.Buf); i < extra.Size; i++ {
				buf[i] = base.InitVal
			}
			base.Buf, base.Tags = buf, tags
		}
	}
	if extra.PageSize != 0 {
		base.PageSize = extra.PageSize
	}
	if extra.NumPages != 0 {
		base.NumPages = extra.NumPages
	}
	if extra.MinWriteDelayUS != 0 {
		base.MinWriteDelayUS = extra.MinWriteDelayUS
	}
	if extra.MaxWriteDelayUS != 0 {
		base.MaxWriteDelayUS = extra.MaxWriteDelayUS
	}
	if extra.HaveReadBack {
		base.ReadBackP1, base.ReadBackP2, base.HaveReadBack = extra.ReadBackP1, extra.ReadBackP2, true
	}
	if extra.Offset != 0 {
		base.Offset = extra.Offset
	}
	if extra.HaveBitmask {
		base.Bitmask, base.HaveBitmask = extra.Bitmask, true
	}
	if extra.CycleCounter {
		base.CycleCounter = true
	}
	for i, op := range extra.Opcodes {
		if op != nil {
			base.Opcodes[i] = op
		}
	}
}

func internProgrammer(p *model.PROGRAMMER) {
	p.ID = model.Intern(p.ID)
	p.Type = model.Intern(p.Type)
	for i, a := range p.Aliases {
		p.Aliases[i] = model.Intern(a)
	}
}

func internPart(p *model.AVRPART) {
	p.ID = model.Intern(p.ID)
	p.Family = model.Intern(p.Family)
	for _, m := range p.Mem {
		m.Name = model.Intern(m.Name)
	}
}

// LocateProgrammer finds a programmer by id or alias, case-insensitively.
func (db *Database) LocateProgrammer(id string) (*model.PROGRAMMER, error) {
	for _, p := range db.Programmers {
		if p.HasAlias(id) {
			return p, nil
		}
	}
	return nil, errs.Newf(errs.ErrNotFound, "no programmer found for -c %s", id)
}

// LocatePart finds a part by id, case-insensitively.
func (db *Database) LocatePart(id string) (*model.AVRPART, error) {
	if p, ok := db.partByID[strings.ToLower(id)]; ok {
		return p, nil
	}
	return nil, errs.Newf(errs.ErrNotFound, "AVR Part %q not found", id)
}

// LocateMem finds a named memory on part: an exact match on the part's
// own memory names first, then the kind predicates for the common
// flash/eeprom/fuse/signature aliases, matching spec.md §3's "memory type resolution accepts
// the common AVRDUDE aliases in addition to a part's own memory names."
func LocateMem(part *model.AVRPART, name string) *model.AVRMEM {
	if m := part.FindMem(name); m != nil {
		return m
	}
	lower := strings.ToLower(name)
	var pred func(string) bool
	switch lower {
	case "flash":
		pred = model.IsFlashLike
	case "eeprom":
		pred = model.IsEEPROMLike
	case "fuse", "fuses":
		pred = model.IsFuseLike
	case "signature", "sig":
		pred = model.IsSigrowLike
	default:
		return nil
	}
	for _, m := range part.Mem {
		if pred(m.Name) {
			return m
		}
	}
	return nil
}
