package fileio

import (
	"bytes"
	"debug/elf"
	"fmt"

	"github.com/rforge/avrctl/errs"
)

// DecodeELF reads an avr-gcc-produced ELF image's loadable sections into
// an AnyMemory. avr-gcc's default linker scripts already place
// .eeprom/.fuse/.lock/.signature sections at the same flat offsets this
// program's Offset convention uses (spec.md §4.5), so a section's
// address is used directly with no further translation; .text/.data
// land in flash at their ordinary addresses.
//
// The standard library's debug/elf is used rather than a hand-rolled
// reader: no repo in the examples pack implements its own ELF decoder,
// and the format's section-header/program-header bookkeeping is exactly
// what debug/elf exists to get right.
func DecodeELF(data []byte) (*AnyMemory, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(errs.ErrFile, err, "parsing ELF file")
	}
	defer f.Close()

	am := NewAnyMemory()
	for _, sec := range f.Sections {
		if sec.Type != elf.SHT_PROGBITS || sec.Flags&elf.SHF_ALLOC == 0 {
			continue
		}
		if sec.Size == 0 {
			continue
		}
		content, err := sec.Data()
		if err != nil {
			return nil, errs.Wrap(errs.ErrFile, err, fmt.Sprintf("reading ELF section %s", sec.Name))
		}
		for i, b := range content {
			am.Put(int(sec.Addr)+i, b)
		}
	}
	return am, nil
}
