package urboot

import "github.com/rforge/avrctl/errs"

// Image is a bootloader binary under construction: a flat byte slice
// addressed the same way fileio.AnyMemory addresses flash, patched in
// place one opcode field at a time. AVR instructions are 16-bit words
// stored little-endian, so every patch here reads/writes a word pair
// exactly like isp.Assemble packs a 32-bit ISP opcode: mask out the
// field, shift the new value into position, OR it back in.
type Image struct {
	Data []byte
}

func (img *Image) word(off int) uint16 {
	return uint16(img.Data[off]) | uint16(img.Data[off+1])<<8
}

func (img *Image) setWord(off int, w uint16) {
	img.Data[off] = byte(w)
	img.Data[off+1] = byte(w >> 8)
}

func (img *Image) checkOffset(off int) error {
	if off < 0 || off+1 >= len(img.Data) {
		return errs.Newf(errs.ErrFile, "urboot: opcode offset 0x%x out of range", off)
	}
	return nil
}

// PatchLDI rewrites the immediate field of an `ldi Rd, K` instruction
// (1110 KKKK dddd KKKK, d = r16..r31) at byte offset off, leaving the
// register field untouched.
func (img *Image) PatchLDI(off int, k byte) error {
	if err := img.checkOffset(off); err != nil {
		return err
	}
	w := img.word(off)
	w &^= 0x0F0F
	w |= uint16(k&0xF0) << 4
	w |= uint16(k & 0x0F)
	img.setWord(off, w)
	return nil
}

// PatchCPI rewrites the immediate field of a `cpi Rd, K` instruction
// (0011 KKKK dddd KKKK), the same field layout as ldi.
func (img *Image) PatchCPI(off int, k byte) error {
	return img.PatchLDI(off, k) // identical KKKK..KKKK field layout
}

// patchIOBit rewrites the 5-bit I/O register address and 3-bit bit
// number common to sbi/cbi/sbic/sbis (1001 10xx AAAAA bbb).
func (img *Image) patchIOBit(off int, ioAddr, bit byte) error {
	if err := img.checkOffset(off); err != nil {
		return err
	}
	if ioAddr > 0x1F {
		return errs.Newf(errs.ErrFile, "urboot: I/O address 0x%x exceeds 5 bits", ioAddr)
	}
	if bit > 7 {
		return errs.Newf(errs.ErrFile, "urboot: bit number %d exceeds 3 bits", bit)
	}
	w := img.word(off)
	w &^= 0x00FF
	w |= uint16(ioAddr) << 3
	w |= uint16(bit)
	img.setWord(off, w)
	return nil
}

// PatchSBI, PatchCBI, PatchSBIC, PatchSBIS all share sbi/cbi/sbic/sbis's
// field layout; the opcode's high nibble already distinguishes them and
// is left untouched, so one helper serves all four.
func (img *Image) PatchSBI(off int, ioAddr, bit byte) error  { return img.patchIOBit(off, ioAddr, bit) }
func (img *Image) PatchCBI(off int, ioAddr, bit byte) error  { return img.patchIOBit(off, ioAddr, bit) }
func (img *Image) PatchSBIC(off int, ioAddr, bit byte) error { return img.patchIOBit(off, ioAddr, bit) }
func (img *Image) PatchSBIS(off int, ioAddr, bit byte) error { return img.patchIOBit(off, ioAddr, bit) }

// PatchNopAsSBI rewrites a `mov Rn,Rn` nop placeholder (opcode 0x2Cnn,
// the word every urboot template reserves at a point it may need an
// extra I/O-bit instruction) into a full `sbi ioAddr,bit`, the template
// patch procedure spec.md §4.6 describes for synthesizing LED and
// chip-select port operations that a plain field-patch can't produce
// since the placeholder isn't an sbi/cbi opcode to begin with.
func (img *Image) PatchNopAsSBI(off int, ioAddr, bit byte) error {
	return img.patchNopAsIOBit(off, 0x9A00, ioAddr, bit)
}

// PatchNopAsCBI is PatchNopAsSBI's cbi counterpart.
func (img *Image) PatchNopAsCBI(off int, ioAddr, bit byte) error {
	return img.patchNopAsIOBit(off, 0x9800, ioAddr, bit)
}

func (img *Image) patchNopAsIOBit(off int, opcodeClass uint16, ioAddr, bit byte) error {
	if err := img.checkOffset(off); err != nil {
		return err
	}
	if ioAddr > 0x1F {
		return errs.Newf(errs.ErrFile, "urboot: I/O address 0x%x exceeds 5 bits", ioAddr)
	}
	if bit > 7 {
		return errs.Newf(errs.ErrFile, "urboot: bit number %d exceeds 3 bits", bit)
	}
	img.setWord(off, opcodeClass|uint16(ioAddr)<<3|uint16(bit))
	return nil
}

// PatchRJMP rewrites an `rjmp` instruction's signed 12-bit word-offset
// field (1100 kkkkkkkkkkkk) so that it branches from off to target.
// Both are byte offsets into Data; the instruction's own PC (in words,
// post-increment) is (off+2)/2.
func (img *Image) PatchRJMP(off, target int) error {
	if err := img.checkOffset(off); err != nil {
		return err
	}
	pc := (off + 2) / 2
	tpc := target / 2
	delta := tpc - pc
	if delta < -2048 || delta > 2047 {
		return errs.Newf(errs.ErrFile, "urboot: rjmp offset %d out of 12-bit range", delta)
	}
	w := img.word(off)
	w &^= 0x0FFF
	w |= uint16(delta) & 0x0FFF
	img.setWord(off, w)
	return nil
}

// PatchRJMPRaw writes delta directly into an `rjmp` instruction's signed
// 12-bit word-offset field with no PC+1 hardware correction, the form of
// spec.md §4.6/§8's literal formula ("flashsize/2 - usage/2") rather
// than the hardware-accurate offset PatchRJMP computes. Generate builds
// its reset-vector word inline and does not call this helper.
func (img *Image) PatchRJMPRaw(off, delta int) error {
	if err := img.checkOffset(off); err != nil {
		return err
	}
	if delta < -2048 || delta > 2047 {
		return errs.Newf(errs.ErrFile, "urboot: rjmp offset %d out of 12-bit range", delta)
	}
	w := img.word(off)
	w &^= 0x0FFF
	w |= uint16(delta) & 0x0FFF
	img.setWord(off, w)
	return nil
}

// PatchJMP rewrites a two-word `jmp` instruction's absolute 22-bit
// word address (1001 010k kkkk 110k / kkkkkkkkkkkkkkkk) to target
// (a byte offset; converted to a word address internally). Devices
// small enough never to need jmp/call should use PatchRJMP instead.
// Generate does not call PatchJMP: the catalog's template carries no
// jmp, and its reset vector is an rjmp for every flash size.
func (img *Image) PatchJMP(off int, target int) error {
	if off < 0 || off+3 >= len(img.Data) {
		return errs.Newf(errs.ErrFile, "urboot: jmp opcode offset 0x%x out of range", off)
	}
	addr := uint32(target / 2)
	if addr > 0x3FFFFF {
		return errs.Newf(errs.ErrFile, "urboot: jmp target 0x%x exceeds 22-bit word address range", target)
	}
	hi := img.word(off)
	hi &^= 0x01F1
	hi |= uint16((addr>>16)&0x1F) << 4
	hi |= uint16((addr >> 21) & 1)
	img.setWord(off, hi)
	img.setWord(off+2, uint16(addr&0xFFFF))
	return nil
}
