package urboot

// Remap holds the STK500 handshake byte values a urboot template was
// assembled with; urboot lets a vendor relabel INSYNC/OK away from the
// classic 0x14/0x10 to save a flash word in its command dispatch, so a
// generated image must patch its immediate-load constants (via
// Image.PatchLDI) to whatever remap the target build chooses rather
// than assume the classic values.
type Remap struct {
	InSync byte
	OK     byte
}

// DefaultRemap is the classic STK500 INSYNC/OK pair every non-remapped
// urboot build and every other avrdude-compatible programmer uses.
var DefaultRemap = Remap{InSync: 0x14, OK: 0x10}

// ApplyRemap patches the two `ldi` instructions at insyncOff and okOff
// (byte offsets into img.Data) to load r.InSync and r.OK respectively.
func (img *Image) ApplyRemap(r Remap, insyncOff, okOff int) error {
	if err := img.PatchLDI(insyncOff, r.InSync); err != nil {
		return err
	}
	return img.PatchLDI(okOff, r.OK)
}

// UBNumMCU is the size of urboot's MCU identifier table (UB_N_MCU): the
// modulus the bootinfo encoding divides an MCU id out of.
const UBNumMCU = 256

// bootInfoShift is the fixed offset EncodeBootInfo adds to (and
// DecodeBootInfo subtracts from) the raw features*UBNumMCU+mcuid value
// before splitting it into insync/ok (spec.md §4.6, §8). It moves the
// whole encoding space up by one, so features=0, mcuid=0 encodes to
// (0x00, 0x01) instead of (0x00, 0x00). It does not exclude the classic
// STK500 pair: features=19, mcuid=251 still encodes to (0x14, 0x10).
const bootInfoShift = 1

// EncodeBootInfo packs a urboot feature mask and MCU table index into
// the INSYNC/OK byte pair a bootloader's remapped handshake answers with
// (spec.md §4.6): bootinfo = features*UB_N_MCU + mcuid + bootInfoShift,
// insync = bootinfo/255, ok = bootinfo mod 255.
func EncodeBootInfo(features, mcuid byte) (insync, ok byte) {
	bootinfo := int(features)*UBNumMCU + int(mcuid) + bootInfoShift
	return byte(bootinfo / 255), byte(bootinfo % 255)
}

// DecodeBootInfo is EncodeBootInfo's exact inverse: given the INSYNC/OK
// bytes a remapped bootloader answers with, it recovers the feature mask
// and MCU table index that produced them.
func DecodeBootInfo(insync, ok byte) (features, mcuid byte) {
	bootinfo := int(insync)*255 + int(ok) - bootInfoShift
	return byte(bootinfo / UBNumMCU), byte(bootinfo % UBNumMCU)
}
