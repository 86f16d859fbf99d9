package urboot

import (
	"testing"

	"github.com/rforge/avrctl/model"
)

func TestParseFeatureStringFullCombination(t *testing.T) {
	f, err := ParseFeatureString("urboot:atmega328p_250ms_autobaud_uart0_115k2_16MHz_led+b5_ee_ce_u2.hex")
	if err != nil {
		t.Fatalf("ParseFeatureString: %v", err)
	}
	if f.WDTTimeout != "250ms" {
		t.Errorf("WDTTimeout = %q, want 250ms", f.WDTTimeout)
	}
	if !f.Autobaud {
		t.Error("Autobaud = false, want true")
	}
	if f.UARTIndex != 0 {
		t.Errorf("UARTIndex = %d, want 0", f.UARTIndex)
	}
	if f.Baud != 115200 {
		t.Errorf("Baud = %d, want 115200", f.Baud)
	}
	if f.FCPU != 16_000_000 {
		t.Errorf("FCPU = %d, want 16000000", f.FCPU)
	}
	if f.LEDPin == nil || f.LEDPin.Port != 'b' || f.LEDPin.Bit != 5 || !f.LEDOn {
		t.Errorf("LEDPin = %+v LEDOn=%v, want b5/+", f.LEDPin, f.LEDOn)
	}
	if !f.EEPROM || !f.ChipErase {
		t.Errorf("EEPROM=%v ChipErase=%v, want both true", f.EEPROM, f.ChipErase)
	}
	if f.UpdateLevel != 2 {
		t.Errorf("UpdateLevel = %d, want 2", f.UpdateLevel)
	}
}

func TestParseFeatureStringRequiresPrefix(t *testing.T) {
	if _, err := ParseFeatureString("atmega328p_16MHz"); err == nil {
		t.Fatal("expected error for a feature string missing the urboot: prefix")
	}
}

func TestParseFeatureStringUnknownToken(t *testing.T) {
	if _, err := ParseFeatureString("urboot:bogus"); err == nil {
		t.Fatal("expected error for unknown feature token")
	}
}

func TestParseFeatureStringRejectsBadPin(t *testing.T) {
	if _, err := ParseFeatureString("urboot:led+z9"); err == nil {
		t.Fatal("expected error for a pin naming an out-of-range port/bit")
	}
}

func TestParseFeatureStringOscCorrectedFCPU(t *testing.T) {
	f, err := ParseFeatureString("urboot:x8m0")
	if err != nil {
		t.Fatalf("ParseFeatureString: %v", err)
	}
	if f.FCPU != 8_000_000 {
		t.Errorf("FCPU = %d, want 8000000 (external, uncorrected)", f.FCPU)
	}

	f2, err := ParseFeatureString("urboot:i1MHz")
	if err != nil {
		t.Fatalf("ParseFeatureString: %v", err)
	}
	if f2.FCPU != 1_000_000 {
		t.Errorf("FCPU = %d, want 1000000 (internal, uncorrected)", f2.FCPU)
	}
}

func TestParsePinRejectsMalformed(t *testing.T) {
	if _, err := ParsePin("b"); err == nil {
		t.Fatal("expected error for a one-character pin token")
	}
	if _, err := ParsePin("z0"); err == nil {
		t.Fatal("expected error for an out-of-range port letter")
	}
	if _, err := ParsePin("b9"); err == nil {
		t.Fatal("expected error for an out-of-range bit number")
	}
}

func TestPatchLDIRoundTrip(t *testing.T) {
	// ldi r16, 0x00 encoded as opcode 0xE000.
	img := &Image{Data: []byte{0x00, 0xE0}}
	if err := img.PatchLDI(0, 0xAB); err != nil {
		t.Fatalf("PatchLDI: %v", err)
	}
	w := img.word(0)
	if w&0xF000 != 0xE000 {
		t.Fatalf("opcode class corrupted: %04x", w)
	}
	got := byte(w>>4&0xF0) | byte(w&0x0F)
	if got != 0xAB {
		t.Errorf("patched immediate = %02x, want ab", got)
	}
}

func TestPatchIOBitRejectsOutOfRange(t *testing.T) {
	img := &Image{Data: []byte{0x00, 0x9A}}
	if err := img.PatchSBI(0, 0x20, 0); err == nil {
		t.Fatal("expected error for 5-bit I/O address overflow")
	}
	if err := img.PatchSBI(0, 0, 8); err == nil {
		t.Fatal("expected error for 3-bit bit-number overflow")
	}
}

func TestPatchSBIFields(t *testing.T) {
	img := &Image{Data: []byte{0x00, 0x9A}} // sbi opcode class 1001 1010
	if err := img.PatchSBI(0, 0x0B, 0x5); err != nil {
		t.Fatalf("PatchSBI: %v", err)
	}
	w := img.word(0)
	if w&0xFC00 != 0x9800 {
		t.Fatalf("opcode class corrupted: %04x", w)
	}
	ioAddr := byte(w >> 3 & 0x1F)
	bit := byte(w & 0x7)
	if ioAddr != 0x0B || bit != 0x5 {
		t.Errorf("patched fields = addr %#x bit %d, want 0b 5", ioAddr, bit)
	}
}

func TestPatchNopAsSBIAndCBI(t *testing.T) {
	img := &Image{Data: []byte{0x00, 0x2C}} // mov r0,r0 nop placeholder
	if err := img.PatchNopAsSBI(0, 0x05, 5); err != nil {
		t.Fatalf("PatchNopAsSBI: %v", err)
	}
	w := img.word(0)
	if w != 0x9A00|0x05<<3|5 {
		t.Errorf("patched sbi word = %#04x, want %#04x", w, uint16(0x9A00|0x05<<3|5))
	}

	img2 := &Image{Data: []byte{0x11, 0x2C}} // mov r1,r1 nop placeholder
	if err := img2.PatchNopAsCBI(0, 0x05, 5); err != nil {
		t.Fatalf("PatchNopAsCBI: %v", err)
	}
	w2 := img2.word(0)
	if w2 != 0x9800|0x05<<3|5 {
		t.Errorf("patched cbi word = %#04x, want %#04x", w2, uint16(0x9800|0x05<<3|5))
	}
}

func TestPatchRJMPComputesSignedOffset(t *testing.T) {
	img := &Image{Data: make([]byte, 20)}
	img.setWord(0, 0xC000)
	if err := img.PatchRJMP(0, 10); err != nil {
		t.Fatalf("PatchRJMP: %v", err)
	}
	w := img.word(0)
	delta := int16(w << 4) >> 4 // sign-extend the 12-bit field
	if delta != 4 {
		t.Errorf("rjmp delta = %d, want 4", delta)
	}
}

func TestPatchRJMPRawWritesLiteralDelta(t *testing.T) {
	img := &Image{Data: make([]byte, 4)}
	img.setWord(0, 0xC000)
	if err := img.PatchRJMPRaw(0, -5); err != nil {
		t.Fatalf("PatchRJMPRaw: %v", err)
	}
	w := img.word(0)
	delta := int16(w<<4) >> 4
	if delta != -5 {
		t.Errorf("rjmp raw delta = %d, want -5", delta)
	}
}

func TestPatchJMPRejectsOutOfRangeAddress(t *testing.T) {
	img := &Image{Data: make([]byte, 4)}
	if err := img.PatchJMP(0, 1<<24); err == nil {
		t.Fatal("expected error for jmp address exceeding 22 bits")
	}
}

func TestUBRRValuePrefersLowerError(t *testing.T) {
	ubrr, u2x, err := UBRRValue(16_000_000, 9600, true)
	if err != nil {
		t.Fatalf("UBRRValue: %v", err)
	}
	if ubrr <= 0 {
		t.Errorf("UBRRValue returned non-positive ubrr %d", ubrr)
	}
	t.Logf("ubrr=%d u2x=%v", ubrr, u2x)
}

func TestUBRRValueRejectsNonPositive(t *testing.T) {
	if _, _, err := UBRRValue(0, 9600, true); err == nil {
		t.Fatal("expected error for zero F_CPU")
	}
}

func TestUBRRValueFallsBackToDoubleSpeedWhenNormalUnreachable(t *testing.T) {
	// At 1 MHz, 115200 baud rounds to normal-mode UBRR 0, which runs at
	// 62500 baud (about 46% off); double-speed (125000 baud, about 8.5%
	// off) passes the 1.4%/1.33x rule and must be chosen.
	ubrr, u2x, err := UBRRValue(1_000_000, 115200, true)
	if err != nil {
		t.Fatalf("UBRRValue: %v", err)
	}
	if !u2x {
		t.Error("expected double-speed mode to be selected")
	}
	if ubrr < 0 {
		t.Errorf("UBRRValue returned negative ubrr %d even in double-speed mode", ubrr)
	}
}

func TestUBRRValueWithoutDoubleSpeedSupport(t *testing.T) {
	ubrr, u2x, err := UBRRValue(16_000_000, 9600, false)
	if err != nil {
		t.Fatalf("UBRRValue: %v", err)
	}
	if u2x {
		t.Error("double-speed selected despite doubleSpeedCapable=false")
	}
	if ubrr <= 0 {
		t.Errorf("UBRRValue returned non-positive ubrr %d", ubrr)
	}
}

func TestLINValueSearchesFullRange(t *testing.T) {
	res, err := LINValue(16_000_000, 19200)
	if err != nil {
		t.Fatalf("LINValue: %v", err)
	}
	if res.N < 8 || res.N > 63 {
		t.Errorf("LINValue chose n=%d, out of documented [8,63] range", res.N)
	}
	if res.ErrorPPM < 0 {
		t.Errorf("LINValue returned negative ErrorPPM %d", res.ErrorPPM)
	}
}

func TestSoftUARTDelayByFamily(t *testing.T) {
	res, err := SoftUARTDelay(16_000_000, 9600, FamilyClassic16)
	if err != nil {
		t.Fatalf("SoftUARTDelay: %v", err)
	}
	if res.Loops <= 0 {
		t.Errorf("SoftUARTDelay returned non-positive loop count %d", res.Loops)
	}
	if res.ExtraCycles < 0 || res.ExtraCycles > 2 {
		t.Errorf("SoftUARTDelay returned ExtraCycles=%d, want 0..2", res.ExtraCycles)
	}
}

func TestSoftUARTDelayRejectsTooLowFCPU(t *testing.T) {
	if _, err := SoftUARTDelay(1000, 9600, FamilyClassic16); err == nil {
		t.Fatal("expected error for F_CPU too low to bit-bang the requested baud")
	}
}

func TestEncodeDecodeBootInfoRoundTrip(t *testing.T) {
	for features := 0; features < 32; features++ {
		for mcuid := 0; mcuid < UBNumMCU; mcuid += 17 {
			insync, ok := EncodeBootInfo(byte(features), byte(mcuid))
			gotFeatures, gotMCUID := DecodeBootInfo(insync, ok)
			if gotFeatures != byte(features) || gotMCUID != byte(mcuid) {
				t.Fatalf("round trip mismatch: features=%d mcuid=%d -> insync=%d ok=%d -> features=%d mcuid=%d",
					features, mcuid, insync, ok, gotFeatures, gotMCUID)
			}
		}
	}
}

func TestSelectTemplateNoMatch(t *testing.T) {
	part := &model.AVRPART{ID: "nosize"}
	part.Mem = append(part.Mem, &model.AVRMEM{Name: "flash", Size: 1 << 30})
	if _, err := SelectTemplate(part); err == nil {
		t.Fatal("expected error for flash size exceeding every cataloged template")
	}
}

func TestGenerateProducesResetVectorAndBootloaderBody(t *testing.T) {
	const flashSize = 32768
	part := &model.AVRPART{ID: "atmega328p"}
	part.Mem = append(part.Mem, &model.AVRMEM{Name: "flash", Size: flashSize})

	led := Pin{Port: 'b', Bit: 5}
	gen, err := Generate(part, Options{
		Remap:              DefaultRemap,
		FCPU:               16_000_000,
		Baud:               115200,
		Mode:               BaudHardware,
		DoubleSpeedCapable: true,
		Features:           Features{LEDPin: &led, LEDOn: true, EEPROM: true, ChipErase: true},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	usage := len(gen.Code)
	wantBootStart := flashSize - usage
	if gen.CodeAddr != wantBootStart {
		t.Errorf("CodeAddr = %d, want %d", gen.CodeAddr, wantBootStart)
	}

	if len(gen.ResetVector) != 2 || gen.ResetVectorAddr != 0 {
		t.Fatalf("ResetVector = %v at %d, want a 2-byte vector at address 0", gen.ResetVector, gen.ResetVectorAddr)
	}
	word := uint16(gen.ResetVector[0]) | uint16(gen.ResetVector[1])<<8
	if word&0xF000 != 0xC000 {
		t.Fatalf("reset vector opcode class = %#04x, want rjmp (0xC000)", word&0xF000)
	}
	// The 12-bit rjmp field holds the literal offset modulo 4096.
	field := int(word & 0x0FFF)
	wantDelta := flashSize/2 - usage/2
	if field != wantDelta&0x0FFF {
		t.Errorf("reset-vector rjmp field = %#x, want literal flashsize/2-usage/2 = %d modulo 4096 (%#x)", field, wantDelta, wantDelta&0x0FFF)
	}

	tmpl := catalog[0]
	ddr, port := led.PinAddr()
	ddrWord := uint16(gen.Code[tmpl.Layout.LEDDDRNopOffset]) | uint16(gen.Code[tmpl.Layout.LEDDDRNopOffset+1])<<8
	if ddrWord != 0x9A00|uint16(ddr)<<3|uint16(led.Bit) {
		t.Errorf("LED DDR setup word = %#04x, want sbi %#x,%d", ddrWord, ddr, led.Bit)
	}
	onWord := uint16(gen.Code[tmpl.Layout.LEDOnNopOffset]) | uint16(gen.Code[tmpl.Layout.LEDOnNopOffset+1])<<8
	if onWord != 0x9A00|uint16(port)<<3|uint16(led.Bit) {
		t.Errorf("LED on word = %#04x, want sbi %#x,%d", onWord, port, led.Bit)
	}
	offWord := uint16(gen.Code[tmpl.Layout.LEDOffNopOffset]) | uint16(gen.Code[tmpl.Layout.LEDOffNopOffset+1])<<8
	if offWord != 0x9800|uint16(port)<<3|uint16(led.Bit) {
		t.Errorf("LED off word = %#04x, want cbi %#x,%d", offWord, port, led.Bit)
	}

	table := gen.Code[tmpl.Layout.VersionTableOffset:]
	if len(table) < 6 {
		t.Fatalf("version table truncated: %d bytes", len(table))
	}
	wantFeatures := packFeatureMask(Features{LEDPin: &led, LEDOn: true, EEPROM: true, ChipErase: true})
	if table[0] != wantFeatures {
		t.Errorf("version table feature byte = %#x, want %#x", table[0], wantFeatures)
	}
	wantInSync, wantOK := EncodeBootInfo(wantFeatures, 0)
	if table[2] != wantInSync || table[3] != wantOK {
		t.Errorf("version table insync/ok = %#x/%#x, want %#x/%#x", table[2], table[3], wantInSync, wantOK)
	}
}

func TestGenerateWithoutLEDLeavesNopPlaceholdersUntouched(t *testing.T) {
	part := &model.AVRPART{ID: "atmega328p"}
	part.Mem = append(part.Mem, &model.AVRMEM{Name: "flash", Size: 32768})
	gen, err := Generate(part, Options{Remap: DefaultRemap, FCPU: 16_000_000, Baud: 115200, Mode: BaudHardware, DoubleSpeedCapable: true})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	tmpl := catalog[0]
	w := uint16(gen.Code[tmpl.Layout.LEDDDRNopOffset]) | uint16(gen.Code[tmpl.Layout.LEDDDRNopOffset+1])<<8
	if w != 0x2C00 {
		t.Errorf("LED DDR slot = %#04x, want untouched nop placeholder 0x2C00", w)
	}
}
