// Package urboot generates a urboot-compatible AVR bootloader image from
// a template binary and a target MCU/board description: it patches the
// template's fixed opcode fields (register-immediate loads, I/O bit
// instructions, and branch offsets) for the target's memory-mapped I/O
// addresses and flash size, the same shift/mask bit-packing idiom
// package isp and the risc32 examples in the pack use for their own
// fixed-width instruction words -- only patching an existing word's
// field in place rather than assembling one from scratch.
package urboot

import (
	"strconv"
	"strings"

	"github.com/rforge/avrctl/errs"
)

// Pin is a bit-addressable I/O pin named the way urboot's feature-string
// tokens spell one: a port letter 'a'..'h' and a bit number 0..7.
type Pin struct {
	Port byte
	Bit  uint8
}

// portIOBase maps a port letter to its PINx register's I/O address; the
// DDRx and PORTx registers for the same port sit at +1 and +2, the
// fixed 3-register spacing every classic AVR port uses. Families this
// implementation targets have at most ports A-H, so out-of-range
// letters are rejected by ParsePin rather than extending the table.
var portIOBase = map[byte]byte{
	'a': 0x00,
	'b': 0x03,
	'c': 0x06,
	'd': 0x09,
	'e': 0x0C,
	'f': 0x0F,
	'g': 0x12,
	'h': 0x15,
}

// ParsePin parses a two-character pin token ("b5" = port B, bit 5) and
// resolves it against the classic-AVR port table, failing fatally (per
// spec.md §4.6) for a port letter or bit number the table can't address.
func ParsePin(s string) (Pin, error) {
	if len(s) != 2 {
		return Pin{}, errs.Newf(errs.ErrConfig, "urboot: malformed pin %q, want <port-letter><bit>", s)
	}
	port := s[0]
	if _, ok := portIOBase[port]; !ok {
		return Pin{}, errs.Newf(errs.ErrConfig, "urboot: pin %q names a non-bit-addressable or out-of-range port", s)
	}
	if s[1] < '0' || s[1] > '7' {
		return Pin{}, errs.Newf(errs.ErrConfig, "urboot: pin %q has an out-of-range bit number", s)
	}
	return Pin{Port: port, Bit: s[1] - '0'}, nil
}

// PinAddr returns the pin's DDRx and PORTx I/O addresses, the two
// registers a urboot template's patched SBI/CBI instructions target
// (one to set the pin as an output, one to drive it).
func (p Pin) PinAddr() (ddr, port byte) {
	base := portIOBase[p.Port]
	return base + 1, base + 2
}

// Features is the decoded form of a urboot feature string: the
// underscore-delimited token list a `-U flash:w:urboot:...:hex` request
// names, describing exactly what bootloader image to build (spec.md §4.6).
type Features struct {
	WDTTimeout string // "250ms","500ms","1s","2s","4s","8s", "" if unset

	Autobaud  bool
	UARTIndex int // uart<n>, -1 if unset
	ALTIndex  int // alt<n>, -1 if unset

	Baud       int  // 0 if unset
	FCPU       int  // oscillator-corrected Hz, 0 if unset
	FCPUPrefix byte // the correction-letter token carried, 0 if none

	SWIO bool
	RXPin, TXPin, CSPin *Pin

	LEDNop bool
	NoLED  bool
	LEDPin *Pin
	LEDOn  bool // true: "led+pin" (active-high); false: "led-pin"

	Dual bool

	HWFlowControl  bool // hw
	PowerReduction bool // pr
	EEPROM         bool // ee
	ChipErase      bool // ce

	UpdateLevel int // u0..u4, -1 if unset
	Vector      string

	SerialNo string
	Fill     string

	Save       bool
	SaveFile   string
	SaveFormat string

	Best, Show, List, Help bool
}

var wdtTimeouts = map[string]bool{
	"250ms": true, "500ms": true, "1s": true, "2s": true, "4s": true, "8s": true,
}

// ParseFeatureString decodes a full urboot request string such as
// "urboot:atmega328p_16MHz_115k2_uart0_led+b5_ee_ce.hex" into Features,
// per spec.md §4.6's "urboot:<token>(_<token>)*(.hex)?" grammar. A
// leading part name (a first token starting with "at" or "avr", such as
// "atmega328p") is accepted and not recorded in Features; Generate takes
// the part as its own argument.
func ParseFeatureString(raw string) (Features, error) {
	if !strings.HasPrefix(raw, "urboot:") {
		return Features{}, errs.Newf(errs.ErrConfig, "urboot: feature string must start with \"urboot:\": %q", raw)
	}
	s := strings.TrimSuffix(strings.TrimPrefix(raw, "urboot:"), ".hex")

	f := Features{UARTIndex: -1, ALTIndex: -1, UpdateLevel: -1}
	for i, tok := range strings.Split(s, "_") {
		if tok == "" {
			continue
		}
		if i == 0 && (strings.HasPrefix(tok, "at") || strings.HasPrefix(tok, "avr")) {
			continue
		}
		if err := f.applyToken(tok); err != nil {
			return Features{}, err
		}
	}
	return f, nil
}

func (f *Features) applyToken(tok string) error {
	if wdtTimeouts[tok] {
		f.WDTTimeout = tok
		return nil
	}
	switch tok {
	case "autobaud":
		f.Autobaud = true
		return nil
	case "swio":
		f.SWIO = true
		return nil
	case "lednop":
		f.LEDNop = true
		return nil
	case "no-led":
		f.NoLED = true
		return nil
	case "dual":
		f.Dual = true
		return nil
	case "hw":
		f.HWFlowControl = true
		return nil
	case "pr":
		f.PowerReduction = true
		return nil
	case "ee":
		f.EEPROM = true
		return nil
	case "ce":
		f.ChipErase = true
		return nil
	case "best":
		f.Best = true
		return nil
	case "show":
		f.Show = true
		return nil
	case "list":
		f.List = true
		return nil
	case "help":
		f.Help = true
		return nil
	case "save":
		f.Save = true
		return nil
	}

	switch {
	case strings.HasPrefix(tok, "uart") && isDigits(tok[4:]):
		n, _ := strconv.Atoi(tok[4:])
		f.UARTIndex = n
		return nil
	case strings.HasPrefix(tok, "alt") && isDigits(tok[3:]):
		n, _ := strconv.Atoi(tok[3:])
		f.ALTIndex = n
		return nil
	case strings.HasPrefix(tok, "rx") && len(tok) == 4:
		pin, err := ParsePin(tok[2:])
		if err != nil {
			return err
		}
		f.RXPin = &pin
		return nil
	case strings.HasPrefix(tok, "tx") && len(tok) == 4:
		pin, err := ParsePin(tok[2:])
		if err != nil {
			return err
		}
		f.TXPin = &pin
		return nil
	case strings.HasPrefix(tok, "cs") && len(tok) == 4:
		pin, err := ParsePin(tok[2:])
		if err != nil {
			return err
		}
		f.CSPin = &pin
		return nil
	case (strings.HasPrefix(tok, "led+") || strings.HasPrefix(tok, "led-")) && len(tok) == 6:
		pin, err := ParsePin(tok[4:])
		if err != nil {
			return err
		}
		f.LEDPin = &pin
		f.LEDOn = tok[3] == '+'
		return nil
	case len(tok) == 2 && tok[0] == 'u' && tok[1] >= '0' && tok[1] <= '4':
		f.UpdateLevel = int(tok[1] - '0')
		return nil
	case len(tok) > 1 && tok[0] == 'v':
		f.Vector = tok[1:]
		return nil
	case strings.HasPrefix(tok, "serialno="):
		f.SerialNo = tok[len("serialno="):]
		return nil
	case strings.HasPrefix(tok, "fill="):
		f.Fill = tok[len("fill="):]
		return nil
	case strings.HasPrefix(tok, "save="):
		f.Save = true
		rest := tok[len("save="):]
		if idx := strings.IndexByte(rest, ':'); idx >= 0 {
			f.SaveFile, f.SaveFormat = rest[:idx], rest[idx+1:]
		} else {
			f.SaveFile = rest
		}
		return nil
	}

	if baud, ok := parseBaudToken(tok); ok {
		f.Baud = baud
		return nil
	}
	if hz, prefix, ok := parseFCPUToken(tok); ok {
		f.FCPU = hz
		f.FCPUPrefix = prefix
		return nil
	}

	return errs.Newf(errs.ErrConfig, "urboot: unknown feature token %q", tok)
}

// parseBaudToken recognizes "<n>baud" (literal baud rate) and "<n>k<d>"
// (thousands-and-tenths shorthand, e.g. "115k2" = 115200).
func parseBaudToken(tok string) (int, bool) {
	if strings.HasSuffix(tok, "baud") {
		n, err := strconv.Atoi(tok[:len(tok)-len("baud")])
		if err != nil {
			return 0, false
		}
		return n, true
	}
	idx := strings.IndexByte(tok, 'k')
	if idx <= 0 {
		return 0, false
	}
	whole, err := strconv.Atoi(tok[:idx])
	if err != nil {
		return 0, false
	}
	fracStr := tok[idx+1:]
	if fracStr == "" {
		return whole * 1000, true
	}
	if len(fracStr) != 1 || !isDigits(fracStr) {
		return 0, false
	}
	frac, _ := strconv.Atoi(fracStr)
	return whole*1000 + frac*100, true
}

// fcpuPrefixes are the oscillator-correction letters a F_CPU token may
// carry: x (external, uncorrected), i (internal, uncorrected), a..h
// (running slow by 1.25% per letter), j..q (running fast by 1.25% per
// letter), per spec.md §4.6.
func parseFCPUToken(tok string) (hz int, prefix byte, ok bool) {
	if tok == "" {
		return 0, 0, false
	}
	rest := tok
	c := tok[0]
	isPrefixLetter := c == 'x' || c == 'i' || (c >= 'a' && c <= 'h') || (c >= 'j' && c <= 'q')
	if isPrefixLetter && len(tok) > 1 && isDigit(tok[1]) {
		prefix = c
		rest = tok[1:]
	}
	value, err := parseFCPUValue(rest)
	if err != nil {
		return 0, 0, false
	}
	return applyOscCorrection(value, prefix), prefix, true
}

// parseFCPUValue parses the numeric body of a F_CPU token: either
// "<n>MHz" (a whole-MHz value) or "<n>m<frac>" (urboot's decimal-point
// notation, 'm' standing in for '.': "8m0" = 8.0, "8m5" = 8.5).
func parseFCPUValue(s string) (int, error) {
	if idx := strings.Index(s, "MHz"); idx > 0 {
		n, err := strconv.Atoi(s[:idx])
		if err != nil {
			return 0, errs.Newf(errs.ErrConfig, "urboot: malformed F_CPU token %q", s)
		}
		return n * 1_000_000, nil
	}
	if idx := strings.IndexByte(s, 'm'); idx > 0 {
		whole, err := strconv.Atoi(s[:idx])
		if err != nil {
			return 0, errs.Newf(errs.ErrConfig, "urboot: malformed F_CPU token %q", s)
		}
		fracStr := s[idx+1:]
		if fracStr == "" {
			fracStr = "0"
		}
		frac, err := strconv.Atoi(fracStr)
		if err != nil {
			return 0, errs.Newf(errs.ErrConfig, "urboot: malformed F_CPU token %q", s)
		}
		scale := 1
		for range fracStr {
			scale *= 10
		}
		return whole*1_000_000 + frac*1_000_000/scale, nil
	}
	return 0, errs.Newf(errs.ErrConfig, "urboot: malformed F_CPU token %q", s)
}

func applyOscCorrection(hz int, prefix byte) int {
	switch {
	case prefix == 0 || prefix == 'x' || prefix == 'i':
		return hz
	case prefix >= 'a' && prefix <= 'h':
		percent := float64(prefix-'a'+1) * 1.25
		return hz - int(float64(hz)*percent/100)
	case prefix >= 'j' && prefix <= 'q':
		percent := float64(prefix-'j'+1) * 1.25
		return hz + int(float64(hz)*percent/100)
	default:
		return hz
	}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}
