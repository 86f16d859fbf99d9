package urboot

import "github.com/rforge/avrctl/errs"

// BaudMode selects which UART timing a urboot image targets.
type BaudMode int

const (
	BaudHardware BaudMode = iota // on-chip USART, UBRR-based
	BaudLIN                      // LINBRR-based LIN/UART peripheral
	BaudSoftware                 // bit-banged software UART, cycle-counted
)

// SoftUARTFamily selects the family-specific fixed cycle overhead a
// software UART's bit-delay loop adds on top of its 6-cycle-per-iteration
// busy-wait body (spec.md §4.6).
type SoftUARTFamily int

const (
	FamilyClassic16 SoftUARTFamily = iota // classic AVR, 16-bit program counter
	FamilyClassic22                       // classic AVR, 22-bit program counter (>128KiB flash)
	FamilyXMEGA12
	FamilyXMEGA16
)

// ubrrRaw computes round(fcpu/(k*baud)) - 1, the UBRR/LINBRR register
// value every AVR datasheet's baud-rate table derives from k=16 (normal
// USART speed), k=8 (double-speed/U2X), or any LIN sample count.
func ubrrRaw(fcpu, baud, k int) int {
	return (fcpu+(k/2)*baud)/(k*baud) - 1
}

// actualBaud returns the baud rate ubrr actually yields at divisor k.
func actualBaud(fcpu, ubrr, k int) int {
	if ubrr < 0 {
		ubrr = 0
	}
	return fcpu / (k * (ubrr + 1))
}

// relErrorPPM returns |1 - actual/want| in parts per million, the unit
// spec.md §4.6's 1.4%/1.33x thresholds are most precisely compared in
// (1.4% == 14000 ppm).
func relErrorPPM(actual, want int) int {
	diff := actual - want
	if diff < 0 {
		diff = -diff
	}
	return diff * 1_000_000 / want
}

// UBRRValue computes the UBRR register value for a hardware USART
// running at baud given an F_CPU in Hz, choosing between normal (k=16)
// and double-speed (k=8) timing per spec.md §4.6's exact rule: use
// double-speed iff the part supports it AND either the classic-mode
// computation cannot represent baud (ubrr would be negative) or the
// classic-mode error exceeds 1.4% and is more than 1.33x the
// double-speed error.
func UBRRValue(fcpu, baud int, doubleSpeedCapable bool) (ubrr int, u2x bool, err error) {
	if baud <= 0 || fcpu <= 0 {
		return 0, false, errs.New(errs.ErrConfig, "urboot: baud rate and F_CPU must be positive")
	}
	normal := ubrrRaw(fcpu, baud, 16)
	errNormal := relErrorPPM(actualBaud(fcpu, normal, 16), baud)

	if !doubleSpeedCapable {
		if normal < 0 {
			return 0, false, errs.Newf(errs.ErrConfig, "urboot: baud %d unreachable at F_CPU %d without double-speed support", baud, fcpu)
		}
		return normal, false, nil
	}

	double := ubrrRaw(fcpu, baud, 8)
	errDouble := relErrorPPM(actualBaud(fcpu, double, 8), baud)

	baudDemandsDouble := normal < 0
	classicErrorExcessive := errNormal > 14_000 && errNormal > errDouble*133/100
	if baudDemandsDouble || classicErrorExcessive {
		if double < 0 {
			return 0, false, errs.Newf(errs.ErrConfig, "urboot: baud %d unreachable at F_CPU %d", baud, fcpu)
		}
		return double, true, nil
	}
	return normal, false, nil
}

// LINResult is the chosen LINBRR sample count and register value for a
// LIN/UART peripheral targeting a baud rate.
type LINResult struct {
	N        int // sample count, 8..63
	LINBRR   int
	ErrorPPM int
}

// LINValue searches every sample count n in [8,63] (the full range a
// urboot LIN-UART template may be built for) and returns the one giving
// the smallest relative error against baud, per spec.md §4.6.
func LINValue(fcpu, baud int) (LINResult, error) {
	if baud <= 0 || fcpu <= 0 {
		return LINResult{}, errs.New(errs.ErrConfig, "urboot: baud rate and F_CPU must be positive")
	}
	best := LINResult{ErrorPPM: -1}
	for n := 8; n <= 63; n++ {
		lbrr := ubrrRaw(fcpu, baud, n)
		if lbrr < 0 {
			continue
		}
		e := relErrorPPM(actualBaud(fcpu, lbrr, n), baud)
		if best.ErrorPPM < 0 || e < best.ErrorPPM {
			best = LINResult{N: n, LINBRR: lbrr, ErrorPPM: e}
		}
	}
	if best.ErrorPPM < 0 {
		return LINResult{}, errs.Newf(errs.ErrConfig, "urboot: no LIN sample count in [8,63] reaches baud %d at F_CPU %d", baud, fcpu)
	}
	return best, nil
}

// familyOverhead returns a software UART bit-delay loop's fixed setup
// and per-bit call overhead in cycles, before the 6-cycle-per-iteration
// busy-wait body (spec.md §4.6).
func familyOverhead(f SoftUARTFamily) (setup, call int) {
	switch f {
	case FamilyClassic16:
		return 14, 9
	case FamilyClassic22:
		return 18, 9
	case FamilyXMEGA12:
		return 12, 9
	case FamilyXMEGA16:
		return 16, 9
	default:
		return 14, 9
	}
}

// SoftUARTResult is a software UART's bit-delay loop shape: Loops is the
// busy-wait iteration count, ExtraCycles (0, 1, or 2) is a single-cycle
// `nop` or 2-cycle `rjmp .+0` inserted to close the gap the 6-cycle loop
// granularity leaves.
type SoftUARTResult struct {
	Loops       int
	ExtraCycles int
}

// SoftUARTDelay computes the busy-wait cycle count a software UART bit
// period needs at fcpu Hz and the given baud, for family's fixed
// overhead, for templates built without a hardware USART (spec.md §4.6).
func SoftUARTDelay(fcpu, baud int, family SoftUARTFamily) (SoftUARTResult, error) {
	if baud <= 0 || fcpu <= 0 {
		return SoftUARTResult{}, errs.New(errs.ErrConfig, "urboot: baud rate and F_CPU must be positive")
	}
	setup, call := familyOverhead(family)
	cyclesPerBit := (fcpu + baud/2) / baud
	remaining := cyclesPerBit - setup - call
	if remaining < 6 {
		return SoftUARTResult{}, errs.Newf(errs.ErrConfig, "urboot: F_CPU %d too low for software UART at %d baud", fcpu, baud)
	}
	loops := remaining / 6
	extra := remaining - loops*6
	if extra > 2 {
		// Round up to the next loop iteration rather than emit more than
		// the two documented single-instruction fillers.
		loops++
		extra = 0
	}
	return SoftUARTResult{Loops: loops, ExtraCycles: extra}, nil
}
