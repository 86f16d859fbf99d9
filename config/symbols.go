package config

import (
	"strings"

	"github.com/rforge/avrctl/model"
)

// progModeSymbols maps the symbolic constants the grammar accepts for a
// part's programming-mode bitmask (spec.md §3, §4.1).
var progModeSymbols = map[string]model.ProgMode{
	"isp":       model.ModeISP,
	"pdi":       model.ModePDI,
	"updi":      model.ModeUPDI,
	"tpi":       model.ModeTPI,
	"hvpp":      model.ModeHVPP,
	"hvsp":      model.ModeHVSP,
	"jtag":      model.ModeJTAG,
	"debugwire": model.ModeDebugWIRE,
	"awire":     model.ModeAWire,
	"spm":       model.ModeSPM,
}

// parseProgModes parses a comma-separated identifier list (already split
// by the caller) into a ProgMode bitmask.
func parseProgModes(idents []string) (model.ProgMode, bool) {
	var modes model.ProgMode
	for _, id := range idents {
		m, ok := progModeSymbols[strings.ToLower(id)]
		if !ok {
			return 0, false
		}
		modes |= m
	}
	return modes, true
}

// boolSymbol parses the "yes"/"no"/"pseudo" tri-state symbolic constant
// spec.md §4.1 names. "pseudo" is accepted as a truthy value distinct
// from a plain boolean for memories that exist only to satisfy file-layer
// address-space bookkeeping (e.g. a part without a true fuse byte that
// still wants a "fuse" entry for layout purposes); callers that do not
// distinguish it may treat isPseudo as an informational flag.
func boolSymbol(s string) (value bool, isPseudo bool, ok bool) {
	switch strings.ToLower(s) {
	case "yes":
		return true, false, true
	case "no":
		return false, false, true
	case "pseudo":
		return true, true, true
	default:
		return false, false, false
	}
}
