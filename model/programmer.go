package model

import "strings"

// PROGRAMMER is one configured programmer id's static descriptor: the
// electrical/USB parameters the config database declares. The operation
// vtable itself is an engine.Driver built by package programmer, looked up by Type
// at dispatch time rather than stored as function pointers here, so the
// data model stays free of behavior (spec.md §9 DESIGN NOTES).
type PROGRAMMER struct {
	ID      string
	Aliases []string
	Type    string // "stk500v1", "avr910", "arduino", "ft245r", "ch341a", ...

	Pins map[string]int // pin-number table, keyed by logical pin name

	USBVendor  int
	USBProduct int
	USBSerial  string
	USBStrings []string

	HaveBaud     bool
	Baud         int
	HaveBitClock bool
	BitClockHz   float64

	HasSTK500Devcode bool
	STK500Devcode    int
	HasAVR910Devcode bool
	AVR910Devcode    int

	ConfigFile string
	ConfigLine int
}

// HasAlias reports whether id case-insensitively names this programmer,
// matching spec.md §4.1's "Identifiers for programmer aliases are
// compared case-insensitively throughout."
func (p *PROGRAMMER) HasAlias(id string) bool {
	if strings.EqualFold(p.ID, id) {
		return true
	}
	for _, a := range p.Aliases {
		if strings.EqualFold(a, id) {
			return true
		}
	}
	return false
}
