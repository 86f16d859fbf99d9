package config

import (
	"strconv"
	"strings"

	"github.com/rforge/avrctl/errs"
	"github.com/rforge/avrctl/model"
)

// parseOpcode parses a 32-bit bit-pattern string such as
// "1 0 1 0 0 0 0 0  0 0 0 x x x x x  a a a a a a a a  i i i i i i i i"
// into a model.OPCODE, per spec.md §4.1's opcode grammar: each
// whitespace-separated token supplies one bit, read most-significant bit
// first, so the string holds exactly 32 tokens:
//
//	'0'    fixed zero
//	'1'    fixed one
//	'x'    don't-care (ignored on both assemble and extract)
//	'a'    an address bit, numbered by position unless followed by a
//	       digit string giving its bit number explicitly ("a7")
//	'i'    an input bit (model.BitInput): a bit of the response word
//	       that isp.Extract gathers into the byte read back
//	'o'    an output bit (model.BitOutput): a bit of the data byte that
//	       isp.Assemble places into the command word
//
// Bits are assigned address/input/output bit numbers in strict
// most-significant-to-least-significant token order, matching how the
// corpus avr device files lay these out.
func parseOpcode(s string) (*model.OPCODE, error) {
	fields := strings.Fields(s)
	if len(fields) != 32 {
		return nil, errs.Newf(errs.ErrConfig, "opcode requires 32 bit specifiers, got %d", len(fields))
	}
	opc := &model.OPCODE{}
	addrBit, inBit, outBit := 0, 0, 0
	for i, f := range fields {
		bitNo := 31 - i
		kind, explicit, err := classifyBit(f)
		if err != nil {
			return nil, err
		}
		b := model.Bit{Kind: kind, BitNo: bitNo}
		switch kind {
		case model.BitAddress:
			if explicit >= 0 {
				b.BitNo = explicit
			} else {
				b.BitNo = addrBit
				addrBit++
			}
		case model.BitInput:
			b.BitNo = inBit
			inBit++
		case model.BitOutput:
			b.BitNo = outBit
			outBit++
		}
		opc.Bits[bitNo] = b
	}
	return opc, nil
}

// classifyBit parses one opcode token. explicit is the bit number carried
// by an "a<n>" token, or -1 when the token has no explicit number.
func classifyBit(f string) (model.BitKind, int, error) {
	switch f {
	case "0":
		return model.BitValue0, -1, nil
	case "1":
		return model.BitValue1, -1, nil
	case "x", "X":
		return model.BitIgnore, -1, nil
	case "i":
		return model.BitInput, -1, nil
	case "o":
		return model.BitOutput, -1, nil
	case "a":
		return model.BitAddress, -1, nil
	}
	if strings.HasPrefix(f, "a") {
		n, err := strconv.Atoi(f[1:])
		if err != nil {
			return 0, -1, errs.Newf(errs.ErrConfig, "invalid address bit specifier %q", f)
		}
		return model.BitAddress, n, nil
	}
	return 0, -1, errs.Newf(errs.ErrConfig, "unknown opcode bit specifier %q", f)
}
