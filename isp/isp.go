// Package isp assembles and disassembles the 32-bit ISP command/response
// words an AVRMEM's OPCODE templates describe, the shift/mask bit-packing
// idiom the risc32 assembler in the examples pack uses for its own
// fixed-width instruction words, adapted here to a template-driven
// assembler since each part's opcode layout is data (parsed from its
// config entry) rather than a fixed instruction set.
package isp

import (
	"github.com/rforge/avrctl/errs"
	"github.com/rforge/avrctl/model"
)

// Assemble builds the 4-byte command word a given opcode template
// describes for addr (the target memory address) and input (the data
// byte being written, ignored by read-shaped opcodes). Byte 0 is the
// most-significant byte, matching the wire order STK500 and direct ISP
// both expect.
func Assemble(opc *model.OPCODE, addr int, input byte) ([4]byte, error) {
	var out [4]byte
	if opc.IsAbsent() {
		return out, errs.New(errs.ErrUnsupported, "opcode template not supported by this part")
	}
	var word uint32
	for i := 31; i >= 0; i-- {
		b := opc.Bits[i]
		var bit uint32
		switch b.Kind {
		case model.BitValue0:
			bit = 0
		case model.BitValue1:
			bit = 1
		case model.BitIgnore:
			bit = 0
		case model.BitAddress:
			bit = uint32(addr>>b.BitNo) & 1
		case model.BitOutput:
			bit = uint32(input>>b.BitNo) & 1
		case model.BitInput:
			bit = 0 // input-data bits belong to the response, not the command
		}
		word |= bit << i
	}
	out[0] = byte(word >> 24)
	out[1] = byte(word >> 16)
	out[2] = byte(word >> 8)
	out[3] = byte(word)
	return out, nil
}

// Extract reads the response byte a read-shaped opcode's BitInput
// positions encode out of the 4-byte reply resp.
func Extract(opc *model.OPCODE, resp [4]byte) (byte, error) {
	if opc.IsAbsent() {
		return 0, errs.New(errs.ErrUnsupported, "opcode template not supported by this part")
	}
	word := uint32(resp[0])<<24 | uint32(resp[1])<<16 | uint32(resp[2])<<8 | uint32(resp[3])
	var value byte
	for i := 31; i >= 0; i-- {
		b := opc.Bits[i]
		if b.Kind != model.BitInput {
			continue
		}
		bit := byte((word >> i) & 1)
		value |= bit << b.BitNo
	}
	return value, nil
}
