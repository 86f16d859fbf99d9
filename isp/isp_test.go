package isp

import (
	"testing"

	"github.com/rforge/avrctl/model"
)

// readOpcode builds the "1010 0000 0000 aaaa aaaaaaaa iiiiiiii"
// shaped template real AVR "Read Program Memory" opcodes use: a fixed
// header, a 12-bit address field split as shown, and a data byte read
// back in the low byte of the response (BitInput positions).
func readOpcode() *model.OPCODE {
	opc := &model.OPCODE{}
	for i := 0; i < 32; i++ {
		opc.Bits[i] = model.Bit{Kind: model.BitValue0}
	}
	opc.Bits[31] = model.Bit{Kind: model.BitValue1}
	opc.Bits[29] = model.Bit{Kind: model.BitValue1}
	for i := 0; i < 12; i++ {
		opc.Bits[8+i] = model.Bit{Kind: model.BitAddress, BitNo: i}
	}
	for i := 0; i < 8; i++ {
		opc.Bits[i] = model.Bit{Kind: model.BitInput, BitNo: i}
	}
	return opc
}

func writeOpcode() *model.OPCODE {
	opc := &model.OPCODE{}
	for i := 0; i < 32; i++ {
		opc.Bits[i] = model.Bit{Kind: model.BitValue0}
	}
	opc.Bits[31] = model.Bit{Kind: model.BitValue1}
	opc.Bits[30] = model.Bit{Kind: model.BitValue1}
	for i := 0; i < 12; i++ {
		opc.Bits[8+i] = model.Bit{Kind: model.BitAddress, BitNo: i}
	}
	for i := 0; i < 8; i++ {
		opc.Bits[i] = model.Bit{Kind: model.BitOutput, BitNo: i}
	}
	return opc
}

func TestAssembleAddressPlacement(t *testing.T) {
	opc := readOpcode()
	cmd, err := Assemble(opc, 0xABC, 0)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	got := (uint32(cmd[1]) << 8) | uint32(cmd[2])
	if got&0x0FFF != 0xABC {
		t.Errorf("address field = %#x, want %#x", got&0x0FFF, 0xABC)
	}
}

func TestAssemblePlacesWriteDataInLowByte(t *testing.T) {
	opc := writeOpcode()
	for _, addr := range []int{0, 1, 0x7FF, 0x800, 0xFFF} {
		for _, data := range []byte{0x00, 0x01, 0x55, 0xAA, 0xFF} {
			cmd, err := Assemble(opc, addr, data)
			if err != nil {
				t.Fatalf("Assemble(%d, %#x): %v", addr, data, err)
			}
			if got := cmd[3]; got != data {
				t.Errorf("Assemble(%d, %#x): low byte = %#x, want %#x", addr, data, got, data)
			}
		}
	}
}

func TestExtractReadsResponseDataByte(t *testing.T) {
	opc := readOpcode()
	resp := [4]byte{0x20, 0x00, 0x00, 0x42}
	got, err := Extract(opc, resp)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != 0x42 {
		t.Errorf("Extract = %#x, want 0x42", got)
	}
}

func TestAbsentOpcodeRejected(t *testing.T) {
	var opc model.OPCODE // zero value: all BitValue0, "absent"
	if _, err := Assemble(&opc, 0, 0); err == nil {
		t.Error("expected error assembling an absent opcode")
	}
	if _, err := Extract(&opc, [4]byte{}); err == nil {
		t.Error("expected error extracting from an absent opcode")
	}
}
