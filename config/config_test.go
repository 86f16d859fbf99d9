package config

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rforge/avrctl/errs"
	"github.com/rforge/avrctl/model"
)

const sampleConfig = `
# comment line
programmer {
  id = "arduino", "stk500v1";
  desc = "Arduino as ISP";
  type = "arduino";
  baudrate = 115_200;
  pin = reset, 0x04;
}

part {
  id = "atmega328p";
  desc = "ATmega328P";
  signature = 0x1e, 0x95, 0x0f;
  prog_modes = isp;
  chip_erase_delay = 9_000;

  memory "flash" {
    paged = yes;
    size = 0x8000;
    page_size = 128;
    num_pages = 256;
    min_write_delay = 4500;
    read = "1 0 1 0 0 0 0 0  0 0 0 x x x x x  x x x x x x x x  o o o o o o o o";
  }

  memory "eeprom" {
    paged = no;
    size = 1024;
    cycle_counter = yes;
  }
}

part {
  id = "atmega328p";
  memory "eeprom" {
    paged = no;
    size = 1024;
    min_write_delay = 3600;
  }
}
`

func TestParseAndLocate(t *testing.T) {
	db := NewDatabase()
	if err := parseFile("sample.conf", sampleConfig, db); err != nil {
		t.Fatalf("parseFile: %v", err)
	}

	prog, err := db.LocateProgrammer("stk500v1")
	if err != nil {
		t.Fatalf("LocateProgrammer: %v", err)
	}
	if prog.Type != "arduino" {
		t.Errorf("prog.Type = %q, want arduino", prog.Type)
	}
	if !prog.HaveBaud || prog.Baud != 115200 {
		t.Errorf("prog.Baud = %v/%v, want 115200/true", prog.Baud, prog.HaveBaud)
	}
	if prog.Pins["reset"] != 4 {
		t.Errorf("prog.Pins[reset] = %d, want 4", prog.Pins["reset"])
	}

	part, err := db.LocatePart("atmega328p")
	if err != nil {
		t.Fatalf("LocatePart: %v", err)
	}
	if part.Signature != [3]byte{0x1e, 0x95, 0x0f} {
		t.Errorf("part.Signature = %v", part.Signature)
	}

	flash := LocateMem(part, "flash")
	if flash == nil {
		t.Fatal("flash memory not found")
	}
	if flash.Size != 0x8000 || flash.PageSize*flash.NumPages != flash.Size {
		t.Errorf("flash paged geometry mismatch: %+v", flash)
	}
	if flash.Opcodes[0] == nil {
		t.Fatal("flash.Opcodes[OpRead] not set")
	}

	eeprom := part.FindMem("eeprom")
	if eeprom == nil {
		t.Fatal("eeprom memory not found")
	}
	if !eeprom.CycleCounter {
		t.Error("eeprom.CycleCounter should carry across the additive merge")
	}
	if eeprom.MinWriteDelayUS != 3600 {
		t.Errorf("eeprom.MinWriteDelayUS = %d, want 3600 (overwritten by second part block)", eeprom.MinWriteDelayUS)
	}
}

func TestDeprecatedDevicecodeRejected(t *testing.T) {
	const src = `
programmer {
  id = "old";
  type = "stk500";
  devicecode = 0x01;
}
`
	db := NewDatabase()
	err := parseFile("old.conf", src, db)
	if err == nil {
		t.Fatal("expected error for deprecated devicecode field")
	}
	if !errors.Is(err, errs.ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
}

func TestOpcodeBitLayout(t *testing.T) {
	opc, err := parseOpcode("1 0 1 0 0 0 0 0  0 0 0 x x x x x  x x x x x x x x  o o o o o o o o")
	if err != nil {
		t.Fatalf("parseOpcode: %v", err)
	}
	if opc.IsAbsent() {
		t.Fatal("parsed opcode should not be absent")
	}
	var gotOutputBits []int
	for i := 31; i >= 0; i-- {
		if opc.Bits[i].Kind == model.BitOutput {
			gotOutputBits = append(gotOutputBits, opc.Bits[i].BitNo)
		}
	}
	want := []int{0, 1, 2, 3, 4, 5, 6, 7}
	if diff := cmp.Diff(want, gotOutputBits); diff != "" {
		t.Errorf("output bit numbering mismatch (-want +got):\n%s", diff)
	}
}
