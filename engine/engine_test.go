package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/rforge/avrctl/model"
)

// fakeDevice is an in-memory stand-in for a real programmer: a plain
// byte slice that WriteByte/ReadByte act on, committing instantly. The
// test memories declare no read-back bytes, so waitForWrite takes its
// delay-based fallback rather than the read-back strategy.
type fakeDevice struct {
	buf []byte
}

func newFakeDevice(size int) *fakeDevice {
	return &fakeDevice{buf: make([]byte, size)}
}

func (f *fakeDevice) driver() *Driver {
	return &Driver{
		ReadByte: func(ctx context.Context, addr int) (byte, error) {
			return f.buf[addr], nil
		},
		WriteByte: func(ctx context.Context, addr int, value byte) error {
			f.buf[addr] = value
			return nil
		},
	}
}

func TestWriteReadByte(t *testing.T) {
	dev := newFakeDevice(16)
	mem := model.NewAVRMEM("eeprom", 16)
	if err := WriteByte(context.Background(), dev.driver(), mem, 3, 0x42); err != nil {
		t.Fatalf("WriteByte: %v", err)
	}
	got, err := ReadByte(context.Background(), dev.driver(), mem, 3)
	if err != nil {
		t.Fatalf("ReadByte: %v", err)
	}
	if got != 0x42 {
		t.Errorf("ReadByte = %#x, want 0x42", got)
	}
	if !mem.Allocated(3) {
		t.Error("byte 3 should be marked allocated after WriteByte")
	}
}

func TestCycleCounterIncrements(t *testing.T) {
	dev := newFakeDevice(16)
	mem := model.NewAVRMEM("eeprom", 16)
	mem.CycleCounter = true
	driver := dev.driver()

	if err := WriteByte(context.Background(), driver, mem, 0, 0xAA); err != nil {
		t.Fatalf("WriteByte: %v", err)
	}
	if err := WriteByte(context.Background(), driver, mem, 1, 0xBB); err != nil {
		t.Fatalf("WriteByte: %v", err)
	}
	count := uint32(mem.Buf[12])<<24 | uint32(mem.Buf[13])<<16 | uint32(mem.Buf[14])<<8 | uint32(mem.Buf[15])
	if count != 2 {
		t.Errorf("cycle counter = %d, want 2", count)
	}
}

func TestVerifyDetectsMismatch(t *testing.T) {
	dev := newFakeDevice(8)
	mem := model.NewAVRMEM("flash", 8)
	want := model.NewAVRMEM("flash", 8)
	driver := dev.driver()

	for i := 0; i < 4; i++ {
		if err := WriteByte(context.Background(), driver, mem, i, byte(i)); err != nil {
			t.Fatalf("WriteByte: %v", err)
		}
		want.Put(i, byte(i))
	}
	if addr, err := Verify(context.Background(), driver, mem, want); err != nil || addr != -1 {
		t.Fatalf("Verify should succeed on matching content, got addr=%d err=%v", addr, err)
	}

	want.Put(2, 0xFF)
	addr, err := Verify(context.Background(), driver, mem, want)
	if err == nil {
		t.Fatal("expected verify mismatch error")
	}
	if addr != 2 {
		t.Errorf("mismatch addr = %d, want 2", addr)
	}
}

func TestVerifySkipsUnallocatedBytes(t *testing.T) {
	dev := newFakeDevice(4)
	mem := model.NewAVRMEM("flash", 4)
	want := model.NewAVRMEM("flash", 4) // nothing allocated
	addr, err := Verify(context.Background(), dev.driver(), mem, want)
	if err != nil || addr != -1 {
		t.Fatalf("Verify over an unallocated want-buffer should vacuously succeed, got addr=%d err=%v", addr, err)
	}
}

func TestPagedWriteAndLoad(t *testing.T) {
	dev := newFakeDevice(32)
	mem := model.NewAVRMEM("flash", 32)
	mem.Paged = true
	mem.PageSize = 8
	mem.NumPages = 4

	var loaded [][]byte
	driver := &Driver{
		WritePage: func(ctx context.Context, addr int, page []byte) error {
			copy(dev.buf[addr:addr+len(page)], page)
			return nil
		},
		LoadPage: func(ctx context.Context, addr int, page []byte) error {
			copy(page, dev.buf[addr:addr+len(page)])
			loaded = append(loaded, append([]byte(nil), page...))
			return nil
		},
		ReadByte: func(ctx context.Context, addr int) (byte, error) {
			return dev.buf[addr], nil
		},
	}

	data := make([]byte, 8)
	for i := range data {
		data[i] = byte(0x10 + i)
	}
	if err := PagedWrite(context.Background(), driver, mem, 8, data); err != nil {
		t.Fatalf("PagedWrite: %v", err)
	}
	for i, b := range data {
		if mem.Buf[8+i] != b {
			t.Errorf("mem.Buf[%d] = %#x, want %#x", 8+i, mem.Buf[8+i], b)
		}
	}

	if err := PagedLoad(context.Background(), driver, mem); err != nil {
		t.Fatalf("PagedLoad: %v", err)
	}
	if len(loaded) != mem.NumPages {
		t.Errorf("loaded %d pages, want %d", len(loaded), mem.NumPages)
	}
}

func TestEnableProgrammingRetries(t *testing.T) {
	attempts := 0
	driver := &Driver{
		ProgramEnable: func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("not in sync")
			}
			return nil
		},
	}
	if err := EnableProgramming(context.Background(), driver); err != nil {
		t.Fatalf("EnableProgramming: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestEnableProgrammingExhausted(t *testing.T) {
	driver := &Driver{
		ProgramEnable: func(ctx context.Context) error {
			return errors.New("no sync ever")
		},
	}
	err := EnableProgramming(context.Background(), driver)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestReadSignatureMatch(t *testing.T) {
	part := &model.AVRPART{Signature: [3]byte{0x1e, 0x95, 0x0f}}
	driver := &Driver{
		ReadSignature: func(ctx context.Context) ([3]byte, error) {
			return [3]byte{0x1e, 0x95, 0x0f}, nil
		},
	}
	sig, match, err := ReadSignature(context.Background(), driver, part)
	if err != nil {
		t.Fatalf("ReadSignature: %v", err)
	}
	if !match {
		t.Errorf("signature %v should match part signature %v", sig, part.Signature)
	}
}
