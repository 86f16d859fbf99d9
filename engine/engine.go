package engine

import (
	"context"
	"encoding/binary"

	"github.com/rforge/avrctl/errs"
	"github.com/rforge/avrctl/logging"
	"github.com/rforge/avrctl/model"
)

// programEnableAttempts is the retry budget spec.md §4.2 gives
// program_enable: some bootloaders and noisy ISP lines need a handful of
// attempts before the target actually asserts its programming-enable
// acknowledgement.
const programEnableAttempts = 4

// EnableProgramming retries driver.ProgramEnable up to programEnableAttempts
// times, the budget spec.md §4.2 specifies, returning the last error if
// every attempt fails.
func EnableProgramming(ctx context.Context, driver *Driver) error {
	if driver.ProgramEnable == nil {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= programEnableAttempts; attempt++ {
		err := driver.ProgramEnable(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		logging.Debugf("engine", logging.DebugEngine, "program_enable attempt %d/%d failed: %v", attempt, programEnableAttempts, err)
	}
	return errs.Wrap(errs.ErrDevice, lastErr, "program_enable failed after retries")
}

// ReadSignature reads the part's 3-byte signature and reports whether it
// matches part.Signature. What a mismatch means is up to the caller:
// main.go treats it as fatal unless -u is given.
func ReadSignature(ctx context.Context, driver *Driver, part *model.AVRPART) ([3]byte, bool, error) {
	if driver.ReadSignature == nil {
		return [3]byte{}, false, errs.New(errs.ErrUnsupported, "programmer cannot read the device signature")
	}
	sig, err := driver.ReadSignature(ctx)
	if err != nil {
		return sig, false, errs.Wrap(errs.ErrDevice, err, "reading device signature")
	}
	return sig, sig == part.Signature, nil
}

// ReadByte reads a single byte of mem at addr.
func ReadByte(ctx context.Context, driver *Driver, mem *model.AVRMEM, addr int) (byte, error) {
	if addr < 0 || addr >= mem.Size {
		return 0, errs.Newf(errs.ErrDevice, "address %#x out of range for memory %q (size %#x)", addr, mem.Name, mem.Size)
	}
	if driver.ReadByte == nil {
		return 0, errs.Newf(errs.ErrUnsupported, "memory %q does not support byte reads", mem.Name)
	}
	return driver.ReadByte(ctx, addr)
}

// CycleCountUntracked is the sentinel stored in a cycle-counted memory's
// counter field meaning "this device has never had its erase/rewrite
// count tracked" (spec.md §4.2); GetCycleCount reports it instead of a
// count, and PutCycleCount never advances past it implicitly.
const CycleCountUntracked uint32 = 0xffffffff

// GetCycleCount reads the 32-bit erase/rewrite counter from the last
// four bytes of mem, or CycleCountUntracked if mem does not carry one.
// The counter is stored big-endian (spec.md §4.2).
func GetCycleCount(mem *model.AVRMEM) uint32 {
	if !mem.CycleCounter || mem.Size < 4 {
		return CycleCountUntracked
	}
	n := len(mem.Buf)
	return binary.BigEndian.Uint32(mem.Buf[n-4:])
}

// PutCycleCount stores count into the last four bytes of mem's buffer,
// big-endian, and marks them allocated. Used both by -Y (explicit set)
// and to restore a counter a chip erase would otherwise clobber.
func PutCycleCount(mem *model.AVRMEM, count uint32) {
	if !mem.CycleCounter || mem.Size < 4 {
		return
	}
	n := len(mem.Buf)
	binary.BigEndian.PutUint32(mem.Buf[n-4:], count)
	for i := n - 4; i < n; i++ {
		mem.Tags[i] |= model.TagAllocated
	}
}

// WriteByte writes value to mem at addr and waits for the write to
// commit, updating a present cycle counter if mem.CycleCounter is set
// (spec.md §4.2: the last 4 bytes of a cycle-counted EEPROM hold a
// big-endian erase/rewrite count incremented on every committed
// write elsewhere in the memory).
func WriteByte(ctx context.Context, driver *Driver, mem *model.AVRMEM, addr int, value byte) error {
	if addr < 0 || addr >= mem.Size {
		return errs.Newf(errs.ErrDevice, "address %#x out of range for memory %q (size %#x)", addr, mem.Name, mem.Size)
	}
	if driver.WriteByte == nil {
		return errs.Newf(errs.ErrUnsupported, "memory %q does not support byte writes", mem.Name)
	}
	if err := driver.WriteByte(ctx, addr, value); err != nil {
		return errs.Wrap(errs.ErrDevice, err, "writing byte")
	}
	if err := waitForWrite(ctx, driver, mem, addr, value); err != nil {
		return errs.Wrap(errs.ErrDevice, err, "waiting for write completion")
	}
	mem.Put(addr, value)
	if mem.CycleCounter && addr < mem.Size-4 {
		bumpCycleCounter(mem)
	}
	return nil
}

func bumpCycleCounter(mem *model.AVRMEM) {
	count := GetCycleCount(mem)
	if count == CycleCountUntracked {
		count = 0
	}
	count++
	PutCycleCount(mem, count)
}

// ChipErase issues the driver's chip-erase primitive; any erase delay is
// the driver's own (the direct-ISP driver sleeps the part's declared
// delay, the STK500 driver returns as soon as the programmer answers,
// and this function adds no wait of its own). A chip erase clobbers every byte of every memory
// including a cycle-counted EEPROM's counter field; for any memory with
// a tracked (not CycleCountUntracked) count, the counter is read before
// the erase and restored into the in-memory buffer afterward so a
// subsequent read/verify sees the pre-erase count rather than garbage
// (spec.md §4.2).
func ChipErase(ctx context.Context, driver *Driver, part *model.AVRPART) error {
	if driver.ChipErase == nil {
		return errs.New(errs.ErrUnsupported, "programmer does not support chip erase")
	}
	var saved []struct {
		mem   *model.AVRMEM
		count uint32
	}
	for _, m := range part.Mem {
		if m.CycleCounter {
			if c := GetCycleCount(m); c != CycleCountUntracked {
				saved = append(saved, struct {
					mem   *model.AVRMEM
					count uint32
				}{m, c})
			}
		}
	}
	if err := driver.ChipErase(ctx); err != nil {
		return errs.Wrap(errs.ErrDevice, err, "chip erase")
	}
	for _, s := range saved {
		PutCycleCount(s.mem, s.count)
	}
	return nil
}

// PagedLoad reads mem's full contents into mem.Buf, using the driver's
// paged read primitive a page at a time when available, falling back to
// per-byte reads otherwise.
func PagedLoad(ctx context.Context, driver *Driver, mem *model.AVRMEM) error {
	if mem.Paged && driver.LoadPage != nil {
		for addr := 0; addr < mem.Size; addr += mem.PageSize {
			page := mem.Buf[addr : addr+mem.PageSize]
			if err := driver.LoadPage(ctx, addr, page); err != nil {
				return errs.Wrap(errs.ErrDevice, err, "paged load")
			}
			for i := addr; i < addr+mem.PageSize; i++ {
				mem.Tags[i] |= model.TagAllocated
			}
		}
		return nil
	}
	for addr := 0; addr < mem.Size; addr++ {
		b, err := ReadByte(ctx, driver, mem, addr)
		if err != nil {
			return err
		}
		mem.Put(addr, b)
	}
	return nil
}

// PagedWrite writes src into mem starting at addr, using the driver's
// paged write primitive a page at a time when available and mem.Paged,
// falling back to per-byte writes otherwise. On the paged path every
// page is written whole, the write granularity AVR flash/EEPROM pages
// require; bytes of a page that src does not cover are taken from
// mem.Buf's current contents.
func PagedWrite(ctx context.Context, driver *Driver, mem *model.AVRMEM, addr int, src []byte) error {
	if mem.Paged && driver.WritePage != nil {
		pageAddr := addr - addr%mem.PageSize
		for pageAddr < addr+len(src) {
			page := make([]byte, mem.PageSize)
			copy(page, mem.Buf[pageAddr:pageAddr+mem.PageSize])
			for i := 0; i < mem.PageSize; i++ {
				srcIdx := pageAddr + i - addr
				if srcIdx >= 0 && srcIdx < len(src) {
					page[i] = src[srcIdx]
				}
			}
			if err := driver.WritePage(ctx, pageAddr, page); err != nil {
				return errs.Wrap(errs.ErrDevice, err, "paged write")
			}
			if err := waitForWrite(ctx, driver, mem, pageAddr, page[0]); err != nil {
				return errs.Wrap(errs.ErrDevice, err, "waiting for page write completion")
			}
			copy(mem.Buf[pageAddr:pageAddr+mem.PageSize], page)
			for i := pageAddr; i < pageAddr+mem.PageSize; i++ {
				mem.Tags[i] |= model.TagAllocated
			}
			pageAddr += mem.PageSize
		}
		return nil
	}
	for i, b := range src {
		if err := WriteByte(ctx, driver, mem, addr+i, b); err != nil {
			return err
		}
	}
	return nil
}

// Verify compares mem's in-memory buffer against a fresh read of the
// device, byte by byte, skipping positions the file layer never
// allocated (spec.md §4.2: "a byte participates in verify iff its tag
// has TagAllocated set"). It returns the first mismatching address, or
// -1 if everything allocated matched.
func Verify(ctx context.Context, driver *Driver, mem *model.AVRMEM, want *model.AVRMEM) (int, error) {
	for addr := 0; addr < want.Size && addr < mem.Size; addr++ {
		if !want.Allocated(addr) {
			continue
		}
		got, err := ReadByte(ctx, driver, mem, addr)
		if err != nil {
			return addr, err
		}
		expect := want.Buf[addr]
		if mem.HaveBitmask {
			got &= mem.Bitmask
			expect &= mem.Bitmask
		}
		if got != expect {
			return addr, errs.Newf(errs.ErrDevice, "verify mismatch at %#x: device has %#02x, expected %#02x", addr, got, expect)
		}
	}
	return -1, nil
}
