// Package fileio implements the on-disk formats update files may use —
// Intel Hex, Motorola S-Record, ELF, raw binary, and a textual byte
// list — against the flat "any-memory" address space spec.md §4.5
// describes: every part memory lives at its own non-overlapping offset
// (flash at 0, and eeprom/fuses/lock/signature/bootrow following above
// it per the part's configured Offset fields), so a single-file format
// like Intel Hex or ELF can address any of them without a separate
// per-memory container.
package fileio

import (
	"sort"

	"github.com/rforge/avrctl/model"
)

// AnyMemory is a sparse byte map over the flat address space: only
// addresses a decoder actually saw are present, mirroring AVRMEM's
// allocated/unallocated distinction at the file layer.
type AnyMemory struct {
	data map[int]byte
}

// NewAnyMemory returns an empty flat address space.
func NewAnyMemory() *AnyMemory {
	return &AnyMemory{data: map[int]byte{}}
}

// Put records value at addr.
func (a *AnyMemory) Put(addr int, value byte) {
	a.data[addr] = value
}

// Get returns the byte at addr and whether it was ever set.
func (a *AnyMemory) Get(addr int) (byte, bool) {
	v, ok := a.data[addr]
	return v, ok
}

// Len reports how many addresses are populated.
func (a *AnyMemory) Len() int {
	return len(a.data)
}

// Segments returns the populated addresses as maximal contiguous runs,
// sorted by address, the shape Intel Hex/SREC encoders need to decide
// where to emit address-change records.
func (a *AnyMemory) Segments() []model.Segment {
	if len(a.data) == 0 {
		return nil
	}
	addrs := make([]int, 0, len(a.data))
	for addr := range a.data {
		addrs = append(addrs, addr)
	}
	sort.Ints(addrs)

	var segs []model.Segment
	start := addrs[0]
	prev := addrs[0]
	for _, addr := range addrs[1:] {
		if addr == prev+1 {
			prev = addr
			continue
		}
		segs = append(segs, model.Segment{Addr: start, Len: prev - start + 1})
		start, prev = addr, addr
	}
	segs = append(segs, model.Segment{Addr: start, Len: prev - start + 1})
	return segs
}

// FlattenPart copies every allocated byte of every memory in part into a
// single AnyMemory, keyed by mem.Offset+localAddr.
func FlattenPart(part *model.AVRPART) *AnyMemory {
	am := NewAnyMemory()
	for _, m := range part.Mem {
		for i := 0; i < m.Size; i++ {
			if m.Allocated(i) {
				am.Put(m.Offset+i, m.Buf[i])
			}
		}
	}
	return am
}

// UnflattenPart distributes am's bytes back into part's memories by
// offset, ignoring addresses that fall outside every memory's range
// (data destined for a memory this part doesn't have, or padding a
// format emitted between regions).
func UnflattenPart(part *model.AVRPART, am *AnyMemory) {
	for _, m := range part.Mem {
		for i := 0; i < m.Size; i++ {
			if b, ok := am.Get(m.Offset + i); ok {
				m.Put(i, b)
			}
		}
	}
}

// FlattenMem copies a single memory's allocated bytes into an AnyMemory
// addressed from 0 (not mem.Offset), the shape raw/textual/hex decoders
// aimed at one named memory use instead of the whole-part flat space.
func FlattenMem(mem *model.AVRMEM) *AnyMemory {
	am := NewAnyMemory()
	for i := 0; i < mem.Size; i++ {
		if mem.Allocated(i) {
			am.Put(i, mem.Buf[i])
		}
	}
	return am
}

// UnflattenMem writes am's bytes into mem starting at address 0.
func UnflattenMem(mem *model.AVRMEM, am *AnyMemory) {
	for i := 0; i < mem.Size; i++ {
		if b, ok := am.Get(i); ok {
			mem.Put(i, b)
		}
	}
}
