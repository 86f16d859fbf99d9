package model

// Segment is a half-open byte range [Addr, Addr+Len) inside an AVRMEM.Buf.
// Every file-layer API accepts one or more Segments and must never touch
// bytes outside them (spec.md §3, §8 "Segment discipline").
type Segment struct {
	Addr int
	Len  int
}

// End returns the exclusive upper bound of the segment.
func (s Segment) End() int { return s.Addr + s.Len }

// Contains reports whether addr falls inside the segment.
func (s Segment) Contains(addr int) bool {
	return addr >= s.Addr && addr < s.End()
}

// Clip intersects s with [lo, hi) (half-open), returning ok=false if the
// result is empty.
func (s Segment) Clip(lo, hi int) (Segment, bool) {
	start := s.Addr
	if lo > start {
		start = lo
	}
	end := s.End()
	if hi < end {
		end = hi
	}
	if end <= start {
		return Segment{}, false
	}
	return Segment{Addr: start, Len: end - start}, true
}
