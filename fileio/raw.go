package fileio

// DecodeRaw treats data as a flat binary image starting at address 0,
// the simplest of the update formats (spec.md §4.5): what you see is
// what gets written.
func DecodeRaw(data []byte) *AnyMemory {
	am := NewAnyMemory()
	for i, b := range data {
		am.Put(i, b)
	}
	return am
}

// EncodeRaw renders am as a contiguous binary image from address 0 up
// to its highest populated address; gaps read back as 0xff, matching
// how erased flash reads.
func EncodeRaw(am *AnyMemory) []byte {
	segs := am.Segments()
	if len(segs) == 0 {
		return nil
	}
	end := 0
	for _, s := range segs {
		if s.End() > end {
			end = s.End()
		}
	}
	buf := make([]byte, end)
	for i := range buf {
		buf[i] = 0xff
	}
	for _, s := range segs {
		for addr := s.Addr; addr < s.End(); addr++ {
			b, _ := am.Get(addr)
			buf[addr] = b
		}
	}
	return buf
}
