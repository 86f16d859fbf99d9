package fileio

import (
	"strconv"
	"strings"

	"github.com/rforge/avrctl/errs"
)

// DecodeTextual parses the "immediate" textual format: a
// whitespace/comma-separated list of byte values, written to consecutive
// addresses from 0. Each value follows Go's integer prefix rules:
// decimal, 0x hex, 0b binary, or 0/0o octal (so "010" is 8). A '#'
// starts a line comment. This is the format -U expects when a value is
// given directly on the command line instead of naming a file
// (spec.md §4.5, §6).
func DecodeTextual(data string) (*AnyMemory, error) {
	am := NewAnyMemory()
	addr := 0
	for _, line := range strings.Split(data, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\r'
		})
		for _, f := range fields {
			if f == "" {
				continue
			}
			v, err := strconv.ParseUint(f, 0, 8)
			if err != nil {
				return nil, errs.Newf(errs.ErrFile, "textual format: invalid byte value %q", f)
			}
			am.Put(addr, byte(v))
			addr++
		}
	}
	return am, nil
}

// EncodeTextual renders am as a comma-separated 0x-hex byte list, one
// contiguous segment per line.
func EncodeTextual(am *AnyMemory) string {
	var sb strings.Builder
	for _, seg := range am.Segments() {
		parts := make([]string, 0, seg.Len)
		for addr := seg.Addr; addr < seg.End(); addr++ {
			b, _ := am.Get(addr)
			parts = append(parts, "0x"+strings.ToUpper(strconv.FormatUint(uint64(b), 16)))
		}
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteByte('\n')
	}
	return sb.String()
}
