package fileio

import (
	"bytes"
	"strings"

	"github.com/rforge/avrctl/errs"
)

// Format names an update's file format (spec.md §3, §6); "" or "auto"
// asks Decode to sniff it.
type Format string

const (
	FormatAuto    Format = ""
	FormatAutoAlt Format = "auto"
	FormatIHex    Format = "i"
	FormatSRec    Format = "s"
	FormatRaw     Format = "r"
	FormatELF     Format = "e"
	FormatTextual Format = "m"
)

// Decode parses data as format, auto-detecting it from content when
// format is FormatAuto/FormatAutoAlt.
func Decode(data []byte, format Format) (*AnyMemory, error) {
	switch format {
	case FormatIHex:
		return DecodeIHex(string(data))
	case FormatSRec:
		return DecodeSRec(string(data))
	case FormatRaw:
		return DecodeRaw(data), nil
	case FormatELF:
		return DecodeELF(data)
	case FormatTextual:
		return DecodeTextual(string(data))
	case FormatAuto, FormatAutoAlt:
		return autoDecode(data)
	default:
		return nil, errs.Newf(errs.ErrFile, "unknown file format %q", format)
	}
}

// autoDecode sniffs data's format from its leading bytes, the same
// priority order avrdude's -D auto-detection documents: ELF magic
// first, then the ':'/'S' record markers, then fall back to raw binary
// unless the content looks like printable textual byte-list syntax.
func autoDecode(data []byte) (*AnyMemory, error) {
	if bytes.HasPrefix(data, []byte{0x7f, 'E', 'L', 'F'}) {
		return DecodeELF(data)
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == ':' {
		return DecodeIHex(string(data))
	}
	if len(trimmed) > 0 && trimmed[0] == 'S' && len(trimmed) > 1 && trimmed[1] >= '0' && trimmed[1] <= '9' {
		return DecodeSRec(string(data))
	}
	if looksTextual(data) {
		return DecodeTextual(string(data))
	}
	return DecodeRaw(data), nil
}

// looksTextual reports whether data is plausibly a textual byte list:
// every byte is printable ASCII or common whitespace.
func looksTextual(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	sample := data
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	for _, b := range sample {
		if b == '\n' || b == '\r' || b == '\t' {
			continue
		}
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return strings.ContainsAny(string(sample), "0123456789")
}
