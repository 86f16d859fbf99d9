package fileio

import (
	"bufio"
	"encoding/hex"
	"strings"

	"github.com/rforge/avrctl/errs"
)

// Intel Hex record types (spec.md §4.5).
const (
	ihexData                byte = 0x00
	ihexEOF                  byte = 0x01
	ihexExtendedSegmentAddr  byte = 0x02
	ihexStartSegmentAddr     byte = 0x03
	ihexExtendedLinearAddr   byte = 0x04
	ihexStartLinearAddr      byte = 0x05
)

// DecodeIHex parses an Intel Hex (or IHXC, its comment-tolerant variant
// that permits blank lines and '#'/';'-prefixed comment lines between
// records) file into an AnyMemory.
func DecodeIHex(data string) (*AnyMemory, error) {
	am := NewAnyMemory()
	var upperAddr uint32
	scanner := bufio.NewScanner(strings.NewReader(data))
	lineNo := 0
	seenEOF := false
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if !strings.HasPrefix(line, ":") {
			return nil, errs.Newf(errs.ErrFile, "ihex line %d: missing ':' marker", lineNo)
		}
		raw, err := hex.DecodeString(line[1:])
		if err != nil {
			return nil, errs.Newf(errs.ErrFile, "ihex line %d: %v", lineNo, err)
		}
		if len(raw) < 5 {
			return nil, errs.Newf(errs.ErrFile, "ihex line %d: record too short", lineNo)
		}
		byteCount := raw[0]
		addr := uint32(raw[1])<<8 | uint32(raw[2])
		recType := raw[3]
		if len(raw) != int(byteCount)+5 {
			return nil, errs.Newf(errs.ErrFile, "ihex line %d: byte count mismatch", lineNo)
		}
		payload := raw[4 : 4+byteCount]
		checksum := raw[4+byteCount]
		if !checksumOK(raw[:len(raw)-1], checksum) {
			return nil, errs.Newf(errs.ErrFile, "ihex line %d: checksum mismatch", lineNo)
		}

		switch recType {
		case ihexData:
			base := upperAddr + addr
			for i, b := range payload {
				am.Put(int(base)+i, b)
			}
		case ihexEOF:
			seenEOF = true
		case ihexExtendedLinearAddr:
			if len(payload) != 2 {
				return nil, errs.Newf(errs.ErrFile, "ihex line %d: malformed extended linear address", lineNo)
			}
			upperAddr = (uint32(payload[0])<<8 | uint32(payload[1])) << 16
		case ihexExtendedSegmentAddr:
			if len(payload) != 2 {
				return nil, errs.Newf(errs.ErrFile, "ihex line %d: malformed extended segment address", lineNo)
			}
			upperAddr = (uint32(payload[0])<<8 | uint32(payload[1])) << 4
		case ihexStartSegmentAddr, ihexStartLinearAddr:
			// Entry-point records carry no memory content; ignored.
		default:
			return nil, errs.Newf(errs.ErrFile, "ihex line %d: unsupported record type %#x", lineNo, recType)
		}
		if seenEOF {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrFile, err, "reading ihex file")
	}
	if !seenEOF {
		return nil, errs.New(errs.ErrFile, "ihex file missing EOF record")
	}
	return am, nil
}

// DefaultIHexRecordLen is the record length EncodeIHex uses when called
// with recordLen <= 0 (spec.md §4.5: "Default record length 32").
const DefaultIHexRecordLen = 32

// EncodeIHex renders am as Intel Hex, splitting into recordLen-byte data
// records (DefaultIHexRecordLen when recordLen <= 0) and inserting an
// extended linear address record whenever a segment crosses a 64KiB
// boundary. Callers writing out a paged memory pass its page size so a
// read-back round trip reproduces the same per-page record shape the
// device was read in (spec.md §8 scenario 1).
func EncodeIHex(am *AnyMemory, recordLen int) string {
	if recordLen <= 0 {
		recordLen = DefaultIHexRecordLen
	}
	var sb strings.Builder
	var upperAddr uint32 = 0xFFFFFFFF // force an ELA record before the first byte

	for _, seg := range am.Segments() {
		addr := seg.Addr
		end := seg.End()
		for addr < end {
			hi := uint32(addr) >> 16
			if hi != upperAddr {
				writeELA(&sb, hi)
				upperAddr = hi
			}
			n := recordLen
			if remaining := end - addr; remaining < n {
				n = remaining
			}
			// A data record may not cross a 64KiB boundary either.
			if lo := addr & 0xFFFF; lo+n > 0x10000 {
				n = 0x10000 - lo
			}
			buf := make([]byte, n)
			for i := 0; i < n; i++ {
				b, _ := am.Get(addr + i)
				buf[i] = b
			}
			writeDataRecord(&sb, uint16(addr&0xFFFF), buf)
			addr += n
		}
	}
	sb.WriteString(":00000001FF\n")
	return sb.String()
}

func writeELA(sb *strings.Builder, hi uint32) {
	payload := []byte{byte(hi >> 8), byte(hi)}
	writeRecord(sb, 0, ihexExtendedLinearAddr, payload)
}

func writeDataRecord(sb *strings.Builder, addr uint16, data []byte) {
	writeRecord(sb, addr, ihexData, data)
}

func writeRecord(sb *strings.Builder, addr uint16, recType byte, data []byte) {
	rec := make([]byte, 0, 4+len(data)+1)
	rec = append(rec, byte(len(data)), byte(addr>>8), byte(addr), recType)
	rec = append(rec, data...)
	rec = append(rec, checksumOf(rec))
	sb.WriteByte(':')
	sb.WriteString(strings.ToUpper(hex.EncodeToString(rec)))
	sb.WriteByte('\n')
}

func checksumOf(rec []byte) byte {
	var sum byte
	for _, b := range rec {
		sum += b
	}
	return byte(-int8(sum))
}

func checksumOK(recWithoutChecksum []byte, want byte) bool {
	return checksumOf(recWithoutChecksum) == want
}
