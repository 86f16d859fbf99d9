package fileio

import (
	"bufio"
	"encoding/hex"
	"strings"

	"github.com/rforge/avrctl/errs"
)

// DecodeSRec parses a Motorola S-Record file into an AnyMemory. Address
// width (16/24/32-bit, record types S1/S2/S3) is read per record, so a
// file may mix widths across its data records, same as srecord tooling
// tolerates in the wild.
func DecodeSRec(data string) (*AnyMemory, error) {
	am := NewAnyMemory()
	scanner := bufio.NewScanner(strings.NewReader(data))
	lineNo := 0
	seenTerm := false
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if len(line) < 2 || line[0] != 'S' {
			return nil, errs.Newf(errs.ErrFile, "srec line %d: missing 'S' marker", lineNo)
		}
		recType := line[1]
		raw, err := hex.DecodeString(line[2:])
		if err != nil {
			return nil, errs.Newf(errs.ErrFile, "srec line %d: %v", lineNo, err)
		}
		if len(raw) < 1 {
			return nil, errs.Newf(errs.ErrFile, "srec line %d: empty record", lineNo)
		}
		byteCount := int(raw[0])
		if len(raw) != byteCount+1 {
			return nil, errs.Newf(errs.ErrFile, "srec line %d: byte count mismatch", lineNo)
		}
		body := raw[1 : len(raw)-1]
		checksum := raw[len(raw)-1]
		if !srecChecksumOK(raw[:len(raw)-1], checksum) {
			return nil, errs.Newf(errs.ErrFile, "srec line %d: checksum mismatch", lineNo)
		}

		addrLen, isData := srecAddrWidth(recType)
		switch {
		case recType == '0':
			// Header record: free-form text, no memory content.
		case isData:
			if len(body) < addrLen {
				return nil, errs.Newf(errs.ErrFile, "srec line %d: record shorter than its address field", lineNo)
			}
			addr := 0
			for i := 0; i < addrLen; i++ {
				addr = addr<<8 | int(body[i])
			}
			payload := body[addrLen:]
			for i, b := range payload {
				am.Put(addr+i, b)
			}
		case recType == '5' || recType == '6':
			// Record-count records: informational only.
		case recType == '7' || recType == '8' || recType == '9':
			seenTerm = true
		default:
			return nil, errs.Newf(errs.ErrFile, "srec line %d: unsupported record type S%c", lineNo, recType)
		}
		if seenTerm {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrFile, err, "reading srec file")
	}
	if !seenTerm {
		return nil, errs.New(errs.ErrFile, "srec file missing a termination record")
	}
	return am, nil
}

// srecAddrWidth returns the address field width in bytes for a data
// record type, and whether recType is a data record at all.
func srecAddrWidth(recType byte) (int, bool) {
	switch recType {
	case '1':
		return 2, true
	case '2':
		return 3, true
	case '3':
		return 4, true
	default:
		return 0, false
	}
}

// EncodeSRec renders am as S-Records, choosing the narrowest address
// width (S1/S2/S3) that covers every populated address, and closing
// with the matching S9/S8/S7 termination record.
func EncodeSRec(am *AnyMemory) string {
	var sb strings.Builder
	sb.WriteString(srecRecord('0', nil))

	maxAddr := 0
	for _, seg := range am.Segments() {
		if last := seg.End() - 1; last > maxAddr {
			maxAddr = last
		}
	}
	addrLen, dataType, termType := 2, byte('1'), byte('9')
	switch {
	case maxAddr > 0xFFFFFF:
		addrLen, dataType, termType = 4, '3', '7'
	case maxAddr > 0xFFFF:
		addrLen, dataType, termType = 3, '2', '8'
	}

	const recordLen = 16
	for _, seg := range am.Segments() {
		addr := seg.Addr
		end := seg.End()
		for addr < end {
			n := recordLen
			if remaining := end - addr; remaining < n {
				n = remaining
			}
			buf := make([]byte, n)
			for i := 0; i < n; i++ {
				b, _ := am.Get(addr + i)
				buf[i] = b
			}
			sb.WriteString(srecRecord(dataType, append(addrBytes(addr, addrLen), buf...)))
			addr += n
		}
	}
	sb.WriteString(srecRecord(termType, addrBytes(0, addrLen)))
	return sb.String()
}

func addrBytes(addr, width int) []byte {
	buf := make([]byte, width)
	for i := 0; i < width; i++ {
		buf[width-1-i] = byte(addr >> (8 * i))
	}
	return buf
}

// srecRecord renders one record; body is the address+payload bytes,
// byteCount is derived from its length.
func srecRecord(recType byte, body []byte) string {
	rec := make([]byte, 0, len(body)+2)
	rec = append(rec, byte(len(body)+1))
	rec = append(rec, body...)
	rec = append(rec, srecChecksumOf(rec))
	return "S" + string(recType) + strings.ToUpper(hex.EncodeToString(rec)) + "\n"
}

func srecChecksumOf(rec []byte) byte {
	var sum byte
	for _, b := range rec {
		sum += b
	}
	return ^sum
}

func srecChecksumOK(recWithoutChecksum []byte, want byte) bool {
	return srecChecksumOf(recWithoutChecksum) == want
}
