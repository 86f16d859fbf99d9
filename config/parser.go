package config

import (
	"strconv"
	"strings"

	"github.com/rforge/avrctl/errs"
	"github.com/rforge/avrctl/model"
)

// parser builds a Database from one file's token stream. It holds one
// token of lookahead, in the teacher configparser's cursor style, but
// over a whole-file token stream rather than one line at a time since
// block bodies span many lines.
type parser struct {
	lex  *lexer
	tok  token
	file string
	db   *Database
}

func parseFile(file, src string, db *Database) error {
	p := &parser{lex: newLexer(file, src), file: file, db: db}
	if err := p.advance(); err != nil {
		return err
	}
	for p.tok.kind != tokEOF {
		if err := p.topLevelStatement(); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) errorf(format string, a ...any) error {
	return cfgErrorAt(p.file, p.tok.line, format, a...)
}

func (p *parser) expectIdent() (string, error) {
	if p.tok.kind != tokIdent {
		return "", p.errorf("expected identifier")
	}
	s := p.tok.text
	return s, p.advance()
}

func (p *parser) expect(kind tokenKind, what string) error {
	if p.tok.kind != kind {
		return p.errorf("expected %s", what)
	}
	return p.advance()
}

func (p *parser) topLevelStatement() error {
	kw, err := p.expectIdent()
	if err != nil {
		return err
	}
	switch strings.ToLower(kw) {
	case "programmer":
		return p.parseProgrammer()
	case "part":
		return p.parsePart()
	default:
		return p.errorf("unknown top-level section %q", kw)
	}
}

// fieldValue is one "name = value(,value)*;" statement's right-hand side:
// either a single scalar (string/ident/number) or a comma-separated list.
type fieldValue struct {
	scalar string // first/only value, raw text
	isStr  bool   // scalar came from a quoted string
	list   []string
	line   int
}

func (p *parser) parseFieldValue() (fieldValue, error) {
	var fv fieldValue
	fv.line = p.tok.line
	v, isStr, err := p.parseOneValue()
	if err != nil {
		return fv, err
	}
	fv.scalar = v
	fv.isStr = isStr
	fv.list = append(fv.list, v)
	for p.tok.kind == tokComma {
		if err := p.advance(); err != nil {
			return fv, err
		}
		v, _, err := p.parseOneValue()
		if err != nil {
			return fv, err
		}
		fv.list = append(fv.list, v)
	}
	return fv, nil
}

func (p *parser) parseOneValue() (string, bool, error) {
	switch p.tok.kind {
	case tokString:
		s := p.tok.text
		return s, true, p.advance()
	case tokIdent:
		s := p.tok.text
		return s, false, p.advance()
	case tokNumber:
		s := p.tok.text
		return s, false, p.advance()
	default:
		return "", false, p.errorf("expected value")
	}
}

// parseNumber parses a decimal or 0x-hex literal, with '_' grouping
// stripped, per spec.md §4.1.
func parseNumber(text string) (int64, error) {
	neg := false
	s := text
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	s = strings.ReplaceAll(s, "_", "")
	var v int64
	var err error
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err = strconv.ParseInt(s[2:], 16, 64)
	} else {
		v, err = strconv.ParseInt(s, 10, 64)
	}
	if err != nil {
		return 0, err
	}
	if neg {
		v = -v
	}
	return v, nil
}

// --- programmer { ... } --------------------------------------------------

func (p *parser) parseProgrammer() error {
	startLine := p.tok.line
	if err := p.expect(tokLBrace, "'{'"); err != nil {
		return err
	}
	prog := &model.PROGRAMMER{Pins: map[string]int{}, ConfigFile: p.file, ConfigLine: startLine}
	for p.tok.kind != tokRBrace {
		if p.tok.kind == tokEOF {
			return p.errorf("unterminated programmer block")
		}
		name, err := p.expectIdent()
		if err != nil {
			return err
		}
		if err := p.expect(tokEquals, "'='"); err != nil {
			return err
		}
		fv, err := p.parseFieldValue()
		if err != nil {
			return err
		}
		if err := p.expect(tokSemi, "';'"); err != nil {
			return err
		}
		if err := applyProgrammerField(prog, name, fv); err != nil {
			return cfgErrorAt(p.file, fv.line, "%s", err.Error())
		}
	}
	if err := p.advance(); err != nil { // consume '}'
		return err
	}
	if prog.ID == "" {
		return p.errorf("programmer missing required 'id'")
	}
	if prog.Type == "" {
		return p.errorf("programmer %q missing required 'type'", prog.ID)
	}
	p.db.addProgrammer(prog)
	return nil
}

func applyProgrammerField(prog *model.PROGRAMMER, name string, fv fieldValue) error {
	switch strings.ToLower(name) {
	case "id":
		prog.ID = fv.scalar
		prog.Aliases = fv.list[1:]
	case "desc":
		_ = fv // descriptions are informational only; stored nowhere structural.
	case "type":
		prog.Type = strings.ToLower(fv.scalar)
	case "baudrate":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		prog.Baud = int(n)
		prog.HaveBaud = true
	case "bitclock":
		n, err := strconv.ParseFloat(fv.scalar, 64)
		if err != nil {
			return err
		}
		prog.BitClockHz = n
		prog.HaveBitClock = true
	case "usbvid":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		prog.USBVendor = int(n)
	case "usbpid":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		prog.USBProduct = int(n)
	case "usbsn":
		prog.USBSerial = fv.scalar
	case "stk500_devcode":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		prog.STK500Devcode = int(n)
		prog.HasSTK500Devcode = true
	case "avr910_devcode":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		prog.AVR910Devcode = int(n)
		prog.HasAVR910Devcode = true
	case "devicecode":
		return errs.New(errs.ErrConfig, "'devicecode' is no longer supported, use 'stk500_devcode' instead")
	case "pin":
		// pin = name, number;
		if len(fv.list) != 2 {
			return errs.New(errs.ErrConfig, "'pin' requires name, number")
		}
		n, err := parseNumber(fv.list[1])
		if err != nil {
			return err
		}
		prog.Pins[fv.list[0]] = int(n)
	default:
		// Unknown programmer fields are accepted (forward compatibility
		// with programmer-specific extras), matching spec.md §4.1's "A
		// programmer that lists a device code is accepted even if
		// unknown to the engine."
	}
	return nil
}

// --- part { ... } ---------------------------------------------------------

func (p *parser) parsePart() error {
	startLine := p.tok.line
	if err := p.expect(tokLBrace, "'{'"); err != nil {
		return err
	}
	part := &model.AVRPART{ConfigFile: p.file, ConfigLine: startLine, HVTiming: map[string]int{}}
	for p.tok.kind != tokRBrace {
		if p.tok.kind == tokEOF {
			return p.errorf("unterminated part block")
		}
		if p.tok.kind == tokIdent && strings.EqualFold(p.tok.text, "memory") {
			if err := p.parseMemory(part); err != nil {
				return err
			}
			continue
		}
		name, err := p.expectIdent()
		if err != nil {
			return err
		}
		if err := p.expect(tokEquals, "'='"); err != nil {
			return err
		}
		fv, err := p.parseFieldValue()
		if err != nil {
			return err
		}
		if err := p.expect(tokSemi, "';'"); err != nil {
			return err
		}
		if err := applyPartField(part, name, fv); err != nil {
			return cfgErrorAt(p.file, fv.line, "%s", err.Error())
		}
	}
	if err := p.advance(); err != nil { // consume '}'
		return err
	}
	if part.ID == "" {
		return p.errorf("part missing required 'id'")
	}
	p.db.addPart(part)
	return nil
}

func applyPartField(part *model.AVRPART, name string, fv fieldValue) error {
	switch strings.ToLower(name) {
	case "id":
		part.ID = fv.scalar
	case "desc":
		part.Desc = fv.scalar
	case "family_id":
		part.Family = fv.scalar
	case "prog_modes":
		modes, ok := parseProgModes(fv.list)
		if !ok {
			return errs.New(errs.ErrConfig, "unknown programming mode in prog_modes")
		}
		part.ProgModes = modes
	case "signature":
		if len(fv.list) != 3 {
			return errs.New(errs.ErrConfig, "signature requires exactly 3 bytes")
		}
		for i, s := range fv.list {
			n, err := parseNumber(s)
			if err != nil {
				return err
			}
			part.Signature[i] = byte(n)
		}
	case "stk500_devcode":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		part.STK500Devcode = int(n)
		part.HasSTK500Devcode = true
	case "avr910_devcode":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		part.AVR910Devcode = int(n)
		part.HasAVR910Devcode = true
	case "devicecode":
		return errs.New(errs.ErrConfig, "'devicecode' is no longer supported, use 'stk500_devcode' instead")
	case "chip_erase_delay":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		part.ChipEraseDelayUS = int(n)
	case "idr":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		part.RegIDR, part.HaveIDR = int(n), true
	case "rampz":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		part.RegRAMPZ, part.HaveRAMPZ = int(n), true
	case "spmcr":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		part.RegSPMCR, part.HaveSPMCR = int(n), true
	case "eecr":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		part.RegEECR, part.HaveEECR = int(n), true
	case "eind":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		part.RegEIND, part.HaveEIND = int(n), true
	case "nvm_base":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		part.NVMBase = int(n)
	case "ocd_base":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		part.OCDBase = int(n)
	case "syscfg_base":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		part.SysCfgBase = int(n)
	default:
		// Any other "name = number;" is treated as an HV/JTAG timing
		// parameter, matching spec.md §3's "assorted timing parameters
		// used by HV/JTAG drivers."
		n, err := parseNumber(fv.scalar)
		if err == nil {
			part.HVTiming[strings.ToLower(name)] = int(n)
		}
	}
	return nil
}

// --- memory "name" { ... } -------------------------------------------------

func (p *parser) parseMemory(part *model.AVRPART) error {
	if err := p.advance(); err != nil { // consume 'memory'
		return err
	}
	if p.tok.kind != tokString {
		return p.errorf("expected memory name string")
	}
	name := p.tok.text
	if err := p.advance(); err != nil {
		return err
	}
	if err := p.expect(tokLBrace, "'{'"); err != nil {
		return err
	}

	mem := part.FindMem(name)
	extending := mem != nil
	if mem == nil {
		mem = model.NewAVRMEM(name, 0)
	}

	for p.tok.kind != tokRBrace {
		if p.tok.kind == tokEOF {
			return p.errorf("unterminated memory block")
		}
		fname, err := p.expectIdent()
		if err != nil {
			return err
		}
		if err := p.expect(tokEquals, "'='"); err != nil {
			return err
		}
		fv, err := p.parseFieldValue()
		if err != nil {
			return err
		}
		if err := p.expect(tokSemi, "';'"); err != nil {
			return err
		}
		if err := applyMemField(mem, fname, fv); err != nil {
			return cfgErrorAt(p.file, fv.line, "%s", err.Error())
		}
	}
	if err := p.advance(); err != nil { // consume '}'
		return err
	}

	if mem.Paged && mem.PageSize*mem.NumPages != mem.Size {
		return p.errorf("memory %q: paged size mismatch: page_size(%d)*num_pages(%d) != size(%d)",
			name, mem.PageSize, mem.NumPages, mem.Size)
	}
	if mem.Size == 0 {
		return p.errorf("memory %q missing required 'size'", name)
	}
	if len(mem.Buf) != mem.Size {
		buf := make([]byte, mem.Size)
		tags := make([]uint8, mem.Size)
		copy(buf, mem.Buf)
		copy(tags, mem.Tags)
		for i := len(mem.Buf); i < mem.Size; i++ {
			buf[i] = mem.InitVal
		}
		mem.Buf, mem.Tags = buf, tags
	}
	if !extending {
		part.Mem = append(part.Mem, mem)
	}
	return nil
}

func applyMemField(mem *model.AVRMEM, name string, fv fieldValue) error {
	switch strings.ToLower(name) {
	case "paged":
		v, _, ok := boolSymbol(fv.scalar)
		if !ok {
			return errs.New(errs.ErrConfig, "paged requires yes/no")
		}
		mem.Paged = v
	case "size":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		mem.Size = int(n)
	case "page_size":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		mem.PageSize = int(n)
	case "num_pages":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		mem.NumPages = int(n)
	case "min_write_delay":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		mem.MinWriteDelayUS = int(n)
	case "max_write_delay":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		mem.MaxWriteDelayUS = int(n)
	case "readback_p1":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		mem.ReadBackP1, mem.HaveReadBack = byte(n), true
	case "readback_p2":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		mem.ReadBackP2, mem.HaveReadBack = byte(n), true
	case "offset":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		mem.Offset = int(n)
	case "initval":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		mem.InitVal = byte(n)
		for i := range mem.Buf {
			mem.Buf[i] = mem.InitVal
		}
	case "bitmask":
		n, err := parseNumber(fv.scalar)
		if err != nil {
			return err
		}
		mem.Bitmask = byte(n)
		mem.HaveBitmask = true
	case "cycle_counter":
		v, _, ok := boolSymbol(fv.scalar)
		if !ok {
			return errs.New(errs.ErrConfig, "cycle_counter requires yes/no")
		}
		mem.CycleCounter = v
	default:
		op, ok := opcodeNameToIndex(name)
		if !ok {
			return nil // unknown memory field: ignored, forward-compatible
		}
		opc, err := parseOpcode(fv.scalar)
		if err != nil {
			return err
		}
		mem.Opcodes[op] = opc
	}
	return nil
}

func opcodeNameToIndex(name string) (model.OpIndex, bool) {
	switch strings.ToLower(name) {
	case "read":
		return model.OpRead, true
	case "write":
		return model.OpWrite, true
	case "read_lo":
		return model.OpReadLo, true
	case "read_hi":
		return model.OpReadHi, true
	case "write_lo":
		return model.OpWriteLo, true
	case "write_hi":
		return model.OpWriteHi, true
	case "loadpage_lo", "loadpage":
		return model.OpLoadpage, true
	case "writepage":
		return model.OpWritepage, true
	case "load_ext_addr":
		return model.OpLoadExtAddr, true
	case "chip_erase":
		return model.OpChipErase, true
	case "pgm_enable":
		return model.OpPgmEnable, true
	default:
		return 0, false
	}
}
