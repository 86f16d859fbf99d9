// Package programmer dispatches a configured PROGRAMMER/AVRPART pair to
// a concrete protocol driver and exposes it to package engine as a
// per-memory engine.Driver vtable, the structural analog of the
// teacher's emu/device registry: a string key (there, the device model
// name; here, prog.Type) selects one concrete implementation, looked up
// through a package-level registry rather than a type switch so new
// programmer types can register themselves from an init func.
package programmer

import (
	"context"
	"strings"

	"github.com/rforge/avrctl/engine"
	"github.com/rforge/avrctl/errs"
	"github.com/rforge/avrctl/isp"
	"github.com/rforge/avrctl/model"
	"github.com/rforge/avrctl/programmer/directisp"
	"github.com/rforge/avrctl/programmer/stk500"
	"github.com/rforge/avrctl/programmer/transport"
)

// Session is an open connection to one programmer, ready to mint
// per-memory engine.Driver values. Exactly one of stk/ispDrv is set,
// selecting between the two programmer archetypes spec.md §1/§4.4 name:
// STK500-bootloader-forwarded, or direct ISP against the raw transport.
type Session struct {
	prog   *model.PROGRAMMER
	part   *model.AVRPART
	t      transport.Transport
	stk    *stk500.Protocol  // nil unless prog.Type selects an STK500-family driver
	ispDrv *directisp.Driver // nil unless prog.Type selects a direct-ISP driver
}

// openers maps a PROGRAMMER.Type to the function that connects to it.
// Registered in init() below; a type with no entry is Unsupported.
var openers = map[string]func(ctx context.Context, prog *model.PROGRAMMER, part *model.AVRPART, port string) (*Session, error){}

func registerOpener(typeName string, fn func(ctx context.Context, prog *model.PROGRAMMER, part *model.AVRPART, port string) (*Session, error)) {
	openers[typeName] = fn
}

func init() {
	registerOpener("stk500v1", openSTK500)
	registerOpener("arduino", openSTK500)
	registerOpener("dasa", openDirectISP)
	registerOpener("bsd", openDirectISP)
}

// Open connects to prog for programming part over port, dispatching on
// prog.Type. port is "-P"'s value: a serial device path, or
// "net:host:port" for a network-relayed programmer (spec.md §5.2).
func Open(ctx context.Context, prog *model.PROGRAMMER, part *model.AVRPART, port string) (*Session, error) {
	open, ok := openers[strings.ToLower(prog.Type)]
	if !ok {
		return nil, errs.Newf(errs.ErrUnsupported, "unknown programmer type %q", prog.Type)
	}
	return open(ctx, prog, part, port)
}

func openSTK500(ctx context.Context, prog *model.PROGRAMMER, part *model.AVRPART, port string) (*Session, error) {
	baud := 19200
	if prog.HaveBaud {
		baud = prog.Baud
	}

	var t transport.Transport
	var err error
	if strings.HasPrefix(port, "net:") {
		t, err = transport.DialNet(ctx, strings.TrimPrefix(port, "net:"))
	} else {
		t, err = transport.OpenSerial(port, baud)
	}
	if err != nil {
		return nil, err
	}

	proto := stk500.New(t)
	if err := proto.Connect(ctx); err != nil {
		t.Close()
		return nil, err
	}
	if err := engine.EnableProgramming(ctx, &engine.Driver{ProgramEnable: proto.EnterProgMode}); err != nil {
		t.Close()
		return nil, err
	}
	return &Session{prog: prog, part: part, t: t, stk: proto}, nil
}

// openDirectISP connects a bit-banged/dumb-adapter programmer that
// speaks raw ISP opcodes with no bootloader or STK500 framing in
// between (spec.md §1/§4.4's second programmer archetype).
func openDirectISP(ctx context.Context, prog *model.PROGRAMMER, part *model.AVRPART, port string) (*Session, error) {
	baud := 19200
	if prog.HaveBaud {
		baud = prog.Baud
	}

	var t transport.Transport
	var err error
	if strings.HasPrefix(port, "net:") {
		t, err = transport.DialNet(ctx, strings.TrimPrefix(port, "net:"))
	} else {
		t, err = transport.OpenSerial(port, baud)
	}
	if err != nil {
		return nil, err
	}

	drv, err := directisp.Open(ctx, t, part)
	if err != nil {
		t.Close()
		return nil, err
	}
	if err := engine.EnableProgramming(ctx, &engine.Driver{ProgramEnable: drv.EnterProgMode}); err != nil {
		t.Close()
		return nil, err
	}
	return &Session{prog: prog, part: part, t: t, ispDrv: drv}, nil
}

// Close runs the unified exit path spec.md §5 mandates verbatim --
// "powerdown -> disable -> led_off -> close" -- tolerating a missing
// capability at any step (not every driver implements powerdown/disable)
// but always running the transport close last, even if an earlier step
// errors, so a failed teardown never leaks the underlying connection.
func (s *Session) Close(ctx context.Context) error {
	d := s.Driver(nil)

	var errPowerdown, errDisable, errLED error
	if d.Powerdown != nil {
		errPowerdown = d.Powerdown(ctx)
	}
	if d.Disable != nil {
		errDisable = d.Disable(ctx)
	}
	if d.SetRdyLed != nil {
		errLED = d.SetRdyLed(ctx, false)
	}
	if d.SetErrLed != nil {
		if err := d.SetErrLed(ctx, false); errLED == nil {
			errLED = err
		}
	}
	if d.SetPgmLed != nil {
		if err := d.SetPgmLed(ctx, false); errLED == nil {
			errLED = err
		}
	}
	if d.SetVfyLed != nil {
		if err := d.SetVfyLed(ctx, false); errLED == nil {
			errLED = err
		}
	}

	errClose := s.t.Close()

	for _, err := range []error{errPowerdown, errDisable, errLED, errClose} {
		if err != nil {
			return err
		}
	}
	return nil
}

// ChipErase erases the whole part.
func (s *Session) ChipErase(ctx context.Context) error {
	switch {
	case s.stk != nil:
		return s.stk.ChipErase(ctx)
	case s.ispDrv != nil:
		return s.ispDrv.ChipErase(ctx)
	}
	return errs.New(errs.ErrUnsupported, "programmer does not support chip erase")
}

// ReadSignature reads the device signature.
func (s *Session) ReadSignature(ctx context.Context) ([3]byte, error) {
	switch {
	case s.stk != nil:
		return s.stk.ReadSignature(ctx)
	case s.ispDrv != nil:
		return s.ispDrv.ReadSignature(ctx)
	}
	return [3]byte{}, errs.New(errs.ErrUnsupported, "programmer cannot read the device signature")
}

// Driver builds the engine.Driver vtable for mem: byte-level ops go
// through the part's ISP opcode templates forwarded via STK500's
// UNIVERSAL command (spec.md §4.3, §5.2); paged memories additionally
// get PROG_PAGE/READ_PAGE-backed page operations, which STK500 performs
// faster than per-byte ISP since the bootloader pipelines the whole page.
func (s *Session) Driver(mem *model.AVRMEM) *engine.Driver {
	if s.ispDrv != nil {
		d := s.ispDrv.ToEngineDriver(mem)
		d.ChipErase = s.ChipErase
		d.ReadSignature = s.ReadSignature
		return d
	}

	d := &engine.Driver{
		ChipErase:     s.ChipErase,
		ReadSignature: s.ReadSignature,
	}
	if s.stk != nil {
		d.Enable = s.stk.EnterProgMode
		d.ProgramEnable = s.stk.EnterProgMode
		d.Disable = s.stk.LeaveProgMode
		d.Cmd = func(ctx context.Context, cmd [4]byte) ([4]byte, error) {
			last, err := s.stk.Universal(ctx, cmd)
			return [4]byte{0, 0, 0, last}, err
		}
	}
	if mem == nil {
		// Caller only wants the part-level operations (signature, chip
		// erase); no memory was named so no byte/page ops apply.
		return d
	}
	if op := mem.Opcodes[model.OpRead]; !op.IsAbsent() {
		d.ReadByte = s.ispReadByte(mem, op)
	}
	if op := mem.Opcodes[model.OpWrite]; !op.IsAbsent() {
		d.WriteByte = s.ispWriteByte(mem, op)
	}
	if mem.Paged {
		d.LoadPage = s.pagedLoad(mem)
		d.WritePage = s.pagedWrite(mem)
	}
	return d
}

// ispReadByte forwards a read opcode through STK500's UNIVERSAL command.
// UNIVERSAL returns exactly the fourth (last) SPI clock cycle's MISO
// byte, which is where every read opcode in the config grammar places
// its BitInput bits by convention, so the extraction only ever needs
// that one byte.
func (s *Session) ispReadByte(mem *model.AVRMEM, op *model.OPCODE) func(context.Context, int) (byte, error) {
	return func(ctx context.Context, addr int) (byte, error) {
		word, err := isp.Assemble(op, addr, 0)
		if err != nil {
			return 0, err
		}
		last, err := s.stk.Universal(ctx, word)
		if err != nil {
			return 0, err
		}
		return isp.Extract(op, [4]byte{0, 0, 0, last})
	}
}

func (s *Session) ispWriteByte(mem *model.AVRMEM, op *model.OPCODE) func(context.Context, int, byte) error {
	return func(ctx context.Context, addr int, value byte) error {
		word, err := isp.Assemble(op, addr, value)
		if err != nil {
			return err
		}
		_, err = s.stk.Universal(ctx, word)
		return err
	}
}

func (s *Session) pagedLoad(mem *model.AVRMEM) func(context.Context, int, []byte) error {
	memtype := byte('F')
	if model.IsEEPROMLike(mem.Name) {
		memtype = 'E'
	}
	return func(ctx context.Context, addr int, page []byte) error {
		if err := s.stk.LoadAddress(ctx, uint32(addr/2)); err != nil {
			return err
		}
		data, err := s.stk.ReadPage(ctx, memtype, len(page))
		if err != nil {
			return err
		}
		copy(page, data)
		return nil
	}
}

func (s *Session) pagedWrite(mem *model.AVRMEM) func(context.Context, int, []byte) error {
	memtype := byte('F')
	if model.IsEEPROMLike(mem.Name) {
		memtype = 'E'
	}
	return func(ctx context.Context, addr int, page []byte) error {
		if err := s.stk.LoadAddress(ctx, uint32(addr/2)); err != nil {
			return err
		}
		return s.stk.ProgPage(ctx, memtype, page)
	}
}
