// Package directisp implements the second programmer archetype spec.md
// §1/§4.4 names alongside the STK500-bootloader-forwarded driver: a
// direct in-system-programming state machine that clocks each target's
// OPCODE templates straight onto the wire via isp.Assemble/Extract,
// without any STK500 framing or bootloader in between. It is the shape
// a bit-banged GPIO programmer or a dumb SPI-over-serial adapter needs:
// the transport carries raw 4-byte ISP command/response words directly,
// one isp.Assemble per primitive rather than STK500's UNIVERSAL wrapper.
package directisp

import (
	"context"
	"time"

	"github.com/rforge/avrctl/engine"
	"github.com/rforge/avrctl/errs"
	"github.com/rforge/avrctl/isp"
	"github.com/rforge/avrctl/model"
	"github.com/rforge/avrctl/programmer/transport"
)

// progEnableOpcode is the classic AVR ISP programming-enable sequence
// (0xAC 0x53 0x00 0x00); the third byte of the reply must echo the
// second byte (0x53) to confirm the target is listening.
var progEnableOpcode = [4]byte{0xAC, 0x53, 0x00, 0x00}

// chipEraseOpcode is the classic AVR ISP chip-erase sequence.
var chipEraseOpcode = [4]byte{0xAC, 0x80, 0x00, 0x00}

const progEnableAttempts = 4

// Driver is a direct-ISP session: no handshake protocol state beyond the
// open transport itself, since every primitive is one raw 4-byte
// request/response exchange.
type Driver struct {
	t    transport.Transport
	part *model.AVRPART
}

// Open connects t and readies it for ISP opcodes: assert reset, then
// wait the target's power-up settle time before the first command.
func Open(ctx context.Context, t transport.Transport, part *model.AVRPART) (*Driver, error) {
	if err := t.AssertReset(ctx); err != nil {
		return nil, errs.Wrap(errs.ErrTransport, err, "resetting target")
	}
	time.Sleep(20 * time.Millisecond)
	return &Driver{t: t, part: part}, nil
}

// Close releases the transport.
func (d *Driver) Close() error { return d.t.Close() }

// exchange writes cmd's 4 bytes and reads back exactly 4 bytes, the
// full-duplex shift-register behavior real ISP hardware exhibits (each
// clocked-in byte simultaneously clocks out the previous command's
// response byte).
func (d *Driver) exchange(ctx context.Context, cmd [4]byte) ([4]byte, error) {
	var resp [4]byte
	if err := d.t.SetReadTimeout(2 * time.Second); err != nil {
		return resp, errs.Wrap(errs.ErrTransport, err, "setting read timeout")
	}
	if _, err := d.t.Write(cmd[:]); err != nil {
		return resp, errs.Wrap(errs.ErrTransport, err, "writing isp opcode")
	}
	n := 0
	for n < 4 {
		m, err := d.t.Read(resp[n:])
		if err != nil {
			return resp, errs.Wrap(errs.ErrTransport, err, "reading isp reply")
		}
		n += m
	}
	return resp, nil
}

// EnterProgMode repeats the programming-enable sequence up to
// progEnableAttempts times (spec.md §4.2's program_enable retry budget),
// toggling reset between attempts the way real ISP programmers resync a
// target that answered out of step.
func (d *Driver) EnterProgMode(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= progEnableAttempts; attempt++ {
		resp, err := d.exchange(ctx, progEnableOpcode)
		if err == nil && resp[2] == progEnableOpcode[1] {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = errs.New(errs.ErrProtocol, "programming-enable echo mismatch")
		}
		_ = d.t.AssertReset(ctx)
		time.Sleep(20 * time.Millisecond)
	}
	return errs.Wrap(errs.ErrDevice, lastErr, "program_enable failed after retries")
}

// LeaveProgMode releases the target by pulsing reset high, the
// direct-ISP equivalent of STK500's LEAVE_PROGMODE command.
func (d *Driver) LeaveProgMode(ctx context.Context) error {
	return d.t.AssertReset(ctx)
}

// ChipErase issues the classic AVR ISP chip-erase opcode and waits out
// the part's declared erase delay.
func (d *Driver) ChipErase(ctx context.Context) error {
	if _, err := d.exchange(ctx, chipEraseOpcode); err != nil {
		return err
	}
	delay := time.Duration(d.part.ChipEraseDelayUS) * time.Microsecond
	if delay <= 0 {
		delay = 10 * time.Millisecond
	}
	time.Sleep(delay)
	return nil
}

// ReadSignature assembles and issues the part's three signature-byte
// read opcodes directly (addr 0, 1, 2 of its OpRead template).
func (d *Driver) ReadSignature(ctx context.Context) ([3]byte, error) {
	var sig [3]byte
	op := d.part.FindMem("signature")
	if op == nil {
		return sig, errs.New(errs.ErrUnsupported, "part has no signature memory")
	}
	tmpl := op.Opcodes[model.OpRead]
	for i := 0; i < 3; i++ {
		word, err := isp.Assemble(tmpl, i, 0)
		if err != nil {
			return sig, err
		}
		resp, err := d.exchange(ctx, word)
		if err != nil {
			return sig, err
		}
		b, err := isp.Extract(tmpl, resp)
		if err != nil {
			return sig, err
		}
		sig[i] = b
	}
	return sig, nil
}

// ReadByte assembles mem's read opcode for addr and exchanges it
// directly, the direct-ISP counterpart of the STK500 driver's
// UNIVERSAL-forwarded ispReadByte.
func (d *Driver) ReadByte(mem *model.AVRMEM, op *model.OPCODE) func(context.Context, int) (byte, error) {
	return func(ctx context.Context, addr int) (byte, error) {
		word, err := isp.Assemble(op, addr, 0)
		if err != nil {
			return 0, err
		}
		resp, err := d.exchange(ctx, word)
		if err != nil {
			return 0, err
		}
		return isp.Extract(op, resp)
	}
}

// WriteByte assembles mem's write opcode for addr/value and exchanges
// it directly.
func (d *Driver) WriteByte(mem *model.AVRMEM, op *model.OPCODE) func(context.Context, int, byte) error {
	return func(ctx context.Context, addr int, value byte) error {
		word, err := isp.Assemble(op, addr, value)
		if err != nil {
			return err
		}
		_, err = d.exchange(ctx, word)
		return err
	}
}

// ToEngineDriver builds the engine.Driver vtable for mem, wiring direct
// ISP byte operations in place of STK500 forwarding; mem == nil returns
// the part-level operations only (signature, chip erase).
func (d *Driver) ToEngineDriver(mem *model.AVRMEM) *engine.Driver {
	ed := &engine.Driver{
		Enable:        d.EnterProgMode,
		ProgramEnable: d.EnterProgMode,
		Disable:       d.LeaveProgMode,
		ChipErase:     d.ChipErase,
		ReadSignature: d.ReadSignature,
	}
	if mem == nil {
		return ed
	}
	if op := mem.Opcodes[model.OpRead]; !op.IsAbsent() {
		ed.ReadByte = d.ReadByte(mem, op)
	}
	if op := mem.Opcodes[model.OpWrite]; !op.IsAbsent() {
		ed.WriteByte = d.WriteByte(mem, op)
	}
	return ed
}
