// Package stk500 implements the STK500v1 serial protocol (Atmel AVR061):
// a length-prefixed command/response exchange used by the Arduino-as-ISP
// sketch and the classic STK500 programmer. The state machine here is
// the direct analog of the teacher's emu/sys_channel command-unit loop
// (issue command, wait for the unit to respond, interpret status), only
// driven by a remote microcontroller over a byte stream instead of a
// simulated channel.
package stk500

import (
	"context"
	"time"

	"github.com/rforge/avrctl/errs"
	"github.com/rforge/avrctl/logging"
	"github.com/rforge/avrctl/programmer/transport"
)

// Protocol bytes, per Atmel application note AVR061 ("STK500 Communication
// Protocol").
const (
	syncCRCEOP byte = 0x20

	respSTKOk       byte = 0x10
	respSTKFailed   byte = 0x11
	respSTKUnknown  byte = 0x12
	respSTKNoDevice byte = 0x13
	respSTKInsync   byte = 0x14
	respSTKNosync   byte = 0x15

	cmndSTKGetSync       byte = 0x30
	cmndSTKGetSignOn     byte = 0x31
	cmndSTKSetDevice     byte = 0x42
	cmndSTKEnterProgmode byte = 0x50
	cmndSTKLeaveProgmode byte = 0x51
	cmndSTKChipErase     byte = 0x52
	cmndSTKLoadAddress   byte = 0x55
	cmndSTKUniversal     byte = 0x56
	cmndSTKProgPage      byte = 0x64
	cmndSTKReadPage      byte = 0x74
	cmndSTKReadSign      byte = 0x75
)

// readTimeout bounds every single-response read; a programmer that
// never answers fails fast instead of hanging the CLI.
const readTimeout = 2 * time.Second

// maxSyncAttempts is how many GET_SYNC retries Connect allows before
// giving up, per spec.md §5.2's "the sync handshake retries a bounded
// number of times before reporting a protocol error."
const maxSyncAttempts = 10

// Protocol drives one STK500v1 session over a transport.
type Protocol struct {
	t transport.Transport
}

// New wraps t in a Protocol. Callers still need Connect before issuing
// any other command.
func New(t transport.Transport) *Protocol {
	return &Protocol{t: t}
}

// Connect resets the target and repeats GET_SYNC until the programmer
// answers INSYNC/OK, the handshake every STK500v1 session opens with.
func (p *Protocol) Connect(ctx context.Context) error {
	if err := p.t.AssertReset(ctx); err != nil {
		return errs.Wrap(errs.ErrTransport, err, "resetting target")
	}
	for attempt := 1; attempt <= maxSyncAttempts; attempt++ {
		if err := p.simpleCommand(ctx, cmndSTKGetSync); err == nil {
			logging.Debugf("stk500", logging.DebugSTK500, "sync achieved after %d attempt(s)", attempt)
			return nil
		}
		logging.Debugf("stk500", logging.DebugSTK500, "sync attempt %d/%d failed", attempt, maxSyncAttempts)
	}
	return errs.New(errs.ErrProtocol, "failed to synchronize with programmer")
}

// Disconnect leaves programming mode and releases the transport.
func (p *Protocol) Disconnect(ctx context.Context) error {
	_ = p.LeaveProgMode(ctx)
	return p.t.Close()
}

// LeaveProgMode asks the programmer to release the target's
// programming-enable sequence, the "disable" step of the unified exit
// path (spec.md §5).
func (p *Protocol) LeaveProgMode(ctx context.Context) error {
	return p.simpleCommand(ctx, cmndSTKLeaveProgmode)
}

// EnterProgMode asks the programmer to assert the target's
// programming-enable sequence.
func (p *Protocol) EnterProgMode(ctx context.Context) error {
	return p.simpleCommand(ctx, cmndSTKEnterProgmode)
}

// ChipErase issues a whole-chip erase.
func (p *Protocol) ChipErase(ctx context.Context) error {
	return p.simpleCommand(ctx, cmndSTKChipErase)
}

// ReadSignature reads the device's 3-byte signature.
func (p *Protocol) ReadSignature(ctx context.Context) ([3]byte, error) {
	resp, err := p.command(ctx, []byte{cmndSTKReadSign}, 3)
	if err != nil {
		return [3]byte{}, err
	}
	return [3]byte{resp[0], resp[1], resp[2]}, nil
}

// LoadAddress sets the address used by the next PROG_PAGE/READ_PAGE or
// UNIVERSAL/ISP command that relies on the auto-increment address.
// wordAddr is sent as given, low byte first; callers convert a byte
// address themselves (session.go passes addr/2).
func (p *Protocol) LoadAddress(ctx context.Context, wordAddr uint32) error {
	lo := byte(wordAddr & 0xff)
	hi := byte((wordAddr >> 8) & 0xff)
	return p.simpleCommand(ctx, cmndSTKLoadAddress, lo, hi)
}

// ProgPage writes one page's worth of data, memtype 'F' for flash or 'E'
// for eeprom, per STK500's PROG_PAGE framing.
func (p *Protocol) ProgPage(ctx context.Context, memtype byte, data []byte) error {
	hdr := []byte{cmndSTKProgPage, byte(len(data) >> 8), byte(len(data)), memtype}
	return p.simpleCommand(ctx, append(hdr, data...)...)
}

// ReadPage reads n bytes of memtype starting at the previously loaded
// address.
func (p *Protocol) ReadPage(ctx context.Context, memtype byte, n int) ([]byte, error) {
	return p.command(ctx, []byte{cmndSTKReadPage, byte(n >> 8), byte(n), memtype}, n)
}

// Universal forwards a raw 4-byte ISP opcode and returns the 4th
// (response) byte, the escape hatch STK500 offers for any ISP primitive
// it has no dedicated command for (spec.md §5.2, §4.3).
func (p *Protocol) Universal(ctx context.Context, opcode [4]byte) (byte, error) {
	resp, err := p.command(ctx, []byte{cmndSTKUniversal, opcode[0], opcode[1], opcode[2], opcode[3]}, 1)
	if err != nil {
		return 0, err
	}
	return resp[0], nil
}

// simpleCommand issues cmd with no expected response payload beyond the
// INSYNC/OK envelope.
func (p *Protocol) simpleCommand(ctx context.Context, cmd ...byte) error {
	_, err := p.command(ctx, cmd, 0)
	return err
}

// command sends cmd framed with the trailing Sync_CRC_EOP byte, then
// reads INSYNC, respLen payload bytes, and the closing OK/FAILED byte.
func (p *Protocol) command(ctx context.Context, cmd []byte, respLen int) ([]byte, error) {
	if err := p.t.SetReadTimeout(readTimeout); err != nil {
		return nil, errs.Wrap(errs.ErrTransport, err, "setting read timeout")
	}
	frame := append(append([]byte(nil), cmd...), syncCRCEOP)
	if _, err := p.t.Write(frame); err != nil {
		return nil, errs.Wrap(errs.ErrTransport, err, "writing command")
	}

	insync, err := p.readByte(ctx)
	if err != nil {
		return nil, err
	}
	if insync == respSTKNosync {
		return nil, errs.New(errs.ErrProtocol, "programmer reports out of sync")
	}
	if insync != respSTKInsync {
		return nil, errs.Newf(errs.ErrProtocol, "unexpected response byte %#x, want INSYNC", insync)
	}

	payload := make([]byte, respLen)
	for i := range payload {
		b, err := p.readByte(ctx)
		if err != nil {
			return nil, err
		}
		payload[i] = b
	}

	status, err := p.readByte(ctx)
	if err != nil {
		return nil, err
	}
	switch status {
	case respSTKOk:
		return payload, nil
	case respSTKFailed:
		return nil, errs.New(errs.ErrDevice, "programmer reported command failure")
	case respSTKNoDevice:
		return nil, errs.New(errs.ErrDevice, "programmer reports no device connected")
	case respSTKUnknown:
		return nil, errs.New(errs.ErrUnsupported, "programmer does not recognize this command")
	default:
		return nil, errs.Newf(errs.ErrProtocol, "unexpected status byte %#x", status)
	}
}

func (p *Protocol) readByte(ctx context.Context) (byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	buf := make([]byte, 1)
	n, err := p.t.Read(buf)
	if err != nil {
		return 0, errs.Wrap(errs.ErrTransport, err, "reading response byte")
	}
	if n == 0 {
		return 0, errs.New(errs.ErrTransport, "no response from programmer")
	}
	return buf[0], nil
}
