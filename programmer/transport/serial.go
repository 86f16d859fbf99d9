package transport

import (
	"context"
	"time"

	"go.bug.st/serial"

	"github.com/rforge/avrctl/errs"
	"github.com/rforge/avrctl/logging"
)

// resetDelay is how long AssertReset waits after pulsing DTR/RTS for the
// bootloader/ISP firmware to settle before the caller starts talking to
// it, the same Arduino-Nano quirk the examples pack's dev.Arduino
// documents: opening the USB-CDC port toggles DTR and resets the board.
const resetDelay = 1200 * time.Millisecond

// SerialTransport wraps a go.bug.st/serial port as a Transport.
type SerialTransport struct {
	port serial.Port
}

// OpenSerial opens name at baud 8N1, the framing every STK500-family
// bootloader and ISP adapter uses.
func OpenSerial(name string, baud int) (*SerialTransport, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransport, err, "opening serial port "+name)
	}
	return &SerialTransport{port: port}, nil
}

func (s *SerialTransport) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if err != nil {
		return n, errs.Wrap(errs.ErrTransport, err, "serial read")
	}
	return n, nil
}

func (s *SerialTransport) Write(p []byte) (int, error) {
	n, err := s.port.Write(p)
	if err != nil {
		return n, errs.Wrap(errs.ErrTransport, err, "serial write")
	}
	return n, nil
}

func (s *SerialTransport) Close() error {
	return s.port.Close()
}

func (s *SerialTransport) SetReadTimeout(d time.Duration) error {
	return s.port.SetReadTimeout(d)
}

// AssertReset toggles DTR and RTS low-then-high, the Arduino auto-reset
// sequence spec.md §5.2 requires before a fresh STK500 sync handshake,
// then waits out resetDelay for the bootloader to start listening.
func (s *SerialTransport) AssertReset(ctx context.Context) error {
	if err := s.port.SetDTR(false); err != nil {
		return errs.Wrap(errs.ErrTransport, err, "asserting DTR")
	}
	if err := s.port.SetRTS(false); err != nil {
		return errs.Wrap(errs.ErrTransport, err, "asserting RTS")
	}
	time.Sleep(50 * time.Millisecond)
	if err := s.port.SetDTR(true); err != nil {
		return errs.Wrap(errs.ErrTransport, err, "releasing DTR")
	}
	if err := s.port.SetRTS(true); err != nil {
		return errs.Wrap(errs.ErrTransport, err, "releasing RTS")
	}
	logging.Debugf("stk500", logging.DebugSTK500, "reset pulsed, waiting %s for bootloader", resetDelay)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(resetDelay):
		return nil
	}
}
