// Package engine implements the memory-operation primitives spec.md §4.2
// describes (read, write, verify, paged_write, paged_load, chip_erase) on
// top of a driver-supplied Driver vtable. It never talks to a wire
// protocol directly; package programmer's drivers fill in a Driver's
// function fields and hand it to the engine, the same "nil-checked
// optional capability" idiom the teacher's emu/device.Device interface
// and emu/model2540R use for instructions a model doesn't support, kept
// here as plain fields rather than an interface because a single driver
// supports different primitives per memory (flash has paged ops, a fuse
// byte does not).
package engine

import "context"

// Driver is the set of wire-level operations the engine may call for one
// memory. A nil field means the underlying programmer/part combination
// does not support that primitive; callers must consult IsAbsent-style
// availability (here, a nil check) before depending on it, exactly the
// way the teacher's model drivers leave an unimplemented device command
// as a nil function rather than a type-asserted capability probe.
type Driver struct {
	// Connection lifecycle (spec.md §4.4, §5's unified exit path).
	Open        func(ctx context.Context) error
	Initialize  func(ctx context.Context) error
	Enable      func(ctx context.Context) error // a.k.a. program_enable
	Disable     func(ctx context.Context) error
	Powerup     func(ctx context.Context) error
	Powerdown   func(ctx context.Context) error
	Setup       func(ctx context.Context) error // per-part extra-parameter setup
	Teardown    func(ctx context.Context) error

	// Byte/page memory operations.
	ReadByte  func(ctx context.Context, addr int) (byte, error)
	WriteByte func(ctx context.Context, addr int, value byte) error
	LoadPage  func(ctx context.Context, addr int, page []byte) error
	WritePage func(ctx context.Context, addr int, page []byte) error
	ChipErase func(ctx context.Context) error

	// ProgramEnable is the legacy name EnableProgramming retries; drivers
	// that only implement Enable may also set this to the same func.
	ProgramEnable func(ctx context.Context) error

	// Part identification.
	ReadSignature func(ctx context.Context) ([3]byte, error)
	ReadSigBytes  func(ctx context.Context) ([]byte, error) // override for parts with >3 signature bytes

	// Raw command passthrough (STK500 UNIVERSAL / bootloader CMD), for
	// callers that need an opcode the Driver's named fields don't cover.
	Cmd func(ctx context.Context, cmd [4]byte) ([4]byte, error)

	// Exit/extended-parameter parsing, in the programmer-specific string
	// grammars spec.md §4.4 and §6 describe (e.g. "-x" extended params,
	// "reset=dtr" style exit specs).
	ParseExitSpecs func(spec string) error
	ParseExtParams func(params []string) error

	// PerformOsccal runs the target's internal oscillator calibration
	// routine, when the driver/part combination supports it.
	PerformOsccal func(ctx context.Context) error

	// Strategy 2 write completion: read back a single bit on a
	// designated "ready" pin rather than polling the memory's own
	// content (spec.md §4.2). Reports true once the pin indicates done.
	ReadReadyBit func(ctx context.Context) (bool, error)

	// LED indicators; each setter drives one LED on or off. A driver
	// that exposes none of these runs with no visual feedback.
	SetRdyLed func(ctx context.Context, on bool) error
	SetErrLed func(ctx context.Context, on bool) error
	SetPgmLed func(ctx context.Context, on bool) error
	SetVfyLed func(ctx context.Context, on bool) error
}
