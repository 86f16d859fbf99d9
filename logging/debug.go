package logging

import (
	"context"
	"fmt"
	"log/slog"
)

// Subsystem masks for -x level tracing, adapted from the teacher's
// per-device debugOption maps (e.g. model2540R's debugCmd/debugData/
// debugDetail) but scoped process-wide since avrctl drives one programmer
// session at a time rather than many concurrent devices.
const (
	DebugConfig = 1 << iota
	DebugEngine
	DebugISP
	DebugSTK500
	DebugFileIO
	DebugURboot
)

var subsystemNames = map[string]int{
	"CONFIG":  DebugConfig,
	"ENGINE":  DebugEngine,
	"ISP":     DebugISP,
	"STK500":  DebugSTK500,
	"FILEIO":  DebugFileIO,
	"URBOOT":  DebugURboot,
}

// ParseSubsystems turns a list of subsystem names (such as "CONFIG",
// "STK500") into a mask, skipping names it does not recognize.
func ParseSubsystems(names []string) int {
	mask := 0
	for _, n := range names {
		if m, ok := subsystemNames[n]; ok {
			mask |= m
		}
	}
	return mask
}

var debugMask int

// SetMask sets the process-wide debug mask.
func SetMask(mask int) { debugMask = mask }

// Debugf emits a trace line for subsystem gated by mask, the way the
// teacher's util/debug.Debugf gates per-device trace output.
func Debugf(subsystem string, mask int, format string, a ...any) {
	if debugMask&mask == 0 {
		return
	}
	slog.Default().Log(context.Background(), MsgDebug, fmt.Sprintf(subsystem+": "+format, a...))
}
