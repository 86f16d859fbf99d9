// avrctl - command-line AVR/AVR32 device programmer front end.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	getopt "github.com/pborman/getopt/v2"

	"github.com/rforge/avrctl/config"
	"github.com/rforge/avrctl/engine"
	"github.com/rforge/avrctl/fileio"
	"github.com/rforge/avrctl/logging"
	"github.com/rforge/avrctl/model"
	"github.com/rforge/avrctl/programmer"
)

var Logger *slog.Logger

// stringList is a getopt.Value accumulating every occurrence of a
// repeatable flag (-C/-U), the way avrdude accretes its own -U list.
type stringList struct{ vals *[]string }

func (s stringList) String() string { return strings.Join(*s.vals, ",") }

func (s stringList) Set(value string, _ getopt.Option) error {
	*s.vals = append(*s.vals, value)
	return nil
}

func main() {
	var configFiles, rawUpdates []string
	getopt.FlagLong(stringList{&configFiles}, "config", 'C', "Configuration file (repeatable)")
	getopt.FlagLong(stringList{&rawUpdates}, "update", 'U', "Memory operation: <mem>:<op>:<file>[:<format>]")

	optPart := getopt.StringLong("part", 'p', "", "AVR part id")
	optProgrammer := getopt.StringLong("carrier", 'c', "", "Programmer id")
	optPort := getopt.StringLong("port", 'P', "", "Port: serial device or net:host:port")
	optErase := getopt.BoolLong("erase", 'e', "Perform a chip erase before programming")
	optNoVerify := getopt.BoolLong("no-verify", 'V', "Disable the automatic post-write verify")
	optNoSigCheck := getopt.BoolLong("no-sig-check", 'u', "Don't treat signature mismatch as fatal")
	optTimeout := getopt.IntLong("timeout", 't', 30, "Overall operation timeout, seconds")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optVerbose := getopt.BoolLong("verbose", 'v', "Verbose logging")
	optCycleSet := getopt.IntLong("set-cycles", 'Y', -1, "Set the EEPROM erase/rewrite cycle counter to n before programming")
	optCycleTrack := getopt.BoolLong("track-cycles", 'y', "Report the EEPROM erase/rewrite cycle counter after programming")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var logFile *os.File
	if *optLogFile != "" {
		logFile, _ = os.Create(*optLogFile)
	}
	level := logging.MsgWarning
	if *optVerbose {
		level = logging.MsgInfo
	}
	Logger = slog.New(logging.NewHandler(logFile, level, !*optVerbose))
	slog.SetDefault(Logger)

	if err := run(configFiles, *optPart, *optProgrammer, *optPort, rawUpdates, *optErase, *optNoVerify, *optNoSigCheck, *optTimeout, *optCycleSet, *optCycleTrack); err != nil {
		Logger.Error(err.Error())
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run carries out one avrctl invocation: load the config database,
// locate the requested part/programmer, connect, optionally check the
// signature and chip-erase, then apply every -U update in order
// (spec.md §6's command-line pipeline).
func run(configFiles []string, partID, progID, port string, rawUpdates []string, erase, noVerify, noSigCheck bool, timeoutSec, cycleSet int, cycleTrack bool) error {
	if len(configFiles) == 0 {
		configFiles = []string{"/etc/avrctl.conf"}
	}
	if partID == "" {
		return fmt.Errorf("-p is required: an AVR part id")
	}
	if progID == "" {
		return fmt.Errorf("-c is required: a programmer id")
	}

	db := config.NewDatabase()
	for _, f := range configFiles {
		if err := db.Load(f); err != nil {
			return err
		}
	}

	part, err := db.LocatePart(partID)
	if err != nil {
		return err
	}
	prog, err := db.LocateProgrammer(progID)
	if err != nil {
		return err
	}
	part = part.Dup()

	updates, err := parseUpdates(rawUpdates)
	if err != nil {
		return err
	}
	updates = model.ExpandVerify(updates, noVerify)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()

	sess, err := programmer.Open(ctx, prog, part, port)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	Logger.Info("connected", "programmer", prog.ID, "part", part.ID)

	sig, matched, err := engine.ReadSignature(ctx, sess.Driver(nil), part)
	switch {
	case err != nil:
		Logger.Warn("could not read device signature", "err", err)
	case !matched && !noSigCheck:
		return fmt.Errorf("signature mismatch: device reports %02x %02x %02x, expected %02x %02x %02x (use -u to override)",
			sig[0], sig[1], sig[2], part.Signature[0], part.Signature[1], part.Signature[2])
	case !matched:
		Logger.Warn("signature mismatch, continuing due to -u", "device", sig, "expected", part.Signature)
	}

	if erase {
		if err := engine.ChipErase(ctx, sess.Driver(nil), part); err != nil {
			return err
		}
		Logger.Info("chip erased")
	}

	if cycleSet >= 0 {
		if mem := cycleCountedMem(part); mem != nil {
			engine.PutCycleCount(mem, uint32(cycleSet))
			Logger.Info("set cycle counter", "mem", mem.Name, "count", cycleSet)
		} else {
			Logger.Warn("-Y given but part has no cycle-counted memory")
		}
	}

	for _, u := range updates {
		if err := applyUpdate(ctx, sess, part, u); err != nil {
			return err
		}
	}

	if cycleTrack {
		if mem := cycleCountedMem(part); mem != nil {
			count := engine.GetCycleCount(mem)
			if count == engine.CycleCountUntracked {
				fmt.Printf("%s cycle counter: untracked\n", mem.Name)
			} else {
				fmt.Printf("%s cycle counter: %d\n", mem.Name, count)
			}
		} else {
			Logger.Warn("-y given but part has no cycle-counted memory")
		}
	}
	return nil
}

// cycleCountedMem returns the first memory part declares with a tracked
// erase/rewrite counter (spec.md §4.2), or nil.
func cycleCountedMem(part *model.AVRPART) *model.AVRMEM {
	for _, m := range part.Mem {
		if m.CycleCounter {
			return m
		}
	}
	return nil
}

// parseUpdates turns each "-U" argument into a model.Update, the same
// <mem>:<op>:<file>[:<format>] grammar avrdude's -U accepts.
func parseUpdates(raw []string) ([]model.Update, error) {
	updates := make([]model.Update, 0, len(raw))
	for _, s := range raw {
		parts := strings.SplitN(s, ":", 4)
		if len(parts) < 3 {
			return nil, fmt.Errorf("-U %q: expected <mem>:<op>:<file>[:<format>]", s)
		}
		var op model.OpKind
		switch strings.ToLower(parts[1]) {
		case "r", "read":
			op = model.OpReadMem
		case "w", "write":
			op = model.OpWriteMem
		case "v", "verify":
			op = model.OpVerifyMem
		default:
			return nil, fmt.Errorf("-U %q: unknown operation %q", s, parts[1])
		}
		format := "" // auto-detect unless the caller names one
		if len(parts) == 4 {
			format = parts[3]
		}
		updates = append(updates, model.Update{
			MemType:  parts[0],
			Op:       op,
			Filename: parts[2],
			Format:   format,
		})
	}
	return updates, nil
}

func applyUpdate(ctx context.Context, sess *programmer.Session, part *model.AVRPART, u model.Update) error {
	mem := config.LocateMem(part, u.MemType)
	if mem == nil {
		return fmt.Errorf("part %q has no memory matching %q", part.ID, u.MemType)
	}
	driver := sess.Driver(mem)

	switch u.Op {
	case model.OpReadMem:
		if err := engine.PagedLoad(ctx, driver, mem); err != nil {
			return err
		}
		if err := writeUpdateFile(mem, u); err != nil {
			return err
		}
		Logger.Info("read memory", "mem", mem.Name, "file", u.Filename)
		return nil

	case model.OpWriteMem:
		src, err := readUpdateFile(u)
		if err != nil {
			return err
		}
		for _, seg := range src.Segments() {
			data := make([]byte, seg.Len)
			for i := 0; i < seg.Len; i++ {
				b, _ := src.Get(seg.Addr + i)
				data[i] = b
			}
			if err := engine.PagedWrite(ctx, driver, mem, seg.Addr, data); err != nil {
				return err
			}
		}
		Logger.Info("wrote memory", "mem", mem.Name, "file", u.Filename)
		return nil

	case model.OpVerifyMem:
		want, err := readUpdateFile(u)
		if err != nil {
			return err
		}
		wantMem := model.NewAVRMEM(mem.Name, mem.Size)
		fileio.UnflattenMem(wantMem, want)
		mismatch, err := engine.Verify(ctx, driver, mem, wantMem)
		if err != nil {
			return err
		}
		if mismatch >= 0 {
			return fmt.Errorf("verify failed for memory %q at offset %#x", mem.Name, mismatch)
		}
		Logger.Info("verified memory", "mem", mem.Name, "file", u.Filename)
		return nil
	}
	return nil
}

func readUpdateFile(u model.Update) (*fileio.AnyMemory, error) {
	if fileio.Format(u.Format) == fileio.FormatTextual {
		// Immediate format: the "filename" field is the byte list itself.
		return fileio.DecodeTextual(u.Filename)
	}
	data, err := os.ReadFile(u.Filename)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", u.Filename, err)
	}
	return fileio.Decode(data, fileio.Format(u.Format))
}

func writeUpdateFile(mem *model.AVRMEM, u model.Update) error {
	am := fileio.FlattenMem(mem)
	var encoded []byte
	switch fileio.Format(u.Format) {
	case fileio.FormatSRec:
		encoded = []byte(fileio.EncodeSRec(am))
	case fileio.FormatRaw:
		encoded = fileio.EncodeRaw(am)
	case fileio.FormatTextual:
		encoded = []byte(fileio.EncodeTextual(am))
	default:
		recordLen := 0
		if mem.Paged {
			recordLen = mem.PageSize
		}
		encoded = []byte(fileio.EncodeIHex(am, recordLen))
	}
	return os.WriteFile(u.Filename, encoded, 0o644)
}
