package main

import (
	"flag"
	"fmt"
	"os"
)

// verboseMode mirrors the teacher's own global verbosity switch, toggled by
// -v/-verbose or the ELFRUN_VERBOSE environment variable.
var verboseMode bool

func verbosef(format string, args ...any) {
	if verboseMode {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// commandContext holds the execution context for one elfrun subcommand.
// Verbosity is not carried here: it is process-wide state, read by
// verbosef through the verboseMode package variable instead.
type commandContext struct {
	args     []string
	execMode bool
	baseHex  string
}

func main() {
	cfg := loadConfig()

	verbose := flag.Bool("v", cfg.verbose, "verbose diagnostic tracing")
	verboseLong := flag.Bool("verbose", cfg.verbose, "verbose diagnostic tracing")
	execFlag := flag.Bool("exec", cfg.execMode, "transfer control to the relocated entry point after loading")
	base := flag.String("base", cfg.baseHex, "virtual base address to relocate against, hex (0 lets elfrun choose)")
	flag.Parse()

	verboseMode = *verbose || *verboseLong

	ctx := &commandContext{
		args:     flag.Args(),
		execMode: *execFlag,
		baseHex:  *base,
	}

	if err := runCLI(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "elfrun:", err)
		os.Exit(1)
	}
}

// runCLI dispatches to the load/inspect/help subcommands, in the spirit of
// the teacher's own RunCLI: no subcommand name falls through to help, and a
// single positional argument is shorthand for "load".
func runCLI(ctx *commandContext) error {
	if len(ctx.args) == 0 {
		return cmdHelp()
	}

	switch ctx.args[0] {
	case "load":
		if len(ctx.args) < 2 {
			return fmt.Errorf("usage: elfrun load <file> [-base 0xADDR] [-exec]")
		}
		return cmdLoad(ctx, ctx.args[1])

	case "inspect":
		if len(ctx.args) < 2 {
			return fmt.Errorf("usage: elfrun inspect <file>")
		}
		return cmdInspect(ctx.args[1])

	case "help", "--help", "-h":
		return cmdHelp()

	default:
		return cmdLoad(ctx, ctx.args[0])
	}
}

func cmdHelp() error {
	fmt.Println(`elfrun - in-memory ELF64 PIE loader demo

Usage:
  elfrun load <file> [-base 0xADDR] [-exec]   parse, load and relocate a PIE
  elfrun inspect <file>                       dump program headers and dynamic symbols
  elfrun help                                 show this message

Flags:
  -v, -verbose   trace each loader phase to stderr
  -base          virtual base address to relocate against (hex, default: mmap's choice)
  -exec          after a successful load, jump to the relocated entry point`)
	return nil
}
