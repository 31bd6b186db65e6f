// Command elfrun is a host-side demonstration harness for the elfload
// library: it mmaps a destination region, runs Parse/Load/Relocate against
// a file on disk, and optionally transfers control to the result.
package main

import "github.com/xyproto/env/v2"

// config holds the runtime knobs elfrun reads from its environment, using
// the same env/v2 helpers the rest of this module's lineage uses for
// optional tuning knobs.
type config struct {
	verbose  bool
	execMode bool
	baseHex  string
}

func loadConfig() config {
	return config{
		verbose:  env.Bool("ELFRUN_VERBOSE"),
		execMode: env.Bool("ELFRUN_EXEC"),
		baseHex:  env.Str("ELFRUN_BASE", "0"),
	}
}
