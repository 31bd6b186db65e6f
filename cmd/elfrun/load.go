package main

import (
	"fmt"
	"os"
	"strconv"
	"unsafe"

	"github.com/xyproto/elfload"
)

// cmdLoad runs the full parse/load/relocate pipeline against path and
// reports the resulting entry point. With -exec it then jumps to it; this
// is meant for trusted, self-contained PIE blobs (e.g. a plugin produced by
// a build step you control), not for running arbitrary untrusted input.
func cmdLoad(ctx *commandContext, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	parsed, err := elfload.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	verbosef("parsed: mem_len=%d mem_align=%d entry=0x%x\n", parsed.MemLen(), parsed.MemAlign(), parsed.Entry())

	if parsed.MemAlign() > elfload.PageSize {
		return fmt.Errorf("image requests %d-byte segment alignment, elfrun only guarantees page alignment", parsed.MemAlign())
	}

	mem, err := mmapAnon(int(parsed.MemLen()))
	if err != nil {
		return fmt.Errorf("reserve destination: %w", err)
	}

	loaded, err := parsed.Load(mem)
	if err != nil {
		_ = munmapAnon(mem)
		return fmt.Errorf("load: %w", err)
	}
	verbosef("loaded at loader_base=0x%x\n", loaded.LoaderBase())

	base, err := resolveBase(ctx.baseHex, loaded.LoaderBase())
	if err != nil {
		return err
	}

	ready, err := loaded.Relocate(base, mprotectProtect)
	if err != nil {
		return fmt.Errorf("relocate: %w", err)
	}
	fmt.Printf("loaded %s: v_base=0x%x v_entry=0x%x p_entry=0x%x\n", path, ready.VBase(), ready.VEntry(), ready.PEntry())

	if !ctx.execMode {
		return nil
	}
	return jumpToEntry(ready)
}

// resolveBase parses the -base flag: "0" means relocate the image in
// place, against the address it was already loaded at.
func resolveBase(baseHex string, loaderBase uintptr) (uintptr, error) {
	v, err := strconv.ParseUint(baseHex, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad -base value %q: %w", baseHex, err)
	}
	if v == 0 {
		return loaderBase, nil
	}
	return uintptr(v), nil
}

// jumpToEntry transfers control to the relocated entry point. There is no
// portable, safe way to call an address computed at runtime in Go, so this
// relies on the same raw-pointer-to-function-value cast the teacher's own
// hot-reload table used (ground: hotreload_unix.go's UpdateFunctionPointer).
func jumpToEntry(ready elfload.Ready) error {
	entry := ready.PEntry()
	fn := *(*func())(unsafe.Pointer(&entry))
	fn()
	return nil
}
