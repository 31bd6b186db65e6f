package main

import (
	"debug/elf"
	"fmt"
)

// cmdInspect prints a human-readable summary of an ELF file's program
// headers and dynamic symbols, using the standard library's reader rather
// than elfload itself: elfload intentionally has no file I/O, so a
// diagnostic tool reaches for debug/elf the way the teacher's own
// ExtractFunctionCode did (ground: hotreload_unix.go).
func cmdInspect(path string) error {
	f, err := elf.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	fmt.Printf("class=%s data=%s type=%s machine=%s entry=0x%x\n",
		f.Class, f.Data, f.Type, f.Machine, f.Entry)

	for i, prog := range f.Progs {
		fmt.Printf("  phdr[%d] type=%-14s flags=%-3s off=0x%x vaddr=0x%x filesz=0x%x memsz=0x%x align=0x%x\n",
			i, prog.Type, prog.Flags, prog.Off, prog.Vaddr, prog.Filesz, prog.Memsz, prog.Align)
	}

	symbols, err := f.DynamicSymbols()
	if err != nil {
		verbosef("no dynamic symbol table: %v\n", err)
		return nil
	}
	for _, sym := range symbols {
		if sym.Name == "" {
			continue
		}
		fmt.Printf("  sym %-30s value=0x%x size=%d\n", sym.Name, sym.Value, sym.Size)
	}
	return nil
}
