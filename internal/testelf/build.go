// Package testelf builds synthetic, minimal ELF64 PIE byte images for
// exercising the elfload package's Parse/Load/Relocate pipeline without
// needing a real toolchain-produced binary on disk. Layout mirrors the raw
// struct definitions in original_source/src/elf.rs, serialized by hand with
// encoding/binary rather than unsafe casts, since correctness here matters
// more than speed.
package testelf

import (
	"encoding/binary"
	"runtime"
)

// ELF64 constants duplicated from elfload's unexported ones: a test fixture
// builder needs to spell out "PT_LOAD", "PF_X" and friends on its own
// terms, the same way a real ELF-emitting tool would.
const (
	ET_DYN = 3

	PT_NULL      = 0
	PT_LOAD      = 1
	PT_DYNAMIC   = 2
	PT_GNU_STACK = 0x6474e551
	PT_GNU_RELRO = 0x6474e552

	PF_X = 0x1
	PF_W = 0x2
	PF_R = 0x4

	EM_X86_64  = 62
	EM_AARCH64 = 183
	EM_RISCV   = 243

	DT_NULL    = 0
	DT_RELA    = 7
	DT_RELASZ  = 8
	DT_RELAENT = 9
	DT_REL     = 17
	DT_RELSZ   = 18
	DT_RELENT  = 19

	R_X86_64_RELATIVE = 8

	fileHeaderSize    = 64
	programHeaderSize = 56
)

// NativeMachine returns the EM_* constant for the architecture the test
// binary itself was built for, so generated images pass elfload's
// native-ISA check when run in CI on any supported architecture.
func NativeMachine() uint16 {
	switch runtime.GOARCH {
	case "arm64":
		return EM_AARCH64
	case "riscv64":
		return EM_RISCV
	default:
		return EM_X86_64
	}
}

// Segment describes one program header and its file contents.
type Segment struct {
	Type  uint32
	Flags uint32
	VAddr uint64
	Data  []byte
	// MemSz overrides len(Data) when a segment needs trailing bss
	// (MemSz > FileSz). Zero means "use len(Data)".
	MemSz uint64
	Align uint64
}

// Image describes a whole synthetic ELF64 PIE.
type Image struct {
	Machine  uint16 // 0 means NativeMachine()
	Entry    uint64
	Segments []Segment
}

// Build serializes img into a raw ELF64 byte buffer: file header,
// immediately followed by the program header table, immediately followed
// by each segment's file data at an 8-byte-aligned offset.
func Build(img Image) []byte {
	machine := img.Machine
	if machine == 0 {
		machine = NativeMachine()
	}

	phoff := uint64(fileHeaderSize)
	dataOff := phoff + uint64(len(img.Segments))*programHeaderSize
	dataOff = align8(dataOff)

	offsets := make([]uint64, len(img.Segments))
	for i, seg := range img.Segments {
		offsets[i] = dataOff
		dataOff = align8(dataOff + uint64(len(seg.Data)))
	}

	buf := make([]byte, dataOff)

	putFileHeader(buf, machine, img.Entry, phoff, uint16(len(img.Segments)))

	for i, seg := range img.Segments {
		memSz := seg.MemSz
		if memSz == 0 {
			memSz = uint64(len(seg.Data))
		}
		align := seg.Align
		if align == 0 {
			align = 1
		}
		putProgramHeader(buf[phoff+uint64(i)*programHeaderSize:], programHeaderFields{
			typ:    seg.Type,
			flags:  seg.Flags,
			off:    offsets[i],
			vaddr:  seg.VAddr,
			filesz: uint64(len(seg.Data)),
			memsz:  memSz,
			align:  align,
		})
		copy(buf[offsets[i]:], seg.Data)
	}

	return buf
}

func align8(v uint64) uint64 { return (v + 7) &^ 7 }

func putFileHeader(buf []byte, machine uint16, entry, phoff uint64, phnum uint16) {
	buf[0], buf[1], buf[2], buf[3] = 0x7F, 'E', 'L', 'F'
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EI_VERSION
	le := binary.LittleEndian
	le.PutUint16(buf[16:], ET_DYN)
	le.PutUint16(buf[18:], machine)
	le.PutUint32(buf[20:], 1) // e_version
	le.PutUint64(buf[24:], entry)
	le.PutUint64(buf[32:], phoff)
	le.PutUint64(buf[40:], 0) // e_shoff
	le.PutUint32(buf[48:], 0) // e_flags
	le.PutUint16(buf[52:], fileHeaderSize)
	le.PutUint16(buf[54:], programHeaderSize)
	le.PutUint16(buf[56:], phnum)
	le.PutUint16(buf[58:], 0) // e_shentsize
	le.PutUint16(buf[60:], 0) // e_shnum
	le.PutUint16(buf[62:], 0) // e_shstrndx
}

type programHeaderFields struct {
	typ, flags           uint32
	off, vaddr           uint64
	filesz, memsz, align uint64
}

func putProgramHeader(buf []byte, f programHeaderFields) {
	le := binary.LittleEndian
	le.PutUint32(buf[0:], f.typ)
	le.PutUint32(buf[4:], f.flags)
	le.PutUint64(buf[8:], f.off)
	le.PutUint64(buf[16:], f.vaddr)
	le.PutUint64(buf[24:], f.off) // p_paddr, unused by elfload
	le.PutUint64(buf[32:], f.filesz)
	le.PutUint64(buf[40:], f.memsz)
	le.PutUint64(buf[48:], f.align)
}

// DynEntry is one Elf64_Dyn tag/value pair, for use with DynTable.
type DynEntry struct{ Tag, Val uint64 }

// DynTable serializes a list of dynamic-table entries, terminated
// implicitly by whatever follows; callers normally append a DT_NULL entry
// themselves if the table needs one for realism (elfload itself only scans
// for the tags it understands and does not require a terminator).
func DynTable(entries []DynEntry) []byte {
	buf := make([]byte, len(entries)*16)
	le := binary.LittleEndian
	for i, e := range entries {
		le.PutUint64(buf[i*16:], e.Tag)
		le.PutUint64(buf[i*16+8:], e.Val)
	}
	return buf
}

// RelaEntry is one Elf64_Rela, for use with RelaTable.
type RelaEntry struct {
	Offset uint64
	Info   uint64
	Addend int64
}

// RelaTable serializes a list of RELA entries.
func RelaTable(entries []RelaEntry) []byte {
	buf := make([]byte, len(entries)*24)
	le := binary.LittleEndian
	for i, e := range entries {
		le.PutUint64(buf[i*24:], e.Offset)
		le.PutUint64(buf[i*24+8:], e.Info)
		le.PutUint64(buf[i*24+16:], uint64(e.Addend))
	}
	return buf
}

// RelaInfo packs a symbol index and relocation type into r_info the way
// ELF64_R_INFO does (the symbol index is always 0 here: elfload never
// resolves symbols, so only RELATIVE relocations, which ignore it, are
// meaningful in these fixtures).
func RelaInfo(relType uint32) uint64 {
	return uint64(relType)
}
