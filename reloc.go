package elfload

import "unsafe"

// ProtectFunc is a host-supplied memory protection callback. prot is the
// protection level to apply; pBase and vBase are the same memory region
// viewed from the loader's address space and the relocated ELF's address
// space respectively; memLen bounds both views; byteRange is relative to
// both. Implementations are called synchronously and must not re-enter the
// loader.
type ProtectFunc func(prot SegmentProtection, pBase, vBase uintptr, memLen uint32, byteRange ByteRange) error

// ProtectNoop is a ProtectFunc that always succeeds, for hosts (UEFI, early
// boot) with no way to restrict memory access.
func ProtectNoop(SegmentProtection, uintptr, uintptr, uint32, ByteRange) error {
	return nil
}

// Ready is a loaded and relocated ELF image. PEntry/VEntry form
// callable function pointers in the loader's or the relocated address
// space, respectively.
type Ready struct {
	mem   []byte
	vBase uintptr
	entry uint32
}

// PMem is the ready ELF's memory region in the loader's address space.
func (r Ready) PMem() []byte { return r.mem }

// PEntry is a pointer to the entry function in the loader's address space.
func (r Ready) PEntry() uintptr {
	return uintptr(unsafe.Pointer(&r.mem[r.entry]))
}

// VEntry is a pointer to the entry function in the relocated ELF's own
// address space (vBase + entry).
func (r Ready) VEntry() uintptr {
	return r.vBase + uintptr(r.entry)
}

// VBase is the chosen virtual base address this image was relocated for.
func (r Ready) VBase() uintptr { return r.vBase }

// RelocFailure is returned by Relocate on error. It carries the destination
// buffer back to the caller, since relocation may have already partially
// mutated it before the failure was detected (spec §4.3: "on failure, the
// destination buffer is returned alongside a RelocError"). Use errors.As to
// recover it:
//
//	ready, err := loaded.Relocate(base, protect)
//	var failure *elfload.RelocFailure
//	if errors.As(err, &failure) {
//	    reuseOrDiscard(failure.Mem)
//	}
type RelocFailure struct {
	Err RelocError
	Mem []byte
}

func (f *RelocFailure) Error() string { return f.Err.Error() }
func (f *RelocFailure) Unwrap() error { return f.Err }

// Relocate walks the dynamic table to find REL/RELA relocation arrays,
// rewrites each entry against vBase, and then invokes protect (if non-nil)
// once for the whole region read-only, followed by once per recorded
// segment in insertion order. On failure the returned error is a
// *RelocFailure carrying the (possibly partially mutated) destination
// buffer back to the caller; l is consumed either way.
func (l Loaded) Relocate(vBase uintptr, protect ProtectFunc) (Ready, error) {
	fail := func(e RelocError) (Ready, error) {
		return Ready{}, &RelocFailure{Err: e, Mem: l.mem}
	}

	if !alignedTo(vBase, l.memAlign) {
		return fail(ErrBadBaseAddressAlignment)
	}

	dyns, err := l.dynEntries()
	if err != nil {
		return fail(err.(RelocError))
	}

	relTable, relaTable, err := findRelTables(l.mem, dyns)
	if err != nil {
		return fail(err.(RelocError))
	}

	for i := range relTable {
		if err := applyRel(&relTable[i]); err != nil {
			return fail(err.(RelocError))
		}
	}

	for i := range relaTable {
		if err := applyRela(&relaTable[i], l.mem, vBase); err != nil {
			return fail(err.(RelocError))
		}
	}

	if protect != nil {
		if err := runProtect(l, vBase, protect); err != nil {
			return fail(err.(RelocError))
		}
	}

	return Ready{mem: l.mem, vBase: vBase, entry: l.entry}, nil
}

func runProtect(l Loaded, vBase uintptr, protect ProtectFunc) error {
	pBase := uintptr(unsafe.Pointer(&l.mem[0]))
	memLen := uint32(len(l.mem))

	if err := protect(ProtRO, pBase, vBase, memLen, ByteRange{Off: 0, Len: memLen}); err != nil {
		return ErrMemProtectFailed
	}

	for _, seg := range l.protect.entries() {
		if err := protect(seg.Protect, pBase, vBase, memLen, seg.Range); err != nil {
			return ErrMemProtectFailed
		}
	}

	return nil
}

// dynEntries slices the Dyn array out of l.mem at l.dynRange, checking
// containment and alignment.
func (l Loaded) dynEntries() ([]DynEntry, error) {
	if !l.dynRange.within(uint64(len(l.mem))) {
		return nil, ErrBadDynRange
	}

	base := uintptr(unsafe.Pointer(&l.mem[0])) + uintptr(l.dynRange.Off)
	if !alignedTo(base, uint32(unsafe.Alignof(DynEntry{}))) {
		return nil, ErrBadDynAlignment
	}

	count := l.dynRange.Len / dynEntrySize
	return unsafe.Slice((*DynEntry)(unsafe.Pointer(base)), count), nil
}

// findRelTables walks the dynamic table collecting the REL/RELA table
// locations, then slices both out of mem.
func findRelTables(mem []byte, dyns []DynEntry) ([]Rel, []Rela, error) {
	var relOff, relLen, relaOff, relaLen uint64

	for i := range dyns {
		d := &dyns[i]
		switch d.Tag {
		case dtRel:
			relOff = d.Val
		case dtRelSz:
			relLen = d.Val
		case dtRelEnt:
			if d.Val != relSize {
				return nil, nil, ErrBadRelSize
			}
		case dtRela:
			relaOff = d.Val
		case dtRelaSz:
			relaLen = d.Val
		case dtRelaEnt:
			if d.Val != relaSize {
				return nil, nil, ErrBadRelaSize
			}
		}
		// All other DT_* tags are of no interest at this layer.
	}

	relTable, err := sliceTable[Rel](mem, relOff, relLen)
	if err != nil {
		return nil, nil, err
	}

	relaTable, err := sliceTable[Rela](mem, relaOff, relaLen)
	if err != nil {
		return nil, nil, err
	}

	return relTable, relaTable, nil
}

// sliceTable slices a Rel/Rela array out of mem at off/len, with
// overflow-safe bounds and alignment checks. An offset of zero denotes
// "absent" and yields an empty table.
func sliceTable[T any](mem []byte, off, length uint64) ([]T, error) {
	if off == 0 {
		return nil, nil
	}

	end, overflow := addOverflowsU64(off, length)
	if overflow || end > uint64(len(mem)) {
		return nil, ErrBadRelRelaTableRange
	}

	base := uintptr(unsafe.Pointer(&mem[0])) + uintptr(off)

	var zero T
	if !alignedTo(base, uint32(unsafe.Alignof(zero))) {
		return nil, ErrBadRelRelaTableAlignment
	}

	elemSize := unsafe.Sizeof(zero)
	return unsafe.Slice((*T)(unsafe.Pointer(base)), length/uint64(elemSize)), nil
}

// applyRel applies a single REL entry. No supported architecture currently
// needs plain REL relocations for self-contained PIEs built by a modern
// toolchain, so this always reports the relocation as unsupported for the
// running architecture (ground: original_source/src/reloc.rs's apply_rel,
// which is likewise unconditional).
func applyRel(*Rel) error {
	return ErrUnsupportedRelArch
}

// applyRela applies a single RELA entry against base, dispatching to the
// native architecture's relocation semantics.
func applyRela(rela *Rela, mem []byte, base uintptr) error {
	// The target is a 64-bit word, so all 8 of its bytes must lie in mem.
	if rela.Offset >= uint64(len(mem)) || uint64(len(mem))-rela.Offset < 8 {
		return ErrBadRelaOffset
	}

	target := (*uint64)(unsafe.Pointer(&mem[rela.Offset]))
	a := uint64(rela.Addend)
	b := uint64(base)

	if nativeMachine == emX86_64 {
		return applyRelaX86_64(target, relType(rela.Info), a, b)
	}
	return ErrUnsupportedRelaArch
}

// applyRelaX86_64 applies one x86_64 RELA relocation. COPY is a no-op here:
// a true copy relocation requires resolving a symbol from another loaded
// image, which is dynamic linking and explicitly out of scope.
func applyRelaX86_64(target *uint64, ty uint32, a, b uint64) error {
	switch ty {
	case rX8664None, rX8664Copy:
		return nil
	case rX8664Relative:
		writeUnaligned64(target, a+b)
		return nil
	default:
		return ErrUnsupportedRelaType
	}
}

// writeUnaligned64 stores v at the address target points to, without
// assuming 8-byte alignment: ELF does not guarantee the alignment of
// relocated fields (spec §9).
func writeUnaligned64(target *uint64, v uint64) {
	p := (*[8]byte)(unsafe.Pointer(target))
	p[0] = byte(v)
	p[1] = byte(v >> 8)
	p[2] = byte(v >> 16)
	p[3] = byte(v >> 24)
	p[4] = byte(v >> 32)
	p[5] = byte(v >> 40)
	p[6] = byte(v >> 48)
	p[7] = byte(v >> 56)
}
