package elfload

import "unsafe"

// Loaded is a parsed ELF image whose segments have been copied into an
// exclusively-borrowed destination buffer. It is consumed by Relocate.
type Loaded struct {
	mem      []byte
	dynRange ByteRange // byte range of the Dyn array within mem
	memAlign uint32
	entry    uint32
	protect  segmentStack
}

// LoaderBase is the destination buffer's base address in this process's
// address space (spec: "loader_base").
func (l Loaded) LoaderBase() uintptr {
	return uintptr(unsafe.Pointer(&l.mem[0]))
}

// Load copies the LOAD and DYNAMIC segments of p into mem, after
// zero-filling it, and records the bounded list of regions that will need
// memory protection. mem must be at least p.MemLen() bytes and aligned to
// p.MemAlign().
func (p Parsed) Load(mem []byte) (Loaded, error) {
	if err := checkBufferAndZeroFill(p, mem); err != nil {
		return Loaded{}, err
	}

	var protect segmentStack
	var dynRange ByteRange
	haveDyn := false

	it := p.ProgramHeaders()
	for {
		seg, ok := it.Next()
		if !ok {
			break
		}

		switch seg.Kind {
		case SegmentLoad:
			if err := protect.push(protectSegment{
				Range:   ByteRange{Off: seg.VAddr, Len: seg.MemSz},
				Protect: seg.Protection,
			}); err != nil {
				return Loaded{}, err
			}
			copySegment(seg, mem)

		case SegmentDynamic:
			if haveDyn {
				return Loaded{}, ErrMultipleDynamicSegments
			}
			haveDyn = true

			if err := protect.push(protectSegment{
				Range:   ByteRange{Off: seg.VAddr, Len: seg.MemSz},
				Protect: seg.Protection,
			}); err != nil {
				return Loaded{}, err
			}
			copySegment(seg, mem)

			dynRange = ByteRange{Off: seg.VAddr, Len: seg.MemSz}

		case SegmentRelro:
			if err := protect.push(protectSegment{
				Range:   ByteRange{Off: seg.VAddr, Len: seg.MemSz},
				Protect: seg.Protection,
			}); err != nil {
				return Loaded{}, err
			}

		case SegmentUnsupported:
			// Ignored downstream, per spec §4.1.
		}
	}

	if !haveDyn {
		return Loaded{}, ErrNoDynamicSegments
	}

	return Loaded{
		mem:      mem,
		dynRange: dynRange,
		memAlign: p.memAlign,
		entry:    p.entry,
		protect:  protect,
	}, nil
}

func checkBufferAndZeroFill(p Parsed, mem []byte) error {
	if uint32(len(mem)) < p.memLen {
		return ErrLoadBadBufferSize
	}

	if len(mem) == 0 {
		return ErrLoadBadBufferSize
	}

	if !alignedTo(uintptr(unsafe.Pointer(&mem[0])), p.memAlign) {
		return ErrLoadBadBufferAlignment
	}

	zeroFill(mem)

	return nil
}

// zeroFill clears mem. It is written so the compiler cannot prove the write
// is dead and elide it (spec §9: "Compiler must not elide zero-fill" — this
// is a security invariant, not a style preference: uninitialised heap or
// stack bytes from a previous tenant must never leak into a loaded image).
//
//go:noinline
func zeroFill(mem []byte) {
	for i := range mem {
		mem[i] = 0
	}
}

// copySegment copies a segment's file bytes into mem at its virtual offset.
// The trailing MemSz-len(copyFrom) bytes are already zero from zeroFill.
func copySegment(seg Segment, mem []byte) {
	dst := mem[seg.VAddr:]
	n := copy(dst, seg.copyFrom)
	_ = n // always len(seg.copyFrom): bounds were already checked while parsing
}
