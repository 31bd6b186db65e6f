package elfload

import "unsafe"

// maxImageSize is the largest raw ELF buffer this loader accepts: it caps
// offsets and lengths at 4 GiB so they always fit in a uint32 (spec §9,
// "32-bit sizing").
const maxImageSize = 0xFFFFFFFF

// Parsed is an immutable, validated view over a raw ELF byte slice. It
// borrows raw for its entire lifetime and is consumed by Load.
type Parsed struct {
	raw      []byte
	phOff    uint32
	phNum    uint16
	memLen   uint32
	memAlign uint32
	entry    uint32
}

// MemLen is the minimum byte count required in the destination buffer.
func (p Parsed) MemLen() uint32 { return p.memLen }

// MemAlign is the maximum segment alignment requested by the image.
func (p Parsed) MemAlign() uint32 { return p.memAlign }

// Entry is the entry-point offset within the destination buffer (relative
// to its start), or zero if the image declares no entry point.
func (p Parsed) Entry() uint32 { return p.entry }

// Parse validates an ELF64 PIE image and computes the layout Load will need.
// It never allocates, never recurses, and never panics: every malformed
// input is reported through the returned error.
func Parse(raw []byte) (Parsed, error) {
	hdr, err := parseFileHeader(raw)
	if err != nil {
		return Parsed{}, err
	}

	phOff, phNum, memLen, memAlign, entry, err := parseProgramHeaders(hdr, raw)
	if err != nil {
		return Parsed{}, err
	}

	return Parsed{
		raw:      raw,
		phOff:    phOff,
		phNum:    phNum,
		memLen:   memLen,
		memAlign: memAlign,
		entry:    entry,
	}, nil
}

func parseFileHeader(raw []byte) (*FileHeader, error) {
	if len(raw) < fileHeaderSize || len(raw) > maxImageSize {
		return nil, ErrBadBufferSize
	}

	if !alignedTo(uintptr(unsafe.Pointer(&raw[0])), uint32(unsafe.Alignof(FileHeader{}))) {
		return nil, ErrBadBufferAlignment
	}

	hdr := (*FileHeader)(unsafe.Pointer(&raw[0]))

	if hdr.Ident[0] != elfMagic[0] || hdr.Ident[1] != elfMagic[1] ||
		hdr.Ident[2] != elfMagic[2] || hdr.Ident[3] != elfMagic[3] {
		return nil, ErrBufferNotElf
	}

	if hdr.EHSize != fileHeaderSize {
		return nil, ErrBadHeaderSize
	}

	if hdr.Ident[eiClass] != elfClass64 {
		return nil, ErrNotElf64
	}

	if err := checkNativeEndian(hdr.Ident[eiData]); err != nil {
		return nil, err
	}

	if hdr.Type != etDyn {
		return nil, ErrNotPic
	}

	if err := checkNativeIsa(hdr.Machine); err != nil {
		return nil, err
	}

	return hdr, nil
}

func checkNativeEndian(tag byte) error {
	wantLSB := nativeEndianIsLSB
	switch tag {
	case elfData2LSB:
		if wantLSB {
			return nil
		}
	case elfData2MSB:
		if !wantLSB {
			return nil
		}
	}
	return ErrBadEndian
}

func checkNativeIsa(machine uint16) error {
	if uint16(nativeMachine) == machine {
		return nil
	}
	return ErrBadIsa
}

// parseProgramHeaders locates the program-header table, bounds-checks it,
// and scans it once to compute mem_len, mem_align and the entry offset
// (spec §4.1: the bound checks here let every later phase index the raw
// buffer without re-checking).
func parseProgramHeaders(hdr *FileHeader, raw []byte) (phOff uint32, phNum uint16, memLen, memAlign, entry uint32, err error) {
	if hdr.PHEntSize != programHeaderSize {
		return 0, 0, 0, 0, 0, ErrBadProgramHeaderSize
	}

	tableLen := uint64(hdr.PHNum) * programHeaderSize
	tableEnd, overflow := addOverflowsU64(hdr.PHOff, tableLen)
	if overflow || tableEnd > uint64(len(raw)) {
		return 0, 0, 0, 0, 0, ErrProgramHeaderOverflow
	}

	base := uintptr(unsafe.Pointer(&raw[0])) + uintptr(hdr.PHOff)
	if !alignedTo(base, uint32(unsafe.Alignof(ProgramHeader{}))) {
		return 0, 0, 0, 0, 0, ErrBadBufferAlignment
	}

	headers := unsafe.Slice((*ProgramHeader)(unsafe.Pointer(base)), hdr.PHNum)

	memLen, memAlign, err = checkProgramHeaderRanges(headers, raw, hdr.Entry)
	if err != nil {
		return 0, 0, 0, 0, 0, err
	}

	return uint32(hdr.PHOff), hdr.PHNum, memLen, memAlign, uint32(hdr.Entry), nil
}

// addOverflowsU64 adds two raw 64-bit ELF fields and reports whether the sum
// wrapped, so offsets and sizes can be bounds-checked before they are
// narrowed.
func addOverflowsU64(a, b uint64) (sum uint64, overflow bool) {
	sum = a + b
	return sum, sum < a
}

func checkProgramHeaderRanges(headers []ProgramHeader, raw []byte, ent uint64) (memLen, memAlign uint32, err error) {
	memAlign = 1
	entryInExec := false

	for i := range headers {
		ph := &headers[i]

		fileEnd, overflow := addOverflowsU64(ph.Offset, ph.FileSz)
		if overflow || fileEnd > uint64(len(raw)) {
			return 0, 0, ErrBadPhRange
		}

		vmemEnd, overflow := addOverflowsU64(ph.VAddr, ph.MemSz)
		if overflow || vmemEnd > maxImageSize || ph.MemSz > maxImageSize {
			return 0, 0, ErrBadVmemRange
		}

		if ph.MemSz < ph.FileSz {
			return 0, 0, ErrPhSmallerThanVmem
		}

		if ph.Align > maxImageSize {
			return 0, 0, ErrExcessiveAlignment
		}

		if ent != 0 && ph.Type == ptLoad && (ph.Flags&pfX) != 0 &&
			ent >= ph.VAddr && ent < vmemEnd {
			// Delay the final verdict until every header has been scanned,
			// so multi-executable-segment images are accepted even if the
			// entry point falls in a later segment than the first LOAD|X one.
			entryInExec = true
		}

		if uint32(vmemEnd) > memLen {
			memLen = uint32(vmemEnd)
		}

		align := uint32(ph.Align)
		if align > memAlign {
			memAlign = align
		}
	}

	if memAlign == 0 {
		memAlign = 1
	}

	if ent != 0 && !entryInExec {
		return 0, 0, ErrBadEntry
	}

	return memLen, memAlign, nil
}

// ProgramHeaders returns a restartable iterator over the image's program
// headers, filtering out PT_NULL and PT_GNU_STACK the way spec §4.1
// describes ("headers of type NULL and GNU_STACK are transparently
// filtered by the public program-header iterator").
func (p Parsed) ProgramHeaders() ProgramHeaderIter {
	return ProgramHeaderIter{parsed: p, index: 0}
}

// ProgramHeaderIter walks a Parsed image's program headers in order,
// skipping NULL and GNU_STACK entries.
type ProgramHeaderIter struct {
	parsed Parsed
	index  uint16
}

// Next returns the next relevant program header, or ok=false when done.
func (it *ProgramHeaderIter) Next() (Segment, bool) {
	raw := it.parsed.raw
	base := uintptr(unsafe.Pointer(&raw[0])) + uintptr(it.parsed.phOff)

	for it.index < it.parsed.phNum {
		ph := (*ProgramHeader)(unsafe.Pointer(base + uintptr(it.index)*programHeaderSize))
		it.index++

		kind, ok := segmentKindFromType(ph.Type)
		if !ok {
			continue
		}

		return Segment{
			Kind:       kind,
			Protection: protectionFromFlags(ph.Flags),
			VAddr:      uint32(ph.VAddr),
			MemSz:      uint32(ph.MemSz),
			copyFrom:   raw[ph.Offset : ph.Offset+ph.FileSz],
		}, true
	}

	return Segment{}, false
}

// SegmentKind tells the loader what to do with a given program header.
type SegmentKind uint8

const (
	// SegmentLoad copies ELF data into program memory.
	SegmentLoad SegmentKind = iota
	// SegmentDynamic carries dynamic-linking information.
	SegmentDynamic
	// SegmentRelro should be made read-only once relocation completes.
	SegmentRelro
	// SegmentUnsupported is ignored by Load.
	SegmentUnsupported
)

func segmentKindFromType(t uint32) (SegmentKind, bool) {
	switch t {
	case ptDynamic:
		return SegmentDynamic, true
	case ptGNURelro:
		return SegmentRelro, true
	case ptGNUStack, ptNull:
		return 0, false
	case ptLoad:
		return SegmentLoad, true
	default:
		return SegmentUnsupported, true
	}
}

// Segment is one program header's worth of loader instructions.
type Segment struct {
	Kind       SegmentKind
	Protection SegmentProtection
	VAddr      uint32
	MemSz      uint32
	copyFrom   []byte
}
