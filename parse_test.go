package elfload

import (
	"errors"
	"testing"

	"github.com/xyproto/elfload/internal/testelf"
)

func minimalImage() testelf.Image {
	return testelf.Image{
		Entry: 1,
		Segments: []testelf.Segment{
			{Type: testelf.PT_LOAD, Flags: testelf.PF_R | testelf.PF_X, VAddr: 0, Data: make([]byte, 16)},
			{Type: testelf.PT_LOAD, Flags: testelf.PF_R | testelf.PF_W, VAddr: 0x2000, Data: make([]byte, 16)},
			{
				Type: testelf.PT_LOAD, Flags: testelf.PF_R | testelf.PF_W, VAddr: 0x3000,
				Data: testelf.RelaTable([]testelf.RelaEntry{
					{Offset: 0x2000, Info: testelf.RelaInfo(testelf.R_X86_64_RELATIVE), Addend: 0x1234},
				}),
			},
			{
				Type: testelf.PT_DYNAMIC, Flags: testelf.PF_R | testelf.PF_W, VAddr: 0x4000,
				Data: testelf.DynTable([]testelf.DynEntry{
					{Tag: testelf.DT_RELA, Val: 0x3000},
					{Tag: testelf.DT_RELASZ, Val: 24},
					{Tag: testelf.DT_RELAENT, Val: 24},
				}),
			},
		},
	}
}

func TestParseMinimalImage(t *testing.T) {
	raw := testelf.Build(minimalImage())

	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Entry() != 1 {
		t.Errorf("Entry() = %d, want 1", p.Entry())
	}
	if p.MemAlign() != 1 {
		t.Errorf("MemAlign() = %d, want 1", p.MemAlign())
	}
	wantMemLen := uint32(0x4000 + 3*16)
	if p.MemLen() != wantMemLen {
		t.Errorf("MemLen() = 0x%x, want 0x%x", p.MemLen(), wantMemLen)
	}
}

func TestParseBufferTooSmall(t *testing.T) {
	_, err := Parse(make([]byte, 10))
	if !errors.Is(err, ErrBadBufferSize) {
		t.Fatalf("err = %v, want ErrBadBufferSize", err)
	}
}

func TestParseBadMagic(t *testing.T) {
	raw := testelf.Build(minimalImage())
	raw[0] = 0x00
	_, err := Parse(raw)
	if !errors.Is(err, ErrBufferNotElf) {
		t.Fatalf("err = %v, want ErrBufferNotElf", err)
	}
}

func TestParseNotPIE(t *testing.T) {
	raw := testelf.Build(minimalImage())
	raw[16] = 2 // e_type = ET_EXEC
	_, err := Parse(raw)
	if !errors.Is(err, ErrNotPic) {
		t.Fatalf("err = %v, want ErrNotPic", err)
	}
}

func TestParseWrongMachine(t *testing.T) {
	img := minimalImage()
	img.Machine = testelf.NativeMachine() + 1
	raw := testelf.Build(img)
	_, err := Parse(raw)
	if !errors.Is(err, ErrBadIsa) {
		t.Fatalf("err = %v, want ErrBadIsa", err)
	}
}

func TestParseWrongEndian(t *testing.T) {
	raw := testelf.Build(minimalImage())
	raw[5] = 2 // ELFDATA2MSB
	_, err := Parse(raw)
	if !errors.Is(err, ErrBadEndian) {
		t.Fatalf("err = %v, want ErrBadEndian", err)
	}
}

func TestParseProgramHeaderTableOverflow(t *testing.T) {
	raw := testelf.Build(minimalImage())
	truncated := raw[:80] // header + part of one program header, nowhere near all four
	_, err := Parse(truncated)
	if !errors.Is(err, ErrProgramHeaderOverflow) {
		t.Fatalf("err = %v, want ErrProgramHeaderOverflow", err)
	}
}

func TestParseFileSzBiggerThanMemSz(t *testing.T) {
	img := testelf.Image{
		Entry: 0,
		Segments: []testelf.Segment{
			{Type: testelf.PT_LOAD, Flags: testelf.PF_R, VAddr: 0, Data: make([]byte, 16), MemSz: 8},
		},
	}
	raw := testelf.Build(img)
	_, err := Parse(raw)
	if !errors.Is(err, ErrPhSmallerThanVmem) {
		t.Fatalf("err = %v, want ErrPhSmallerThanVmem", err)
	}
}

func TestParseEntryNotInExecutableSegment(t *testing.T) {
	img := minimalImage()
	img.Entry = 0x2000 // lands in the R+W segment, not the R+X one
	raw := testelf.Build(img)
	_, err := Parse(raw)
	if !errors.Is(err, ErrBadEntry) {
		t.Fatalf("err = %v, want ErrBadEntry", err)
	}
}

func TestParseZeroEntrySkipsExecutableCheck(t *testing.T) {
	img := testelf.Image{
		Entry: 0,
		Segments: []testelf.Segment{
			{Type: testelf.PT_LOAD, Flags: testelf.PF_R | testelf.PF_W, VAddr: 0, Data: make([]byte, 16)},
		},
	}
	raw := testelf.Build(img)
	if _, err := Parse(raw); err != nil {
		t.Fatalf("Parse with entry=0 and no executable segment: %v", err)
	}
}

func TestProgramHeadersIteratorFiltersNullAndStack(t *testing.T) {
	img := testelf.Image{
		Segments: []testelf.Segment{
			{Type: testelf.PT_NULL, VAddr: 0},
			{Type: testelf.PT_GNU_STACK, Flags: testelf.PF_R | testelf.PF_W, VAddr: 0},
			{Type: testelf.PT_LOAD, Flags: testelf.PF_R, VAddr: 0, Data: make([]byte, 8)},
		},
	}
	raw := testelf.Build(img)
	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	it := p.ProgramHeaders()
	seg, ok := it.Next()
	if !ok {
		t.Fatalf("expected one segment from the iterator")
	}
	if seg.Kind != SegmentLoad {
		t.Errorf("Kind = %v, want SegmentLoad", seg.Kind)
	}
	if _, ok := it.Next(); ok {
		t.Errorf("expected PT_NULL and PT_GNU_STACK to be filtered out")
	}
}
