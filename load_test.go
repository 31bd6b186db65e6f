package elfload

import (
	"bytes"
	"errors"
	"testing"

	"github.com/xyproto/elfload/internal/testelf"
)

func TestLoadCopiesSegmentsAndZeroFills(t *testing.T) {
	text := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	img := testelf.Image{
		Segments: []testelf.Segment{
			{Type: testelf.PT_LOAD, Flags: testelf.PF_R | testelf.PF_X, VAddr: 0, Data: text, MemSz: 8},
			{Type: testelf.PT_DYNAMIC, Flags: testelf.PF_R | testelf.PF_W, VAddr: 0x1000, Data: testelf.DynTable(nil)},
		},
	}
	raw := testelf.Build(img)
	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	mem := make([]byte, p.MemLen())
	for i := range mem {
		mem[i] = 0xFF // poison, so a missed zero-fill would be visible
	}

	loaded, err := p.Load(mem)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !bytes.Equal(mem[:4], text) {
		t.Errorf("mem[:4] = %x, want %x", mem[:4], text)
	}
	if mem[4] != 0 || mem[5] != 0 || mem[6] != 0 || mem[7] != 0 {
		t.Errorf("trailing bss bytes not zero-filled: %x", mem[4:8])
	}
	if loaded.LoaderBase() == 0 {
		t.Errorf("LoaderBase() = 0")
	}
}

func TestLoadBufferTooSmall(t *testing.T) {
	raw := testelf.Build(minimalImage())
	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	_, err = p.Load(make([]byte, p.MemLen()-1))
	if !errors.Is(err, ErrLoadBadBufferSize) {
		t.Fatalf("err = %v, want ErrLoadBadBufferSize", err)
	}
}

func TestLoadRejectsMultipleDynamicSegments(t *testing.T) {
	img := testelf.Image{
		Segments: []testelf.Segment{
			{Type: testelf.PT_DYNAMIC, Flags: testelf.PF_R | testelf.PF_W, VAddr: 0, Data: testelf.DynTable(nil)},
			{Type: testelf.PT_DYNAMIC, Flags: testelf.PF_R | testelf.PF_W, VAddr: 0x100, Data: testelf.DynTable(nil)},
		},
	}
	raw := testelf.Build(img)
	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	_, err = p.Load(make([]byte, p.MemLen()))
	if !errors.Is(err, ErrMultipleDynamicSegments) {
		t.Fatalf("err = %v, want ErrMultipleDynamicSegments", err)
	}
}

func TestLoadRejectsNoDynamicSegment(t *testing.T) {
	img := testelf.Image{
		Segments: []testelf.Segment{
			{Type: testelf.PT_LOAD, Flags: testelf.PF_R, VAddr: 0, Data: make([]byte, 8)},
		},
	}
	raw := testelf.Build(img)
	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	_, err = p.Load(make([]byte, p.MemLen()))
	if !errors.Is(err, ErrNoDynamicSegments) {
		t.Fatalf("err = %v, want ErrNoDynamicSegments", err)
	}
}

func TestLoadRejectsTooManyProtectableSegments(t *testing.T) {
	segs := []testelf.Segment{
		{Type: testelf.PT_DYNAMIC, Flags: testelf.PF_R | testelf.PF_W, VAddr: 0, Data: testelf.DynTable(nil)},
	}
	for i := 0; i < maxProtectSegments; i++ {
		segs = append(segs, testelf.Segment{
			Type: testelf.PT_LOAD, Flags: testelf.PF_R, VAddr: uint64(0x1000 * (i + 1)), Data: make([]byte, 8),
		})
	}
	raw := testelf.Build(testelf.Image{Segments: segs})
	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	_, err = p.Load(make([]byte, p.MemLen()))
	if !errors.Is(err, ErrTooManySegments) {
		t.Fatalf("err = %v, want ErrTooManySegments", err)
	}
}
