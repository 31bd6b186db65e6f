package elfload

// maxProtectSegments is the fixed capacity of the protect list (spec: "a
// fixed-capacity (8) inline array, explicitly chosen so the loader needs no
// heap"). Typical PIEs need at most a handful of LOAD segments plus one
// DYNAMIC and one GNU_RELRO; 8 leaves headroom without reaching for a slice.
const maxProtectSegments = 8

// SegmentProtection is the memory protection to apply to a loaded segment.
type SegmentProtection uint8

const (
	ProtRO SegmentProtection = iota
	ProtRW
	ProtRX
)

func (p SegmentProtection) String() string {
	switch p {
	case ProtRO:
		return "RO"
	case ProtRW:
		return "RW"
	case ProtRX:
		return "RX"
	default:
		return "unknown"
	}
}

// protectionFromFlags maps ELF PF_* flag bits to a SegmentProtection. A
// simultaneous W and X request collapses to RX: the loader never hands back
// a writable-and-executable region, preferring to lose write over leaving a
// W^X violation in place.
func protectionFromFlags(flags uint32) SegmentProtection {
	switch flags & (pfR | pfW | pfX) {
	case pfR:
		return ProtRO
	case pfW, pfRW:
		return ProtRW
	case pfX, pfRX:
		return ProtRX
	default:
		// R|W|X or W|X: collapse to RX (defense in depth). A header with
		// none of the R/W/X bits set also ends up here and maps to RX.
		return ProtRX
	}
}

// protectSegment is one recorded region of the destination buffer needing a
// later protection callback invocation.
type protectSegment struct {
	Range   ByteRange
	Protect SegmentProtection
}

// segmentStack is the bounded, capacity-8 stack of protectSegment entries
// (spec §9: "bounded arrays instead of dynamic allocation").
type segmentStack struct {
	data [maxProtectSegments]protectSegment
	len  uint8
}

// push appends a segment, failing with ErrTooManySegments past capacity.
func (s *segmentStack) push(seg protectSegment) error {
	if int(s.len) >= len(s.data) {
		return ErrTooManySegments
	}
	s.data[s.len] = seg
	s.len++
	return nil
}

// entries returns the recorded segments in insertion order.
func (s *segmentStack) entries() []protectSegment {
	return s.data[:s.len]
}
