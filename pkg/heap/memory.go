// Package heap holds the word-addressed memory the runtime allocates guest
// objects in, the contracts between the runtime and a moving collector, and
// a generational copying collector that implements those contracts.
package heap

import (
	"fmt"
	"sync"
	"unsafe"
)

const (
	BytesPerWord = 8
	BitsPerWord  = 64
)

// Ref addresses a word in Memory. The upper 32 bits select a segment and
// the lower 32 bits a word within it. The zero Ref is null.
type Ref uint64

// MakeRef builds a Ref from a segment id and a word index.
func MakeRef(segment, index uint32) Ref {
	return Ref(uint64(segment)<<32 | uint64(index))
}

func (r Ref) Segment() uint32 { return uint32(r >> 32) }

func (r Ref) Index() uint32 { return uint32(r) }

// Add returns the Ref n words past r.
func (r Ref) Add(n int) Ref { return r + Ref(n) }

func (r Ref) String() string {
	if r == 0 {
		return "null"
	}
	return fmt.Sprintf("%d:%d", r.Segment(), r.Index())
}

// SegmentKind says who owns a segment and how the collector treats it.
type SegmentKind uint8

const (
	// NurserySegment is a thread's small-object region.
	NurserySegment SegmentKind = iota
	// LargeSegment is a separately mapped region holding one oversized object.
	LargeSegment
	YoungSegment
	TenuredSegment
)

func (k SegmentKind) String() string {
	switch k {
	case NurserySegment:
		return "nursery"
	case LargeSegment:
		return "large"
	case YoungSegment:
		return "young"
	case TenuredSegment:
		return "tenured"
	default:
		return fmt.Sprintf("SegmentKind(%d)", uint8(k))
	}
}

type segment struct {
	kind   SegmentKind
	words  []uint64
	used   int
	mapped bool
}

// Memory is a set of word segments. Segment creation and release are
// synchronized; reads and writes of words are not, and rely on the caller
// owning the object (its thread's region, or the world being stopped).
type Memory struct {
	mu       sync.RWMutex
	segments map[uint32]*segment
	next     uint32
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	return &Memory{
		segments: make(map[uint32]*segment),
		next:     1,
	}
}

// Allocate creates a zeroed segment of the given size and returns a Ref to
// its first word. Large segments are mapped outside the Go heap when the
// platform allows it.
func (m *Memory) Allocate(kind SegmentKind, words int) Ref {
	if words <= 0 {
		words = 1
	}
	seg := &segment{kind: kind}
	if kind == LargeSegment {
		if w, ok := mapWords(words); ok {
			seg.words = w
			seg.mapped = true
		}
	}
	if seg.words == nil {
		seg.words = make([]uint64, words)
	}

	m.mu.Lock()
	id := m.next
	m.next++
	m.segments[id] = seg
	m.mu.Unlock()

	return MakeRef(id, 0)
}

// Free releases the segment containing r.
func (m *Memory) Free(r Ref) {
	m.mu.Lock()
	seg, ok := m.segments[r.Segment()]
	delete(m.segments, r.Segment())
	m.mu.Unlock()

	if ok && seg.mapped {
		unmapWords(seg.words)
	}
}

func (m *Memory) segment(r Ref) *segment {
	m.mu.RLock()
	seg := m.segments[r.Segment()]
	m.mu.RUnlock()
	if seg == nil {
		panic(fmt.Sprintf("heap: reference %v outside any segment", r))
	}
	return seg
}

// Kind reports the kind of the segment containing r.
func (m *Memory) Kind(r Ref) (SegmentKind, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seg, ok := m.segments[r.Segment()]
	if !ok {
		return 0, false
	}
	return seg.kind, true
}

// Len returns the capacity in words of the segment containing r.
func (m *Memory) Len(r Ref) int {
	return len(m.segment(r).words)
}

// Segments calls fn for every live segment.
func (m *Memory) Segments(fn func(base Ref, kind SegmentKind)) {
	m.mu.RLock()
	type entry struct {
		id   uint32
		kind SegmentKind
	}
	entries := make([]entry, 0, len(m.segments))
	for id, seg := range m.segments {
		entries = append(entries, entry{id, seg.kind})
	}
	m.mu.RUnlock()

	for _, e := range entries {
		fn(MakeRef(e.id, 0), e.kind)
	}
}

// Word returns a pointer to the word at r.
func (m *Memory) Word(r Ref) *uint64 {
	return &m.segment(r).words[r.Index()]
}

// Words returns the n words starting at r.
func (m *Memory) Words(r Ref, n int) []uint64 {
	i := int(r.Index())
	return m.segment(r).words[i : i+n]
}

// Bytes returns a byte view of the n bytes starting at the word r.
func (m *Memory) Bytes(r Ref, n int) []byte {
	words := m.Words(r, (n+BytesPerWord-1)/BytesPerWord)
	if len(words) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}

func (m *Memory) Load(r Ref) uint64 { return *m.Word(r) }

func (m *Memory) Store(r Ref, v uint64) { *m.Word(r) = v }

// Clear zeroes n words starting at r.
func (m *Memory) Clear(r Ref, n int) {
	clear(m.Words(r, n))
}

// bump carves n words off the unused tail of the segment at base.
func (m *Memory) bump(base Ref, n int) (Ref, bool) {
	seg := m.segment(base)
	if seg.used+n > len(seg.words) {
		return 0, false
	}
	r := base.Add(seg.used)
	seg.used += n
	return r, true
}

// used returns the number of words carved off the segment at base.
func (m *Memory) used(base Ref) int {
	return m.segment(base).used
}
