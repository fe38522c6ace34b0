package heap

import "testing"

// toyClient lays objects out as a header word holding the object's size in
// the low 16 bits and a reference mask over the following words above it.
type toyClient struct {
	mem    *Memory
	roots  []Ref
	status func(v Visitor)
}

func (c *toyClient) VisitRoots(v Visitor) {
	for i := range c.roots {
		v.Visit(&c.roots[i])
	}
	if c.status != nil {
		c.status(v)
	}
}

func (c *toyClient) SizeInWords(o Ref) int { return int(c.mem.Load(o) & 0xFFFF) }

func (c *toyClient) CopiedSizeInWords(o Ref) int { return c.SizeInWords(o) }

func (c *toyClient) Copy(o, dst Ref) {
	n := c.SizeInWords(o)
	copy(c.mem.Words(dst, n), c.mem.Words(o, n))
}

func (c *toyClient) Walk(o Ref, w Walker) {
	header := c.mem.Load(o)
	n := int(header & 0xFFFF)
	mask := header >> 16
	for i := 1; i < n; i++ {
		if mask&(1<<uint(i)) != 0 {
			if !w.Visit(i) {
				return
			}
		}
	}
}

type nursery struct {
	mem  *Memory
	base Ref
	used int
}

func (n *nursery) alloc(words int, refWords ...int) Ref {
	o := n.base.Add(n.used)
	n.used += words
	header := uint64(words)
	for _, w := range refWords {
		header |= 1 << uint(16+w)
	}
	n.mem.Store(o, header)
	return o
}

func newNursery(mem *Memory) *nursery {
	return &nursery{mem: mem, base: mem.Allocate(NurserySegment, 1024)}
}

func kindOf(t *testing.T, mem *Memory, r Ref) SegmentKind {
	t.Helper()
	k, ok := mem.Kind(r)
	if !ok {
		t.Fatalf("ref %v is not in any segment", r)
	}
	return k
}

func TestMinorCollectionPromotes(t *testing.T) {
	mem := NewMemory()
	g := NewGenerational(mem, Options{YoungChunkWords: 64, TenuredChunkWords: 64})
	n := newNursery(mem)

	child := n.alloc(2)
	mem.Store(child.Add(1), 77)
	parent := n.alloc(2, 1)
	mem.Store(parent.Add(1), uint64(child))
	n.alloc(3) // garbage

	c := &toyClient{mem: mem, roots: []Ref{parent}}

	g.Collect(MinorCollection, c)
	p := c.roots[0]
	if got := kindOf(t, mem, p); got != YoungSegment {
		t.Fatalf("after first minor: got %v, want young", got)
	}
	ch := Ref(mem.Load(p.Add(1)))
	if got := mem.Load(ch.Add(1)); got != 77 {
		t.Errorf("child payload: got %d, want 77", got)
	}

	g.Collect(MinorCollection, c)
	p = c.roots[0]
	if got := kindOf(t, mem, p); got != TenuredSegment {
		t.Fatalf("after second minor: got %v, want tenured", got)
	}
	if got := kindOf(t, mem, Ref(mem.Load(p.Add(1)))); got != TenuredSegment {
		t.Errorf("child after second minor: got %v, want tenured", got)
	}
	if s := g.Stats(); s.Minor != 2 || s.Major != 0 {
		t.Errorf("stats: got %+v", s)
	}
}

func TestStatusDuringCollection(t *testing.T) {
	mem := NewMemory()
	g := NewGenerational(mem, Options{})
	n := newNursery(mem)

	live := n.alloc(1)
	dead := n.alloc(1)

	var liveStatus, deadStatus Status
	c := &toyClient{mem: mem, roots: []Ref{live}}
	c.status = func(v Visitor) {
		liveStatus = g.Status(live)
		deadStatus = g.Status(dead)
	}
	g.Collect(MinorCollection, c)

	if liveStatus != Reachable {
		t.Errorf("live: got %v, want reachable", liveStatus)
	}
	if deadStatus != Unreachable {
		t.Errorf("dead: got %v, want unreachable", deadStatus)
	}
	if got := g.Status(0); got != Unreachable {
		t.Errorf("null: got %v, want unreachable", got)
	}
}

func TestTenuredPointsIntoNursery(t *testing.T) {
	mem := NewMemory()
	g := NewGenerational(mem, Options{})
	n := newNursery(mem)

	holder := n.alloc(2, 1)
	c := &toyClient{mem: mem, roots: []Ref{holder}}
	g.Collect(MinorCollection, c)
	g.Collect(MinorCollection, c)
	holder = c.roots[0]
	if kindOf(t, mem, holder) != TenuredSegment {
		t.Fatal("holder should be tenured")
	}

	// Only the tenured holder refers to the new object; no root does.
	n.used = 0
	young := n.alloc(2)
	mem.Store(young.Add(1), 5)
	mem.Store(holder.Add(1), uint64(young))
	c.roots = nil

	g.Collect(MinorCollection, c)
	moved := Ref(mem.Load(holder.Add(1)))
	if moved == young {
		t.Fatal("nursery object was not evacuated")
	}
	if got := mem.Load(moved.Add(1)); got != 5 {
		t.Errorf("payload: got %d, want 5", got)
	}
}

func TestMajorCollectionCompactsTenured(t *testing.T) {
	mem := NewMemory()
	g := NewGenerational(mem, Options{TenuredChunkWords: 16})
	n := newNursery(mem)

	keep := n.alloc(2)
	drop := n.alloc(2)
	c := &toyClient{mem: mem, roots: []Ref{keep, drop}}
	g.Collect(MinorCollection, c)
	g.Collect(MinorCollection, c)
	oldDrop := c.roots[1]
	c.roots = c.roots[:1]

	var dropStatus Status
	c.status = func(Visitor) { dropStatus = g.Status(oldDrop) }
	g.Collect(MajorCollection, c)

	if dropStatus != Unreachable {
		t.Errorf("dropped tenured object: got %v, want unreachable", dropStatus)
	}
	if _, ok := mem.Kind(oldDrop); ok {
		t.Error("old tenured segment should have been released")
	}
	if kindOf(t, mem, c.roots[0]) != TenuredSegment {
		t.Error("survivor of a major collection should be tenured")
	}
	if g.CollectionType() != MajorCollection {
		t.Errorf("collection type: got %v", g.CollectionType())
	}
}

func TestLargeSegmentRoundTrip(t *testing.T) {
	mem := NewMemory()
	r := mem.Allocate(LargeSegment, 4096)
	mem.Store(r.Add(4095), 9)
	if got := mem.Load(r.Add(4095)); got != 9 {
		t.Errorf("large word: got %d, want 9", got)
	}
	if got := mem.Len(r); got != 4096 {
		t.Errorf("len: got %d, want 4096", got)
	}
	mem.Free(r)
	if _, ok := mem.Kind(r); ok {
		t.Error("segment still present after Free")
	}
}
