package heap

// Options sizes the collector's spaces.
type Options struct {
	YoungChunkWords   int
	TenuredChunkWords int
}

// Stats counts collector activity since creation.
type Stats struct {
	Minor       int
	Major       int
	CopiedWords int
}

type space struct {
	mem   *Memory
	kind  SegmentKind
	chunk int
	segs  []Ref
}

func (s *space) allocate(n int) Ref {
	if len(s.segs) > 0 {
		if r, ok := s.mem.bump(s.segs[len(s.segs)-1], n); ok {
			return r
		}
	}
	size := max(s.chunk, n)
	base := s.mem.Allocate(s.kind, size)
	s.segs = append(s.segs, base)
	r, _ := s.mem.bump(base, n)
	return r
}

type extent struct {
	base Ref
	used int
}

func (s *space) extents() []extent {
	e := make([]extent, len(s.segs))
	for i, base := range s.segs {
		e[i] = extent{base, s.mem.used(base)}
	}
	return e
}

func (s *space) free() {
	for _, base := range s.segs {
		s.mem.Free(base)
	}
	s.segs = nil
}

// Generational is a two-generation copying collector. Everything outside its
// own spaces (thread nurseries and large regions) is treated as the youngest
// generation. A minor collection evacuates nursery survivors into the young
// space and young survivors into the tenured space; a major collection
// evacuates everything into a fresh tenured space.
type Generational struct {
	mem     *Memory
	young   *space
	tenured *space
	stats   Stats

	kind    CollectionType
	client  Client
	from    map[uint32]bool
	forward map[Ref]Ref
	queue   []Ref
}

// NewGenerational returns a collector over mem.
func NewGenerational(mem *Memory, o Options) *Generational {
	if o.YoungChunkWords <= 0 {
		o.YoungChunkWords = 64 * 1024
	}
	if o.TenuredChunkWords <= 0 {
		o.TenuredChunkWords = 256 * 1024
	}
	return &Generational{
		mem:     mem,
		young:   &space{mem: mem, kind: YoungSegment, chunk: o.YoungChunkWords},
		tenured: &space{mem: mem, kind: TenuredSegment, chunk: o.TenuredChunkWords},
	}
}

func (g *Generational) Stats() Stats { return g.stats }

func (g *Generational) CollectionType() CollectionType { return g.kind }

func (g *Generational) Collect(kind CollectionType, c Client) {
	g.kind = kind
	g.client = c
	g.from = make(map[uint32]bool)
	g.forward = make(map[Ref]Ref)

	g.mem.Segments(func(base Ref, k SegmentKind) {
		switch k {
		case NurserySegment, LargeSegment, YoungSegment:
			g.from[base.Segment()] = true
		case TenuredSegment:
			if kind == MajorCollection {
				g.from[base.Segment()] = true
			}
		}
	})

	oldYoung := g.young
	g.young = &space{mem: g.mem, kind: YoungSegment, chunk: oldYoung.chunk}
	var oldTenured *space
	if kind == MajorCollection {
		oldTenured = g.tenured
		g.tenured = &space{mem: g.mem, kind: TenuredSegment, chunk: oldTenured.chunk}
	} else {
		// No write barrier: every tenured object is a root of a minor
		// collection.
		for _, e := range g.tenured.extents() {
			for off := 0; off < e.used; {
				o := e.base.Add(off)
				c.Walk(o, g.slotWalker(o))
				off += c.SizeInWords(o)
			}
		}
		g.drain()
	}

	c.VisitRoots(g)

	oldYoung.free()
	if oldTenured != nil {
		oldTenured.free()
	}

	if kind == MajorCollection {
		g.stats.Major++
	} else {
		g.stats.Minor++
	}
	log.Debugf("%s collection done: %d words copied in total", kind, g.stats.CopiedWords)

	g.client = nil
	g.from = nil
	g.forward = nil
}

// Visit evacuates the object in *p, rewrites the slot, and traces everything
// newly reachable before returning.
func (g *Generational) Visit(p *Ref) {
	if *p == 0 {
		return
	}
	*p = g.evacuate(*p)
	g.drain()
}

func (g *Generational) evacuate(o Ref) Ref {
	if !g.from[o.Segment()] {
		return o
	}
	if dst, ok := g.forward[o]; ok {
		return dst
	}

	n := g.client.CopiedSizeInWords(o)
	var dst Ref
	if k, _ := g.mem.Kind(o); g.kind == MajorCollection || k == YoungSegment {
		dst = g.tenured.allocate(n)
	} else {
		dst = g.young.allocate(n)
	}
	g.client.Copy(o, dst)
	g.forward[o] = dst
	g.queue = append(g.queue, dst)
	g.stats.CopiedWords += n
	return dst
}

func (g *Generational) slotWalker(o Ref) Walker {
	return WalkerFunc(func(offset int) bool {
		slot := g.mem.Word(o.Add(offset))
		if *slot != 0 {
			*slot = uint64(g.evacuate(Ref(*slot)))
		}
		return true
	})
}

func (g *Generational) drain() {
	for len(g.queue) > 0 {
		o := g.queue[len(g.queue)-1]
		g.queue = g.queue[:len(g.queue)-1]
		g.client.Walk(o, g.slotWalker(o))
	}
}

func (g *Generational) Status(o Ref) Status {
	if o == 0 {
		return Unreachable
	}
	if g.from != nil && g.from[o.Segment()] {
		dst, ok := g.forward[o]
		if !ok {
			return Unreachable
		}
		o = dst
	}
	if k, ok := g.mem.Kind(o); ok && k == TenuredSegment {
		return Tenured
	}
	return Reachable
}
