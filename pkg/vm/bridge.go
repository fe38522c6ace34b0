package vm

import (
	"github.com/daimatz/gojvmcore/pkg/classfile"
	"github.com/daimatz/gojvmcore/pkg/heap"
)

// collect runs a collection. The caller holds the state lock and is the
// exclusive thread.
func (m *Machine) collect(t *Thread, kind heap.CollectionType) {
	log.Debugf("%v collection started by %v", kind, t)

	m.heap.Collect(kind, m)

	for o := m.rootThread; o != nil; o = o.peer {
		m.postCollect(o)
	}

	for m.finalizeQueue != nil {
		f := m.finalizeQueue
		m.finalizeQueue = f.next
		f.finalize(t, f.target)
	}

	for o := m.rootThread; o != nil; {
		next := o.peer
		killZombies(t, o)
		o = next
	}

	log.Debugf("%v collection finished", kind)
}

func (m *Machine) postCollect(t *Thread) {
	if t.large != 0 {
		m.mem.Free(t.large)
		t.large = 0
	}
	for c := t.child; c != nil; c = c.peer {
		m.postCollect(c)
	}
}

// VisitRoots hands the collector every reference the runtime holds outside
// the heap, then sorts the finalizer and weak reference lists by what the
// trace reached.
func (m *Machine) VisitRoots(v heap.Visitor) {
	m.classesMu.RLock()
	classes := m.classes
	m.classesMu.RUnlock()
	// The class map, the bootstrap class map and the types table all point
	// into the arena.
	for _, c := range classes[1:] {
		visitClass(c, v)
	}

	for n := range m.internMap.Nodes() {
		v.Visit(&n.Value)
	}

	// Builtins are Go functions. Monitor map keys are weak and its values
	// live outside the heap.

	for f := m.finalizeQueue; f != nil; f = f.next {
		v.Visit(&f.target)
	}

	for o := m.rootThread; o != nil; o = o.peer {
		m.visitThread(o, v)
	}

	m.postVisit(v)
}

func visitClass(c *Class, v heap.Visitor) {
	for _, e := range c.Pool {
		if s, ok := e.(*classfile.ConstantString); ok {
			v.Visit(&s.Object)
		}
	}
	for _, f := range c.Fields {
		if f.IsStatic() && f.Code == classfile.ObjectField {
			visitSlot(&c.StaticTable[f.Offset], v)
		}
	}
}

func visitSlot(slot *uint64, v heap.Visitor) {
	r := heap.Ref(*slot)
	v.Visit(&r)
	*slot = uint64(r)
}

func (m *Machine) visitThread(t *Thread, v heap.Visitor) {
	if t.State() != ZombieState {
		t.heapIndex = 0

		v.Visit(&t.JavaThread)
		v.Visit(&t.Exception)

		for i := 0; i < t.sp; i++ {
			if t.tags[i] == ObjectTag {
				visitSlot(&t.stack[i], v)
			}
		}

		for _, p := range t.protectors {
			p(v)
		}
	}

	for c := t.child; c != nil; c = c.peer {
		m.visitThread(c, v)
	}
}

// SizeInWords is the space o occupies now.
func (m *Machine) SizeInWords(o heap.Ref) int {
	n := m.baseSize(o, m.ObjectClass(o))
	if m.mem.Load(o)&extended != 0 {
		n++
	}
	return n
}

// CopiedSizeInWords is the space o occupies once copied: an object whose
// hash was taken grows by a word to keep it.
func (m *Machine) CopiedSizeInWords(o heap.Ref) int {
	n := m.baseSize(o, m.ObjectClass(o))
	if m.mem.Load(o)&(extended|hashTaken) != 0 {
		n++
	}
	return n
}

// Copy moves o to dst, which has room for CopiedSizeInWords(o) words.
func (m *Machine) Copy(o, dst heap.Ref) {
	c := m.ObjectClass(o)
	base := m.baseSize(o, c)
	n := m.SizeInWords(o)
	copy(m.mem.Words(dst, n), m.mem.Words(o, n))

	if h := m.mem.Load(o); h&hashTaken != 0 {
		m.mem.Store(dst, h&^hashTaken|extended)
		m.mem.Store(dst.Add(base), uint64(addressHash(o)))
	}
}

// Walk reports the reference words of o: the fixed words the class mask
// marks, and for arrays the marked words of every element.
func (m *Machine) Walk(o heap.Ref, w heap.Walker) {
	c := m.ObjectClass(o)
	if c.ObjectMask == nil {
		return
	}

	fixed := c.FixedSize / heap.BytesPerWord
	for i := 0; i < fixed; i++ {
		if c.maskBit(i) && !w.Visit(i) {
			return
		}
	}

	elementWords := c.ArrayElementSize / heap.BytesPerWord
	if elementWords == 0 {
		return
	}
	length := int(m.mem.Load(o.Add(fixed - 1)))
	for j := 0; j < elementWords; j++ {
		if !c.maskBit(fixed + j) {
			continue
		}
		for e := 0; e < length; e++ {
			if !w.Visit(fixed + e*elementWords + j) {
				return
			}
		}
	}
}

// postVisit runs after the roots are traced. A finalizer whose target was
// not reached keeps the target alive one more cycle and is queued to run. A
// weak reference whose target was not reached is cleared. Records whose
// objects are all tenured move to the tenured lists, which only a major
// collection examines.
func (m *Machine) postVisit(v heap.Visitor) {
	h := m.heap

	var newTenuredFinalizers *finalizer
	for p := &m.finalizers; *p != nil; {
		f := *p
		if h.Status(f.target) == heap.Unreachable {
			v.Visit(&f.target)
			*p = f.next
			f.next = m.finalizeQueue
			m.finalizeQueue = f
			continue
		}

		v.Visit(&f.target)
		if h.Status(f.target) == heap.Tenured {
			*p = f.next
			f.next = newTenuredFinalizers
			newTenuredFinalizers = f
		} else {
			p = &f.next
		}
	}

	var newTenuredWeakReferences *weakReference
	for p := &m.weakReferences; *p != nil; {
		r := *p
		if !m.sortWeakReference(r, v) {
			*p = r.next
		} else if r.tenured(h) {
			*p = r.next
			r.next = newTenuredWeakReferences
			newTenuredWeakReferences = r
		} else {
			p = &r.next
		}
	}

	if h.CollectionType() == heap.MajorCollection {
		for p := &m.tenuredFinalizers; *p != nil; {
			f := *p
			if h.Status(f.target) == heap.Unreachable {
				v.Visit(&f.target)
				*p = f.next
				f.next = m.finalizeQueue
				m.finalizeQueue = f
			} else {
				v.Visit(&f.target)
				p = &f.next
			}
		}

		for p := &m.tenuredWeakReferences; *p != nil; {
			r := *p
			if !m.sortWeakReference(r, v) {
				*p = r.next
			} else {
				p = &r.next
			}
		}
	}

	m.tenuredFinalizers = appendFinalizers(newTenuredFinalizers, m.tenuredFinalizers)
	m.tenuredWeakReferences = appendWeakReferences(newTenuredWeakReferences, m.tenuredWeakReferences)
}

// sortWeakReference updates r for the collection in progress and reports
// whether r stays on its list.
func (m *Machine) sortWeakReference(r *weakReference, v heap.Visitor) bool {
	h := m.heap
	switch {
	case r.released:
		return false

	case r.holder != 0 && h.Status(r.holder) == heap.Unreachable:
		delete(m.weakHandles, r.handle)
		return false

	case h.Status(r.target) == heap.Unreachable:
		r.target = 0
		if r.holder == 0 {
			return false
		}
		// The holder can still be asked for its target.
		v.Visit(&r.holder)
		return true

	default:
		if r.holder != 0 {
			v.Visit(&r.holder)
		}
		v.Visit(&r.target)
		return true
	}
}

func appendFinalizers(front, back *finalizer) *finalizer {
	if front == nil {
		return back
	}
	last := front
	for last.next != nil {
		last = last.next
	}
	last.next = back
	return front
}

func appendWeakReferences(front, back *weakReference) *weakReference {
	if front == nil {
		return back
	}
	last := front
	for last.next != nil {
		last = last.next
	}
	last.next = back
	return front
}
