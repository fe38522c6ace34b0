package vm

import (
	"fmt"

	"github.com/daimatz/gojvmcore/pkg/hashmap"
	"github.com/daimatz/gojvmcore/pkg/heap"
)

type finalizer struct {
	target   heap.Ref
	finalize func(*Thread, heap.Ref)
	next     *finalizer
}

// AddFinalizer arranges for finalize to run once target becomes
// unreachable. target survives until finalize has run.
func (m *Machine) AddFinalizer(t *Thread, target heap.Ref, finalize func(*Thread, heap.Ref)) {
	m.referenceLock.Lock()
	m.finalizers = &finalizer{target: target, finalize: finalize, next: m.finalizers}
	m.referenceLock.Unlock()
}

// weakReference is a record on the weak reference lists. holder is the
// guest WeakReference object that owns it, or zero for references the
// runtime holds itself, such as monitor map keys.
type weakReference struct {
	holder   heap.Ref
	target   heap.Ref
	handle   uint64
	released bool
	next     *weakReference
}

// Target implements hashmap.Weak.
func (r *weakReference) Target() (heap.Ref, bool) { return r.target, r.target != 0 }

// Release implements hashmap.Weak. The record is dropped by the next
// collection.
func (r *weakReference) Release() { r.released = true }

func (r *weakReference) tenured(h heap.Heap) bool {
	if r.holder != 0 && h.Status(r.holder) != heap.Tenured {
		return false
	}
	return r.target == 0 || h.Status(r.target) == heap.Tenured
}

// weakKey registers a runtime-owned weak reference to k.
func (m *Machine) weakKey(k heap.Ref) hashmap.Weak[heap.Ref] {
	r := &weakReference{target: k}
	m.referenceLock.Lock()
	r.next = m.weakReferences
	m.weakReferences = r
	m.referenceLock.Unlock()
	return r
}

// MakeWeakReference allocates a java/lang/ref/WeakReference to target.
func (m *Machine) MakeWeakReference(t *Thread, target heap.Ref) heap.Ref {
	defer t.Protect(&target)()
	o := m.MakeObject(t, m.types[WeakReferenceType])
	m.RegisterWeakReference(t, o, target)
	return o
}

// RegisterWeakReference makes o, an instance of a WeakReference class,
// refer weakly to target.
func (m *Machine) RegisterWeakReference(t *Thread, o, target heap.Ref) {
	if c := m.ObjectClass(o); c.VMFlags&WeakReferenceFlag == 0 {
		m.Abort(t, fmt.Errorf("%s is not a weak reference class", c.Name))
	}
	if m.GetLong(o, ReferenceHandle) != 0 {
		m.Abort(t, errWeakHandleReuse)
	}

	m.referenceLock.Lock()
	m.nextWeakHandle++
	r := &weakReference{holder: o, target: target, handle: m.nextWeakHandle, next: m.weakReferences}
	m.weakReferences = r
	m.weakHandles[r.handle] = r
	m.referenceLock.Unlock()

	m.SetLong(o, ReferenceHandle, int64(r.handle))
}

// WeakReferenceTarget returns the target of the WeakReference o, or zero
// once the target has been collected.
func (m *Machine) WeakReferenceTarget(o heap.Ref) heap.Ref {
	handle := uint64(m.GetLong(o, ReferenceHandle))
	m.referenceLock.Lock()
	defer m.referenceLock.Unlock()
	if r, ok := m.weakHandles[handle]; ok {
		return r.target
	}
	return 0
}
