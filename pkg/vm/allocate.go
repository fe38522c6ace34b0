package vm

import "github.com/daimatz/gojvmcore/pkg/heap"

// Allocate returns size bytes of zeroed memory for t. Small requests are
// carved from t's nursery; a full nursery triggers a minor collection.
// Requests above the large object threshold get a region of their own.
func (t *Thread) Allocate(size int) heap.Ref {
	words := pad(size) / heap.BytesPerWord
	if t.heapIndex+words >= t.m.nurseryWords || t.m.exclusive.Load() != nil || size > t.m.largeBytes {
		return t.allocate2(size)
	}
	return t.allocateSmall(words)
}

func (t *Thread) allocate2(size int) heap.Ref {
	m := t.m
	words := pad(size) / heap.BytesPerWord

	if size > m.largeBytes && t.large == 0 {
		return t.allocateLarge(words)
	}

	m.stateLock.Acquire(t)
	defer m.stateLock.Release(t)

	for {
		holder := m.exclusive.Load()
		if holder == nil || holder == t {
			break
		}
		// Let the other thread have its turn.
		t.enterLocked(IdleState)
		t.enterLocked(ActiveState)
	}

	if t.heapIndex+words >= m.nurseryWords || (size > m.largeBytes && t.large != 0) {
		old := t.State()
		t.enterLocked(ExclusiveState)
		m.collect(t, heap.MinorCollection)
		t.enterLocked(old)
	}

	if size > m.largeBytes {
		return t.allocateLarge(words)
	}
	return t.allocateSmall(words)
}

func (t *Thread) allocateSmall(words int) heap.Ref {
	o := t.nursery.Add(t.heapIndex)
	t.heapIndex += words
	t.m.mem.Clear(o, words)
	return o
}

// allocateLarge gives t its one large object. The region lives until the
// next collection, which evacuates the object if it is still reachable.
func (t *Thread) allocateLarge(words int) heap.Ref {
	t.large = t.m.mem.Allocate(heap.LargeSegment, words)
	return t.large
}

// Collect runs a collection of the given kind with every other thread
// stopped.
func (m *Machine) Collect(t *Thread, kind heap.CollectionType) {
	m.stateLock.Acquire(t)
	defer m.stateLock.Release(t)

	old := t.State()
	t.enterLocked(ExclusiveState)
	m.collect(t, kind)
	t.enterLocked(old)
}
