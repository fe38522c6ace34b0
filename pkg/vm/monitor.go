package vm

import (
	"sync"

	"github.com/daimatz/gojvmcore/pkg/heap"
)

// Monitor is a reentrant lock with wait and notify, owned by a Thread. The
// runtime's own locks are Monitors too.
type Monitor struct {
	mu      sync.Mutex
	free    *sync.Cond
	owner   *Thread
	depth   int
	waiters []chan struct{}
}

// NewMonitor returns an unowned monitor.
func NewMonitor() *Monitor {
	m := &Monitor{}
	m.free = sync.NewCond(&m.mu)
	return m
}

// Acquire blocks until t owns the monitor.
func (m *Monitor) Acquire(t *Thread) {
	m.mu.Lock()
	m.lock(t, 1)
	m.mu.Unlock()
}

func (m *Monitor) lock(t *Thread, depth int) {
	for m.owner != nil && m.owner != t {
		m.free.Wait()
	}
	m.owner = t
	m.depth += depth
}

// TryAcquire takes the monitor only if that does not block.
func (m *Monitor) TryAcquire(t *Thread) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != nil && m.owner != t {
		return false
	}
	m.owner = t
	m.depth++
	return true
}

// Release undoes one Acquire.
func (m *Monitor) Release(t *Thread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != t {
		panic("vm: monitor released by a thread that does not own it")
	}
	m.depth--
	if m.depth == 0 {
		m.owner = nil
		m.free.Broadcast()
	}
}

// Owner returns the owning thread, or nil.
func (m *Monitor) Owner() *Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner
}

// Wait gives up the monitor entirely until another thread calls Notify or
// NotifyAll, then takes it back at the same depth.
func (m *Monitor) Wait(t *Thread) {
	m.mu.Lock()
	if m.owner != t {
		m.mu.Unlock()
		panic("vm: monitor wait by a thread that does not own it")
	}
	ch := make(chan struct{})
	m.waiters = append(m.waiters, ch)
	depth := m.depth
	m.owner = nil
	m.depth = 0
	m.free.Broadcast()
	m.mu.Unlock()

	<-ch

	m.mu.Lock()
	m.lock(t, depth)
	m.mu.Unlock()
}

// Notify wakes the longest waiting thread.
func (m *Monitor) Notify(t *Thread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.waiters) > 0 {
		close(m.waiters[0])
		m.waiters = m.waiters[1:]
	}
}

// NotifyAll wakes every waiting thread.
func (m *Monitor) NotifyAll(t *Thread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.waiters {
		close(ch)
	}
	m.waiters = nil
}

// Acquire takes m without holding up a collection: if m is busy, t goes
// idle while it waits. Threads locking an object monitor use this rather
// than m.Acquire.
func (t *Thread) Acquire(m *Monitor) {
	if m.TryAcquire(t) {
		return
	}
	if t.State() != ActiveState {
		m.Acquire(t)
		return
	}
	t.Blocking(func() { m.Acquire(t) })
}

// Release releases m, which t must own.
func (t *Thread) Release(m *Monitor) { m.Release(t) }

// Wait waits on m, which t must own, staying idle until it is notified and
// has taken m back.
func (t *Thread) Wait(m *Monitor) {
	if t.State() != ActiveState {
		m.Wait(t)
		return
	}
	t.Blocking(func() { m.Wait(t) })
}

// ObjectMonitor returns the monitor for o, creating it on first use. A
// finalizer disposes of the monitor once o is unreachable.
func (m *Machine) ObjectMonitor(t *Thread, o heap.Ref) *Monitor {
	m.monitorLock.Lock()
	mon, ok := m.monitorMap.Find(o)
	m.monitorLock.Unlock()
	if ok {
		log.Debugf("found monitor %p for object %v", mon, o)
		return mon
	}

	defer t.Protect(&o)()

	old := t.State()
	t.Enter(ExclusiveState)
	defer t.Enter(old)

	// Another thread may have made one while we waited for exclusive.
	if mon, ok := m.monitorMap.Find(o); ok {
		return mon
	}

	mon = NewMonitor()
	log.Debugf("made monitor %p for object %v", mon, o)
	m.monitorLock.Lock()
	m.monitorMap.Insert(o, mon)
	m.monitorLock.Unlock()
	m.AddFinalizer(t, o, m.removeMonitor)
	return mon
}

func (m *Machine) removeMonitor(t *Thread, o heap.Ref) {
	m.monitorLock.Lock()
	mon, ok := m.monitorMap.Remove(o)
	m.monitorLock.Unlock()
	if !ok {
		m.Abort(t, errMissingMonitor)
	}
	log.Debugf("dispose monitor %p for object %v", mon, o)
}
