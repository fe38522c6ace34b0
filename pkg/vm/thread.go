package vm

import (
	"fmt"
	"sync/atomic"

	"github.com/daimatz/gojvmcore/pkg/heap"
)

// Thread is the control block of one guest thread. Threads form a tree
// rooted at the machine's first thread; the links are only changed under
// the state lock.
type Thread struct {
	m     *Machine
	ID    uint64
	state atomic.Int32

	parent *Thread
	peer   *Thread
	child  *Thread

	// JavaThread is the guest java/lang/Thread object.
	JavaThread heap.Ref
	// Code is the method currently executing, if any.
	Code *Method
	// Exception is the pending guest exception.
	Exception heap.Ref

	stack  []uint64
	tags   []Tag
	sp     int
	frames []frame

	protectors []func(heap.Visitor)

	nursery   heap.Ref
	heapIndex int
	large     heap.Ref

	started atomic.Bool
	done    chan struct{}
}

// NewThread creates a thread control block as the first child of parent, or
// as the root thread when parent is nil. The thread is in NoState until it
// enters ActiveState, usually through Start.
func (m *Machine) NewThread(parent *Thread, javaThread heap.Ref) *Thread {
	t := &Thread{
		m:          m,
		JavaThread: javaThread,
		nursery:    m.mem.Allocate(heap.NurserySegment, m.nurseryWords),
		done:       make(chan struct{}),
	}

	owner := parent
	if owner == nil {
		owner = t
	}
	m.stateLock.Acquire(owner)
	m.nextThread++
	t.ID = m.nextThread
	if parent != nil {
		t.parent = parent
		t.peer = parent.child
		parent.child = t
	} else {
		t.peer = m.rootThread
		m.rootThread = t
	}
	m.stateLock.Release(owner)

	if javaThread != 0 {
		m.SetLong(javaThread, ThreadPeer, int64(t.ID))
	}
	return t
}

// Root creates the root thread, makes it active, and gives it a
// java/lang/Thread object. The root runs on the caller's goroutine, so
// nothing joins it.
func (m *Machine) Root() *Thread {
	t := m.NewThread(nil, 0)
	t.Enter(ActiveState)
	t.JavaThread = m.MakeObject(t, m.types[ThreadType])
	m.SetLong(t.JavaThread, ThreadPeer, int64(t.ID))
	return t
}

// Spawn creates a child of t with its own java/lang/Thread object and runs
// fn on it.
func (t *Thread) Spawn(fn func(*Thread)) *Thread {
	jt := t.m.MakeObject(t, t.m.types[ThreadType])
	child := t.m.NewThread(t, jt)
	child.Start(fn)
	return child
}

// Start runs fn on a new goroutine as t. When fn returns, t exits.
func (t *Thread) Start(fn func(*Thread)) {
	t.started.Store(true)
	go func() {
		defer close(t.done)
		t.Enter(ActiveState)
		fn(t)
		t.Exit()
	}()
}

// Join waits for a thread started with Start to finish.
func (t *Thread) Join() {
	if t.started.Load() {
		<-t.done
	}
}

// Machine returns the machine t belongs to.
func (t *Thread) Machine() *Machine { return t.m }

func (t *Thread) State() State { return State(t.state.Load()) }

func (t *Thread) setState(s State) { t.state.Store(int32(s)) }

func (t *Thread) String() string { return fmt.Sprintf("thread %d (%v)", t.ID, t.State()) }

func (t *Thread) expect(ok bool, format string, args ...any) {
	if !ok {
		t.m.abortf(t, format, args...)
	}
}

// Protect keeps *p up to date across collections until the returned
// function is called. Protections are released in reverse order:
//
//	defer t.Protect(&o)()
func (t *Thread) Protect(p *heap.Ref) func() {
	return t.protect(func(v heap.Visitor) { v.Visit(p) })
}

func (t *Thread) protect(visit func(heap.Visitor)) func() {
	t.protectors = append(t.protectors, visit)
	n := len(t.protectors)
	return func() {
		if len(t.protectors) != n {
			t.m.Abort(t, errProtectorOrder)
		}
		t.protectors = t.protectors[:n-1]
	}
}

func join(t, o *Thread) {
	if t != o {
		o.Join()
		o.setState(JoinedState)
	}
}

func joinAll(t, o *Thread) {
	for c := o.child; c != nil; c = c.peer {
		joinAll(t, c)
	}
	join(t, o)
}

func disposeAll(t, o *Thread) {
	for c := o.child; c != nil; {
		next := c.peer
		disposeAll(t, c)
		c = next
	}
	t.m.dispose(o)
}

// killZombies joins and disposes of every thread below and including o that
// has exited.
func killZombies(t, o *Thread) {
	for c := o.child; c != nil; {
		next := c.peer
		killZombies(t, c)
		c = next
	}

	switch o.State() {
	case ZombieState:
		join(t, o)
		fallthrough
	case JoinedState:
		t.m.unlink(o)
		t.m.dispose(o)
	}
}

// unlink removes o from the thread tree. Its children take its place among
// its peers.
func (m *Machine) unlink(o *Thread) {
	head := &m.rootThread
	if o.parent != nil {
		head = &o.parent.child
	}
	p := head
	for *p != nil && *p != o {
		p = &(*p).peer
	}
	if *p == nil {
		m.abortf(o, "%v is not in the thread tree", o)
	}

	next := o.peer
	if o.child != nil {
		last := o.child
		for c := o.child; c != nil; c = c.peer {
			c.parent = o.parent
			last = c
		}
		last.peer = o.peer
		next = o.child
	}
	*p = next
	o.parent, o.peer, o.child = nil, nil, nil
}

// dispose releases the memory a thread owns.
func (m *Machine) dispose(o *Thread) {
	if o.nursery != 0 {
		m.mem.Free(o.nursery)
		o.nursery = 0
	}
	if o.large != 0 {
		m.mem.Free(o.large)
		o.large = 0
	}
	log.Debugf("disposed %v", o)
}

// Threads calls fn for every thread in the tree, parents before children.
func (m *Machine) Threads(t *Thread, fn func(*Thread)) {
	m.stateLock.Acquire(t)
	defer m.stateLock.Release(t)
	var walk func(o *Thread)
	walk = func(o *Thread) {
		for ; o != nil; o = o.peer {
			fn(o)
			walk(o.child)
		}
	}
	walk(m.rootThread)
}
