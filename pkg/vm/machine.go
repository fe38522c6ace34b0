// Package vm is the runtime core: it links class files into classes, lays
// out guest objects in heap memory, cooperates with a moving collector, and
// coordinates the threads that share one Machine.
package vm

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/daimatz/gojvmcore/pkg/hashmap"
	"github.com/daimatz/gojvmcore/pkg/heap"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("gojvm.vm")

// ClassFinder locates class bytes by binary name, e.g. "java/lang/String".
type ClassFinder interface {
	Find(name string) ([]byte, bool)
}

// NativeFunc is the Go implementation of a native method. Arguments and the
// result are raw slot values; references are heap.Ref bits.
type NativeFunc func(t *Thread, args []uint64) uint64

// NativeResolver maps a mangled native symbol to its implementation.
type NativeResolver interface {
	Lookup(symbol string) (NativeFunc, bool)
}

// Options configures a Machine.
type Options struct {
	// NurseryWords is the size of each thread's small-object region.
	NurseryWords int
	// LargeObjectBytes is the size above which an allocation goes to a
	// separate region. Zero means the nursery size, which is also the
	// upper bound.
	LargeObjectBytes int
	Collector        heap.Options
	Natives          NativeResolver

	// NewHeap replaces the default generational collector.
	NewHeap func(mem *heap.Memory) heap.Heap
}

const defaultNurseryWords = 64 * 1024

// FatalError is raised by Abort. The runtime does not recover from it.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

var (
	// ErrClassNotFound matches the error returned by Thread.Err when a
	// ClassNotFoundException is pending.
	ErrClassNotFound = errors.New("class not found")

	errMissingMonitor  = errors.New("monitor map lost an entry")
	errProtectorOrder  = errors.New("protectors released out of order")
	errUnknownClassID  = errors.New("object header names an unknown class")
	errNoNativeSymbol  = errors.New("native method has no linkage name")
	errWeakHandleReuse = errors.New("weak reference registered twice")
)

// Machine is the state shared by every thread of one runtime instance.
type Machine struct {
	mem     *heap.Memory
	heap    heap.Heap
	finder  ClassFinder
	natives NativeResolver

	nurseryWords int
	largeBytes   int

	// stateLock guards thread states, the counters below, and the thread
	// tree. It is reentrant so that allocation can hold it across a state
	// change.
	stateLock   *Monitor
	exclusive   atomic.Pointer[Thread]
	activeCount int
	liveCount   int
	rootThread  *Thread
	nextThread  uint64

	// classLock serializes class resolution.
	classLock         *Monitor
	classMap          *hashmap.Map[string, *Class]
	bootstrapClassMap *hashmap.Map[string, *Class]
	types             [typeCount]*Class

	// classes is indexed by Class.ID; ID 0 is unused.
	classesMu sync.RWMutex
	classes   []*Class

	monitorLock sync.Mutex
	monitorMap  *hashmap.Map[heap.Ref, *Monitor]

	internLock sync.Mutex
	internMap  *hashmap.Map[string, heap.Ref]

	// referenceLock guards the finalizer and weak reference lists outside
	// collections.
	referenceLock         sync.Mutex
	finalizers            *finalizer
	tenuredFinalizers     *finalizer
	finalizeQueue         *finalizer
	weakReferences        *weakReference
	tenuredWeakReferences *weakReference
	weakHandles           map[uint64]*weakReference
	nextWeakHandle        uint64

	exited chan struct{}
}

// NewMachine builds a machine with its bootstrap classes. Classes are read
// through finder; a nil finder sees only the bootstrap classes.
func NewMachine(finder ClassFinder, o Options) *Machine {
	if o.NurseryWords <= 0 {
		o.NurseryWords = defaultNurseryWords
	}
	if nursery := o.NurseryWords * heap.BytesPerWord; o.LargeObjectBytes <= 0 || o.LargeObjectBytes > nursery {
		o.LargeObjectBytes = nursery
	}

	m := &Machine{
		mem:          heap.NewMemory(),
		finder:       finder,
		natives:      o.Natives,
		nurseryWords: o.NurseryWords,
		largeBytes:   o.LargeObjectBytes,
		stateLock:    NewMonitor(),
		classLock:    NewMonitor(),
		classes:      []*Class{nil},
		weakHandles:  make(map[uint64]*weakReference),
		exited:       make(chan struct{}),
	}
	if o.NewHeap != nil {
		m.heap = o.NewHeap(m.mem)
	} else {
		m.heap = heap.NewGenerational(m.mem, o.Collector)
	}

	m.classMap = hashmap.New[string, *Class](stringHash, stringEqual)
	m.bootstrapClassMap = hashmap.New[string, *Class](stringHash, stringEqual)
	m.monitorMap = hashmap.NewWeak[heap.Ref, *Monitor](m.IdentityHash, refEqual, m.weakKey)
	m.internMap = hashmap.New[string, heap.Ref](stringHash, stringEqual)

	m.makeTypes()
	return m
}

func refEqual(a, b heap.Ref) bool { return a == b }

// Memory exposes the machine's heap memory.
func (m *Machine) Memory() *heap.Memory { return m.mem }

// Heap returns the collector.
func (m *Machine) Heap() heap.Heap { return m.heap }

// Type returns a bootstrap class.
func (m *Machine) Type(t Type) *Class { return m.types[t] }

// register assigns c its ID.
func (m *Machine) register(c *Class) {
	m.classesMu.Lock()
	c.ID = uint32(len(m.classes))
	m.classes = append(m.classes, c)
	m.classesMu.Unlock()
}

func (m *Machine) classByID(id uint32) *Class {
	m.classesMu.RLock()
	defer m.classesMu.RUnlock()
	if int(id) >= len(m.classes) {
		return nil
	}
	return m.classes[id]
}

// Abort reports an unrecoverable condition and panics with *FatalError.
func (m *Machine) Abort(t *Thread, err error) {
	id := uint64(0)
	if t != nil {
		id = t.ID
	}
	log.Criticalf("thread %d: %s", id, err)
	panic(&FatalError{Err: err})
}

func (m *Machine) abortf(t *Thread, format string, args ...any) {
	m.Abort(t, fmt.Errorf(format, args...))
}

// Native returns the implementation of a native method.
func (m *Machine) Native(method *Method) (NativeFunc, bool) {
	if method.NativeName == "" {
		m.Abort(nil, fmt.Errorf("%w: %s", errNoNativeSymbol, method))
	}
	if m.natives == nil {
		return nil, false
	}
	if fn, ok := m.natives.Lookup(method.NativeName); ok {
		return fn, true
	}
	if method.ShortNativeName != "" && method.ShortNativeName != method.NativeName {
		return m.natives.Lookup(method.ShortNativeName)
	}
	return nil, false
}

// Exited is closed once the machine has shut down.
func (m *Machine) Exited() <-chan struct{} { return m.exited }

// Wait blocks until the machine has shut down.
func (m *Machine) Wait() { <-m.exited }
