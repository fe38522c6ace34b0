package vm

import (
	"slices"
	"testing"

	"github.com/daimatz/gojvmcore/pkg/classfile"
	"github.com/daimatz/gojvmcore/pkg/classfile/classfiletest"
	"github.com/daimatz/gojvmcore/pkg/finder"
	"github.com/daimatz/gojvmcore/pkg/heap"
)

func walkOffsets(m *Machine, o heap.Ref) []int {
	var offsets []int
	m.Walk(o, heap.WalkerFunc(func(offset int) bool {
		offsets = append(offsets, offset)
		return true
	}))
	return offsets
}

func constantString(t *testing.T, c *Class, index uint16) heap.Ref {
	t.Helper()
	s, ok := c.Pool[index].(*classfile.ConstantString)
	if !ok {
		t.Fatalf("pool[%d]: got %T, want a string", index, c.Pool[index])
	}
	return s.Object
}

func peekObject(th *Thread) heap.Ref {
	v, _ := th.Peek(0)
	return heap.Ref(v)
}

func TestWalk(t *testing.T) {
	m, th := newMachine(t, finder.Map{
		"N": classfiletest.New("N", object).
			Field(public, "value", "I").
			Field(public, "left", "LN;").
			Field(public, "right", "LN;").
			Bytes(),
	})
	n := resolve(t, m, th, "N")

	tests := []struct {
		name string
		obj  heap.Ref
		want []int
	}{
		{"fixed fields", m.MakeObject(th, n), []int{2, 3}},
		{"object array", m.MakeObjectArray(th, n, 3), []int{2, 3, 4}},
		{"primitive array", m.MakeArray(th, m.Type(IntArrayType), 5), nil},
		{"no references", m.MakeObject(th, m.Type(ObjectType)), nil},
		{"string", m.MakeString(th, "s"), []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := walkOffsets(m, tt.obj); !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("stop early", func(t *testing.T) {
		a := m.MakeObjectArray(th, n, 3)
		calls := 0
		m.Walk(a, heap.WalkerFunc(func(int) bool {
			calls++
			return false
		}))
		if calls != 1 {
			t.Errorf("calls: got %d, want 1", calls)
		}
	})
}

func TestRootsSurviveCollection(t *testing.T) {
	m, th := newMachine(t, finder.Map{
		"N": classfiletest.New("N", object).
			Field(public, "value", "I").
			Field(public, "next", "LN;").
			Bytes(),
	})
	n := resolve(t, m, th, "N")
	value := fieldNamed(n, "value").Offset
	next := fieldNamed(n, "next").Offset

	// 3 要素のリストをスタックに載せる
	head := heap.Ref(0)
	defer th.Protect(&head)()
	for i := int32(3); i > 0; i-- {
		o := m.MakeObject(th, n)
		m.SetInt(o, value, i)
		m.SetRef(o, next, head)
		head = o
	}
	th.PushObject(head)
	th.PushInt(99)

	protected := m.MakeString(th, "kept")
	defer th.Protect(&protected)()

	for _, kind := range []heap.CollectionType{heap.MinorCollection, heap.MinorCollection, heap.MajorCollection} {
		m.Collect(th, kind)
	}

	if got := th.PopInt(); got != 99 {
		t.Errorf("int slot: got %d, want 99", got)
	}
	o := th.PopObject()
	if o != head {
		t.Errorf("stack slot %v and protected %v disagree", o, head)
	}
	for i := int32(1); i <= 3; i++ {
		if got := m.GetInt(o, value); got != i {
			t.Errorf("node %d: got %d", i, got)
		}
		o = m.GetRef(o, next)
	}
	if o != 0 {
		t.Errorf("list tail: got %v, want null", o)
	}
	if got := m.StringValue(protected); got != "kept" {
		t.Errorf("protected string: got %q", got)
	}
	if k, _ := m.Memory().Kind(protected); k != heap.TenuredSegment {
		t.Errorf("segment: got %v, want tenured", k)
	}
}

func TestProtectOrder(t *testing.T) {
	m, th := newMachine(t, nil)
	a := m.MakeObject(th, m.Type(ObjectType))
	b := m.MakeObject(th, m.Type(ObjectType))

	releaseA := th.Protect(&a)
	th.Protect(&b)
	expectFatal(t, releaseA)
}

func TestStaticsAndPoolAreRoots(t *testing.T) {
	b := classfiletest.New("S", object).Field(classfile.AccStatic, "cache", "Ljava/lang/Object;")
	lit := b.String("literal")
	m, th := newMachine(t, finder.Map{"S": b.Bytes()})
	s := resolve(t, m, th, "S")

	str := m.MakeString(th, "static")
	s.StaticTable[fieldNamed(s, "cache").Offset] = uint64(str)

	m.Collect(th, heap.MinorCollection)

	moved := heap.Ref(s.StaticTable[fieldNamed(s, "cache").Offset])
	if moved == str {
		t.Error("static slot was not updated")
	}
	if got := m.StringValue(moved); got != "static" {
		t.Errorf("static: got %q, want %q", got, "static")
	}
	if got := m.StringValue(constantString(t, s, lit)); got != "literal" {
		t.Errorf("pool: got %q, want %q", got, "literal")
	}
}

func TestFinalizers(t *testing.T) {
	t.Run("unreachable runs once", func(t *testing.T) {
		m, th := newMachine(t, nil)
		calls := 0
		o := m.MakeObject(th, m.Type(StringType))
		m.AddFinalizer(th, o, func(_ *Thread, o heap.Ref) {
			calls++
			// 対象はまだ読める
			m.ObjectClass(o)
		})

		m.Collect(th, heap.MinorCollection)
		if calls != 1 {
			t.Fatalf("calls after first collection: got %d, want 1", calls)
		}
		m.Collect(th, heap.MinorCollection)
		m.Collect(th, heap.MajorCollection)
		if calls != 1 {
			t.Errorf("calls: got %d, want 1", calls)
		}
	})

	t.Run("reachable does not run", func(t *testing.T) {
		m, th := newMachine(t, nil)
		calls := 0
		o := m.MakeObject(th, m.Type(ObjectType))
		defer th.Protect(&o)()
		m.AddFinalizer(th, o, func(*Thread, heap.Ref) { calls++ })

		m.Collect(th, heap.MinorCollection)
		m.Collect(th, heap.MajorCollection)
		if calls != 0 {
			t.Errorf("calls: got %d, want 0", calls)
		}
	})

	t.Run("tenured waits for major", func(t *testing.T) {
		m, th := newMachine(t, nil)
		calls := 0
		o := m.MakeObject(th, m.Type(ObjectType))
		release := th.Protect(&o)
		m.AddFinalizer(th, o, func(*Thread, heap.Ref) { calls++ })

		// nursery -> young -> tenured
		m.Collect(th, heap.MinorCollection)
		m.Collect(th, heap.MinorCollection)
		if m.tenuredFinalizers == nil || m.finalizers != nil {
			t.Fatal("finalizer was not promoted")
		}
		release()

		m.Collect(th, heap.MinorCollection)
		if calls != 0 {
			t.Fatalf("minor collection ran a tenured finalizer")
		}
		m.Collect(th, heap.MajorCollection)
		if calls != 1 {
			t.Errorf("calls: got %d, want 1", calls)
		}
		if m.tenuredFinalizers != nil {
			t.Error("tenured list not emptied")
		}
	})
}

func TestWeakReferences(t *testing.T) {
	m, th := newMachine(t, nil)

	// 対象はスタックだけから参照する
	target := m.MakeString(th, "target")
	th.PushObject(target)
	ref := m.MakeWeakReference(th, target)
	releaseRef := th.Protect(&ref)

	if !m.Type(WeakReferenceType).IsAssignableFrom(m.ObjectClass(ref)) {
		t.Fatal("not a weak reference")
	}

	m.Collect(th, heap.MinorCollection)
	if got, want := m.WeakReferenceTarget(ref), peekObject(th); got != want {
		t.Fatalf("reachable target: got %v, want %v", got, want)
	}

	th.PopObject()
	m.Collect(th, heap.MinorCollection)
	if got := m.WeakReferenceTarget(ref); got != 0 {
		t.Fatalf("unreachable target: got %v, want null", got)
	}
	if len(m.weakHandles) != 1 {
		t.Errorf("handles: got %d, want 1", len(m.weakHandles))
	}

	releaseRef()
	m.Collect(th, heap.MajorCollection)
	if len(m.weakHandles) != 0 {
		t.Errorf("handles after holder died: got %d, want 0", len(m.weakHandles))
	}

	t.Run("registered twice", func(t *testing.T) {
		o := m.MakeWeakReference(th, 0)
		expectFatal(t, func() { m.RegisterWeakReference(th, o, 0) })
	})

	t.Run("not a reference class", func(t *testing.T) {
		m, th := newMachine(t, nil)
		o := m.MakeObject(th, m.Type(ObjectType))
		expectFatal(t, func() { m.RegisterWeakReference(th, o, o) })
	})
}

func TestObjectMonitor(t *testing.T) {
	m, th := newMachine(t, nil)

	o := m.MakeObject(th, m.Type(ObjectType))
	release := th.Protect(&o)

	mon := m.ObjectMonitor(th, o)
	if again := m.ObjectMonitor(th, o); again != mon {
		t.Fatal("second lookup made a new monitor")
	}

	m.Collect(th, heap.MinorCollection)
	if again := m.ObjectMonitor(th, o); again != mon {
		t.Fatal("monitor lost after the object moved")
	}
	if m.monitorMap.Size() != 1 {
		t.Fatalf("monitors: got %d, want 1", m.monitorMap.Size())
	}

	other := m.ObjectMonitor(th, m.MakeObject(th, m.Type(ObjectType)))
	if other == mon {
		t.Error("distinct objects share a monitor")
	}

	release()
	m.Collect(th, heap.MinorCollection)
	m.Collect(th, heap.MajorCollection)
	if m.monitorMap.Size() != 0 {
		t.Errorf("monitors after collection: got %d, want 0", m.monitorMap.Size())
	}
	if m.weakReferences != nil || m.tenuredWeakReferences != nil {
		t.Error("weak keys were not dropped")
	}
}
