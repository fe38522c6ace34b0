package vm

import (
	"testing"

	"github.com/daimatz/gojvmcore/pkg/classfile/classfiletest"
	"github.com/daimatz/gojvmcore/pkg/finder"
	"github.com/daimatz/gojvmcore/pkg/heap"
)

func TestObjectFields(t *testing.T) {
	m, th := newMachine(t, finder.Map{
		"P": classfiletest.New("P", object).
			Field(public, "z", "Z").
			Field(public, "b", "B").
			Field(public, "c", "C").
			Field(public, "s", "S").
			Field(public, "i", "I").
			Field(public, "f", "F").
			Field(public, "j", "J").
			Field(public, "d", "D").
			Field(public, "o", "Ljava/lang/Object;").
			Bytes(),
	})
	p := resolve(t, m, th, "P")
	o := m.MakeObject(th, p)

	if m.ObjectClass(o) != p {
		t.Fatalf("class: got %s, want P", m.ObjectClass(o).Name)
	}

	tests := []struct {
		field string
		set   uint64
		want  uint64
	}{
		{"z", 1, 1},
		// byte と short は符号拡張される
		{"b", 0xff, ^uint64(0)},
		{"c", 0xffff, 0xffff},
		{"s", 0x8000, ^uint64(0x7fff)},
		{"i", 0xffffffff, ^uint64(0)},
		{"f", 0x3f800000, 0x3f800000},
		{"j", 1 << 40, 1 << 40},
		{"d", 0x4000000000000000, 0x4000000000000000},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			f := fieldNamed(p, tt.field)
			m.SetFieldValue(o, f, tt.set)
			if got := m.FieldValue(o, f); got != tt.want {
				t.Errorf("got %#x, want %#x", got, tt.want)
			}
		})
	}

	t.Run("neighbours untouched", func(t *testing.T) {
		if got := m.FieldValue(o, fieldNamed(p, "z")); got != 1 {
			t.Errorf("z: got %d, want 1", got)
		}
		if got := m.GetLong(o, fieldNamed(p, "j").Offset); got != 1<<40 {
			t.Errorf("j: got %d, want %d", got, int64(1)<<40)
		}
	})

	t.Run("reference", func(t *testing.T) {
		f := fieldNamed(p, "o")
		m.SetRef(o, f.Offset, o)
		if got := m.GetRef(o, f.Offset); got != o {
			t.Errorf("got %v, want %v", got, o)
		}
	})
}

func TestArrays(t *testing.T) {
	m, th := newMachine(t, nil)

	t.Run("primitive", func(t *testing.T) {
		a := m.MakeArray(th, m.Type(IntArrayType), 3)
		if n := m.ArrayLength(a); n != 3 {
			t.Fatalf("length: got %d, want 3", n)
		}
		if n := len(m.ArrayBytes(a)); n != 12 {
			t.Errorf("bytes: got %d, want 12", n)
		}
		if got := m.SizeInWords(a); got != 4 {
			t.Errorf("size: got %d words, want 4", got)
		}
	})

	t.Run("bytes", func(t *testing.T) {
		a := m.MakeByteArray(th, []byte("abc"))
		if got := string(m.ArrayBytes(a)); got != "abc" {
			t.Errorf("got %q, want %q", got, "abc")
		}
	})

	t.Run("references", func(t *testing.T) {
		a := m.MakeObjectArray(th, m.Type(ObjectType), 2)
		s := m.MakeString(th, "x")
		m.SetArrayElement(a, 1, s)
		if got := m.ArrayElement(a, 1); got != s {
			t.Errorf("element 1: got %v, want %v", got, s)
		}
		if got := m.ArrayElement(a, 0); got != 0 {
			t.Errorf("element 0: got %v, want null", got)
		}
	})

	t.Run("empty", func(t *testing.T) {
		a := m.MakeArray(th, m.Type(LongArrayType), 0)
		if got := m.SizeInWords(a); got != 2 {
			t.Errorf("size: got %d words, want 2", got)
		}
	})
}

func TestStrings(t *testing.T) {
	m, th := newMachine(t, nil)

	s := m.MakeString(th, "héllo")
	if got := m.StringValue(s); got != "héllo" {
		t.Errorf("got %q, want %q", got, "héllo")
	}
	if got := m.GetInt(s, StringLength); got != int32(len("héllo")) {
		t.Errorf("length: got %d, want %d", got, len("héllo"))
	}

	a := m.Intern(th, "k")
	b := m.Intern(th, "k")
	if a != b {
		t.Errorf("Intern: got %v and %v, want the same string", a, b)
	}
	if a == m.MakeString(th, "k") {
		t.Error("MakeString should allocate a new string")
	}
}

func TestIdentityHash(t *testing.T) {
	m, th := newMachine(t, nil)

	o := m.MakeObject(th, m.Type(ObjectType))
	defer th.Protect(&o)()
	before := o
	h := m.IdentityHash(o)
	if got := m.IdentityHash(o); got != h {
		t.Fatalf("second call: got %d, want %d", got, h)
	}
	size := m.SizeInWords(o)

	m.Collect(th, heap.MinorCollection)
	if o == before {
		t.Fatal("object did not move")
	}
	if got := m.IdentityHash(o); got != h {
		t.Errorf("after move: got %d, want %d", got, h)
	}
	if got := m.SizeInWords(o); got != size+1 {
		t.Errorf("size after move: got %d, want %d", got, size+1)
	}

	m.Collect(th, heap.MajorCollection)
	if got := m.IdentityHash(o); got != h {
		t.Errorf("after major: got %d, want %d", got, h)
	}
	if got := m.SizeInWords(o); got != size+1 {
		t.Errorf("size after second move: got %d, want %d", got, size+1)
	}

	t.Run("untaken hash does not grow", func(t *testing.T) {
		p := m.MakeObject(th, m.Type(ObjectType))
		defer th.Protect(&p)()
		n := m.SizeInWords(p)
		m.Collect(th, heap.MinorCollection)
		if got := m.SizeInWords(p); got != n {
			t.Errorf("got %d, want %d", got, n)
		}
	})
}
