package native

import (
	"errors"
	"strings"
	"testing"

	"github.com/daimatz/gojvmcore/pkg/classfile"
	"github.com/daimatz/gojvmcore/pkg/classfile/classfiletest"
	"github.com/daimatz/gojvmcore/pkg/finder"
	"github.com/daimatz/gojvmcore/pkg/heap"
	"github.com/daimatz/gojvmcore/pkg/vm"
)

const (
	object       = "java/lang/Object"
	publicNative = classfile.AccPublic | classfile.AccNative
	staticNative = classfile.AccPublic | classfile.AccStatic | classfile.AccNative
)

func TestRegistry(t *testing.T) {
	t.Run("register and lookup", func(t *testing.T) {
		r := New()
		called := false
		if err := r.Register("Java_a_B_c", func(*vm.Thread, []uint64) uint64 {
			called = true
			return 0
		}); err != nil {
			t.Fatal(err)
		}
		fn, ok := r.Lookup("Java_a_B_c")
		if !ok {
			t.Fatal("Lookup: not found")
		}
		fn(nil, nil)
		if !called {
			t.Error("registered function not returned")
		}
	})

	t.Run("duplicate", func(t *testing.T) {
		r := New()
		noop := func(*vm.Thread, []uint64) uint64 { return 0 }
		if err := r.Register("Java_a_B_c", noop); err != nil {
			t.Fatal(err)
		}
		if err := r.Register("Java_a_B_c", noop); err == nil {
			t.Error("second Register: got nil, want an error")
		}
		if r.Len() != 1 {
			t.Errorf("Len: got %d, want 1", r.Len())
		}
	})

	t.Run("exact symbols only", func(t *testing.T) {
		r := New()
		r.mustRegister("Java_a", func(*vm.Thread, []uint64) uint64 { return 7 })
		r.mustRegister("Java_a_B_c", func(*vm.Thread, []uint64) uint64 { return 7 })
		// a/_b の m は Java_a__1b_m になる
		for _, symbol := range []string{"Java_a__1b_m", "Java_a_B_c__I", "Java_a_B_d"} {
			if _, ok := r.Lookup(symbol); ok {
				t.Errorf("Lookup(%s): found", symbol)
			}
		}
	})

	t.Run("many symbols", func(t *testing.T) {
		r := New()
		for _, s := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m", "n", "o", "p", "q", "r"} {
			r.mustRegister("Java_x_"+s, func(*vm.Thread, []uint64) uint64 { return 0 })
		}
		for _, s := range []string{"a", "j", "r"} {
			if _, ok := r.Lookup("Java_x_" + s); !ok {
				t.Errorf("Lookup(%s): not found", s)
			}
		}
	})
}

func newMachine(t *testing.T, out *strings.Builder) (*vm.Machine, *vm.Thread) {
	t.Helper()
	m := vm.NewMachine(finder.Map{
		"java/lang/Integer": classfiletest.New("java/lang/Integer", object).
			Method(staticNative, "parseInt", "(Ljava/lang/String;)I", nil).
			Method(staticNative, "parseInt", "(Ljava/lang/String;I)I", nil).
			Bytes(),
		"java/io/PrintStream": classfiletest.New("java/io/PrintStream", object).
			Method(publicNative, "println", "()V", nil).
			Method(publicNative, "println", "(I)V", nil).
			Method(publicNative, "println", "(J)V", nil).
			Method(publicNative, "println", "(Ljava/lang/String;)V", nil).
			Bytes(),
	}, vm.Options{NurseryWords: 4096, Natives: Default(out)})
	return m, m.Root()
}

func resolve(t *testing.T, m *vm.Machine, th *vm.Thread, name string) *vm.Class {
	t.Helper()
	c := m.ResolveClass(th, name)
	if c == nil {
		t.Fatalf("ResolveClass(%q): %v", name, th.Err())
	}
	return c
}

func TestIdentityHashCode(t *testing.T) {
	var out strings.Builder
	m, th := newMachine(t, &out)
	r := Default(&out)

	o := m.MakeObject(th, m.Type(vm.ObjectType))
	for _, symbol := range []string{"Java_java_lang_Object_hashCode", "Java_java_lang_System_identityHashCode"} {
		fn, ok := r.Lookup(symbol)
		if !ok {
			t.Fatalf("%s: not registered", symbol)
		}
		if got := uint32(fn(th, []uint64{uint64(o)})); got != m.IdentityHash(o) {
			t.Errorf("%s: got %d, want %d", symbol, got, m.IdentityHash(o))
		}
	}

	fn, _ := r.Lookup("Java_java_lang_System_identityHashCode")
	if got := fn(th, []uint64{0}); got != 0 {
		t.Errorf("null: got %d, want 0", got)
	}
}

func TestStringIntern(t *testing.T) {
	var out strings.Builder
	m, th := newMachine(t, &out)
	fn, ok := Default(&out).Lookup("Java_java_lang_String_intern")
	if !ok {
		t.Fatal("not registered")
	}

	s := m.MakeString(th, "abc")
	got := heap.Ref(fn(th, []uint64{uint64(s)}))
	if got != m.Intern(th, "abc") {
		t.Errorf("got %v, want the interned string", got)
	}
}

func TestParseInt(t *testing.T) {
	var out strings.Builder
	m, th := newMachine(t, &out)
	integer := resolve(t, m, th, "java/lang/Integer")
	parseInt := integer.FindMethod("parseInt", "(Ljava/lang/String;)I")
	if !strings.HasSuffix(parseInt.NativeName, "__Ljava_lang_String_2") {
		t.Fatalf("NativeName: got %q, want a decorated name", parseInt.NativeName)
	}

	tests := []struct {
		in   string
		want int32
		err  bool
	}{
		{"42", 42, false},
		{"-7", -7, false},
		{"2147483647", 2147483647, false},
		{"2147483648", 0, true},
		{"x1", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			th.PushObject(m.MakeString(th, tt.in))
			err := m.InvokeNative(th, parseInt)
			if tt.err {
				var je *vm.JavaException
				if !errors.As(err, &je) {
					t.Fatalf("got %v, want a JavaException", err)
				}
				if !strings.Contains(je.Message, tt.in) {
					t.Errorf("message: got %q", je.Message)
				}
				th.ClearException()
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := th.PopInt(); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}

	t.Run("null", func(t *testing.T) {
		th.PushObject(0)
		if err := m.InvokeNative(th, parseInt); err == nil {
			t.Error("got nil, want an exception")
		}
		th.ClearException()
	})
}

func TestPrintln(t *testing.T) {
	var out strings.Builder
	m, th := newMachine(t, &out)
	ps := resolve(t, m, th, "java/io/PrintStream")
	stream := m.MakeObject(th, ps)
	defer th.Protect(&stream)()

	th.PushObject(stream)
	th.PushObject(m.MakeString(th, "hello"))
	if err := m.InvokeNative(th, ps.FindMethod("println", "(Ljava/lang/String;)V")); err != nil {
		t.Fatal(err)
	}

	th.PushObject(stream)
	th.PushInt(-3)
	if err := m.InvokeNative(th, ps.FindMethod("println", "(I)V")); err != nil {
		t.Fatal(err)
	}

	th.PushObject(stream)
	th.PushLong(1 << 40)
	if err := m.InvokeNative(th, ps.FindMethod("println", "(J)V")); err != nil {
		t.Fatal(err)
	}

	th.PushObject(stream)
	th.PushObject(0)
	if err := m.InvokeNative(th, ps.FindMethod("println", "(Ljava/lang/String;)V")); err != nil {
		t.Fatal(err)
	}

	th.PushObject(stream)
	if err := m.InvokeNative(th, ps.FindMethod("println", "()V")); err != nil {
		t.Fatal(err)
	}

	want := "hello\n-3\n1099511627776\nnull\n\n"
	if got := out.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if th.SP() != 0 {
		t.Errorf("SP: got %d, want 0", th.SP())
	}
}
