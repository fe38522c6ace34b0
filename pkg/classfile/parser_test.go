package classfile_test

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/daimatz/gojvmcore/pkg/classfile"
	"github.com/daimatz/gojvmcore/pkg/classfile/classfiletest"
	"github.com/daimatz/gojvmcore/pkg/heap"
)

func helloClass() []byte {
	b := classfiletest.New("Hello", "java/lang/Object")
	b.Method(classfile.AccPublic|classfile.AccStatic, "main", "([Ljava/lang/String;)V", &classfiletest.Code{
		MaxStack:  2,
		MaxLocals: 1,
		Body:      []byte{0xb2, 0x00, 0x02, 0x12, 0x03, 0xb6, 0x00, 0x04, 0xb1},
		Lines:     []classfile.LineNumber{{StartPC: 0, Line: 3}, {StartPC: 8, Line: 4}},
	})
	b.Method(classfile.AccPublic|classfile.AccStatic, "add", "(II)I", &classfiletest.Code{
		MaxStack:  2,
		MaxLocals: 2,
		Body:      []byte{0x1a, 0x1b, 0x60, 0xac},
		Handlers:  []classfile.ExceptionHandler{{StartPC: 0, EndPC: 3, HandlerPC: 3, CatchType: 0}},
	})
	return b.Bytes()
}

func TestParseClassFile(t *testing.T) {
	cf, err := classfile.Parse(helloClass())
	if err != nil {
		t.Fatalf("failed to parse Hello: %v", err)
	}

	// バージョンは読み捨てるが値は保持する
	if cf.MajorVersion != 52 {
		t.Errorf("major version: got %d, want 52", cf.MajorVersion)
	}

	className, err := cf.ClassName()
	if err != nil {
		t.Fatalf("resolving this_class: %v", err)
	}
	if className != "Hello" {
		t.Errorf("this_class: got %q, want %q", className, "Hello")
	}
	if got := cf.SuperClassName(); got != "java/lang/Object" {
		t.Errorf("super_class: got %q, want %q", got, "java/lang/Object")
	}

	mainMethod := cf.FindMethod("main", "([Ljava/lang/String;)V")
	if mainMethod == nil {
		t.Fatal("main method not found")
	}
	if mainMethod.Code == nil {
		t.Fatal("main method has no Code attribute")
	}
	if len(mainMethod.Code.Code) != 9 {
		t.Errorf("code length: got %d, want 9", len(mainMethod.Code.Code))
	}
	if mainMethod.Code.MaxStack != 2 || mainMethod.Code.MaxLocals != 1 {
		t.Errorf("max stack/locals: got %d/%d, want 2/1", mainMethod.Code.MaxStack, mainMethod.Code.MaxLocals)
	}
	wantLines := []classfile.LineNumber{{StartPC: 0, Line: 3}, {StartPC: 8, Line: 4}}
	if !slices.Equal(mainMethod.Code.LineNumbers, wantLines) {
		t.Errorf("line numbers: got %v, want %v", mainMethod.Code.LineNumbers, wantLines)
	}

	add := cf.FindMethod("add", "(II)I")
	if add == nil || add.Code == nil {
		t.Fatal("add(II)I method or its code not found")
	}
	if len(add.Code.ExceptionHandlers) != 1 || add.Code.ExceptionHandlers[0].HandlerPC != 3 {
		t.Errorf("exception handlers: got %+v", add.Code.ExceptionHandlers)
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Hello.class")
	if err := os.WriteFile(path, helloClass(), 0o644); err != nil {
		t.Fatal(err)
	}
	cf, err := classfile.ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if cf.FindMethod("add", "(II)I") == nil {
		t.Error("add(II)I method not found")
	}
}

func TestPoolRoundTrip(t *testing.T) {
	b := classfiletest.New("p/Pool", "")
	iInt := b.Integer(42)
	iFloat := b.Float(1.5)
	iLong := b.Long(-7)
	iDouble := b.Double(math.Pi)
	iAfterDouble := b.Utf8("Hi")
	iString := b.String("Hi")
	iNat := b.NameAndType("count", "I")
	iField := b.Fieldref("p/Pool", "count", "I")
	iMethod := b.Methodref("p/Pool", "run", "()V")
	iIface := b.InterfaceMethodref("p/Runnable", "run", "()V")

	cf, err := classfile.Parse(b.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	pool := cf.ConstantPool

	t.Run("wide entries take two slots", func(t *testing.T) {
		if pool[iLong+1] != nil || pool[iDouble+1] != nil {
			t.Error("slot after Long/Double is not empty")
		}
		if iAfterDouble != iDouble+2 {
			t.Errorf("entry after Double at %d, want %d", iAfterDouble, iDouble+2)
		}
	})

	var made []string
	err = func() (err error) {
		defer classfile.Catch(&err)
		classfile.ResolvePool(pool, func(v string) heap.Ref {
			made = append(made, v)
			return heap.MakeRef(1, uint32(len(made)))
		})
		return nil
	}()
	if err != nil {
		t.Fatalf("ResolvePool: %v", err)
	}

	if c := pool[iInt].(*classfile.ConstantInteger); c.Value != 42 {
		t.Errorf("Integer: got %d, want 42", c.Value)
	}
	if c := pool[iFloat].(*classfile.ConstantFloat); c.Value != 1.5 {
		t.Errorf("Float: got %v, want 1.5", c.Value)
	}
	if c := pool[iLong].(*classfile.ConstantLong); c.Value != -7 || c.Tag() != classfile.TagLong {
		t.Errorf("Long: got %d tag %d", c.Value, c.Tag())
	}

	t.Run("double keeps its raw bits in a long entry", func(t *testing.T) {
		c, ok := pool[iDouble].(*classfile.ConstantLong)
		if !ok {
			t.Fatalf("Double entry is %T", pool[iDouble])
		}
		if uint64(c.Value) != math.Float64bits(math.Pi) {
			t.Errorf("bits: got %#x, want %#x", uint64(c.Value), math.Float64bits(math.Pi))
		}
		if c.Tag() != classfile.TagDouble {
			t.Errorf("tag: got %d, want %d", c.Tag(), classfile.TagDouble)
		}
	})

	if c := pool[iAfterDouble].(*classfile.ConstantUtf8); !slices.Equal(c.Bytes, []byte{'H', 'i', 0}) {
		t.Errorf("Utf8: got %v, want [H i 0]", c.Bytes)
	}

	str := pool[iString].(*classfile.ConstantString)
	if str.Value != "Hi" || str.Object != heap.MakeRef(1, 1) {
		t.Errorf("String: got %q %v", str.Value, str.Object)
	}
	if !slices.Equal(made, []string{"Hi"}) {
		t.Errorf("strings made: got %q", made)
	}

	if c := pool[iNat].(*classfile.ConstantNameAndType); c.Name != "count" || c.Spec != "I" {
		t.Errorf("NameAndType: got %+v", c)
	}

	refs := []struct {
		index uint16
		want  classfile.ConstantReference
	}{
		{iField, classfile.ConstantReference{Kind: classfile.TagFieldref, Class: "p/Pool", Name: "count", Spec: "I"}},
		{iMethod, classfile.ConstantReference{Kind: classfile.TagMethodref, Class: "p/Pool", Name: "run", Spec: "()V"}},
		{iIface, classfile.ConstantReference{Kind: classfile.TagInterfaceMethodref, Class: "p/Runnable", Name: "run", Spec: "()V"}},
	}
	for _, r := range refs {
		got, err := classfile.GetReference(pool, r.index)
		if err != nil {
			t.Errorf("GetReference(%d): %v", r.index, err)
			continue
		}
		if *got != r.want {
			t.Errorf("reference %d: got %+v, want %+v", r.index, *got, r.want)
		}
	}
}

func TestParseInvalidMagic(t *testing.T) {
	_, err := classfile.Parse([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 52})
	var mce *classfile.MalformedClassError
	if !errors.As(err, &mce) {
		t.Fatalf("expected MalformedClassError, got %v", err)
	}
	if mce.Offset != 4 {
		t.Errorf("offset: got %d, want 4", mce.Offset)
	}
}

func TestParseTruncated(t *testing.T) {
	data := helloClass()
	for _, n := range []int{3, 10, len(data) / 2, len(data) - 3} {
		_, err := classfile.Parse(data[:n])
		var eos *classfile.EOSError
		if !errors.As(err, &eos) {
			t.Errorf("truncated at %d: expected EOSError in chain, got %v", n, err)
		}
	}
}

func TestUnknownPoolTag(t *testing.T) {
	b := classfiletest.New("Bad", "")
	b.Raw(2, 0, 0)
	_, err := classfile.Parse(b.Bytes())
	var mce *classfile.MalformedClassError
	if !errors.As(err, &mce) {
		t.Fatalf("expected MalformedClassError, got %v", err)
	}
}

func TestResolvePoolBadReference(t *testing.T) {
	b := classfiletest.New("Bad", "")
	name := b.Utf8("x")
	b.Raw(classfile.TagMethodref, byte(name>>8), byte(name), 0, 1)
	cf, err := classfile.Parse(b.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	err = func() (err error) {
		defer classfile.Catch(&err)
		classfile.ResolvePool(cf.ConstantPool, func(string) heap.Ref { return 0 })
		return nil
	}()
	var mce *classfile.MalformedClassError
	if !errors.As(err, &mce) {
		t.Fatalf("expected MalformedClassError, got %v", err)
	}
}
