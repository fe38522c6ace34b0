package vm

import (
	"github.com/daimatz/gojvmcore/pkg/classfile"
	"github.com/daimatz/gojvmcore/pkg/heap"
)

// VM-internal class flags.
const (
	// BootstrapFlag marks classes built by the runtime before any class
	// file is read.
	BootstrapFlag uint16 = 1 << iota
	// WeakReferenceFlag marks java/lang/ref/WeakReference and its
	// subclasses.
	WeakReferenceFlag
	// NeedInitFlag is set on classes with a static initializer that has
	// not run yet.
	NeedInitFlag
)

// Line numbers reported by Method.LineNumber when the table has no answer.
const (
	NativeLine  = -2
	UnknownLine = -1
)

// Class is a linked class. Instances start with a one-word header holding
// the class ID, so FixedSize is at least BytesPerWord.
type Class struct {
	ID               uint32
	Flags            uint16
	VMFlags          uint16
	ArrayDimensions  int
	FixedSize        int
	ArrayElementSize int
	// ObjectMask has one bit per instance word that holds a reference. It
	// is nil when no word does, and is shared with the super class when
	// the class adds no instance fields.
	ObjectMask   []uint32
	Name         string
	Super        *Class
	Interfaces   []InterfaceEntry
	VirtualTable []*Method
	Fields       []*Field
	Methods      []*Method
	StaticTable  []uint64
	Initializer  *Method
	Pool         []classfile.Constant
	ElementClass *Class
}

// InterfaceEntry pairs an implemented interface with the class's methods
// for it, indexed like the interface's own virtual table. VirtualTable is
// nil on interface classes.
type InterfaceEntry struct {
	Interface    *Class
	VirtualTable []*Method
}

func (c *Class) IsInterface() bool { return c.Flags&classfile.AccInterface != 0 }

func (c *Class) IsArray() bool { return c.ArrayElementSize != 0 }

// FixedSizeInWords is the instance size without array elements.
func (c *Class) FixedSizeInWords() int { return (c.FixedSize + heap.BytesPerWord - 1) / heap.BytesPerWord }

// maskBit reports whether word i of an instance holds a reference.
func (c *Class) maskBit(i int) bool {
	if i/32 >= len(c.ObjectMask) {
		return false
	}
	return c.ObjectMask[i/32]&(1<<(i%32)) != 0
}

// FindField returns the field declared by c or an ancestor.
func (c *Class) FindField(name, spec string) *Field {
	for k := c; k != nil; k = k.Super {
		for _, f := range k.Fields {
			if f.Name == name && f.Spec == spec {
				return f
			}
		}
	}
	return nil
}

// FindMethod returns the method declared by c or an ancestor.
func (c *Class) FindMethod(name, spec string) *Method {
	for k := c; k != nil; k = k.Super {
		for _, m := range k.Methods {
			if m.Name == name && m.Spec == spec {
				return m
			}
		}
	}
	return nil
}

// IsAssignableFrom reports whether an instance of o can be used where c is
// expected.
func (c *Class) IsAssignableFrom(o *Class) bool {
	if c.IsInterface() {
		for _, e := range o.Interfaces {
			if e.Interface == c {
				return true
			}
		}
		return o == c
	}
	for k := o; k != nil; k = k.Super {
		if k == c {
			return true
		}
	}
	return false
}

// Field is an instance or static field. Offset is a byte offset into the
// instance, or an index into the owner's StaticTable for static fields.
type Field struct {
	Flags  uint16
	Offset int
	Code   classfile.FieldCode
	Name   string
	Spec   string
	Class  *Class
}

func (f *Field) IsStatic() bool { return f.Flags&classfile.AccStatic != 0 }

// Method is a declared method. Offset is the virtual table slot for
// instance methods. Native methods have no Code and carry the symbol they
// link against in NativeName, decorated with the descriptor when the name
// is overloaded. ShortNativeName is always the undecorated symbol.
type Method struct {
	Flags              uint16
	Offset             int
	ParameterCount     int
	ParameterFootprint int
	Name               string
	Spec               string
	Class              *Class
	Code               *Code
	NativeName         string
	ShortNativeName    string
}

func (m *Method) IsStatic() bool { return m.Flags&classfile.AccStatic != 0 }

func (m *Method) IsNative() bool { return m.Flags&classfile.AccNative != 0 }

func (m *Method) IsAbstract() bool { return m.Flags&classfile.AccAbstract != 0 }

func (m *Method) String() string {
	if m.Class == nil {
		return m.Name + m.Spec
	}
	return m.Class.Name + "." + m.Name + m.Spec
}

// Code is a method body.
type Code struct {
	MaxStack    int
	MaxLocals   int
	Body        []byte
	Handlers    []classfile.ExceptionHandler
	LineNumbers []classfile.LineNumber
}

// LineNumber returns the source line for ip, which points just past the
// instruction being executed.
func (m *Method) LineNumber(ip int) int {
	if m.IsNative() {
		return NativeLine
	}
	if m.Code == nil || len(m.Code.LineNumbers) == 0 {
		return UnknownLine
	}
	last := UnknownLine
	for _, ln := range m.Code.LineNumbers {
		if ip <= int(ln.StartPC) {
			return last
		}
		last = int(ln.Line)
	}
	return last
}

// FindVirtualMethod returns the implementation of method selected by the
// class of the receiver.
func FindVirtualMethod(class *Class, method *Method) *Method {
	return class.VirtualTable[method.Offset]
}

// FindInterfaceMethod returns the implementation of the interface method
// in class, or nil when class does not implement the interface.
func FindInterfaceMethod(class *Class, method *Method) *Method {
	for _, e := range class.Interfaces {
		if e.Interface == method.Class {
			return e.VirtualTable[method.Offset]
		}
	}
	return nil
}

// stringHash is the hash of a byte string: h = 31*h + c.
func stringHash(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = 31*h + uint32(s[i])
	}
	return h
}

func stringEqual(a, b string) bool { return a == b }

// methodHash and methodEqual compare methods by name and descriptor.
func methodHash(m *Method) uint32 {
	return stringHash(m.Name)*31 ^ stringHash(m.Spec)
}

func methodEqual(a, b *Method) bool {
	return a.Name == b.Name && a.Spec == b.Spec
}
