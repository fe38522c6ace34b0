package vm

import (
	"github.com/daimatz/gojvmcore/pkg/classfile"
	"github.com/daimatz/gojvmcore/pkg/heap"
)

// Type indexes the classes the runtime builds before reading any class file.
type Type int

const (
	ObjectType Type = iota
	StringType
	ThrowableType
	ExceptionType
	ClassNotFoundExceptionType
	ReferenceType
	WeakReferenceType
	ThreadType
	BooleanArrayType
	ByteArrayType
	CharArrayType
	ShortArrayType
	IntArrayType
	LongArrayType
	FloatArrayType
	DoubleArrayType
	ObjectArrayType
	typeCount
)

const noType Type = -1

// Field offsets of the bootstrap classes, in bytes.
const (
	StringData     = 8
	StringOffset   = 16
	StringLength   = 20
	StringHashCode = 24

	ThrowableMessage = 8
	ThrowableTrace   = 16
	ThrowableCause   = 24

	ReferenceHandle = 8

	ThreadPeer = 8

	// Every array starts with a header word and a length word.
	ArrayLength = 8
	ArrayBody   = 16
)

type fieldDef struct {
	name, spec string
}

var typeDefs = [typeCount]struct {
	name   string
	super  Type
	flags  uint16
	fields []fieldDef
}{
	ObjectType: {"java/lang/Object", noType, classfile.AccPublic | classfile.AccSuper, nil},
	StringType: {"java/lang/String", ObjectType, classfile.AccPublic | classfile.AccFinal | classfile.AccSuper, []fieldDef{
		{"data", "Ljava/lang/Object;"},
		{"offset", "I"},
		{"length", "I"},
		{"hashCode", "I"},
	}},
	ThrowableType: {"java/lang/Throwable", ObjectType, classfile.AccPublic | classfile.AccSuper, []fieldDef{
		{"message", "Ljava/lang/String;"},
		{"trace", "Ljava/lang/Object;"},
		{"cause", "Ljava/lang/Throwable;"},
	}},
	ExceptionType:              {"java/lang/Exception", ThrowableType, classfile.AccPublic | classfile.AccSuper, nil},
	ClassNotFoundExceptionType: {"java/lang/ClassNotFoundException", ExceptionType, classfile.AccPublic | classfile.AccSuper, nil},
	ReferenceType: {"java/lang/ref/Reference", ObjectType, classfile.AccPublic | classfile.AccAbstract | classfile.AccSuper, []fieldDef{
		{"handle", "J"},
	}},
	WeakReferenceType: {"java/lang/ref/WeakReference", ReferenceType, classfile.AccPublic | classfile.AccSuper, nil},
	ThreadType: {"java/lang/Thread", ObjectType, classfile.AccPublic | classfile.AccSuper, []fieldDef{
		{"peer", "J"},
	}},
}

var arrayTypes = [...]struct {
	t    Type
	name string
}{
	{BooleanArrayType, "[Z"},
	{ByteArrayType, "[B"},
	{CharArrayType, "[C"},
	{ShortArrayType, "[S"},
	{IntArrayType, "[I"},
	{LongArrayType, "[J"},
	{FloatArrayType, "[F"},
	{DoubleArrayType, "[D"},
}

// makeTypes builds the bootstrap classes and registers them in the
// bootstrap class map.
func (m *Machine) makeTypes() {
	for t := ObjectType; t < BooleanArrayType; t++ {
		def := typeDefs[t]
		c := &Class{
			Name:    def.name,
			Flags:   def.flags,
			VMFlags: BootstrapFlag,
		}
		if def.super != noType {
			c.Super = m.types[def.super]
			c.VirtualTable = c.Super.VirtualTable
		}

		fields := make([]*Field, len(def.fields))
		for i, f := range def.fields {
			code, err := classfile.FieldCodeOf(f.spec[0])
			if err != nil {
				m.Abort(nil, err)
			}
			fields[i] = &Field{Name: f.name, Spec: f.spec, Code: code, Class: c}
		}
		layout(c, fields)

		m.types[t] = c
	}
	m.types[WeakReferenceType].VMFlags |= WeakReferenceFlag

	object := m.types[ObjectType]
	for _, a := range arrayTypes {
		m.types[a.t] = &Class{
			Name:             a.name,
			Flags:            classfile.AccPublic | classfile.AccFinal,
			VMFlags:          BootstrapFlag,
			ArrayDimensions:  1,
			FixedSize:        ArrayBody,
			ArrayElementSize: classfile.PrimitiveSize(a.name[1:]),
			Super:            object,
			VirtualTable:     object.VirtualTable,
		}
	}
	m.types[ObjectArrayType] = &Class{
		Name:             "[Ljava/lang/Object;",
		Flags:            classfile.AccPublic | classfile.AccFinal,
		VMFlags:          BootstrapFlag,
		ArrayDimensions:  1,
		FixedSize:        ArrayBody,
		ArrayElementSize: heap.BytesPerWord,
		ObjectMask:       []uint32{1 << (ArrayBody / heap.BytesPerWord)},
		Super:            object,
		VirtualTable:     object.VirtualTable,
		ElementClass:     object,
	}

	for _, c := range m.types {
		m.register(c)
		m.bootstrapClassMap.Insert(c.Name, c)
	}
}

func pad(n int) int {
	return (n + heap.BytesPerWord - 1) &^ (heap.BytesPerWord - 1)
}

// layout assigns field offsets and computes the fixed size, the static
// table and the reference mask of c. Instance fields continue from the
// super class's fixed size; only reference fields are word aligned.
func layout(c *Class, fields []*Field) {
	memberOffset := heap.BytesPerWord
	if c.Super != nil {
		memberOffset = c.Super.FixedSize
	}

	statics := 0
	for _, f := range fields {
		if f.IsStatic() {
			f.Offset = statics
			statics++
			continue
		}
		if excess := memberOffset % heap.BytesPerWord; excess != 0 && f.Code == classfile.ObjectField {
			memberOffset += heap.BytesPerWord - excess
		}
		f.Offset = memberOffset
		memberOffset += f.Code.Size()
	}

	c.Fields = fields
	if statics > 0 {
		c.StaticTable = make([]uint64, statics)
	}
	c.FixedSize = pad(memberOffset)

	if c.Super != nil && memberOffset == c.Super.FixedSize {
		c.ObjectMask = c.Super.ObjectMask
		return
	}

	words := c.FixedSize / heap.BytesPerWord
	mask := make([]uint32, (words+31)/32)
	sawReference := false
	for k := c; k != nil; k = k.Super {
		for _, f := range k.Fields {
			if f.Code == classfile.ObjectField && !f.IsStatic() {
				i := f.Offset / heap.BytesPerWord
				mask[i/32] |= 1 << (i % 32)
				sawReference = true
			}
		}
	}
	if sawReference {
		c.ObjectMask = mask
	}
}
