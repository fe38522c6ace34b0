package classfile

import (
	"fmt"

	"github.com/daimatz/gojvmcore/pkg/heap"
)

// Constant pool tags
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
)

// Constant is a constant pool entry. The pool is 1-indexed: index 0 and the
// slot following a Long or Double are nil.
type Constant interface {
	Tag() uint8
}

// ConstantUtf8 holds the raw bytes followed by a terminating zero.
type ConstantUtf8 struct {
	Bytes []byte
}

func (c *ConstantUtf8) Tag() uint8 { return TagUtf8 }

// String returns the bytes without the terminator.
func (c *ConstantUtf8) String() string { return string(c.Bytes[:len(c.Bytes)-1]) }

type ConstantInteger struct {
	Value int32
}

func (c *ConstantInteger) Tag() uint8 { return TagInteger }

type ConstantFloat struct {
	Value float32
}

func (c *ConstantFloat) Tag() uint8 { return TagFloat }

// ConstantLong holds eight raw bytes. Double entries are stored here too,
// bit for bit, and keep TagDouble as their tag.
type ConstantLong struct {
	Value int64
	tag   uint8
}

func (c *ConstantLong) Tag() uint8 { return c.tag }

// ConstantClass is a class entry after resolution: the referenced name.
type ConstantClass struct {
	Name string
}

func (c *ConstantClass) Tag() uint8 { return TagClass }

// ConstantString is a string entry after resolution: the interned string
// object built from the referenced Utf8.
type ConstantString struct {
	Value  string
	Object heap.Ref
}

func (c *ConstantString) Tag() uint8 { return TagString }

type ConstantNameAndType struct {
	Name string
	Spec string
}

func (c *ConstantNameAndType) Tag() uint8 { return TagNameAndType }

// ConstantReference is a field, method or interface method reference with
// its owning class and name-and-type merged in.
type ConstantReference struct {
	Kind  uint8
	Class string
	Name  string
	Spec  string
}

func (c *ConstantReference) Tag() uint8 { return c.Kind }

// Entries produced by the raw pass and replaced by ResolvePool.
type (
	rawClass struct{ nameIndex uint16 }

	rawString struct{ stringIndex uint16 }

	rawNameAndType struct{ nameIndex, descIndex uint16 }

	rawReference struct {
		tag                uint8
		classIndex, natIdx uint16
	}
)

func (c *rawClass) Tag() uint8       { return TagClass }
func (c *rawString) Tag() uint8      { return TagString }
func (c *rawNameAndType) Tag() uint8 { return TagNameAndType }
func (c *rawReference) Tag() uint8   { return c.tag }

// parseConstantPool reads count-1 entries. Long and Double consume two slots.
func parseConstantPool(s *Stream, count uint16) []Constant {
	pool := make([]Constant, count)

	for i := 1; i < int(count); i++ {
		tag := s.Read1()

		switch tag {
		case TagUtf8:
			length := int(s.Read2())
			b := make([]byte, length+1)
			copy(b, s.take(length))
			pool[i] = &ConstantUtf8{Bytes: b}

		case TagInteger:
			pool[i] = &ConstantInteger{Value: int32(s.Read4())}

		case TagFloat:
			pool[i] = &ConstantFloat{Value: s.ReadFloat()}

		case TagLong, TagDouble:
			pool[i] = &ConstantLong{Value: int64(s.Read8()), tag: tag}
			i++

		case TagClass:
			pool[i] = &rawClass{nameIndex: s.Read2()}

		case TagString:
			pool[i] = &rawString{stringIndex: s.Read2()}

		case TagNameAndType:
			name := s.Read2()
			pool[i] = &rawNameAndType{nameIndex: name, descIndex: s.Read2()}

		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			class := s.Read2()
			pool[i] = &rawReference{tag: tag, classIndex: class, natIdx: s.Read2()}

		default:
			malformed(s, "unknown constant pool tag %d at index %d", tag, i)
		}
	}

	return pool
}

// StringMaker builds the string object for a String entry.
type StringMaker func(value string) heap.Ref

// ResolvePool rewrites the raw entries in place. The first pass turns Class,
// String and NameAndType entries into their resolved forms; the second pass
// builds references from the first pass's results. Structural faults panic
// with *MalformedClassError, which Catch recovers.
func ResolvePool(pool []Constant, makeString StringMaker) {
	for i, c := range pool {
		switch c := c.(type) {
		case *rawClass:
			pool[i] = &ConstantClass{Name: utf8At(pool, c.nameIndex)}
		case *rawString:
			v := utf8At(pool, c.stringIndex)
			entry := &ConstantString{Value: v}
			pool[i] = entry
			entry.Object = makeString(v)
		case *rawNameAndType:
			pool[i] = &ConstantNameAndType{
				Name: utf8At(pool, c.nameIndex),
				Spec: utf8At(pool, c.descIndex),
			}
		}
	}

	for i, c := range pool {
		if c, ok := c.(*rawReference); ok {
			class, ok := entryAt(pool, c.classIndex).(*ConstantClass)
			if !ok {
				malformed(nil, "reference at index %d names non-class entry %d", i, c.classIndex)
			}
			nat, ok := entryAt(pool, c.natIdx).(*ConstantNameAndType)
			if !ok {
				malformed(nil, "reference at index %d names non-NameAndType entry %d", i, c.natIdx)
			}
			pool[i] = &ConstantReference{Kind: c.tag, Class: class.Name, Name: nat.Name, Spec: nat.Spec}
		}
	}
}

func entryAt(pool []Constant, index uint16) Constant {
	if int(index) >= len(pool) || pool[index] == nil {
		malformed(nil, "invalid constant pool index %d", index)
	}
	return pool[index]
}

func utf8At(pool []Constant, index uint16) string {
	u, ok := entryAt(pool, index).(*ConstantUtf8)
	if !ok {
		malformed(nil, "constant pool index %d is not Utf8 (tag=%d)", index, pool[index].Tag())
	}
	return u.String()
}

// GetUtf8 returns the Utf8 string at the given constant pool index.
func GetUtf8(pool []Constant, index uint16) (string, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return "", fmt.Errorf("invalid constant pool index %d", index)
	}
	u, ok := pool[index].(*ConstantUtf8)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Utf8 (tag=%d)", index, pool[index].Tag())
	}
	return u.String(), nil
}

// GetClassName returns the class name of a resolved Class entry.
func GetClassName(pool []Constant, index uint16) (string, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return "", fmt.Errorf("invalid constant pool index %d", index)
	}
	switch c := pool[index].(type) {
	case *ConstantClass:
		return c.Name, nil
	case *rawClass:
		return GetUtf8(pool, c.nameIndex)
	default:
		return "", fmt.Errorf("constant pool index %d is not Class", index)
	}
}

// GetReference returns the resolved field or method reference at index.
func GetReference(pool []Constant, index uint16) (*ConstantReference, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return nil, fmt.Errorf("invalid constant pool index %d", index)
	}
	ref, ok := pool[index].(*ConstantReference)
	if !ok {
		return nil, fmt.Errorf("constant pool index %d is not a resolved reference (tag=%d)", index, pool[index].Tag())
	}
	return ref, nil
}
