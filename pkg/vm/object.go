package vm

import (
	"encoding/binary"
	"math/bits"

	"github.com/daimatz/gojvmcore/pkg/classfile"
	"github.com/daimatz/gojvmcore/pkg/heap"
)

// Object header flags, in the low byte of the header word. The class ID
// occupies the bits above them.
const (
	// hashTaken is set once IdentityHash has derived a hash from the
	// object's address.
	hashTaken uint64 = 1 << iota
	// extended is set on a copy of a hashTaken object; the hash is stored
	// in a word appended to the object.
	extended

	headerFlagBits = 8
)

func header(c *Class) uint64 { return uint64(c.ID) << headerFlagBits }

// ObjectClass returns the class of o.
func (m *Machine) ObjectClass(o heap.Ref) *Class {
	id := uint32(m.mem.Load(o) >> headerFlagBits)
	c := m.classByID(id)
	if c == nil {
		m.Abort(nil, errUnknownClassID)
	}
	return c
}

// MakeObject allocates a zeroed instance of c.
func (m *Machine) MakeObject(t *Thread, c *Class) heap.Ref {
	o := t.Allocate(c.FixedSize)
	m.mem.Store(o, header(c))
	return o
}

// MakeArray allocates a zeroed array of class c.
func (m *Machine) MakeArray(t *Thread, c *Class, length int) heap.Ref {
	o := t.Allocate(c.FixedSize + c.ArrayElementSize*length)
	m.mem.Store(o, header(c))
	m.mem.Store(o.Add(c.FixedSize/heap.BytesPerWord-1), uint64(length))
	return o
}

// ArrayLength returns the element count of the array o.
func (m *Machine) ArrayLength(o heap.Ref) int {
	c := m.ObjectClass(o)
	return int(m.mem.Load(o.Add(c.FixedSize/heap.BytesPerWord - 1)))
}

// baseSize is the size of o in words, not counting a stored hash.
func (m *Machine) baseSize(o heap.Ref, c *Class) int {
	size := c.FixedSize
	if c.ArrayElementSize > 0 {
		size += c.ArrayElementSize * int(m.mem.Load(o.Add(c.FixedSize/heap.BytesPerWord-1)))
	}
	return pad(size) / heap.BytesPerWord
}

// IdentityHash returns a hash of o that does not change when the collector
// moves it.
func (m *Machine) IdentityHash(o heap.Ref) uint32 {
	h := m.mem.Word(o)
	if *h&extended != 0 {
		return uint32(m.mem.Load(o.Add(m.baseSize(o, m.ObjectClass(o)))))
	}
	*h |= hashTaken
	return addressHash(o)
}

func addressHash(o heap.Ref) uint32 {
	x := uint64(o) * 0x9e3779b97f4a7c15
	return uint32(bits.RotateLeft64(x, 32))
}

func (m *Machine) field(o heap.Ref, offset, size int) []byte {
	return m.mem.Bytes(o, offset+size)[offset:]
}

func (m *Machine) GetRef(o heap.Ref, offset int) heap.Ref {
	return heap.Ref(m.mem.Load(o.Add(offset / heap.BytesPerWord)))
}

func (m *Machine) SetRef(o heap.Ref, offset int, v heap.Ref) {
	m.mem.Store(o.Add(offset/heap.BytesPerWord), uint64(v))
}

func (m *Machine) GetInt(o heap.Ref, offset int) int32 {
	return int32(binary.NativeEndian.Uint32(m.field(o, offset, 4)))
}

func (m *Machine) SetInt(o heap.Ref, offset int, v int32) {
	binary.NativeEndian.PutUint32(m.field(o, offset, 4), uint32(v))
}

func (m *Machine) GetLong(o heap.Ref, offset int) int64 {
	return int64(binary.NativeEndian.Uint64(m.field(o, offset, 8)))
}

func (m *Machine) SetLong(o heap.Ref, offset int, v int64) {
	binary.NativeEndian.PutUint64(m.field(o, offset, 8), uint64(v))
}

// FieldValue reads an instance field as a raw slot value: sign-extended
// for byte, short and int, zero-extended for char and boolean, and the bit
// pattern for floating point.
func (m *Machine) FieldValue(o heap.Ref, f *Field) uint64 {
	b := m.field(o, f.Offset, f.Code.Size())
	switch f.Code.Size() {
	case 1:
		if f.Code == classfile.ByteField {
			return uint64(int64(int8(b[0])))
		}
		return uint64(b[0])
	case 2:
		v := binary.NativeEndian.Uint16(b)
		if f.Code == classfile.ShortField {
			return uint64(int64(int16(v)))
		}
		return uint64(v)
	case 4:
		v := binary.NativeEndian.Uint32(b)
		if f.Code == classfile.IntField {
			return uint64(int64(int32(v)))
		}
		return uint64(v)
	default:
		return binary.NativeEndian.Uint64(b)
	}
}

// SetFieldValue stores the low bytes of v into an instance field.
func (m *Machine) SetFieldValue(o heap.Ref, f *Field, v uint64) {
	b := m.field(o, f.Offset, f.Code.Size())
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.NativeEndian.PutUint16(b, uint16(v))
	case 4:
		binary.NativeEndian.PutUint32(b, uint32(v))
	default:
		binary.NativeEndian.PutUint64(b, v)
	}
}

// ArrayBytes returns the element storage of a primitive array.
func (m *Machine) ArrayBytes(o heap.Ref) []byte {
	c := m.ObjectClass(o)
	n := m.ArrayLength(o) * c.ArrayElementSize
	return m.mem.Bytes(o, c.FixedSize+n)[c.FixedSize:]
}

// ArrayElement returns element i of a reference array.
func (m *Machine) ArrayElement(o heap.Ref, i int) heap.Ref {
	return m.GetRef(o, ArrayBody+i*heap.BytesPerWord)
}

func (m *Machine) SetArrayElement(o heap.Ref, i int, v heap.Ref) {
	m.SetRef(o, ArrayBody+i*heap.BytesPerWord, v)
}

// MakeByteArray allocates a byte[] holding b.
func (m *Machine) MakeByteArray(t *Thread, b []byte) heap.Ref {
	o := m.MakeArray(t, m.types[ByteArrayType], len(b))
	copy(m.ArrayBytes(o), b)
	return o
}

// MakeString allocates a java/lang/String whose data is a byte array
// holding s.
func (m *Machine) MakeString(t *Thread, s string) heap.Ref {
	data := m.MakeByteArray(t, []byte(s))
	defer t.Protect(&data)()

	o := m.MakeObject(t, m.types[StringType])
	m.SetRef(o, StringData, data)
	m.SetInt(o, StringLength, int32(len(s)))
	return o
}

// StringValue returns the contents of a String made by MakeString.
func (m *Machine) StringValue(o heap.Ref) string {
	data := m.GetRef(o, StringData)
	if data == 0 {
		return ""
	}
	offset := int(m.GetInt(o, StringOffset))
	length := int(m.GetInt(o, StringLength))
	return string(m.ArrayBytes(data)[offset : offset+length])
}

// Intern returns the canonical String for s.
func (m *Machine) Intern(t *Thread, s string) heap.Ref {
	m.internLock.Lock()
	o, ok := m.internMap.Find(s)
	m.internLock.Unlock()
	if ok {
		return o
	}

	o = m.MakeString(t, s)

	m.internLock.Lock()
	defer m.internLock.Unlock()
	if existing, ok := m.internMap.Find(s); ok {
		return existing
	}
	m.internMap.Insert(s, o)
	return o
}
