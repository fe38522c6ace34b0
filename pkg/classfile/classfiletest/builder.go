// Package classfiletest assembles class files in memory for tests.
package classfiletest

import (
	"encoding/binary"
	"math"

	"github.com/daimatz/gojvmcore/pkg/classfile"
)

// Code is the body of a method written by Builder.
type Code struct {
	MaxStack  uint16
	MaxLocals uint16
	Body      []byte
	Handlers  []classfile.ExceptionHandler
	Lines     []classfile.LineNumber
}

type member struct {
	flags      uint16
	name, desc uint16
	code       *Code
}

// Builder writes a class file. Pool entries are appended in call order;
// Utf8 and Class entries are shared.
type Builder struct {
	Flags uint16

	pool       []byte
	count      uint16
	utf8s      map[string]uint16
	classes    map[string]uint16
	this       uint16
	super      uint16
	interfaces []uint16
	fields     []member
	methods    []member
}

// New starts a public class. An empty super writes index 0.
func New(name, super string) *Builder {
	b := &Builder{
		Flags:   classfile.AccPublic | classfile.AccSuper,
		count:   1,
		utf8s:   make(map[string]uint16),
		classes: make(map[string]uint16),
	}
	b.this = b.Class(name)
	if super != "" {
		b.super = b.Class(super)
	}
	return b
}

func (b *Builder) add(tag byte, payload ...byte) uint16 {
	i := b.count
	b.pool = append(b.pool, tag)
	b.pool = append(b.pool, payload...)
	b.count++
	if tag == classfile.TagLong || tag == classfile.TagDouble {
		b.count++
	}
	return i
}

func u2(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }

func (b *Builder) Utf8(s string) uint16 {
	if i, ok := b.utf8s[s]; ok {
		return i
	}
	i := b.add(classfile.TagUtf8, append(u2(uint16(len(s))), s...)...)
	b.utf8s[s] = i
	return i
}

func (b *Builder) Class(name string) uint16 {
	if i, ok := b.classes[name]; ok {
		return i
	}
	i := b.add(classfile.TagClass, u2(b.Utf8(name))...)
	b.classes[name] = i
	return i
}

func (b *Builder) String(s string) uint16 {
	return b.add(classfile.TagString, u2(b.Utf8(s))...)
}

func (b *Builder) Integer(v int32) uint16 {
	return b.add(classfile.TagInteger, binary.BigEndian.AppendUint32(nil, uint32(v))...)
}

func (b *Builder) Float(v float32) uint16 {
	return b.add(classfile.TagFloat, binary.BigEndian.AppendUint32(nil, math.Float32bits(v))...)
}

func (b *Builder) Long(v int64) uint16 {
	return b.add(classfile.TagLong, binary.BigEndian.AppendUint64(nil, uint64(v))...)
}

func (b *Builder) Double(v float64) uint16 {
	return b.add(classfile.TagDouble, binary.BigEndian.AppendUint64(nil, math.Float64bits(v))...)
}

func (b *Builder) NameAndType(name, desc string) uint16 {
	return b.add(classfile.TagNameAndType, append(u2(b.Utf8(name)), u2(b.Utf8(desc))...)...)
}

func (b *Builder) ref(tag byte, class, name, desc string) uint16 {
	c := b.Class(class)
	nat := b.NameAndType(name, desc)
	return b.add(tag, append(u2(c), u2(nat)...)...)
}

func (b *Builder) Fieldref(class, name, desc string) uint16 {
	return b.ref(classfile.TagFieldref, class, name, desc)
}

func (b *Builder) Methodref(class, name, desc string) uint16 {
	return b.ref(classfile.TagMethodref, class, name, desc)
}

func (b *Builder) InterfaceMethodref(class, name, desc string) uint16 {
	return b.ref(classfile.TagInterfaceMethodref, class, name, desc)
}

// Raw appends an arbitrary pool entry, which may be malformed.
func (b *Builder) Raw(tag byte, payload ...byte) uint16 {
	return b.add(tag, payload...)
}

func (b *Builder) Interface(name string) *Builder {
	b.interfaces = append(b.interfaces, b.Class(name))
	return b
}

func (b *Builder) Field(flags uint16, name, desc string) *Builder {
	b.fields = append(b.fields, member{flags: flags, name: b.Utf8(name), desc: b.Utf8(desc)})
	return b
}

// Method adds a method; code may be nil for abstract and native methods.
func (b *Builder) Method(flags uint16, name, desc string, code *Code) *Builder {
	m := member{flags: flags, name: b.Utf8(name), desc: b.Utf8(desc), code: code}
	if code != nil {
		b.Utf8("Code")
		if len(code.Lines) > 0 {
			b.Utf8("LineNumberTable")
		}
	}
	b.methods = append(b.methods, m)
	return b
}

// Bytes returns the encoded class.
func (b *Builder) Bytes() []byte {
	be := binary.BigEndian
	out := be.AppendUint32(nil, 0xCAFEBABE)
	out = be.AppendUint16(out, 0)
	out = be.AppendUint16(out, 52)
	out = be.AppendUint16(out, b.count)
	out = append(out, b.pool...)
	out = be.AppendUint16(out, b.Flags)
	out = be.AppendUint16(out, b.this)
	out = be.AppendUint16(out, b.super)

	out = be.AppendUint16(out, uint16(len(b.interfaces)))
	for _, i := range b.interfaces {
		out = be.AppendUint16(out, i)
	}

	out = be.AppendUint16(out, uint16(len(b.fields)))
	for _, f := range b.fields {
		out = be.AppendUint16(out, f.flags)
		out = be.AppendUint16(out, f.name)
		out = be.AppendUint16(out, f.desc)
		out = be.AppendUint16(out, 0)
	}

	out = be.AppendUint16(out, uint16(len(b.methods)))
	for _, m := range b.methods {
		out = be.AppendUint16(out, m.flags)
		out = be.AppendUint16(out, m.name)
		out = be.AppendUint16(out, m.desc)
		if m.code == nil {
			out = be.AppendUint16(out, 0)
			continue
		}
		out = be.AppendUint16(out, 1)
		out = be.AppendUint16(out, b.utf8s["Code"])
		body := b.code(m.code)
		out = be.AppendUint32(out, uint32(len(body)))
		out = append(out, body...)
	}

	return be.AppendUint16(out, 0)
}

func (b *Builder) code(c *Code) []byte {
	be := binary.BigEndian
	out := be.AppendUint16(nil, c.MaxStack)
	out = be.AppendUint16(out, c.MaxLocals)
	out = be.AppendUint32(out, uint32(len(c.Body)))
	out = append(out, c.Body...)
	out = be.AppendUint16(out, uint16(len(c.Handlers)))
	for _, h := range c.Handlers {
		out = be.AppendUint16(out, h.StartPC)
		out = be.AppendUint16(out, h.EndPC)
		out = be.AppendUint16(out, h.HandlerPC)
		out = be.AppendUint16(out, h.CatchType)
	}
	if len(c.Lines) == 0 {
		return be.AppendUint16(out, 0)
	}
	out = be.AppendUint16(out, 1)
	out = be.AppendUint16(out, b.utf8s["LineNumberTable"])
	out = be.AppendUint32(out, uint32(2+4*len(c.Lines)))
	out = be.AppendUint16(out, uint16(len(c.Lines)))
	for _, l := range c.Lines {
		out = be.AppendUint16(out, l.StartPC)
		out = be.AppendUint16(out, l.Line)
	}
	return out
}
