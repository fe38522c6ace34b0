package classfile

import (
	"os"
)

const classMagic = 0xCAFEBABE

// ParseFile reads and parses a .class file from the given path.
func ParseFile(path string) (*ClassFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes class bytes. The constant pool is left in its raw form;
// callers that need resolved entries run ResolvePool on it.
func Parse(data []byte) (cf *ClassFile, err error) {
	defer Catch(&err)
	return ParseStream(NewStream(data)), nil
}

// ParseStream is Parse over an existing stream. Faults panic; see Catch.
func ParseStream(s *Stream) *ClassFile {
	cf := &ClassFile{}

	if magic := s.Read4(); magic != classMagic {
		malformed(s, "invalid magic number: 0x%X (expected 0xCAFEBABE)", magic)
	}
	cf.MinorVersion = s.Read2()
	cf.MajorVersion = s.Read2()

	cf.ConstantPool = parseConstantPool(s, s.Read2())

	cf.AccessFlags = s.Read2()
	cf.ThisClass = s.Read2()
	cf.SuperClass = s.Read2()

	cf.Interfaces = make([]uint16, s.Read2())
	for i := range cf.Interfaces {
		cf.Interfaces[i] = s.Read2()
	}

	cf.Fields = make([]FieldInfo, s.Read2())
	for i := range cf.Fields {
		f := &cf.Fields[i]
		f.AccessFlags = s.Read2()
		f.Name = utf8At(cf.ConstantPool, s.Read2())
		f.Descriptor = utf8At(cf.ConstantPool, s.Read2())
		skipAttributes(s, s.Read2())
	}

	cf.Methods = make([]MethodInfo, s.Read2())
	for i := range cf.Methods {
		m := &cf.Methods[i]
		m.AccessFlags = s.Read2()
		m.Name = utf8At(cf.ConstantPool, s.Read2())
		m.Descriptor = utf8At(cf.ConstantPool, s.Read2())

		for n := s.Read2(); n > 0; n-- {
			name := utf8At(cf.ConstantPool, s.Read2())
			length := int(s.Read4())
			if name == "Code" {
				m.Code = parseCode(s, cf.ConstantPool)
			} else {
				s.Skip(length)
			}
		}
	}

	// Class-level attributes are not used.
	if s.Offset() < len(s.data) {
		skipAttributes(s, s.Read2())
	}

	return cf
}

func skipAttributes(s *Stream, count uint16) {
	for ; count > 0; count-- {
		s.Skip(2)
		s.Skip(int(s.Read4()))
	}
}

func parseCode(s *Stream, pool []Constant) *CodeAttribute {
	code := &CodeAttribute{
		MaxStack:  s.Read2(),
		MaxLocals: s.Read2(),
	}
	code.Code = s.Read(int(s.Read4()))

	code.ExceptionHandlers = make([]ExceptionHandler, s.Read2())
	for i := range code.ExceptionHandlers {
		code.ExceptionHandlers[i] = ExceptionHandler{
			StartPC:   s.Read2(),
			EndPC:     s.Read2(),
			HandlerPC: s.Read2(),
			CatchType: s.Read2(),
		}
	}

	for n := s.Read2(); n > 0; n-- {
		name := utf8At(pool, s.Read2())
		length := int(s.Read4())
		if name != "LineNumberTable" {
			s.Skip(length)
			continue
		}
		lines := make([]LineNumber, s.Read2())
		for i := range lines {
			lines[i] = LineNumber{StartPC: s.Read2(), Line: s.Read2()}
		}
		code.LineNumbers = append(code.LineNumbers, lines...)
	}

	return code
}
