package classfile

import "strings"

// Mangle escapes a name for use in a native linkage symbol.
func Mangle(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		switch c := name[i]; c {
		case '/':
			b.WriteByte('_')
		case '_':
			b.WriteString("_1")
		case ';':
			b.WriteString("_2")
		case '[':
			b.WriteString("_3")
		case '$':
			b.WriteString("_00024")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// NativeName builds the symbol a native method links against:
// Java_<class>_<method>, followed by __<parameter types> when decorate is
// set because the method name is overloaded in its class.
func NativeName(class, method, spec string, decorate bool) string {
	var b strings.Builder
	b.WriteString("Java_")
	b.WriteString(Mangle(class))
	b.WriteByte('_')
	b.WriteString(Mangle(method))
	if decorate {
		b.WriteString("__")
		b.WriteString(Mangle(ParameterTypes(spec)))
	}
	return b.String()
}
