package classfile

import "fmt"

// FieldCode is the storage kind of a field or value.
type FieldCode uint8

const (
	VoidField FieldCode = iota
	ByteField
	CharField
	DoubleField
	FloatField
	IntField
	LongField
	ShortField
	BooleanField
	ObjectField
)

var fieldCodeNames = [...]string{"void", "byte", "char", "double", "float", "int", "long", "short", "boolean", "object"}

func (c FieldCode) String() string {
	if int(c) < len(fieldCodeNames) {
		return fieldCodeNames[c]
	}
	return fmt.Sprintf("FieldCode(%d)", c)
}

// FieldCodeOf maps the first byte of a type descriptor to its kind.
func FieldCodeOf(b byte) (FieldCode, error) {
	switch b {
	case 'B':
		return ByteField, nil
	case 'C':
		return CharField, nil
	case 'D':
		return DoubleField, nil
	case 'F':
		return FloatField, nil
	case 'I':
		return IntField, nil
	case 'J':
		return LongField, nil
	case 'S':
		return ShortField, nil
	case 'V':
		return VoidField, nil
	case 'Z':
		return BooleanField, nil
	case 'L', '[':
		return ObjectField, nil
	default:
		return 0, fmt.Errorf("unknown type descriptor %q", b)
	}
}

// Size returns the number of bytes a value of this kind occupies in an
// object. References are one word.
func (c FieldCode) Size() int {
	switch c {
	case ByteField, BooleanField:
		return 1
	case CharField, ShortField:
		return 2
	case IntField, FloatField:
		return 4
	case LongField, DoubleField, ObjectField:
		return 8
	default:
		return 0
	}
}

// PrimitiveSize returns the size of the primitive type named by a
// one-letter descriptor, or 0 when the name is not primitive.
func PrimitiveSize(name string) int {
	if len(name) != 1 || name == "V" {
		return 0
	}
	c, err := FieldCodeOf(name[0])
	if err != nil || c == ObjectField {
		return 0
	}
	return c.Size()
}

// ParameterCount returns the number of parameters in a method descriptor.
func ParameterCount(spec string) int {
	count, _ := scanParameters(spec)
	return count
}

// ParameterFootprint returns the number of stack slots the parameters of a
// method descriptor occupy. Long and double take two slots.
func ParameterFootprint(spec string) int {
	_, footprint := scanParameters(spec)
	return footprint
}

func scanParameters(spec string) (count, footprint int) {
	i := 1
	for i < len(spec) && spec[i] != ')' {
		switch spec[i] {
		case 'L':
			for i < len(spec) && spec[i] != ';' {
				i++
			}
			footprint++
		case '[':
			for i < len(spec) && spec[i] == '[' {
				i++
			}
			if i < len(spec) && spec[i] == 'L' {
				for i < len(spec) && spec[i] != ';' {
					i++
				}
			}
			footprint++
		case 'J', 'D':
			footprint += 2
		default:
			footprint++
		}
		count++
		i++
	}
	return count, footprint
}

// ParameterTypes returns the substring between the parentheses of a method
// descriptor.
func ParameterTypes(spec string) string {
	if len(spec) == 0 || spec[0] != '(' {
		return ""
	}
	for i := 1; i < len(spec); i++ {
		if spec[i] == ')' {
			return spec[1:i]
		}
	}
	return ""
}
