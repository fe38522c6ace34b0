package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsatisfiedLink is returned when no implementation is registered for a
// native method.
var ErrUnsatisfiedLink = errors.New("unsatisfied link")

// InvokeNative calls a native method with the arguments on t's stack and
// pushes its result. The arguments stay on the stack, as the locals of a
// frame for method, while the call runs: a native that allocates reads
// references again with t.Local rather than trusting its args slice.
func (m *Machine) InvokeNative(t *Thread, method *Method) error {
	fn, ok := m.Native(method)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsatisfiedLink, method.NativeName)
	}

	t.PushFrame(method)
	args := make([]uint64, method.ParameterFootprint)
	copy(args, t.stack[t.Frame():t.sp])
	result := fn(t, args)
	t.PopFrame()

	if t.Exception != 0 {
		return t.Err()
	}

	switch returnType(method.Spec) {
	case 'V':
	case 'J', 'D':
		t.PushLong(int64(result))
	case 'L', '[':
		t.push(ObjectTag, result)
	default:
		t.PushInt(int32(result))
	}
	return nil
}

func returnType(spec string) byte {
	if i := strings.IndexByte(spec, ')'); i >= 0 && i+1 < len(spec) {
		return spec[i+1]
	}
	return 'V'
}
