package native

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/daimatz/gojvmcore/pkg/heap"
	"github.com/daimatz/gojvmcore/pkg/vm"
)

// Default returns a registry with the natives the runtime provides out of
// the box. PrintStream output goes to out.
func Default(out io.Writer) *Registry {
	r := New()
	p := &printStream{w: out}
	r.mustRegister("Java_java_lang_Object_hashCode", objectHashCode)
	r.mustRegister("Java_java_lang_System_identityHashCode", objectHashCode)
	r.mustRegister("Java_java_lang_String_intern", stringIntern)
	r.mustRegister("Java_java_lang_Integer_parseInt", integerParseInt)
	r.mustRegister("Java_java_io_PrintStream_println__", p.newline)
	r.mustRegister("Java_java_io_PrintStream_println__I", p.printlnInt)
	r.mustRegister("Java_java_io_PrintStream_println__J", p.printlnLong)
	r.mustRegister("Java_java_io_PrintStream_println__Ljava_lang_String_2", p.printlnString)
	return r
}

func (r *Registry) mustRegister(symbol string, fn vm.NativeFunc) {
	if err := r.Register(symbol, fn); err != nil {
		panic(err)
	}
}

// objectHashCode serves both Object.hashCode, where args[0] is the
// receiver, and the static System.identityHashCode.
func objectHashCode(t *vm.Thread, args []uint64) uint64 {
	o := heap.Ref(args[0])
	if o == 0 {
		return 0
	}
	return uint64(t.Machine().IdentityHash(o))
}

func stringIntern(t *vm.Thread, args []uint64) uint64 {
	m := t.Machine()
	return uint64(m.Intern(t, m.StringValue(heap.Ref(args[0]))))
}

func integerParseInt(t *vm.Thread, args []uint64) uint64 {
	m := t.Machine()
	s := heap.Ref(args[0])
	if s == 0 {
		throw(t, "Cannot parse null string")
		return 0
	}
	str := m.StringValue(s)
	v, err := strconv.ParseInt(str, 10, 32)
	if err != nil {
		throw(t, fmt.Sprintf("For input string: %q", str))
		return 0
	}
	return uint64(uint32(int32(v)))
}

func throw(t *vm.Thread, message string) {
	m := t.Machine()
	t.Exception = m.MakeThrowable(t, m.Type(vm.ExceptionType), message)
}

// printStream writes PrintStream.println output for every thread.
type printStream struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printStream) println(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, v)
}

func (p *printStream) newline(*vm.Thread, []uint64) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w)
	return 0
}

// args[0] is the PrintStream receiver.
func (p *printStream) printlnInt(_ *vm.Thread, args []uint64) uint64 {
	p.println(int32(args[1]))
	return 0
}

func (p *printStream) printlnLong(_ *vm.Thread, args []uint64) uint64 {
	p.println(int64(args[1]<<32 | args[2]))
	return 0
}

func (p *printStream) printlnString(t *vm.Thread, args []uint64) uint64 {
	s := heap.Ref(args[1])
	if s == 0 {
		p.println("null")
		return 0
	}
	p.println(t.Machine().StringValue(s))
	return 0
}
