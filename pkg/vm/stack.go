package vm

import (
	"fmt"

	"github.com/daimatz/gojvmcore/pkg/heap"
)

// Tag says whether a stack slot holds a reference the collector must see.
type Tag uint8

const (
	IntTag Tag = iota
	ObjectTag
)

// StackSizeInWords bounds each thread's evaluation stack.
const StackSizeInWords = 16 * 1024

type frame struct {
	method *Method
	base   int
	ip     int
}

func (t *Thread) push(tag Tag, v uint64) {
	if t.sp >= StackSizeInWords {
		panic(fmt.Sprintf("operand stack overflow: SP=%d, max=%d", t.sp, StackSizeInWords))
	}
	if t.sp == len(t.stack) {
		t.stack = append(t.stack, 0)
		t.tags = append(t.tags, 0)
	}
	t.stack[t.sp] = v
	t.tags[t.sp] = tag
	t.sp++
}

func (t *Thread) pop() uint64 {
	if t.sp <= 0 {
		panic("operand stack underflow: SP=0")
	}
	t.sp--
	return t.stack[t.sp]
}

// PushInt pushes an int.
func (t *Thread) PushInt(v int32) { t.push(IntTag, uint64(int64(v))) }

// PushLong pushes a long, which takes two slots.
func (t *Thread) PushLong(v int64) {
	t.push(IntTag, uint64(v)>>32)
	t.push(IntTag, uint64(v)&0xffffffff)
}

// PushObject pushes a reference the collector keeps up to date.
func (t *Thread) PushObject(o heap.Ref) { t.push(ObjectTag, uint64(o)) }

func (t *Thread) PopInt() int32 { return int32(t.pop()) }

func (t *Thread) PopLong() int64 {
	lo := t.pop()
	hi := t.pop()
	return int64(hi<<32 | lo)
}

func (t *Thread) PopObject() heap.Ref { return heap.Ref(t.pop()) }

// Peek returns slot i counted from the top of the stack, 0 being the top.
func (t *Thread) Peek(i int) (uint64, Tag) {
	j := t.sp - 1 - i
	if j < 0 {
		panic(fmt.Sprintf("stack index out of range: index=%d, sp=%d", i, t.sp))
	}
	return t.stack[j], t.tags[j]
}

// SP returns the number of slots in use.
func (t *Thread) SP() int { return t.sp }

// PushFrame makes method the current method. Its arguments, already on the
// stack, become its first locals; the remaining locals are reserved and
// zeroed.
func (t *Thread) PushFrame(method *Method) {
	base := t.sp - method.ParameterFootprint
	if base < 0 {
		panic(fmt.Sprintf("%s: %d argument slots expected, %d on the stack", method, method.ParameterFootprint, t.sp))
	}
	if method.Code != nil {
		for i := method.ParameterFootprint; i < method.Code.MaxLocals; i++ {
			t.push(IntTag, 0)
		}
	}
	t.frames = append(t.frames, frame{method: method, base: base})
	t.Code = method
}

// PopFrame discards the current frame and its locals and operands.
func (t *Thread) PopFrame() {
	if len(t.frames) == 0 {
		panic("frame stack underflow")
	}
	f := t.frames[len(t.frames)-1]
	t.frames = t.frames[:len(t.frames)-1]
	t.sp = f.base
	t.Code = nil
	if len(t.frames) > 0 {
		t.Code = t.frames[len(t.frames)-1].method
	}
}

// Frame returns the stack index of the current frame's first local, or -1.
func (t *Thread) Frame() int {
	if len(t.frames) == 0 {
		return -1
	}
	return t.frames[len(t.frames)-1].base
}

// SetIP records the current method's instruction pointer.
func (t *Thread) SetIP(ip int) {
	if len(t.frames) > 0 {
		t.frames[len(t.frames)-1].ip = ip
	}
}

func (t *Thread) local(i int) int {
	f := t.Frame()
	if f < 0 || f+i >= t.sp {
		panic(fmt.Sprintf("local variable index out of range: index=%d", i))
	}
	return f + i
}

// Local returns local i of the current frame.
func (t *Thread) Local(i int) (uint64, Tag) {
	j := t.local(i)
	return t.stack[j], t.tags[j]
}

// SetLocal stores into local i of the current frame.
func (t *Thread) SetLocal(i int, v uint64, tag Tag) {
	j := t.local(i)
	t.stack[j] = v
	t.tags[j] = tag
}

// TraceElement is one frame of a stack trace.
type TraceElement struct {
	Method *Method
	IP     int
	Line   int
}

// Trace returns the frames of t, innermost first.
func (t *Thread) Trace() []TraceElement {
	trace := make([]TraceElement, 0, len(t.frames))
	for i := len(t.frames) - 1; i >= 0; i-- {
		f := t.frames[i]
		trace = append(trace, TraceElement{Method: f.method, IP: f.ip, Line: f.method.LineNumber(f.ip)})
	}
	return trace
}
