package classfile

import "fmt"

// MalformedClassError reports class bytes that cannot be parsed.
type MalformedClassError struct {
	Offset int
	Reason string
	Err    error
}

func (e *MalformedClassError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed class at offset %d: %s: %v", e.Offset, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed class at offset %d: %s", e.Offset, e.Reason)
}

func (e *MalformedClassError) Unwrap() error { return e.Err }

// malformed aborts parsing; Parse and ResolvePool recover it.
func malformed(s *Stream, format string, args ...any) {
	off := 0
	if s != nil {
		off = s.Offset()
	}
	panic(&MalformedClassError{Offset: off, Reason: fmt.Sprintf(format, args...)})
}

// Catch converts the panics raised by Stream and the pool resolver into an
// error. Use it as `defer classfile.Catch(&err)`.
func Catch(err *error) {
	switch e := recover().(type) {
	case nil:
	case *MalformedClassError:
		*err = e
	case *EOSError:
		*err = &MalformedClassError{Offset: e.Offset, Reason: "truncated class file", Err: e}
	default:
		panic(e)
	}
}
