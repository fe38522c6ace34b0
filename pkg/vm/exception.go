package vm

import (
	"fmt"

	"github.com/daimatz/gojvmcore/pkg/heap"
)

// JavaException is a pending guest exception seen from Go.
type JavaException struct {
	Class   *Class
	Message string
	Object  heap.Ref
}

func (e *JavaException) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("JavaException: %s", e.Class.Name)
	}
	return fmt.Sprintf("JavaException: %s: %s", e.Class.Name, e.Message)
}

// Is matches ErrClassNotFound for ClassNotFoundException and its
// subclasses.
func (e *JavaException) Is(target error) bool {
	if target != ErrClassNotFound {
		return false
	}
	for k := e.Class; k != nil; k = k.Super {
		if k.Name == typeDefs[ClassNotFoundExceptionType].name {
			return true
		}
	}
	return false
}

// MakeThrowable allocates an instance of c, which must be a Throwable, with
// the given message.
func (m *Machine) MakeThrowable(t *Thread, c *Class, message string) heap.Ref {
	var msg heap.Ref
	if message != "" {
		msg = m.MakeString(t, message)
	}
	defer t.Protect(&msg)()

	o := m.MakeObject(t, c)
	m.SetRef(o, ThrowableMessage, msg)
	return o
}

// Err returns the pending exception as a *JavaException, or nil.
func (t *Thread) Err() error {
	if t.Exception == 0 {
		return nil
	}
	m := t.m
	e := &JavaException{
		Class:  m.ObjectClass(t.Exception),
		Object: t.Exception,
	}
	if msg := m.GetRef(t.Exception, ThrowableMessage); msg != 0 {
		e.Message = m.StringValue(msg)
	}
	return e
}

// ClearException drops the pending exception.
func (t *Thread) ClearException() { t.Exception = 0 }
