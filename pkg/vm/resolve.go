package vm

import (
	"errors"
	"strings"

	"github.com/daimatz/gojvmcore/pkg/classfile"
	"github.com/daimatz/gojvmcore/pkg/heap"
)

// ResolveClass returns the class named name, loading and linking it on
// first use. Names starting with '[' are array classes and are built rather
// than read. When the class cannot be found, ResolveClass leaves a
// ClassNotFoundException pending on t and returns nil. Two threads
// resolving the same name get the same *Class.
func (m *Machine) ResolveClass(t *Thread, name string) *Class {
	t.Acquire(m.classLock)
	defer m.classLock.Release(t)

	if c, ok := m.classMap.Find(name); ok {
		return c
	}

	var c *Class
	if strings.HasPrefix(name, "[") {
		if bc, ok := m.bootstrapClassMap.Find(name); ok {
			c = bc
		} else {
			c = m.makeArrayClass(t, name)
		}
	} else {
		c = m.loadClass(t, name)
	}

	if c != nil {
		m.classMap.Insert(name, c)
	} else if t.Exception == 0 {
		m.throwClassNotFound(t, name)
	}
	return c
}

func (m *Machine) loadClass(t *Thread, name string) *Class {
	bootstrap, isBootstrap := m.bootstrapClassMap.Find(name)

	var data []byte
	found := false
	if m.finder != nil {
		data, found = m.finder.Find(name)
	}
	if !found {
		if isBootstrap {
			return bootstrap
		}
		return nil
	}

	log.Debugf("parsing %s", name)
	c, err := m.ParseClass(t, data)
	if err != nil {
		var malformed *classfile.MalformedClassError
		if errors.As(err, &malformed) {
			m.abortf(t, "%s: %w", name, err)
		}
		return nil
	}
	log.Debugf("done parsing %s", name)

	if c.Name != name {
		m.abortf(t, "%s: class file defines %s", name, c.Name)
	}

	if isBootstrap {
		m.updateBootstrapClass(t, bootstrap, c)
		return bootstrap
	}

	m.register(c)
	return c
}

// updateBootstrapClass folds a class read from a class file into the
// bootstrap class of the same name. The layouts must agree; objects created
// before the class file was read are instances of the bootstrap class.
func (m *Machine) updateBootstrapClass(t *Thread, bootstrap, c *Class) {
	if bootstrap.Super != c.Super ||
		bootstrap.FixedSize != c.FixedSize ||
		!maskEqual(bootstrap.ObjectMask, c.ObjectMask) {
		m.abortf(t, "%s: class file layout (size %d, mask %v) does not match bootstrap layout (size %d, mask %v)",
			c.Name, c.FixedSize, c.ObjectMask, bootstrap.FixedSize, bootstrap.ObjectMask)
	}

	t.with(ExclusiveState, func() {
		bootstrap.Flags = c.Flags
		bootstrap.Interfaces = c.Interfaces
		bootstrap.VirtualTable = c.VirtualTable
		bootstrap.Fields = c.Fields
		bootstrap.Methods = c.Methods
		bootstrap.StaticTable = c.StaticTable
		bootstrap.Initializer = c.Initializer
		bootstrap.Pool = c.Pool
		bootstrap.VMFlags |= c.VMFlags

		for _, f := range bootstrap.Fields {
			f.Class = bootstrap
		}
		for _, method := range bootstrap.Methods {
			method.Class = bootstrap
		}
	})
}

func maskEqual(a, b []uint32) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// makeArrayClass builds the class of a multi-dimensional primitive array or
// of an array of references. Single-dimension primitive arrays are
// bootstrap classes.
func (m *Machine) makeArrayClass(t *Thread, name string) *Class {
	dimensions := 0
	for dimensions < len(name) && name[dimensions] == '[' {
		dimensions++
	}

	var elementName string
	switch {
	case len(name) < 2:
		m.abortf(t, "%s: unexpected array class name", name)
	case name[1] == 'L' && strings.HasSuffix(name, ";"):
		elementName = name[2 : len(name)-1]
	case name[1] == '[':
		elementName = name[1:]
	default:
		m.abortf(t, "%s: unexpected array class name", name)
	}

	element := m.ResolveClass(t, elementName)
	if element == nil {
		return nil
	}

	objectArray := m.types[ObjectArrayType]
	object := m.types[ObjectType]
	c := &Class{
		Flags:            classfile.AccPublic | classfile.AccFinal,
		ArrayDimensions:  dimensions,
		FixedSize:        ArrayBody,
		ArrayElementSize: heap.BytesPerWord,
		ObjectMask:       objectArray.ObjectMask,
		Name:             name,
		Super:            object,
		VirtualTable:     object.VirtualTable,
		ElementClass:     element,
	}
	m.register(c)
	return c
}

// ResolveObjectArrayClass returns the class of arrays whose elements are
// instances of element.
func (m *Machine) ResolveObjectArrayClass(t *Thread, element *Class) *Class {
	if strings.HasPrefix(element.Name, "[") {
		return m.ResolveClass(t, "["+element.Name)
	}
	return m.ResolveClass(t, "[L"+element.Name+";")
}

// MakeObjectArray allocates an array of length references to element.
func (m *Machine) MakeObjectArray(t *Thread, element *Class, length int) heap.Ref {
	c := m.ResolveObjectArrayClass(t, element)
	if c == nil {
		return 0
	}
	return m.MakeArray(t, c, length)
}

func (m *Machine) throwClassNotFound(t *Thread, name string) {
	log.Debugf("class not found: %s", name)
	t.Exception = m.MakeThrowable(t, m.types[ClassNotFoundExceptionType], name)
}
