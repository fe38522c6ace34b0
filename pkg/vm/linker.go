package vm

import (
	"fmt"

	"github.com/daimatz/gojvmcore/pkg/classfile"
	"github.com/daimatz/gojvmcore/pkg/hashmap"
	"github.com/daimatz/gojvmcore/pkg/heap"
)

// inheritedVMFlags are copied from a super class to its subclasses.
const inheritedVMFlags = WeakReferenceFlag

// ParseClass links the class file in data. Structural faults come back as
// *classfile.MalformedClassError. When a class it depends on cannot be
// resolved, the ClassNotFoundException is left pending on t and returned
// through t.Err.
func (m *Machine) ParseClass(t *Thread, data []byte) (c *Class, err error) {
	defer classfile.Catch(&err)
	return m.link(t, classfile.ParseStream(classfile.NewStream(data)))
}

func (m *Machine) link(t *Thread, cf *classfile.ClassFile) (*Class, error) {
	c := &Class{
		Flags: cf.AccessFlags,
		Pool:  cf.ConstantPool,
	}
	// Pool strings and static slots live in the heap.
	defer t.protect(func(v heap.Visitor) { visitClass(c, v) })()

	classfile.ResolvePool(c.Pool, func(s string) heap.Ref { return m.Intern(t, s) })

	name, err := classfile.GetClassName(c.Pool, cf.ThisClass)
	if err != nil {
		return nil, &classfile.MalformedClassError{Reason: "this_class", Err: err}
	}
	c.Name = name

	if cf.SuperClass != 0 {
		superName, err := classfile.GetClassName(c.Pool, cf.SuperClass)
		if err != nil {
			return nil, &classfile.MalformedClassError{Reason: "super_class", Err: err}
		}
		sc := m.ResolveClass(t, superName)
		if t.Exception != 0 {
			return nil, t.Err()
		}
		c.Super = sc
		c.VMFlags |= sc.VMFlags & inheritedVMFlags
	}

	if err := m.linkInterfaces(t, c, cf); err != nil {
		return nil, err
	}
	if t.Exception != 0 {
		return nil, t.Err()
	}

	if err := linkFields(c, cf); err != nil {
		return nil, err
	}

	linkMethods(c, cf)
	return c, nil
}

// linkInterfaces builds the interface table: the super class's interfaces,
// then each declared interface followed by the interfaces it extends, each
// interface once. Non-interface classes get an empty sub-vtable per entry,
// filled by linkMethods.
func (m *Machine) linkInterfaces(t *Thread, c *Class, cf *classfile.ClassFile) error {
	seen := hashmap.New[string, *Class](stringHash, stringEqual)
	var order []*Class
	add := func(i *Class) {
		if seen.InsertMaybe(i.Name, i) {
			order = append(order, i)
		}
	}

	if c.Super != nil {
		for _, e := range c.Super.Interfaces {
			add(e.Interface)
		}
	}

	names, err := cf.InterfaceNames()
	if err != nil {
		return &classfile.MalformedClassError{Reason: "interfaces", Err: err}
	}
	for _, name := range names {
		i := m.ResolveClass(t, name)
		if t.Exception != 0 {
			return nil
		}
		add(i)
		for _, e := range i.Interfaces {
			add(e.Interface)
		}
	}

	if len(order) == 0 {
		return nil
	}
	c.Interfaces = make([]InterfaceEntry, len(order))
	for n, i := range order {
		c.Interfaces[n].Interface = i
		if !c.IsInterface() {
			c.Interfaces[n].VirtualTable = make([]*Method, len(i.VirtualTable))
		}
	}
	return nil
}

func linkFields(c *Class, cf *classfile.ClassFile) error {
	fields := make([]*Field, len(cf.Fields))
	for i, info := range cf.Fields {
		if info.Descriptor == "" {
			return &classfile.MalformedClassError{Reason: fmt.Sprintf("field %s has an empty descriptor", info.Name)}
		}
		code, err := classfile.FieldCodeOf(info.Descriptor[0])
		if err != nil {
			return &classfile.MalformedClassError{Reason: "field " + info.Name, Err: err}
		}
		if code == classfile.VoidField {
			return &classfile.MalformedClassError{Reason: fmt.Sprintf("field %s has type void", info.Name)}
		}
		fields[i] = &Field{
			Flags: info.AccessFlags,
			Code:  code,
			Name:  info.Name,
			Spec:  info.Descriptor,
			Class: c,
		}
	}
	layout(c, fields)
	return nil
}

// linkMethods builds the method table and assigns virtual table slots. An
// instance method whose name and descriptor match an inherited one takes
// over its slot; any other instance method gets the next free slot.
// Interfaces start from the union of the methods of the interfaces they
// extend.
func linkMethods(c *Class, cf *classfile.ClassFile) {
	slots := hashmap.New[*Method, int](methodHash, methodEqual)
	var vtable []*Method

	var superVirtualTable []*Method
	if c.IsInterface() {
		for _, e := range c.Interfaces {
			for _, im := range e.Interface.VirtualTable {
				if slots.InsertMaybe(im, len(vtable)) {
					vtable = append(vtable, im)
				}
			}
		}
	} else if c.Super != nil {
		superVirtualTable = c.Super.VirtualTable
		for i, sm := range superVirtualTable {
			slots.Insert(sm, i)
		}
		vtable = append(vtable, superVirtualTable...)
	}

	declaredVirtualCount := 0
	names := make(map[string]int, len(cf.Methods))

	c.Methods = make([]*Method, len(cf.Methods))
	for i := range cf.Methods {
		info := &cf.Methods[i]
		method := &Method{
			Flags:              info.AccessFlags,
			ParameterCount:     classfile.ParameterCount(info.Descriptor),
			ParameterFootprint: classfile.ParameterFootprint(info.Descriptor),
			Name:               info.Name,
			Spec:               info.Descriptor,
			Class:              c,
			Code:               convertCode(info.Code),
		}
		names[method.Name]++

		if method.IsStatic() {
			if method.Name == "<clinit>" {
				c.Initializer = method
				c.VMFlags |= NeedInitFlag
			}
		} else {
			method.ParameterCount++
			method.ParameterFootprint++
			declaredVirtualCount++

			if slot, ok := slots.Find(method); ok {
				method.Offset = slot
				vtable[slot] = method
			} else {
				method.Offset = len(vtable)
				slots.Insert(method, method.Offset)
				vtable = append(vtable, method)
			}
		}

		c.Methods[i] = method
	}

	for _, method := range c.Methods {
		if method.IsNative() {
			method.NativeName = classfile.NativeName(c.Name, method.Name, method.Spec, names[method.Name] > 1)
			method.ShortNativeName = classfile.NativeName(c.Name, method.Name, method.Spec, false)
		}
	}

	if declaredVirtualCount == 0 && !c.IsInterface() {
		c.VirtualTable = superVirtualTable
		if c.Super != nil && len(c.Interfaces) == len(c.Super.Interfaces) {
			c.Interfaces = c.Super.Interfaces
			return
		}
	} else if len(vtable) > 0 {
		c.VirtualTable = vtable
	}

	if c.IsInterface() {
		return
	}
	for _, e := range c.Interfaces {
		for j, im := range e.Interface.VirtualTable {
			if slot, ok := slots.Find(im); ok {
				e.VirtualTable[j] = vtable[slot]
			} else {
				// Left to a subclass of an abstract class.
				e.VirtualTable[j] = im
			}
		}
	}
}

func convertCode(a *classfile.CodeAttribute) *Code {
	if a == nil {
		return nil
	}
	return &Code{
		MaxStack:    int(a.MaxStack),
		MaxLocals:   int(a.MaxLocals),
		Body:        a.Code,
		Handlers:    a.ExceptionHandlers,
		LineNumbers: a.LineNumbers,
	}
}
