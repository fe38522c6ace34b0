package vm

import (
	"fmt"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

var reportEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: cbor enc mode: %v", err))
	}
	reportEncMode = em
}

// LinkReport describes the linked form of a class.
type LinkReport struct {
	Name       string            `cbor:"1,keyasint" json:"name"`
	Super      string            `cbor:"2,keyasint,omitempty" json:"super,omitempty"`
	FixedSize  int               `cbor:"3,keyasint" json:"fixedSize"`
	ObjectMask []uint32          `cbor:"4,keyasint,omitempty" json:"objectMask,omitempty"`
	Fields     []FieldReport     `cbor:"5,keyasint,omitempty" json:"fields,omitempty"`
	Virtuals   []string          `cbor:"6,keyasint,omitempty" json:"virtuals,omitempty"`
	Interfaces []InterfaceReport `cbor:"7,keyasint,omitempty" json:"interfaces,omitempty"`
	Natives    []string          `cbor:"8,keyasint,omitempty" json:"natives,omitempty"`
	Statics    int               `cbor:"9,keyasint,omitempty" json:"statics,omitempty"`
}

type FieldReport struct {
	Name   string `cbor:"1,keyasint" json:"name"`
	Spec   string `cbor:"2,keyasint" json:"spec"`
	Offset int    `cbor:"3,keyasint" json:"offset"`
	Static bool   `cbor:"4,keyasint,omitempty" json:"static,omitempty"`
}

type InterfaceReport struct {
	Name     string   `cbor:"1,keyasint" json:"name"`
	Dispatch []string `cbor:"2,keyasint,omitempty" json:"dispatch,omitempty"`
}

// Report describes c.
func (c *Class) Report() *LinkReport {
	r := &LinkReport{
		Name:       c.Name,
		FixedSize:  c.FixedSize,
		ObjectMask: c.ObjectMask,
		Statics:    len(c.StaticTable),
	}
	if c.Super != nil {
		r.Super = c.Super.Name
	}
	for _, f := range c.Fields {
		r.Fields = append(r.Fields, FieldReport{Name: f.Name, Spec: f.Spec, Offset: f.Offset, Static: f.IsStatic()})
	}
	for _, m := range c.VirtualTable {
		r.Virtuals = append(r.Virtuals, m.String())
	}
	for _, e := range c.Interfaces {
		ir := InterfaceReport{Name: e.Interface.Name}
		for _, m := range e.VirtualTable {
			ir.Dispatch = append(ir.Dispatch, m.String())
		}
		r.Interfaces = append(r.Interfaces, ir)
	}
	for _, m := range c.Methods {
		if m.IsNative() {
			r.Natives = append(r.Natives, m.NativeName)
		}
	}
	return r
}

// MarshalCBOR encodes r in canonical CBOR.
func (r *LinkReport) MarshalCBOR() ([]byte, error) {
	type plain LinkReport
	return reportEncMode.Marshal((*plain)(r))
}

// UnmarshalLinkReport decodes a report written by MarshalCBOR.
func UnmarshalLinkReport(data []byte) (*LinkReport, error) {
	type plain LinkReport
	var r plain
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal link report: %w", err)
	}
	return (*LinkReport)(&r), nil
}

// WriteText writes r in a human readable form.
func (r *LinkReport) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "class %s", r.Name)
	if r.Super != "" {
		fmt.Fprintf(&b, " extends %s", r.Super)
	}
	fmt.Fprintf(&b, "\n  size %d bytes, mask %v, %d static slots\n", r.FixedSize, r.ObjectMask, r.Statics)
	for _, f := range r.Fields {
		kind := "+"
		if f.Static {
			kind = "static "
		}
		fmt.Fprintf(&b, "  field %s %s %s%d\n", f.Name, f.Spec, kind, f.Offset)
	}
	for i, v := range r.Virtuals {
		fmt.Fprintf(&b, "  vtable[%d] %s\n", i, v)
	}
	for _, ir := range r.Interfaces {
		fmt.Fprintf(&b, "  implements %s\n", ir.Name)
		for i, d := range ir.Dispatch {
			fmt.Fprintf(&b, "    [%d] %s\n", i, d)
		}
	}
	for _, n := range r.Natives {
		fmt.Fprintf(&b, "  native %s\n", n)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
