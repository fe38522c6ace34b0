package heap

import "github.com/tliron/commonlog"

var log = commonlog.GetLogger("gojvm.heap")

type CollectionType int

const (
	MinorCollection CollectionType = iota
	MajorCollection
)

func (c CollectionType) String() string {
	if c == MajorCollection {
		return "major"
	}
	return "minor"
}

// Status is the reachability of an object as seen by the collection in
// progress.
type Status int

const (
	Unreachable Status = iota
	Reachable
	Tenured
)

func (s Status) String() string {
	switch s {
	case Unreachable:
		return "unreachable"
	case Reachable:
		return "reachable"
	default:
		return "tenured"
	}
}

// Visitor is handed every root slot. It may rewrite the slot with the
// object's new address.
type Visitor interface {
	Visit(p *Ref)
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(p *Ref)

func (f VisitorFunc) Visit(p *Ref) { f(p) }

// Walker receives the word offsets of an object's reference slots. Returning
// false stops the walk.
type Walker interface {
	Visit(offset int) bool
}

// WalkerFunc adapts a function to Walker.
type WalkerFunc func(offset int) bool

func (f WalkerFunc) Visit(offset int) bool { return f(offset) }

// Client is the runtime side of a collection: it knows the root set and the
// layout of every object.
type Client interface {
	VisitRoots(v Visitor)
	SizeInWords(o Ref) int
	CopiedSizeInWords(o Ref) int
	Copy(o, dst Ref)
	Walk(o Ref, w Walker)
}

// Heap is the collector. Status is only meaningful while Collect is
// running.
type Heap interface {
	Collect(kind CollectionType, c Client)
	Status(o Ref) Status
	CollectionType() CollectionType
}
