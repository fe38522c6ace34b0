// Package hashmap is a chained hash table with caller-supplied hash and
// equality functions, in a normal and a weak-key flavor.
package hashmap

import "iter"

const initialBuckets = 16

// Weak is a weakly held key. Target reports false once the collector has
// cleared it. Release tells the owner of the reference that the map no
// longer needs it.
type Weak[K any] interface {
	Target() (K, bool)
	Release()
}

// Weakener wraps a key in a weak reference at insertion time.
type Weakener[K any] func(key K) Weak[K]

// Node is one chain entry.
type Node[K, V any] struct {
	key   K
	weak  Weak[K]
	Value V
	next  *Node[K, V]
}

// Key returns the node's key. For a weak map whose key has been cleared it
// returns the zero K.
func (n *Node[K, V]) Key() K {
	k, _ := n.target()
	return k
}

func (n *Node[K, V]) target() (K, bool) {
	if n.weak != nil {
		return n.weak.Target()
	}
	return n.key, true
}

// Map maps K to V. It is not synchronized.
type Map[K, V any] struct {
	hash    func(K) uint32
	equal   func(a, b K) bool
	weaken  Weakener[K]
	buckets []*Node[K, V]
	size    int
}

// New returns an empty map.
func New[K, V any](hash func(K) uint32, equal func(a, b K) bool) *Map[K, V] {
	return &Map[K, V]{hash: hash, equal: equal}
}

// NewWeak returns an empty map whose keys are held through weaken.
func NewWeak[K, V any](hash func(K) uint32, equal func(a, b K) bool, weaken Weakener[K]) *Map[K, V] {
	return &Map[K, V]{hash: hash, equal: equal, weaken: weaken}
}

func (m *Map[K, V]) Weak() bool { return m.weaken != nil }

// Size returns the number of entries, counting weak entries whose keys were
// cleared but not yet evicted.
func (m *Map[K, V]) Size() int { return m.size }

// Buckets returns the bucket count, which is zero or a power of two.
func (m *Map[K, V]) Buckets() int { return len(m.buckets) }

func (m *Map[K, V]) index(k K) int {
	return int(m.hash(k) & uint32(len(m.buckets)-1))
}

// FindNode returns the node for key, evicting dead weak entries met on the
// way.
func (m *Map[K, V]) FindNode(key K) *Node[K, V] {
	if len(m.buckets) == 0 {
		return nil
	}
	for p := &m.buckets[m.index(key)]; *p != nil; {
		n := *p
		k, ok := n.target()
		if !ok {
			m.evict(p)
			continue
		}
		if m.equal(key, k) {
			return n
		}
		p = &n.next
	}
	return nil
}

// Find returns the value for key.
func (m *Map[K, V]) Find(key K) (V, bool) {
	if n := m.FindNode(key); n != nil {
		return n.Value, true
	}
	var zero V
	return zero, false
}

func (m *Map[K, V]) evict(p **Node[K, V]) {
	n := *p
	*p = n.next
	m.size--
	n.weak.Release()
}

// Insert adds key unconditionally; an existing entry for an equal key is
// shadowed, not replaced.
func (m *Map[K, V]) Insert(key K, value V) {
	m.size++
	if len(m.buckets) == 0 || m.size >= len(m.buckets)*2 {
		if len(m.buckets) == 0 {
			m.resize(initialBuckets)
		} else {
			m.resize(len(m.buckets) * 2)
		}
	}

	n := &Node[K, V]{Value: value}
	if m.weaken != nil {
		n.weak = m.weaken(key)
	} else {
		n.key = key
	}
	i := m.index(key)
	n.next = m.buckets[i]
	m.buckets[i] = n
}

// InsertMaybe inserts key only if it is absent and reports whether it did.
func (m *Map[K, V]) InsertMaybe(key K, value V) bool {
	if m.FindNode(key) != nil {
		return false
	}
	m.Insert(key, value)
	return true
}

// Remove deletes every entry equal to key and returns the last removed
// value. The table shrinks once it is at most a third full.
func (m *Map[K, V]) Remove(key K) (V, bool) {
	var (
		value V
		found bool
	)
	if len(m.buckets) == 0 {
		return value, false
	}
	for p := &m.buckets[m.index(key)]; *p != nil; {
		n := *p
		k, ok := n.target()
		switch {
		case !ok:
			m.evict(p)
		case m.equal(key, k):
			value, found = n.Value, true
			*p = n.next
			m.size--
			if n.weak != nil {
				n.weak.Release()
			}
		default:
			p = &n.next
		}
	}

	if m.size <= len(m.buckets)/3 {
		m.resize(len(m.buckets) / 2)
	}
	return value, found
}

func (m *Map[K, V]) resize(size int) {
	if size == 0 {
		m.buckets = nil
		return
	}
	length := nextPowerOfTwo(size)
	buckets := make([]*Node[K, V], length)
	for _, head := range m.buckets {
		for n := head; n != nil; {
			next := n.next
			k, ok := n.target()
			if !ok {
				m.size--
				n.weak.Release()
			} else {
				i := int(m.hash(k) & uint32(length-1))
				n.next = buckets[i]
				buckets[i] = n
			}
			n = next
		}
	}
	m.buckets = buckets
}

// All iterates live entries in bucket order.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for _, head := range m.buckets {
			for n := head; n != nil; n = n.next {
				k, ok := n.target()
				if !ok {
					continue
				}
				if !yield(k, n.Value) {
					return
				}
			}
		}
	}
}

// Nodes iterates live nodes in bucket order. Values may be updated in place
// through the node.
func (m *Map[K, V]) Nodes() iter.Seq[*Node[K, V]] {
	return func(yield func(*Node[K, V]) bool) {
		for _, head := range m.buckets {
			for n := head; n != nil; n = n.next {
				if _, ok := n.target(); !ok {
					continue
				}
				if !yield(n) {
					return
				}
			}
		}
	}
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
