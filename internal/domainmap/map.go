package domainmap

import "iter"

// Map associates values with domain patterns, exact or wildcard. Patterns
// are stored in a trie over the reversed label sequence so sibling
// subdomains share their suffix, and Lookup cost is bounded by the label
// count of the query rather than the number of entries.
//
// Set, Get and Remove address entries by pattern equality; Lookup matches
// a queried name against the stored patterns. A Map is safe for
// concurrent readers only; writers must publish a fresh Map instead of
// mutating a shared one.
type Map[V any] struct {
	root *node[V]
	size int
}

type node[V any] struct {
	children map[string]*node[V]
	exact    *entry[V]
	wildcard *entry[V]
}

type entry[V any] struct {
	key   Domain
	value V
}

// New returns an empty Map. The zero value is also ready to use.
func New[V any]() *Map[V] {
	return &Map[V]{}
}

// Set stores value under the given pattern, replacing the value of an
// identical pattern only. It returns the replaced value if there was one.
func (m *Map[V]) Set(pattern Domain, value V) (V, bool) {
	if m.root == nil {
		m.root = &node[V]{}
	}
	n := m.root
	for i := 0; i < len(pattern.labels); i++ {
		label := pattern.labels[i]
		child := n.children[label]
		if child == nil {
			if n.children == nil {
				n.children = make(map[string]*node[V])
			}
			child = &node[V]{}
			n.children[label] = child
		}
		n = child
	}
	slot := &n.exact
	if pattern.wildcard {
		slot = &n.wildcard
	}
	if e := *slot; e != nil {
		old := e.value
		e.value = value
		return old, true
	}
	*slot = &entry[V]{key: pattern, value: value}
	m.size++
	var zero V
	return zero, false
}

// Get returns the value stored under exactly the given pattern.
func (m *Map[V]) Get(pattern Domain) (V, bool) {
	var zero V
	n := m.root
	for i := 0; n != nil && i < len(pattern.labels); i++ {
		n = n.children[pattern.labels[i]]
	}
	if n == nil {
		return zero, false
	}
	e := n.exact
	if pattern.wildcard {
		e = n.wildcard
	}
	if e == nil {
		return zero, false
	}
	return e.value, true
}

// Lookup returns the value whose pattern matches the queried name. An
// exact entry always outranks a wildcard entry, regardless of insertion
// order. Wildcard queries never match.
func (m *Map[V]) Lookup(query Domain) (V, bool) {
	var zero V
	if query.wildcard || m.root == nil {
		return zero, false
	}
	n := m.root
	var wild *entry[V]
	for i, label := range query.labels {
		// A wildcard stored at the parent of the last label covers
		// exactly that one label.
		if i == len(query.labels)-1 && n.wildcard != nil {
			wild = n.wildcard
		}
		if n = n.children[label]; n == nil {
			break
		}
	}
	if n != nil && n.exact != nil {
		return n.exact.value, true
	}
	if wild != nil {
		return wild.value, true
	}
	return zero, false
}

// Remove deletes the entry stored under exactly the given pattern and
// returns its value. Emptied trie nodes are pruned.
func (m *Map[V]) Remove(pattern Domain) (V, bool) {
	var zero V
	if m.root == nil {
		return zero, false
	}
	type step struct {
		parent *node[V]
		label  string
	}
	path := make([]step, 0, len(pattern.labels))
	n := m.root
	for i := 0; i < len(pattern.labels); i++ {
		label := pattern.labels[i]
		child := n.children[label]
		if child == nil {
			return zero, false
		}
		path = append(path, step{n, label})
		n = child
	}
	slot := &n.exact
	if pattern.wildcard {
		slot = &n.wildcard
	}
	if *slot == nil {
		return zero, false
	}
	old := (*slot).value
	*slot = nil
	m.size--
	for i := len(path) - 1; i >= 0; i-- {
		if len(n.children) > 0 || n.exact != nil || n.wildcard != nil {
			break
		}
		delete(path[i].parent.children, path[i].label)
		n = path[i].parent
	}
	return old, true
}

// Len returns the number of stored entries.
func (m *Map[V]) Len() int {
	return m.size
}

// Clear removes all entries.
func (m *Map[V]) Clear() {
	m.root = nil
	m.size = 0
}

// All iterates over the stored pattern-value pairs in unspecified order.
func (m *Map[V]) All() iter.Seq2[Domain, V] {
	return func(yield func(Domain, V) bool) {
		walk(m.root, yield)
	}
}

func walk[V any](n *node[V], yield func(Domain, V) bool) bool {
	if n == nil {
		return true
	}
	if n.exact != nil && !yield(n.exact.key, n.exact.value) {
		return false
	}
	if n.wildcard != nil && !yield(n.wildcard.key, n.wildcard.value) {
		return false
	}
	for _, child := range n.children {
		if !walk(child, yield) {
			return false
		}
	}
	return true
}
