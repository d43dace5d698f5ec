// pkg/skiplist/skiplist.go
// Package skiplist implements a persistent indexed skip list: a
// sequence of keyed entries supporting O(log n) translation between
// list index and key in both directions.
//
// Design principles:
// - Every operation returns a new *SkipList; existing instances are
//   never observably mutated, so snapshots can be retained freely.
// - Nodes live in a hash-array-mapped trie and are path-copied on
//   update, the same way a copy-on-write tree copies the root path.
// - Each node records, per level, both forward and backward links
//   together with the number of level-0 steps each link skips. Index
//   lookups sum the skip counts instead of walking the base level.
package skiplist

import (
	"github.com/benbjohnson/immutable"
	"github.com/juju/errors"
)

var (
	ErrDuplicateKey    = errors.New("key already in list")
	ErrUnknownKey      = errors.New("key not in list")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrInvalidKey      = errors.New("key cannot be empty")
)

// headKey is the key of the sentinel head node. The head sits at
// internal position 0; the entry at list index i sits at position i+1.
const headKey = ""

// node is one tower of the list. Slices are sized to level. A nextKey
// of headKey ("") means the tower has no successor at that level, in
// which case the matching nextCount is meaningless.
type node struct {
	key       string
	value     any
	level     int
	nextKey   []string
	nextCount []int
	prevKey   []string
	prevCount []int
}

func (n *node) clone() *node {
	return &node{
		key:       n.key,
		value:     n.value,
		level:     n.level,
		nextKey:   append([]string(nil), n.nextKey...),
		nextCount: append([]int(nil), n.nextCount...),
		prevKey:   append([]string(nil), n.prevKey...),
		prevCount: append([]int(nil), n.prevCount...),
	}
}

// SkipList is an immutable indexed skip list. The zero value is not
// usable; construct with New or NewWithSource.
type SkipList struct {
	nodes  *immutable.Map[string, *node]
	length int
	src    Source
}

// New returns an empty list with the default xorshift level source.
func New() *SkipList {
	return NewWithSource(NewXorshift(0))
}

// NewWithSource returns an empty list drawing node levels from src.
// Lists derived from this one share the source, so a fixed source
// makes the whole history of tower shapes reproducible.
func NewWithSource(src Source) *SkipList {
	head := &node{
		key:       headKey,
		level:     1,
		nextKey:   []string{headKey},
		nextCount: []int{0},
		prevKey:   []string{headKey},
		prevCount: []int{0},
	}
	m := immutable.NewMap[string, *node](nil)
	m = m.Set(headKey, head)
	return &SkipList{nodes: m, src: src}
}

// Length returns the number of entries.
func (sl *SkipList) Length() int {
	return sl.length
}

func (sl *SkipList) getNode(key string) *node {
	n, _ := sl.nodes.Get(key)
	return n
}

// Contains reports whether key is in the list.
func (sl *SkipList) Contains(key string) bool {
	if key == headKey {
		return false
	}
	_, ok := sl.nodes.Get(key)
	return ok
}

// GetValue returns the value stored under key.
func (sl *SkipList) GetValue(key string) (any, bool) {
	if key == headKey {
		return nil, false
	}
	n, ok := sl.nodes.Get(key)
	if !ok {
		return nil, false
	}
	return n.value, true
}

// SetValue returns a list with the value under key replaced. The
// tower shape and all positions are unchanged.
func (sl *SkipList) SetValue(key string, value any) (*SkipList, error) {
	if key == headKey || !sl.Contains(key) {
		return nil, errors.Annotatef(ErrUnknownKey, "set value of %q", key)
	}
	n := sl.getNode(key).clone()
	n.value = value
	return &SkipList{nodes: sl.nodes.Set(key, n), length: sl.length, src: sl.src}, nil
}

// IndexOf returns the list index of key, or -1 if absent. The walk
// climbs backward pointers, so each step moves to a node of equal or
// greater level and the path length is logarithmic.
func (sl *SkipList) IndexOf(key string) int {
	if key == headKey {
		return -1
	}
	n, ok := sl.nodes.Get(key)
	if !ok {
		return -1
	}
	total := 0
	for n.key != headKey {
		top := n.level - 1
		total += n.prevCount[top]
		n = sl.getNode(n.prevKey[top])
	}
	return total - 1
}

// KeyOf returns the key at list index i. Negative indices count from
// the tail. Returns false if the index is out of range.
func (sl *SkipList) KeyOf(i int) (string, bool) {
	if i < 0 {
		i += sl.length
	}
	if i < 0 || i >= sl.length {
		return "", false
	}
	target := i + 1
	n := sl.getNode(headKey)
	pos := 0
	for level := n.level; level >= 1; level-- {
		for n.nextKey[level-1] != headKey && pos+n.nextCount[level-1] <= target {
			pos += n.nextCount[level-1]
			n = sl.getNode(n.nextKey[level-1])
		}
		if pos == target {
			return n.key, true
		}
	}
	return n.key, true
}

// InsertIndex returns a list with (key, value) inserted at index i,
// shifting the entries from i onward right by one.
func (sl *SkipList) InsertIndex(i int, key string, value any) (*SkipList, error) {
	if key == headKey {
		return nil, errors.Trace(ErrInvalidKey)
	}
	if sl.Contains(key) {
		return nil, errors.Annotatef(ErrDuplicateKey, "insert %q", key)
	}
	if i < 0 || i > sl.length {
		return nil, errors.Annotatef(ErrIndexOutOfRange, "insert at %d of %d", i, sl.length)
	}

	e := sl.edit()
	level := randomLevel(sl.src)
	if head := e.get(headKey); level > head.level {
		h := e.mod(headKey)
		for l := h.level; l < level; l++ {
			h.nextKey = append(h.nextKey, headKey)
			h.nextCount = append(h.nextCount, 0)
			h.prevKey = append(h.prevKey, headKey)
			h.prevCount = append(h.prevCount, 0)
		}
		h.level = level
	}

	predKeys, predPos := e.predecessors(i)
	pos := i + 1
	fresh := &node{
		key:       key,
		value:     value,
		level:     level,
		nextKey:   make([]string, level),
		nextCount: make([]int, level),
		prevKey:   make([]string, level),
		prevCount: make([]int, level),
	}

	for l := 1; l <= level; l++ {
		p := e.mod(predKeys[l-1])
		oldNext := p.nextKey[l-1]
		oldCount := p.nextCount[l-1]

		fresh.prevKey[l-1] = p.key
		fresh.prevCount[l-1] = pos - predPos[l-1]
		fresh.nextKey[l-1] = oldNext
		if oldNext != headKey {
			// positions after the insertion point shift by one
			span := predPos[l-1] + oldCount + 1 - pos
			fresh.nextCount[l-1] = span
			nn := e.mod(oldNext)
			nn.prevKey[l-1] = key
			nn.prevCount[l-1] = span
		}
		p.nextKey[l-1] = key
		p.nextCount[l-1] = pos - predPos[l-1]
	}

	// levels above the new tower only stretch across it
	top := e.get(headKey).level
	for l := level + 1; l <= top; l++ {
		pk := predKeys[l-1]
		if e.get(pk).nextKey[l-1] == headKey {
			continue
		}
		p := e.mod(pk)
		p.nextCount[l-1]++
		nn := e.mod(p.nextKey[l-1])
		nn.prevCount[l-1]++
	}

	e.scratch[key] = fresh
	return e.commit(sl.length + 1), nil
}

// InsertAfter returns a list with (key, value) inserted immediately
// after pred. An empty pred inserts at the head of the list.
func (sl *SkipList) InsertAfter(pred, key string, value any) (*SkipList, error) {
	index := 0
	if pred != headKey {
		at := sl.IndexOf(pred)
		if at < 0 {
			return nil, errors.Annotatef(ErrUnknownKey, "insert after %q", pred)
		}
		index = at + 1
	}
	return sl.InsertIndex(index, key, value)
}

// RemoveKey returns a list with the entry under key removed.
func (sl *SkipList) RemoveKey(key string) (*SkipList, error) {
	if key == headKey || !sl.Contains(key) {
		return nil, errors.Annotatef(ErrUnknownKey, "remove %q", key)
	}
	victim := sl.getNode(key)
	index := sl.IndexOf(key)

	e := sl.edit()
	predKeys, _ := e.predecessors(index)

	for l := 1; l <= victim.level; l++ {
		p := e.mod(victim.prevKey[l-1])
		next := victim.nextKey[l-1]
		p.nextKey[l-1] = next
		if next != headKey {
			// the removed position collapses, shortening the bridge
			span := p.nextCount[l-1] + victim.nextCount[l-1] - 1
			p.nextCount[l-1] = span
			nn := e.mod(next)
			nn.prevKey[l-1] = p.key
			nn.prevCount[l-1] = span
		} else {
			p.nextCount[l-1] = 0
		}
	}

	top := e.get(headKey).level
	for l := victim.level + 1; l <= top; l++ {
		pk := predKeys[l-1]
		if e.get(pk).nextKey[l-1] == headKey {
			continue
		}
		p := e.mod(pk)
		p.nextCount[l-1]--
		nn := e.mod(p.nextKey[l-1])
		nn.prevCount[l-1]--
	}

	e.deleted = key
	return e.commit(sl.length - 1), nil
}

// RemoveIndex returns a list with the entry at index i removed.
// Negative indices count from the tail.
func (sl *SkipList) RemoveIndex(i int) (*SkipList, error) {
	key, ok := sl.KeyOf(i)
	if !ok {
		return nil, errors.Annotatef(ErrIndexOutOfRange, "remove at %d of %d", i, sl.length)
	}
	return sl.RemoveKey(key)
}

// edit is a copy-on-write working layer over a base list. Nodes are
// cloned at most once per edit; commit folds the clones into a new
// trie, leaving the base list untouched.
type edit struct {
	base    *SkipList
	scratch map[string]*node
	deleted string
}

func (sl *SkipList) edit() *edit {
	return &edit{base: sl, scratch: make(map[string]*node)}
}

func (e *edit) get(key string) *node {
	if n, ok := e.scratch[key]; ok {
		return n
	}
	return e.base.getNode(key)
}

func (e *edit) mod(key string) *node {
	if n, ok := e.scratch[key]; ok {
		return n
	}
	n := e.base.getNode(key).clone()
	e.scratch[key] = n
	return n
}

// predecessors returns, for every level of the head tower, the key
// and internal position of the rightmost node at that level whose
// position is <= i (element index i sits at internal position i+1).
func (e *edit) predecessors(i int) (keys []string, positions []int) {
	head := e.get(headKey)
	keys = make([]string, head.level)
	positions = make([]int, head.level)
	n := head
	pos := 0
	for l := head.level; l >= 1; l-- {
		for n.nextKey[l-1] != headKey && pos+n.nextCount[l-1] <= i {
			pos += n.nextCount[l-1]
			n = e.get(n.nextKey[l-1])
		}
		keys[l-1] = n.key
		positions[l-1] = pos
	}
	return keys, positions
}

func (e *edit) commit(length int) *SkipList {
	m := e.base.nodes
	for key, n := range e.scratch {
		m = m.Set(key, n)
	}
	if e.deleted != "" {
		m = m.Delete(e.deleted)
	}
	return &SkipList{nodes: m, length: length, src: e.base.src}
}
