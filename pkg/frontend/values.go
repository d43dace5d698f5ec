// pkg/frontend/values.go
// Package frontend maintains a cached, immutable materialization of a
// document: plain container values rebuilt from backend patches, a
// pending queue of optimistically applied local requests, and the
// mutation sessions that produce change requests.
package frontend

import (
	"reflect"
	"sort"
	"strings"
	"time"
)

// Map is a materialized map object. Values are primitives, time.Time,
// or nested containers. Maps are immutable; mutate through a change
// session.
type Map struct {
	objectID  string
	entries   map[string]any
	conflicts map[string]map[string]any
}

// ObjectID returns the backend identifier of this map.
func (m *Map) ObjectID() string { return m.objectID }

// Len returns the number of keys.
func (m *Map) Len() int { return len(m.entries) }

// Get returns the value under key.
func (m *Map) Get(key string) (any, bool) {
	v, ok := m.entries[key]
	return v, ok
}

// Keys returns the keys in sorted order.
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Conflicts returns the losing concurrent values for key, by actor,
// or nil when the key is unconflicted.
func (m *Map) Conflicts(key string) map[string]any {
	return m.conflicts[key]
}

func (m *Map) clone() *Map {
	c := &Map{
		objectID:  m.objectID,
		entries:   make(map[string]any, len(m.entries)),
		conflicts: make(map[string]map[string]any, len(m.conflicts)),
	}
	for k, v := range m.entries {
		c.entries[k] = v
	}
	for k, v := range m.conflicts {
		c.conflicts[k] = v
	}
	return c
}

// Table is a materialized table object: rows keyed by row id, each
// row a nested container.
type Table struct {
	objectID  string
	rows      map[string]any
	conflicts map[string]map[string]any
}

// ObjectID returns the backend identifier of this table.
func (t *Table) ObjectID() string { return t.objectID }

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Row returns the row stored under id.
func (t *Table) Row(id string) (any, bool) {
	v, ok := t.rows[id]
	return v, ok
}

// IDs returns the row ids in sorted order.
func (t *Table) IDs() []string {
	ids := make([]string, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *Table) clone() *Table {
	c := &Table{
		objectID:  t.objectID,
		rows:      make(map[string]any, len(t.rows)),
		conflicts: make(map[string]map[string]any, len(t.conflicts)),
	}
	for k, v := range t.rows {
		c.rows[k] = v
	}
	for k, v := range t.conflicts {
		c.conflicts[k] = v
	}
	return c
}

// List is a materialized ordered list. The element ids run parallel
// to the values and stay stable across edits elsewhere in the list.
type List struct {
	objectID  string
	elems     []any
	conflicts []map[string]any
	elemIDs   []string
	maxElem   uint64
}

// ObjectID returns the backend identifier of this list.
func (l *List) ObjectID() string { return l.objectID }

// Len returns the number of visible elements.
func (l *List) Len() int { return len(l.elems) }

// Get returns the element at index i.
func (l *List) Get(i int) (any, bool) {
	if i < 0 || i >= len(l.elems) {
		return nil, false
	}
	return l.elems[i], true
}

// ElemIDs returns the element ids in document order.
func (l *List) ElemIDs() []string {
	return append([]string(nil), l.elemIDs...)
}

// Conflicts returns the losing concurrent values at index i.
func (l *List) Conflicts(i int) map[string]any {
	if i < 0 || i >= len(l.conflicts) {
		return nil
	}
	return l.conflicts[i]
}

func (l *List) clone() *List {
	return &List{
		objectID:  l.objectID,
		elems:     append([]any(nil), l.elems...),
		conflicts: append([]map[string]any(nil), l.conflicts...),
		elemIDs:   append([]string(nil), l.elemIDs...),
		maxElem:   l.maxElem,
	}
}

// Text is a materialized collaborative text: a list whose elements
// are single-character strings.
type Text struct {
	List
}

// String returns the text as a plain string.
func (t *Text) String() string {
	var b strings.Builder
	for _, elem := range t.elems {
		if s, ok := elem.(string); ok {
			b.WriteString(s)
		}
	}
	return b.String()
}

func (t *Text) clone() *Text {
	return &Text{List: *t.List.clone()}
}

// objectIDOf returns the backend id of a materialized container, or
// "" for a primitive value.
func objectIDOf(v any) string {
	switch c := v.(type) {
	case *Map:
		return c.objectID
	case *Table:
		return c.objectID
	case *List:
		return c.objectID
	case *Text:
		return c.objectID
	}
	return ""
}

// Equal compares two materialized values structurally: container
// contents and primitives, ignoring which replica produced them.
func Equal(a, b any) bool {
	switch av := a.(type) {
	case *Map:
		bv, ok := b.(*Map)
		if !ok || len(av.entries) != len(bv.entries) {
			return false
		}
		for key, v := range av.entries {
			w, ok := bv.entries[key]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	case *Table:
		bv, ok := b.(*Table)
		if !ok || len(av.rows) != len(bv.rows) {
			return false
		}
		for id, v := range av.rows {
			w, ok := bv.rows[id]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	case *List:
		bv, ok := b.(*List)
		if !ok || len(av.elems) != len(bv.elems) {
			return false
		}
		for i, v := range av.elems {
			if !Equal(v, bv.elems[i]) {
				return false
			}
		}
		return true
	case *Text:
		bv, ok := b.(*Text)
		return ok && av.String() == bv.String()
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	default:
		return reflect.DeepEqual(a, b)
	}
}
