// pkg/skiplist/iterator.go
package skiplist

// Entry is one (key, value) pair yielded by an Iterator.
type Entry struct {
	Key   string
	Value any
}

// Iterator walks the list in index order. It is single-pass and
// non-restartable: call Next until it reports false.
type Iterator struct {
	sl   *SkipList
	next string
}

// Iterator returns an iterator positioned before the first entry.
// The iterator reads the snapshot it was created from; later derived
// lists do not affect it.
func (sl *SkipList) Iterator() *Iterator {
	head := sl.getNode(headKey)
	return &Iterator{sl: sl, next: head.nextKey[0]}
}

// Next yields the next entry, or ok=false when the list is exhausted.
func (it *Iterator) Next() (Entry, bool) {
	if it.next == headKey {
		return Entry{}, false
	}
	n := it.sl.getNode(it.next)
	it.next = n.nextKey[0]
	return Entry{Key: n.key, Value: n.value}, true
}

// Keys returns every key in index order.
func (sl *SkipList) Keys() []string {
	keys := make([]string, 0, sl.length)
	for it := sl.Iterator(); ; {
		entry, ok := it.Next()
		if !ok {
			break
		}
		keys = append(keys, entry.Key)
	}
	return keys
}

// Values returns every value in index order.
func (sl *SkipList) Values() []any {
	values := make([]any, 0, sl.length)
	for it := sl.Iterator(); ; {
		entry, ok := it.Next()
		if !ok {
			break
		}
		values = append(values, entry.Value)
	}
	return values
}
