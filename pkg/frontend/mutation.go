// pkg/frontend/mutation.go
package frontend

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"opdoc/pkg/types"
)

// Mutation is one editing session over a document snapshot. Edits
// take effect immediately within the session (later edits observe
// earlier ones) and accumulate the operation list and diff sequence
// that Change turns into a single request.
type Mutation struct {
	cur   *Document
	ops   []types.Op
	diffs []types.Diff
}

// Root returns the editable view of the document's root map.
func (mu *Mutation) Root() *MutMap {
	return &MutMap{mu: mu, objectID: types.RootObjectID}
}

// apply folds an edit's ops and diffs into the session: the working
// snapshot advances so the session observes its own edits.
func (mu *Mutation) apply(ops []types.Op, diffs []types.Diff) error {
	cache, inbound, err := cacheApply(mu.cur.cache, mu.cur.inbound, diffs)
	if err != nil {
		return errors.Trace(err)
	}
	nd := *mu.cur
	nd.cache = cache
	nd.inbound = inbound
	mu.cur = &nd
	mu.ops = append(mu.ops, ops...)
	mu.diffs = append(mu.diffs, diffs...)
	return nil
}

// valueRef is the wire form of an edited value: either a normalized
// primitive with an optional datatype, or a link to an object the
// session just created or already holds.
type valueRef struct {
	link     bool
	value    any
	datatype string
}

// buildValue normalizes a value for the wire. Nested map and slice
// literals become freshly created objects, emitted into the session
// before the reference to them. Numbers are canonicalized to float64
// so locally built and decoded documents compare equal.
func (mu *Mutation) buildValue(v any) (valueRef, error) {
	switch value := v.(type) {
	case nil, bool, string:
		return valueRef{value: value}, nil
	case float64:
		return valueRef{value: value}, nil
	case float32:
		return valueRef{value: float64(value)}, nil
	case int:
		return valueRef{value: float64(value)}, nil
	case int8:
		return valueRef{value: float64(value)}, nil
	case int16:
		return valueRef{value: float64(value)}, nil
	case int32:
		return valueRef{value: float64(value)}, nil
	case int64:
		return valueRef{value: float64(value)}, nil
	case uint:
		return valueRef{value: float64(value)}, nil
	case uint8:
		return valueRef{value: float64(value)}, nil
	case uint16:
		return valueRef{value: float64(value)}, nil
	case uint32:
		return valueRef{value: float64(value)}, nil
	case uint64:
		return valueRef{value: float64(value)}, nil
	case time.Time:
		return valueRef{value: float64(value.UnixMilli()), datatype: types.DatatypeTimestamp}, nil
	case map[string]any:
		objectID, err := mu.makeObject(types.ActionMakeMap, types.TypeMap)
		if err != nil {
			return valueRef{}, errors.Trace(err)
		}
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if err := mu.assign(objectID, types.TypeMap, key, value[key]); err != nil {
				return valueRef{}, errors.Trace(err)
			}
		}
		return valueRef{link: true, value: objectID}, nil
	case []any:
		objectID, err := mu.makeObject(types.ActionMakeList, types.TypeList)
		if err != nil {
			return valueRef{}, errors.Trace(err)
		}
		for i, elem := range value {
			if err := mu.listInsert(objectID, i, elem); err != nil {
				return valueRef{}, errors.Trace(err)
			}
		}
		return valueRef{link: true, value: objectID}, nil
	}
	if id := objectIDOf(v); id != "" {
		return valueRef{}, errors.NotValidf("reusing materialized object %s as a new value", id)
	}
	return valueRef{}, errors.NotValidf("value of type %T", v)
}

// makeObject emits a creation op and diff for a fresh object.
func (mu *Mutation) makeObject(action types.Action, objType types.ObjectType) (string, error) {
	objectID := uuid.NewString()
	op := types.Op{Action: action, Obj: objectID}
	diff := types.Diff{Action: types.DiffCreate, Type: objType, Obj: objectID}
	if err := mu.apply([]types.Op{op}, []types.Diff{diff}); err != nil {
		return "", errors.Trace(err)
	}
	return objectID, nil
}

// assign emits a set or link on a map or table field.
func (mu *Mutation) assign(objectID string, objType types.ObjectType, key string, v any) error {
	ref, err := mu.buildValue(v)
	if err != nil {
		return errors.Trace(err)
	}
	op := types.Op{Action: types.ActionSet, Obj: objectID, Key: key,
		Value: ref.value, Datatype: ref.datatype}
	if ref.link {
		op.Action = types.ActionLink
	}
	diff := types.Diff{Action: types.DiffSet, Type: objType, Obj: objectID, Key: key,
		Value: ref.value, Link: ref.link, Datatype: ref.datatype}
	return errors.Trace(mu.apply([]types.Op{op}, []types.Diff{diff}))
}

// seqContainer resolves a list or text object in the working snapshot.
func (mu *Mutation) seqContainer(objectID string) (*List, types.ObjectType, error) {
	switch c := mu.cur.cache[objectID].(type) {
	case *List:
		return c, types.TypeList, nil
	case *Text:
		return &c.List, types.TypeText, nil
	}
	return nil, "", errors.NotFoundf("sequence object %s", objectID)
}

// listInsert emits an insertion at index i: an ins op allocating the
// element id, then the assignment that makes it visible.
func (mu *Mutation) listInsert(objectID string, i int, v any) error {
	list, objType, err := mu.seqContainer(objectID)
	if err != nil {
		return errors.Trace(err)
	}
	if i < 0 || i > len(list.elems) {
		return errors.NotValidf("insert at %d of %d", i, len(list.elems))
	}
	counter := list.maxElem + 1
	elemID := types.MakeElemID(mu.cur.actor, counter)
	pred := types.Head
	if i > 0 {
		pred = list.elemIDs[i-1]
	}
	ref, err := mu.buildValue(v)
	if err != nil {
		return errors.Trace(err)
	}
	ins := types.Op{Action: types.ActionIns, Obj: objectID, Key: pred, Elem: counter}
	set := types.Op{Action: types.ActionSet, Obj: objectID, Key: elemID,
		Value: ref.value, Datatype: ref.datatype}
	if ref.link {
		set.Action = types.ActionLink
	}
	diff := types.Diff{Action: types.DiffInsert, Type: objType, Obj: objectID,
		Index: i, ElemID: elemID, Value: ref.value, Link: ref.link, Datatype: ref.datatype}
	return errors.Trace(mu.apply([]types.Op{ins, set}, []types.Diff{diff}))
}

// listSet emits an assignment to the element currently at index i.
func (mu *Mutation) listSet(objectID string, i int, v any) error {
	list, objType, err := mu.seqContainer(objectID)
	if err != nil {
		return errors.Trace(err)
	}
	if i < 0 || i >= len(list.elems) {
		return errors.NotValidf("set at %d of %d", i, len(list.elems))
	}
	ref, err := mu.buildValue(v)
	if err != nil {
		return errors.Trace(err)
	}
	op := types.Op{Action: types.ActionSet, Obj: objectID, Key: list.elemIDs[i],
		Value: ref.value, Datatype: ref.datatype}
	if ref.link {
		op.Action = types.ActionLink
	}
	diff := types.Diff{Action: types.DiffSet, Type: objType, Obj: objectID,
		Index: i, Value: ref.value, Link: ref.link, Datatype: ref.datatype}
	return errors.Trace(mu.apply([]types.Op{op}, []types.Diff{diff}))
}

// listDelete emits a deletion of the element currently at index i.
func (mu *Mutation) listDelete(objectID string, i int) error {
	list, objType, err := mu.seqContainer(objectID)
	if err != nil {
		return errors.Trace(err)
	}
	if i < 0 || i >= len(list.elems) {
		return errors.NotValidf("delete at %d of %d", i, len(list.elems))
	}
	op := types.Op{Action: types.ActionDel, Obj: objectID, Key: list.elemIDs[i]}
	diff := types.Diff{Action: types.DiffRemove, Type: objType, Obj: objectID, Index: i}
	return errors.Trace(mu.apply([]types.Op{op}, []types.Diff{diff}))
}

// MutMap is the editable view of a map object.
type MutMap struct {
	mu       *Mutation
	objectID string
}

// ObjectID returns the id of the map being edited.
func (m *MutMap) ObjectID() string { return m.objectID }

// Set assigns a value under key. Map and slice literals create nested
// objects; time.Time values are stored as timestamps.
func (m *MutMap) Set(key string, v any) error {
	return errors.Trace(m.mu.assign(m.objectID, m.objType(), key, v))
}

// Delete removes the value under key.
func (m *MutMap) Delete(key string) error {
	entries, err := m.entries()
	if err != nil {
		return errors.Trace(err)
	}
	if _, ok := entries[key]; !ok {
		return errors.NotFoundf("key %q in %s", key, m.objectID)
	}
	op := types.Op{Action: types.ActionDel, Obj: m.objectID, Key: key}
	diff := types.Diff{Action: types.DiffRemove, Type: m.objType(), Obj: m.objectID, Key: key}
	return errors.Trace(m.mu.apply([]types.Op{op}, []types.Diff{diff}))
}

// SetMap creates an empty map under key and returns its editable view.
func (m *MutMap) SetMap(key string) (*MutMap, error) {
	objectID, err := m.setContainer(key, types.ActionMakeMap, types.TypeMap)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &MutMap{mu: m.mu, objectID: objectID}, nil
}

// SetList creates an empty list under key and returns its editable
// view.
func (m *MutMap) SetList(key string) (*MutList, error) {
	objectID, err := m.setContainer(key, types.ActionMakeList, types.TypeList)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &MutList{mu: m.mu, objectID: objectID}, nil
}

// SetText creates a text object under key, seeds it with the given
// string, and returns its editable view.
func (m *MutMap) SetText(key, initial string) (*MutText, error) {
	objectID, err := m.setContainer(key, types.ActionMakeText, types.TypeText)
	if err != nil {
		return nil, errors.Trace(err)
	}
	text := &MutText{mu: m.mu, objectID: objectID}
	if initial != "" {
		if err := text.Insert(0, initial); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return text, nil
}

// SetTable creates an empty table under key and returns its editable
// view.
func (m *MutMap) SetTable(key string) (*MutTable, error) {
	objectID, err := m.setContainer(key, types.ActionMakeTable, types.TypeTable)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &MutTable{mu: m.mu, objectID: objectID}, nil
}

func (m *MutMap) setContainer(key string, action types.Action, objType types.ObjectType) (string, error) {
	objectID, err := m.mu.makeObject(action, objType)
	if err != nil {
		return "", errors.Trace(err)
	}
	op := types.Op{Action: types.ActionLink, Obj: m.objectID, Key: key, Value: objectID}
	diff := types.Diff{Action: types.DiffSet, Type: m.objType(), Obj: m.objectID,
		Key: key, Value: objectID, Link: true}
	if err := m.mu.apply([]types.Op{op}, []types.Diff{diff}); err != nil {
		return "", errors.Trace(err)
	}
	return objectID, nil
}

// Map returns the editable view of the nested map under key.
func (m *MutMap) Map(key string) (*MutMap, error) {
	v, err := m.get(key)
	if err != nil {
		return nil, errors.Trace(err)
	}
	child, ok := v.(*Map)
	if !ok {
		return nil, errors.NotValidf("key %q in %s: %T is not a map", key, m.objectID, v)
	}
	return &MutMap{mu: m.mu, objectID: child.objectID}, nil
}

// List returns the editable view of the nested list under key.
func (m *MutMap) List(key string) (*MutList, error) {
	v, err := m.get(key)
	if err != nil {
		return nil, errors.Trace(err)
	}
	child, ok := v.(*List)
	if !ok {
		return nil, errors.NotValidf("key %q in %s: %T is not a list", key, m.objectID, v)
	}
	return &MutList{mu: m.mu, objectID: child.objectID}, nil
}

// Text returns the editable view of the nested text under key.
func (m *MutMap) Text(key string) (*MutText, error) {
	v, err := m.get(key)
	if err != nil {
		return nil, errors.Trace(err)
	}
	child, ok := v.(*Text)
	if !ok {
		return nil, errors.NotValidf("key %q in %s: %T is not a text", key, m.objectID, v)
	}
	return &MutText{mu: m.mu, objectID: child.objectID}, nil
}

// Table returns the editable view of the nested table under key.
func (m *MutMap) Table(key string) (*MutTable, error) {
	v, err := m.get(key)
	if err != nil {
		return nil, errors.Trace(err)
	}
	child, ok := v.(*Table)
	if !ok {
		return nil, errors.NotValidf("key %q in %s: %T is not a table", key, m.objectID, v)
	}
	return &MutTable{mu: m.mu, objectID: child.objectID}, nil
}

func (m *MutMap) get(key string) (any, error) {
	entries, err := m.entries()
	if err != nil {
		return nil, errors.Trace(err)
	}
	v, ok := entries[key]
	if !ok {
		return nil, errors.NotFoundf("key %q in %s", key, m.objectID)
	}
	return v, nil
}

func (m *MutMap) entries() (map[string]any, error) {
	c, ok := m.mu.cur.cache[m.objectID].(*Map)
	if !ok {
		return nil, errors.NotFoundf("map object %s", m.objectID)
	}
	return c.entries, nil
}

func (m *MutMap) objType() types.ObjectType {
	return types.TypeMap
}

// MutList is the editable view of a list object.
type MutList struct {
	mu       *Mutation
	objectID string
}

// ObjectID returns the id of the list being edited.
func (l *MutList) ObjectID() string { return l.objectID }

// Len returns the current element count, including edits made earlier
// in this session.
func (l *MutList) Len() int {
	list, _, err := l.mu.seqContainer(l.objectID)
	if err != nil {
		return 0
	}
	return len(list.elems)
}

// Insert places a value at index i, shifting later elements right.
func (l *MutList) Insert(i int, v any) error {
	return errors.Trace(l.mu.listInsert(l.objectID, i, v))
}

// Append places a value after the current last element.
func (l *MutList) Append(v any) error {
	return errors.Trace(l.mu.listInsert(l.objectID, l.Len(), v))
}

// Set replaces the value at index i.
func (l *MutList) Set(i int, v any) error {
	return errors.Trace(l.mu.listSet(l.objectID, i, v))
}

// Delete removes the element at index i.
func (l *MutList) Delete(i int) error {
	return errors.Trace(l.mu.listDelete(l.objectID, i))
}

// MutText is the editable view of a text object.
type MutText struct {
	mu       *Mutation
	objectID string
}

// ObjectID returns the id of the text being edited.
func (t *MutText) ObjectID() string { return t.objectID }

// Len returns the current character count.
func (t *MutText) Len() int {
	list, _, err := t.mu.seqContainer(t.objectID)
	if err != nil {
		return 0
	}
	return len(list.elems)
}

// Insert places the characters of text at index i, one element per
// rune.
func (t *MutText) Insert(i int, text string) error {
	for offset, r := range []rune(text) {
		if err := t.mu.listInsert(t.objectID, i+offset, string(r)); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Delete removes n characters starting at index i.
func (t *MutText) Delete(i, n int) error {
	for k := 0; k < n; k++ {
		if err := t.mu.listDelete(t.objectID, i); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// MutTable is the editable view of a table object.
type MutTable struct {
	mu       *Mutation
	objectID string
}

// ObjectID returns the id of the table being edited.
func (t *MutTable) ObjectID() string { return t.objectID }

// Add creates a row from the given fields and returns its row id.
func (t *MutTable) Add(row map[string]any) (string, error) {
	rowID := uuid.NewString()
	makeOp := types.Op{Action: types.ActionMakeMap, Obj: rowID}
	makeDiff := types.Diff{Action: types.DiffCreate, Type: types.TypeMap, Obj: rowID}
	if err := t.mu.apply([]types.Op{makeOp}, []types.Diff{makeDiff}); err != nil {
		return "", errors.Trace(err)
	}
	keys := make([]string, 0, len(row))
	for key := range row {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := t.mu.assign(rowID, types.TypeMap, key, row[key]); err != nil {
			return "", errors.Trace(err)
		}
	}
	linkOp := types.Op{Action: types.ActionLink, Obj: t.objectID, Key: rowID, Value: rowID}
	linkDiff := types.Diff{Action: types.DiffSet, Type: types.TypeTable, Obj: t.objectID,
		Key: rowID, Value: rowID, Link: true}
	if err := t.mu.apply([]types.Op{linkOp}, []types.Diff{linkDiff}); err != nil {
		return "", errors.Trace(err)
	}
	return rowID, nil
}

// Remove deletes the row with the given id.
func (t *MutTable) Remove(rowID string) error {
	table, ok := t.mu.cur.cache[t.objectID].(*Table)
	if !ok {
		return errors.NotFoundf("table object %s", t.objectID)
	}
	if _, ok := table.rows[rowID]; !ok {
		return errors.NotFoundf("row %s in %s", rowID, t.objectID)
	}
	op := types.Op{Action: types.ActionDel, Obj: t.objectID, Key: rowID}
	diff := types.Diff{Action: types.DiffRemove, Type: types.TypeTable, Obj: t.objectID, Key: rowID}
	return errors.Trace(t.mu.apply([]types.Op{op}, []types.Diff{diff}))
}

// Row returns the editable view of a row.
func (t *MutTable) Row(rowID string) (*MutMap, error) {
	table, ok := t.mu.cur.cache[t.objectID].(*Table)
	if !ok {
		return nil, errors.NotFoundf("table object %s", t.objectID)
	}
	if _, ok := table.rows[rowID]; !ok {
		return nil, errors.NotFoundf("row %s in %s", rowID, t.objectID)
	}
	return &MutMap{mu: t.mu, objectID: rowID}, nil
}
