// pkg/backend/objects.go
package backend

import (
	"github.com/juju/errors"

	"opdoc/pkg/skiplist"
	"opdoc/pkg/types"
)

// fieldOp is an operation stamped with the actor and sequence number
// of the change that carried it. The stamp is what concurrency checks
// and conflict ordering key on.
type fieldOp struct {
	types.Op
	Actor string
	Seq   uint64
}

// objRecord is the per-object store entry: the object's type, its
// field registers, the links pointing into it, and for sequence
// objects the insertion tree and the visible-position index.
type objRecord struct {
	objectID string
	objType  types.ObjectType

	// fields maps each key (map key or element id) to its current set
	// of concurrent ops, sorted by actor id descending
	fields map[string][]fieldOp

	// inbound holds the live link ops whose value is this object
	inbound []fieldOp

	// following maps a parent element id (or Head) to the insertions
	// made directly after it, in Lamport order: higher elem first,
	// ties by actor id descending
	following map[string][]fieldOp

	// insertions maps element id to the op that inserted it
	insertions map[string]fieldOp

	// maxElem is the largest insertion counter observed
	maxElem uint64

	// elemIDs indexes the visible elements: exactly the element ids
	// with a non-empty field set, in document order. Node values hold
	// the element's field set.
	elemIDs *skiplist.SkipList
}

func newObjRecord(objectID string, objType types.ObjectType) *objRecord {
	r := &objRecord{
		objectID: objectID,
		objType:  objType,
		fields:   make(map[string][]fieldOp),
	}
	if objType == types.TypeList || objType == types.TypeText {
		r.following = make(map[string][]fieldOp)
		r.insertions = make(map[string]fieldOp)
	}
	return r
}

// isSequence reports whether the object holds ordered elements.
func (r *objRecord) isSequence() bool {
	return r.objType == types.TypeList || r.objType == types.TypeText
}

// clone returns a copy whose containers can be modified without
// affecting the original. Field slices are shared and replaced
// wholesale on write; the skip list is persistent and shared until
// reassigned.
func (r *objRecord) clone() *objRecord {
	c := *r
	c.fields = make(map[string][]fieldOp, len(r.fields))
	for key, ops := range r.fields {
		c.fields[key] = ops
	}
	c.inbound = append([]fieldOp(nil), r.inbound...)
	if r.following != nil {
		c.following = make(map[string][]fieldOp, len(r.following))
		for key, ops := range r.following {
			c.following[key] = ops
		}
	}
	if r.insertions != nil {
		c.insertions = make(map[string]fieldOp, len(r.insertions))
		for key, op := range r.insertions {
			c.insertions[key] = op
		}
	}
	return &c
}

// applyMake creates a new object and emits its create diff. Sequence
// objects get an empty element index here, sharing the engine's level
// source.
func (m *mut) applyMake(op fieldOp) error {
	if m.record(op.Obj) != nil {
		return errors.WithType(
			errors.Errorf("object %s already exists", op.Obj), types.ErrDuplicateCreate)
	}
	var objType types.ObjectType
	switch op.Action {
	case types.ActionMakeMap:
		objType = types.TypeMap
	case types.ActionMakeTable:
		objType = types.TypeTable
	case types.ActionMakeList:
		objType = types.TypeList
	case types.ActionMakeText:
		objType = types.TypeText
	}
	record := newObjRecord(op.Obj, objType)
	if record.isSequence() {
		record.elemIDs = skiplist.NewWithSource(m.s.rand)
	}
	m.s.objects[op.Obj] = record
	m.cloned[op.Obj] = true
	m.created[op.Obj] = true
	m.diffs = append(m.diffs, types.Diff{
		Action: types.DiffCreate,
		Type:   objType,
		Obj:    op.Obj,
	})
	return nil
}

// applyInsert records a new list position. Insertion alone emits no
// diff: the element becomes visible only once a value is assigned to
// it.
func (m *mut) applyInsert(op fieldOp) error {
	record := m.record(op.Obj)
	if record == nil {
		return errors.WithType(
			errors.Errorf("insertion into unknown object %s", op.Obj), types.ErrUnknownObject)
	}
	if !record.isSequence() {
		return errors.WithType(
			errors.Errorf("insertion into %s object %s", record.objType, op.Obj),
			types.ErrInvalidRequest)
	}
	if op.Key != types.Head {
		if _, ok := record.insertions[op.Key]; !ok {
			return errors.WithType(
				errors.Errorf("insertion after unknown element %s in %s", op.Key, op.Obj),
				types.ErrUnknownPred)
		}
	}
	elemID := types.MakeElemID(op.Actor, op.Elem)
	if _, ok := record.insertions[elemID]; ok {
		return errors.WithType(
			errors.Errorf("duplicate insertion of element %s in %s", elemID, op.Obj),
			types.ErrDuplicateElem)
	}

	record = m.writable(op.Obj)
	record.following[op.Key] = insertSibling(record.following[op.Key], op)
	record.insertions[elemID] = op
	if op.Elem > record.maxElem {
		record.maxElem = op.Elem
	}
	return nil
}
