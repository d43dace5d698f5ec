// pkg/backend/listorder.go
package backend

import (
	"github.com/juju/errors"

	"opdoc/pkg/types"
)

// elemIDOf returns the element id an insertion op allocated.
func elemIDOf(op fieldOp) string {
	return types.MakeElemID(op.Actor, op.Elem)
}

// siblingBefore reports whether insertion a orders before insertion b
// among children of the same parent: higher element counter first,
// ties broken by actor id descending.
func siblingBefore(a, b fieldOp) bool {
	if a.Elem != b.Elem {
		return a.Elem > b.Elem
	}
	return a.Actor > b.Actor
}

// insertSibling returns a new slice with op placed at its Lamport
// position among its siblings. The input slice is not modified.
func insertSibling(siblings []fieldOp, op fieldOp) []fieldOp {
	at := len(siblings)
	for i, sib := range siblings {
		if siblingBefore(op, sib) {
			at = i
			break
		}
	}
	out := make([]fieldOp, 0, len(siblings)+1)
	out = append(out, siblings[:at]...)
	out = append(out, op)
	out = append(out, siblings[at:]...)
	return out
}

func siblingIndex(siblings []fieldOp, elemID string) int {
	for i, sib := range siblings {
		if elemIDOf(sib) == elemID {
			return i
		}
	}
	return -1
}

// nextElem returns the element that follows x in document order, or
// "" at the end of the sequence. x may be Head. The order is the
// in-order traversal of the insertion tree: an element's children
// (later insertions first) come directly after it.
func (r *objRecord) nextElem(x string) string {
	if children := r.following[x]; len(children) > 0 {
		return elemIDOf(children[0])
	}
	for x != types.Head {
		ins, ok := r.insertions[x]
		if !ok {
			return ""
		}
		parent := ins.Key
		siblings := r.following[parent]
		if i := siblingIndex(siblings, x); i >= 0 && i+1 < len(siblings) {
			return elemIDOf(siblings[i+1])
		}
		x = parent
	}
	return ""
}

// prevElem returns the element that precedes x in document order, or
// "" when x is the first element.
func (r *objRecord) prevElem(x string) string {
	ins, ok := r.insertions[x]
	if !ok {
		return ""
	}
	parent := ins.Key
	siblings := r.following[parent]
	i := siblingIndex(siblings, x)
	if i <= 0 {
		if parent == types.Head {
			return ""
		}
		return parent
	}
	// the predecessor is the last in-order descendant of the previous
	// sibling's subtree
	z := elemIDOf(siblings[i-1])
	for {
		children := r.following[z]
		if len(children) == 0 {
			return z
		}
		z = elemIDOf(children[len(children)-1])
	}
}

// updateListElement reconciles the visible-position index with an
// element's field register after an assignment, and emits the
// matching insert, set or remove diff.
func (m *mut) updateListElement(record *objRecord, elemID string) error {
	ops := record.fields[elemID]
	index := record.elemIDs.IndexOf(elemID)

	if index < 0 {
		if len(ops) == 0 {
			// assignment to an invisible element left it invisible
			return nil
		}
		insertAt := 0
		for prev := record.prevElem(elemID); prev != ""; prev = record.prevElem(prev) {
			if i := record.elemIDs.IndexOf(prev); i >= 0 {
				insertAt = i + 1
				break
			}
		}
		updated, err := record.elemIDs.InsertIndex(insertAt, elemID, ops)
		if err != nil {
			return errors.Trace(err)
		}
		record.elemIDs = updated
		diff := types.Diff{
			Action: types.DiffInsert,
			Type:   record.objType,
			Obj:    record.objectID,
			Index:  insertAt,
			ElemID: elemID,
		}
		applyWinner(&diff, ops)
		m.diffs = append(m.diffs, diff)
		return nil
	}

	if len(ops) == 0 {
		updated, err := record.elemIDs.RemoveKey(elemID)
		if err != nil {
			return errors.Trace(err)
		}
		record.elemIDs = updated
		m.diffs = append(m.diffs, types.Diff{
			Action: types.DiffRemove,
			Type:   record.objType,
			Obj:    record.objectID,
			Index:  index,
		})
		return nil
	}

	updated, err := record.elemIDs.SetValue(elemID, ops)
	if err != nil {
		return errors.Trace(err)
	}
	record.elemIDs = updated
	diff := types.Diff{
		Action: types.DiffSet,
		Type:   record.objType,
		Obj:    record.objectID,
		Index:  index,
	}
	applyWinner(&diff, ops)
	m.diffs = append(m.diffs, diff)
	return nil
}
