// pkg/backend/undo.go
package backend

import (
	"github.com/juju/errors"

	"opdoc/pkg/types"
)

// applyRequestChange applies a fresh local change. For an undoable
// change the inverse ops captured during application are pushed onto
// the undo stack, truncating any undone-but-not-redone tail, and the
// redo stack is cleared.
func (m *mut) applyRequestChange(req types.Request) error {
	change := types.Change{
		Actor:   req.Actor,
		Seq:     req.Seq,
		Deps:    req.Deps,
		Message: req.Message,
		Ops:     req.Ops,
	}
	if !m.causallyReady(change) {
		return errors.WithType(
			errors.Errorf("local change %s:%d depends on unapplied changes", req.Actor, req.Seq),
			types.ErrInvalidRequest)
	}
	if !req.Undoable {
		return errors.Trace(m.applyChange(change))
	}

	m.undoLocal = []types.Op{}
	if err := m.applyChange(change); err != nil {
		return errors.Trace(err)
	}
	stack := make([][]types.Op, m.s.undoPos, m.s.undoPos+1)
	copy(stack, m.s.undoStack[:m.s.undoPos])
	m.s.undoStack = append(stack, m.undoLocal)
	m.s.undoPos++
	m.s.redoStack = nil
	m.undoLocal = nil
	return nil
}

// applyUndo applies a local change whose ops are the top undo buffer.
// Before applying, the matching redo ops are synthesized from the
// current registers of every field the buffer touches.
func (m *mut) applyUndo(req types.Request) error {
	if m.s.undoPos < 1 {
		return errors.WithType(
			errors.Errorf("undo requested by %s with empty undo stack", req.Actor),
			types.ErrEmptyUndo)
	}
	undoOps := m.s.undoStack[m.s.undoPos-1]
	redoOps := m.inverseOf(undoOps)

	change := types.Change{
		Actor:   req.Actor,
		Seq:     req.Seq,
		Deps:    req.Deps,
		Message: req.Message,
		Ops:     undoOps,
	}
	if !m.causallyReady(change) {
		return errors.WithType(
			errors.Errorf("undo %s:%d depends on unapplied changes", req.Actor, req.Seq),
			types.ErrInvalidRequest)
	}
	if err := m.applyChange(change); err != nil {
		return errors.Trace(err)
	}
	m.s.undoPos--
	stack := make([][]types.Op, len(m.s.redoStack), len(m.s.redoStack)+1)
	copy(stack, m.s.redoStack)
	m.s.redoStack = append(stack, redoOps)
	return nil
}

// applyRedo applies a local change whose ops are the top redo buffer.
func (m *mut) applyRedo(req types.Request) error {
	if len(m.s.redoStack) == 0 {
		return errors.WithType(
			errors.Errorf("redo requested by %s with empty redo stack", req.Actor),
			types.ErrEmptyRedo)
	}
	redoOps := m.s.redoStack[len(m.s.redoStack)-1]
	m.s.redoStack = append([][]types.Op(nil), m.s.redoStack[:len(m.s.redoStack)-1]...)

	change := types.Change{
		Actor:   req.Actor,
		Seq:     req.Seq,
		Deps:    req.Deps,
		Message: req.Message,
		Ops:     redoOps,
	}
	if !m.causallyReady(change) {
		return errors.WithType(
			errors.Errorf("redo %s:%d depends on unapplied changes", req.Actor, req.Seq),
			types.ErrInvalidRequest)
	}
	if err := m.applyChange(change); err != nil {
		return errors.Trace(err)
	}
	m.s.undoPos++
	return nil
}

// inverseOf reads the current register of every field the given ops
// assign and returns the ops that would restore those registers: the
// present ops stripped of their stamps, or a del for an empty field.
func (m *mut) inverseOf(ops []types.Op) []types.Op {
	var inverse []types.Op
	for _, op := range ops {
		switch op.Action {
		case types.ActionSet, types.ActionDel, types.ActionLink:
		default:
			continue
		}
		var existing []fieldOp
		if record := m.record(op.Obj); record != nil {
			existing = record.fields[op.Key]
		}
		if len(existing) == 0 {
			inverse = append(inverse, types.Op{Action: types.ActionDel, Obj: op.Obj, Key: op.Key})
			continue
		}
		for _, prior := range existing {
			inverse = append(inverse, types.Op{
				Action:   prior.Action,
				Obj:      prior.Obj,
				Key:      prior.Key,
				Value:    prior.Value,
				Datatype: prior.Datatype,
			})
		}
	}
	return inverse
}
