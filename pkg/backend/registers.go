// pkg/backend/registers.go
package backend

import (
	"sort"

	"github.com/juju/errors"

	"opdoc/pkg/types"
)

// isConcurrent reports whether neither op's change observed the
// other's. Each side's stored transitive dependency clock is compared
// against the other's (actor, seq) stamp. Ops by the same actor are
// never concurrent: an actor's changes are totally ordered, and
// within one change later ops observe earlier ones.
func (m *mut) isConcurrent(op1, op2 fieldOp) bool {
	if op1.Actor == op2.Actor {
		return false
	}
	deps1 := m.allDepsOf(op1)
	deps2 := m.allDepsOf(op2)
	return deps1.Get(op2.Actor) < op2.Seq && deps2.Get(op1.Actor) < op1.Seq
}

// allDepsOf returns the transitive dependency clock captured when the
// op's change was applied.
func (m *mut) allDepsOf(op fieldOp) types.Clock {
	return m.s.states[op.Actor][op.Seq-1].allDeps
}

// applyAssign applies a set, del or link op to a field register:
// ops the incoming change observed are overwritten, concurrent ops
// survive alongside the incoming one, and the survivors are ordered
// by actor id descending so every replica picks the same winner.
func (m *mut) applyAssign(op fieldOp) error {
	record := m.record(op.Obj)
	if record == nil {
		return errors.WithType(
			errors.Errorf("assignment to unknown object %s", op.Obj), types.ErrUnknownObject)
	}
	if record.isSequence() {
		if _, ok := record.insertions[op.Key]; !ok {
			return errors.WithType(
				errors.Errorf("assignment to unknown element %s in %s", op.Key, op.Obj),
				types.ErrUnknownPred)
		}
	}
	if op.Action == types.ActionLink {
		target, ok := op.Value.(string)
		if !ok || m.record(target) == nil {
			return errors.WithType(
				errors.Errorf("link from %s.%q to unknown object %v", op.Obj, op.Key, op.Value),
				types.ErrUnknownObject)
		}
	}

	if m.undoLocal != nil && !m.created[op.Obj] {
		m.captureInverse(record, op)
	}

	record = m.writable(op.Obj)
	var overwritten, remaining []fieldOp
	for _, existing := range record.fields[op.Key] {
		if m.isConcurrent(existing, op) {
			remaining = append(remaining, existing)
		} else {
			overwritten = append(overwritten, existing)
		}
	}

	for _, old := range overwritten {
		if old.Action == types.ActionLink {
			m.removeInbound(old)
		}
	}
	if op.Action == types.ActionLink {
		target := m.writable(op.Value.(string))
		target.inbound = append(target.inbound, op)
	}
	if op.Action != types.ActionDel {
		remaining = append(remaining, op)
	}
	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].Actor > remaining[j].Actor
	})
	if len(remaining) == 0 {
		delete(record.fields, op.Key)
	} else {
		record.fields[op.Key] = remaining
	}

	if record.isSequence() {
		return errors.Trace(m.updateListElement(record, op.Key))
	}
	m.diffs = append(m.diffs, fieldDiff(record, op.Key, remaining))
	return nil
}

// removeInbound drops an overwritten link op from its target's
// inbound set.
func (m *mut) removeInbound(link fieldOp) {
	targetID, ok := link.Value.(string)
	if !ok {
		return
	}
	target := m.writable(targetID)
	if target == nil {
		return
	}
	kept := target.inbound[:0:0]
	for _, in := range target.inbound {
		if in.Actor == link.Actor && in.Seq == link.Seq &&
			in.Obj == link.Obj && in.Key == link.Key {
			continue
		}
		kept = append(kept, in)
	}
	target.inbound = kept
}

// captureInverse prepends to the active undo buffer the ops that
// restore the field being assigned: the ops currently present, or a
// del when the field is empty.
func (m *mut) captureInverse(record *objRecord, op fieldOp) {
	existing := record.fields[op.Key]
	var inverse []types.Op
	if len(existing) == 0 {
		inverse = []types.Op{{Action: types.ActionDel, Obj: op.Obj, Key: op.Key}}
	} else {
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
	m.undoLocal = append(inverse, m.undoLocal...)
}

// fieldDiff builds the set/remove diff for a map or table field after
// its register changed.
func fieldDiff(record *objRecord, key string, ops []fieldOp) types.Diff {
	diff := types.Diff{
		Type: record.objType,
		Obj:  record.objectID,
		Key:  key,
	}
	if len(ops) == 0 {
		diff.Action = types.DiffRemove
		return diff
	}
	diff.Action = types.DiffSet
	applyWinner(&diff, ops)
	return diff
}

// applyWinner fills a diff's value payload from a field's op set: the
// first op wins, the rest are reported as conflicts.
func applyWinner(diff *types.Diff, ops []fieldOp) {
	winner := ops[0]
	diff.Value = winner.Value
	diff.Datatype = winner.Datatype
	diff.Link = winner.Action == types.ActionLink
	if len(ops) > 1 {
		conflicts := make([]types.Conflict, 0, len(ops)-1)
		for _, loser := range ops[1:] {
			conflicts = append(conflicts, types.Conflict{
				Actor:    loser.Actor,
				Value:    loser.Value,
				Link:     loser.Action == types.ActionLink,
				Datatype: loser.Datatype,
			})
		}
		diff.Conflicts = conflicts
	}
}
