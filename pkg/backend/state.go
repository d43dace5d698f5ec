// pkg/backend/state.go
package backend

import (
	"opdoc/pkg/types"
)

// appliedChange is one entry of an actor's history: the change itself
// and the transitive closure of its dependencies at apply time. The
// closure is what makes concurrency checks a pair of map lookups.
type appliedChange struct {
	change  types.Change
	allDeps types.Clock
}

// mut is a copy-on-write working layer for one engine call. It starts
// from a shallow copy of the base state; containers are copied on
// first write and object records are cloned on first touch. If the
// call fails the working state is discarded and the base state is
// still intact.
type mut struct {
	base *State
	s    *State

	// cloned marks object ids whose records are private to this mut
	cloned map[string]bool

	// diffs accumulates the patch body in application order
	diffs []types.Diff

	// undoLocal, when non-nil, captures inverse ops for the local
	// change currently being applied
	undoLocal []types.Op

	// created holds the object ids made by the change currently being
	// applied; assignments to them are not undo-captured
	created map[string]bool
}

func (s *State) begin() *mut {
	ns := &State{
		clock:     s.clock.Copy(),
		deps:      s.deps.Copy(),
		states:    make(map[string][]appliedChange, len(s.states)),
		applied:   s.applied,
		queue:     append([]types.Change(nil), s.queue...),
		objects:   make(map[string]*objRecord, len(s.objects)),
		undoPos:   s.undoPos,
		undoStack: s.undoStack,
		redoStack: s.redoStack,
		rand:      s.rand,
	}
	for actor, history := range s.states {
		ns.states[actor] = history
	}
	for id, record := range s.objects {
		ns.objects[id] = record
	}
	return &mut{base: s, s: ns, cloned: make(map[string]bool)}
}

// record returns the object record for reading, or nil if unknown.
func (m *mut) record(objectID string) *objRecord {
	return m.s.objects[objectID]
}

// writable returns the object record cloned for modification.
func (m *mut) writable(objectID string) *objRecord {
	record := m.s.objects[objectID]
	if record == nil {
		return nil
	}
	if !m.cloned[objectID] {
		record = record.clone()
		m.s.objects[objectID] = record
		m.cloned[objectID] = true
	}
	return record
}

// appendHistory stores an applied change in its actor's history
// without sharing slice backing arrays with the base state.
func (m *mut) appendHistory(actor string, entry appliedChange) {
	history := m.s.states[actor]
	grown := make([]appliedChange, len(history), len(history)+1)
	copy(grown, history)
	m.s.states[actor] = append(grown, entry)

	order := make([]changeRef, len(m.s.applied), len(m.s.applied)+1)
	copy(order, m.s.applied)
	m.s.applied = append(order, changeRef{actor: actor, seq: entry.change.Seq})
}

// transitiveDeps expands a dependency clock to its transitive
// closure. Stored allDeps clocks are already transitive, so a single
// merge per entry suffices.
func (m *mut) transitiveDeps(base types.Clock) types.Clock {
	out := types.NewClock()
	for actor, seq := range base {
		if seq < 1 {
			continue
		}
		entry := m.s.states[actor][seq-1]
		out = out.Merge(entry.allDeps)
		if out.Get(actor) < seq {
			out[actor] = seq
		}
	}
	return out
}

// updateFrontier folds a newly applied change into the dependency
// frontier: entries the change transitively observed are superseded
// by the change itself.
func (m *mut) updateFrontier(change types.Change, allDeps types.Clock) {
	for actor := range m.s.deps {
		if m.s.deps.Get(actor) <= allDeps.Get(actor) {
			delete(m.s.deps, actor)
		}
	}
	m.s.deps[change.Actor] = change.Seq
}

// patch assembles the incremental patch for this mut's diffs.
func (m *mut) patch() *types.Patch {
	diffs := m.diffs
	if diffs == nil {
		diffs = []types.Diff{}
	}
	return &types.Patch{
		Clock:   m.s.clock.Copy(),
		Deps:    m.s.deps.Copy(),
		CanUndo: m.s.undoPos > 0,
		CanRedo: len(m.s.redoStack) > 0,
		Diffs:   diffs,
	}
}
