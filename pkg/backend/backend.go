// pkg/backend/backend.go
// Package backend implements the document engine: an operation log
// with causal-delivery queueing, per-field multi-value registers,
// tree-ordered list insertions indexed by a persistent skip list,
// undo/redo stacks, and patch generation.
//
// The engine is a pure state transformer. Every entry point takes a
// *State and returns a new *State; the input is never observably
// mutated, so a failed apply simply leaves the caller holding the old
// state. Callers that want concurrent access serialize calls per
// document; retained snapshots may be read from any goroutine.
package backend

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"opdoc/pkg/skiplist"
	"opdoc/pkg/types"
)

var logger = loggo.GetLogger("opdoc.backend")

// Options configures a fresh engine state.
type Options struct {
	// Rand supplies skip list tower levels. Leave nil for a seeded
	// xorshift; inject a fixed source for reproducible tests.
	Rand skiplist.Source
}

// changeRef identifies an applied change in application order.
type changeRef struct {
	actor string
	seq   uint64
}

// State is an immutable engine snapshot. All fields are private;
// embedders treat the value as opaque and thread it through the
// package-level functions.
type State struct {
	// clock maps each actor to the highest applied sequence number
	clock types.Clock

	// deps is the dependency frontier: the changes no later applied
	// change depends on. It becomes the deps of the next local change.
	deps types.Clock

	// states holds the per-actor history of applied changes together
	// with their transitive dependency clocks
	states map[string][]appliedChange

	// applied records global application order, for history inspection
	applied []changeRef

	// queue holds changes that have arrived but are not yet causally
	// ready
	queue []types.Change

	// objects is the by-object-id store
	objects map[string]*objRecord

	undoPos   int
	undoStack [][]types.Op
	redoStack [][]types.Op

	rand skiplist.Source
}

// Init returns an empty document state containing only the root map.
func Init(opts Options) *State {
	src := opts.Rand
	if src == nil {
		src = skiplist.NewXorshift(0)
	}
	return &State{
		clock:   types.NewClock(),
		deps:    types.NewClock(),
		states:  make(map[string][]appliedChange),
		objects: map[string]*objRecord{types.RootObjectID: newObjRecord(types.RootObjectID, types.TypeMap)},
		rand:    src,
	}
}

// CanUndo reports whether the state has a local change to undo.
func CanUndo(s *State) bool {
	return s.undoPos > 0
}

// CanRedo reports whether the state has an undone change to redo.
func CanRedo(s *State) bool {
	return len(s.redoStack) > 0
}

// Clock returns a copy of the applied-change clock.
func Clock(s *State) types.Clock {
	return s.clock.Copy()
}

// ApplyChanges enqueues the given remote changes and applies every
// queued change that is causally ready, in dependency order. The
// returned patch carries the diffs of the changes applied by this
// call. Changes whose dependencies are still missing stay queued and
// are not an error.
func ApplyChanges(s *State, changes []types.Change) (*State, *types.Patch, error) {
	m := s.begin()
	for _, ch := range changes {
		if err := ch.Validate(); err != nil {
			return s, nil, errors.Trace(err)
		}
		m.s.queue = append(m.s.queue, ch)
	}
	if err := m.drain(); err != nil {
		return s, nil, errors.Trace(err)
	}
	patch := m.patch()
	return m.s, patch, nil
}

// ApplyLocalChange applies a request originating from this replica's
// own frontend: a fresh change, an undo, or a redo. The returned
// patch carries the request's actor and sequence number so the
// frontend can match it against its pending queue.
func ApplyLocalChange(s *State, req types.Request) (*State, *types.Patch, error) {
	if err := req.Validate(); err != nil {
		return s, nil, errors.Trace(err)
	}
	if want := s.clock.Get(req.Actor) + 1; req.Seq != want {
		return s, nil, errors.WithType(
			errors.Errorf("request by %s has sequence number %d, want %d", req.Actor, req.Seq, want),
			types.ErrInvalidRequest)
	}

	m := s.begin()
	var err error
	switch req.RequestType {
	case types.RequestChange:
		err = m.applyRequestChange(req)
	case types.RequestUndo:
		err = m.applyUndo(req)
	case types.RequestRedo:
		err = m.applyRedo(req)
	default:
		err = errors.WithType(
			errors.Errorf("request type %q", req.RequestType), types.ErrInvalidRequest)
	}
	if err != nil {
		return s, nil, errors.Trace(err)
	}

	patch := m.patch()
	patch.Actor = req.Actor
	patch.Seq = req.Seq
	return m.s, patch, nil
}

// GetPatch materializes the entire current document as a patch,
// depth-first from the root, children before the references to them.
func GetPatch(s *State) *types.Patch {
	diffs := materialize(s)
	return &types.Patch{
		Clock:   s.clock.Copy(),
		Deps:    s.deps.Copy(),
		CanUndo: CanUndo(s),
		CanRedo: CanRedo(s),
		Diffs:   diffs,
	}
}

// GetChanges returns the changes present in new but not in old. It
// fails with ErrDivergedClocks when old is not an ancestor of new.
func GetChanges(old, new *State) ([]types.Change, error) {
	if !old.clock.LessOrEqual(new.clock) {
		return nil, errors.WithType(
			errors.New("old state is not an ancestor of new state"), types.ErrDivergedClocks)
	}
	return GetMissingChanges(new, old.clock), nil
}

// GetChangesForActor returns the changes by one actor with sequence
// numbers greater than afterSeq (zero returns the actor's full
// history).
func GetChangesForActor(s *State, actor string, afterSeq uint64) []types.Change {
	var out []types.Change
	for _, entry := range s.states[actor] {
		if entry.change.Seq > afterSeq {
			out = append(out, entry.change)
		}
	}
	return out
}

// GetMissingChanges returns every stored change not covered by the
// given clock, ordered by actor and then by sequence number.
func GetMissingChanges(s *State, have types.Clock) []types.Change {
	actors := set.NewStrings()
	for actor := range s.states {
		actors.Add(actor)
	}
	var out []types.Change
	for _, actor := range actors.SortedValues() {
		for _, entry := range s.states[actor] {
			if entry.change.Seq > have.Get(actor) {
				out = append(out, entry.change)
			}
		}
	}
	return out
}

// GetMissingDeps reports, per actor, the highest sequence number that
// some queued change depends on but the state has not applied.
func GetMissingDeps(s *State) types.Clock {
	missing := types.NewClock()
	for _, ch := range s.queue {
		deps := ch.Deps.With(ch.Actor, ch.Seq-1)
		for actor, seq := range deps {
			if seq > s.clock.Get(actor) && seq > missing.Get(actor) {
				missing[actor] = seq
			}
		}
	}
	return missing
}

// GetHistory returns the applied changes in application order.
func GetHistory(s *State) []types.Change {
	out := make([]types.Change, 0, len(s.applied))
	for _, ref := range s.applied {
		out = append(out, s.states[ref.actor][ref.seq-1].change)
	}
	return out
}

// Merge applies to local every change known to remote but not to
// local. Neither input state is modified.
func Merge(local, remote *State) (*State, *types.Patch, error) {
	changes := GetMissingChanges(remote, local.clock)
	return ApplyChanges(local, changes)
}
