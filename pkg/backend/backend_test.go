// pkg/backend/backend_test.go
package backend

import (
	"testing"

	"github.com/juju/errors"

	"opdoc/pkg/types"
)

const listID = "9e6f1f2a-0000-0000-0000-000000000001"

func newChange(actor string, seq uint64, deps types.Clock, ops ...types.Op) types.Change {
	if deps == nil {
		deps = types.NewClock()
	}
	return types.Change{Actor: actor, Seq: seq, Deps: deps, Ops: ops}
}

func mustApply(t *testing.T, s *State, changes ...types.Change) (*State, *types.Patch) {
	t.Helper()
	out, patch, err := ApplyChanges(s, changes)
	if err != nil {
		t.Fatalf("ApplyChanges failed: %v", err)
	}
	return out, patch
}

// fieldValue reads the winning value and conflict set of a map field
// straight from the object store.
func fieldValue(t *testing.T, s *State, objectID, key string) (any, []fieldOp) {
	t.Helper()
	record := s.objects[objectID]
	if record == nil {
		t.Fatalf("object %s not in store", objectID)
	}
	ops := record.fields[key]
	if len(ops) == 0 {
		return nil, nil
	}
	return ops[0].Value, ops[1:]
}

// listValues reads the visible elements of a list in order.
func listValues(t *testing.T, s *State, objectID string) []any {
	t.Helper()
	record := s.objects[objectID]
	if record == nil {
		t.Fatalf("object %s not in store", objectID)
	}
	var out []any
	for it := record.elemIDs.Iterator(); ; {
		entry, ok := it.Next()
		if !ok {
			break
		}
		ops := entry.Value.([]fieldOp)
		out = append(out, ops[0].Value)
	}
	return out
}

// makeListChange creates a shared list under the root, by actor "C".
func makeListChange() types.Change {
	return newChange("C", 1, nil,
		types.Op{Action: types.ActionMakeList, Obj: listID},
		types.Op{Action: types.ActionLink, Obj: types.RootObjectID, Key: "list", Value: listID},
	)
}

func TestConcurrentMapSetTieByActor(t *testing.T) {
	chA := newChange("A", 1, nil,
		types.Op{Action: types.ActionSet, Obj: types.RootObjectID, Key: "x", Value: 1.0})
	chB := newChange("B", 1, nil,
		types.Op{Action: types.ActionSet, Obj: types.RootObjectID, Key: "x", Value: 2.0})

	s, _ := mustApply(t, Init(Options{}), chA, chB)
	value, losers := fieldValue(t, s, types.RootObjectID, "x")
	if value != 2.0 {
		t.Errorf("x = %v, want 2 (actor B wins the tie)", value)
	}
	if len(losers) != 1 || losers[0].Actor != "A" || losers[0].Value != 1.0 {
		t.Errorf("conflicts = %+v, want one loser by A with value 1", losers)
	}

	// delivery order must not matter
	s2, _ := mustApply(t, Init(Options{}), chB, chA)
	value2, _ := fieldValue(t, s2, types.RootObjectID, "x")
	if value2 != 2.0 {
		t.Errorf("x after reversed delivery = %v, want 2", value2)
	}
}

func TestConcurrentInsertAtHead(t *testing.T) {
	chC := makeListChange()
	chA := newChange("A", 1, types.Clock{"C": 1},
		types.Op{Action: types.ActionIns, Obj: listID, Key: types.Head, Elem: 1},
		types.Op{Action: types.ActionSet, Obj: listID, Key: "A:1", Value: "hello"})
	chB := newChange("B", 1, types.Clock{"C": 1},
		types.Op{Action: types.ActionIns, Obj: listID, Key: types.Head, Elem: 1},
		types.Op{Action: types.ActionSet, Obj: listID, Key: "B:1", Value: "world"})

	for _, order := range [][]types.Change{
		{chC, chA, chB},
		{chC, chB, chA},
		{chB, chA, chC}, // queued until the list exists
	} {
		s, _ := mustApply(t, Init(Options{}), order...)
		got := listValues(t, s, listID)
		if len(got) != 2 || got[0] != "world" || got[1] != "hello" {
			t.Errorf("list = %v, want [world hello]", got)
		}
	}
}

func TestSequentialInsertThenSet(t *testing.T) {
	chC := makeListChange()
	ch1 := newChange("A", 1, types.Clock{"C": 1},
		types.Op{Action: types.ActionIns, Obj: listID, Key: types.Head, Elem: 1},
		types.Op{Action: types.ActionSet, Obj: listID, Key: "A:1", Value: "a"})
	ch2 := newChange("A", 2, types.Clock{"C": 1},
		types.Op{Action: types.ActionSet, Obj: listID, Key: "A:1", Value: "b"})

	s, _ := mustApply(t, Init(Options{}), chC, ch1, ch2)
	got := listValues(t, s, listID)
	if len(got) != 1 || got[0] != "b" {
		t.Errorf("list = %v, want [b]", got)
	}
	record := s.objects[listID]
	if ops := record.fields["A:1"]; len(ops) != 1 {
		t.Errorf("field ops = %+v, want a single unconflicted op", ops)
	}
}

func TestRemoteDeleteConcurrentWithLocalEdit(t *testing.T) {
	chC := makeListChange()
	chA := newChange("A", 1, types.Clock{"C": 1},
		types.Op{Action: types.ActionIns, Obj: listID, Key: types.Head, Elem: 1},
		types.Op{Action: types.ActionSet, Obj: listID, Key: "A:1", Value: "x"})
	chB := newChange("B", 1, types.Clock{"C": 1},
		types.Op{Action: types.ActionIns, Obj: listID, Key: types.Head, Elem: 1},
		types.Op{Action: types.ActionSet, Obj: listID, Key: "B:1", Value: "y"},
		types.Op{Action: types.ActionDel, Obj: listID, Key: "B:1"})

	for _, order := range [][]types.Change{
		{chC, chA, chB},
		{chC, chB, chA},
	} {
		s, _ := mustApply(t, Init(Options{}), order...)
		got := listValues(t, s, listID)
		if len(got) != 1 || got[0] != "x" {
			t.Errorf("list = %v, want [x] (B deleted its own insertion)", got)
		}
	}
}

func TestCausalQueueHoldsBackDependentChange(t *testing.T) {
	c1 := newChange("A", 1, nil,
		types.Op{Action: types.ActionSet, Obj: types.RootObjectID, Key: "a", Value: 1.0})
	c2 := newChange("B", 1, types.Clock{"A": 1},
		types.Op{Action: types.ActionSet, Obj: types.RootObjectID, Key: "b", Value: 2.0})

	s, patch := mustApply(t, Init(Options{}), c2)
	if len(patch.Diffs) != 0 {
		t.Errorf("premature diffs: %+v", patch.Diffs)
	}
	if value, _ := fieldValue(t, s, types.RootObjectID, "b"); value != nil {
		t.Errorf("b visible before its dependency: %v", value)
	}
	missing := GetMissingDeps(s)
	if !missing.Equal(types.Clock{"A": 1}) {
		t.Errorf("GetMissingDeps = %v, want {A:1}", missing)
	}

	s, patch = mustApply(t, s, c1)
	if len(patch.Diffs) != 2 {
		t.Fatalf("diffs = %+v, want the diffs of C1 then C2", patch.Diffs)
	}
	if patch.Diffs[0].Key != "a" || patch.Diffs[1].Key != "b" {
		t.Errorf("diff order = %q, %q, want a then b", patch.Diffs[0].Key, patch.Diffs[1].Key)
	}
	if missing := GetMissingDeps(s); len(missing) != 0 {
		t.Errorf("GetMissingDeps after drain = %v, want empty", missing)
	}
}

func TestIdempotentReapply(t *testing.T) {
	ch := newChange("A", 1, nil,
		types.Op{Action: types.ActionSet, Obj: types.RootObjectID, Key: "x", Value: 1.0})
	s1, _ := mustApply(t, Init(Options{}), ch)
	s2, patch := mustApply(t, s1, ch)
	if len(patch.Diffs) != 0 {
		t.Errorf("reapply produced diffs: %+v", patch.Diffs)
	}
	if !s2.clock.Equal(s1.clock) {
		t.Errorf("reapply advanced the clock: %v -> %v", s1.clock, s2.clock)
	}
}

func TestInconsistentReuseRejected(t *testing.T) {
	ch1 := newChange("A", 1, nil,
		types.Op{Action: types.ActionSet, Obj: types.RootObjectID, Key: "x", Value: 1.0})
	ch2 := newChange("A", 1, nil,
		types.Op{Action: types.ActionSet, Obj: types.RootObjectID, Key: "x", Value: 99.0})

	s, _ := mustApply(t, Init(Options{}), ch1)
	out, _, err := ApplyChanges(s, []types.Change{ch2})
	if !errors.Is(err, types.ErrInconsistentReuse) {
		t.Fatalf("expected ErrInconsistentReuse, got %v", err)
	}
	if out != s {
		t.Error("failed apply should return the input state")
	}
	if value, _ := fieldValue(t, out, types.RootObjectID, "x"); value != 1.0 {
		t.Errorf("x = %v after failed apply, want 1", value)
	}
}

func TestApplyErrors(t *testing.T) {
	t.Run("duplicate create", func(t *testing.T) {
		s, _ := mustApply(t, Init(Options{}), makeListChange())
		dup := newChange("D", 1, nil, types.Op{Action: types.ActionMakeMap, Obj: listID})
		if _, _, err := ApplyChanges(s, []types.Change{dup}); !errors.Is(err, types.ErrDuplicateCreate) {
			t.Errorf("expected ErrDuplicateCreate, got %v", err)
		}
	})

	t.Run("assignment to unknown object", func(t *testing.T) {
		ch := newChange("A", 1, nil,
			types.Op{Action: types.ActionSet, Obj: "no-such-object", Key: "x", Value: 1.0})
		if _, _, err := ApplyChanges(Init(Options{}), []types.Change{ch}); !errors.Is(err, types.ErrUnknownObject) {
			t.Errorf("expected ErrUnknownObject, got %v", err)
		}
	})

	t.Run("duplicate element", func(t *testing.T) {
		s, _ := mustApply(t, Init(Options{}), makeListChange(),
			newChange("A", 1, types.Clock{"C": 1},
				types.Op{Action: types.ActionIns, Obj: listID, Key: types.Head, Elem: 1}))
		again := newChange("A", 2, types.Clock{"C": 1},
			types.Op{Action: types.ActionIns, Obj: listID, Key: types.Head, Elem: 1})
		if _, _, err := ApplyChanges(s, []types.Change{again}); !errors.Is(err, types.ErrDuplicateElem) {
			t.Errorf("expected ErrDuplicateElem, got %v", err)
		}
	})

	t.Run("insertion after unknown element", func(t *testing.T) {
		s, _ := mustApply(t, Init(Options{}), makeListChange())
		ch := newChange("A", 1, types.Clock{"C": 1},
			types.Op{Action: types.ActionIns, Obj: listID, Key: "Z:9", Elem: 1})
		if _, _, err := ApplyChanges(s, []types.Change{ch}); !errors.Is(err, types.ErrUnknownPred) {
			t.Errorf("expected ErrUnknownPred, got %v", err)
		}
	})

	t.Run("assignment to unknown element", func(t *testing.T) {
		s, _ := mustApply(t, Init(Options{}), makeListChange())
		ch := newChange("A", 1, types.Clock{"C": 1},
			types.Op{Action: types.ActionSet, Obj: listID, Key: "Z:9", Value: 1.0})
		if _, _, err := ApplyChanges(s, []types.Change{ch}); !errors.Is(err, types.ErrUnknownPred) {
			t.Errorf("expected ErrUnknownPred, got %v", err)
		}
	})

	t.Run("link to unknown object", func(t *testing.T) {
		ch := newChange("A", 1, nil,
			types.Op{Action: types.ActionLink, Obj: types.RootObjectID, Key: "child", Value: "no-such-object"})
		if _, _, err := ApplyChanges(Init(Options{}), []types.Change{ch}); !errors.Is(err, types.ErrUnknownObject) {
			t.Errorf("expected ErrUnknownObject, got %v", err)
		}
	})

	t.Run("ill-typed change", func(t *testing.T) {
		ch := types.Change{Actor: "", Seq: 1, Deps: types.NewClock()}
		if _, _, err := ApplyChanges(Init(Options{}), []types.Change{ch}); !errors.Is(err, types.ErrInvalidRequest) {
			t.Errorf("expected ErrInvalidRequest, got %v", err)
		}
	})
}

func TestGetChangesSelectors(t *testing.T) {
	chA1 := newChange("A", 1, nil,
		types.Op{Action: types.ActionSet, Obj: types.RootObjectID, Key: "x", Value: 1.0})
	chA2 := newChange("A", 2, nil,
		types.Op{Action: types.ActionSet, Obj: types.RootObjectID, Key: "x", Value: 2.0})
	chB1 := newChange("B", 1, types.Clock{"A": 1},
		types.Op{Action: types.ActionSet, Obj: types.RootObjectID, Key: "y", Value: 3.0})

	s0 := Init(Options{})
	s1, _ := mustApply(t, s0, chA1)
	s2, _ := mustApply(t, s1, chA2, chB1)

	t.Run("GetChanges between ancestors", func(t *testing.T) {
		changes, err := GetChanges(s1, s2)
		if err != nil {
			t.Fatalf("GetChanges failed: %v", err)
		}
		if len(changes) != 2 {
			t.Fatalf("changes = %+v, want two", changes)
		}
		if changes[0].Actor != "A" || changes[0].Seq != 2 || changes[1].Actor != "B" {
			t.Errorf("ordering = %s:%d, %s:%d; want A:2 then B:1",
				changes[0].Actor, changes[0].Seq, changes[1].Actor, changes[1].Seq)
		}
	})

	t.Run("GetChanges with diverged clocks", func(t *testing.T) {
		other, _ := mustApply(t, s0, newChange("Z", 1, nil,
			types.Op{Action: types.ActionSet, Obj: types.RootObjectID, Key: "z", Value: 1.0}))
		if _, err := GetChanges(other, s2); !errors.Is(err, types.ErrDivergedClocks) {
			t.Errorf("expected ErrDivergedClocks, got %v", err)
		}
	})

	t.Run("GetChangesForActor", func(t *testing.T) {
		changes := GetChangesForActor(s2, "A", 0)
		if len(changes) != 2 {
			t.Fatalf("changes for A = %+v, want two", changes)
		}
		changes = GetChangesForActor(s2, "A", 1)
		if len(changes) != 1 || changes[0].Seq != 2 {
			t.Errorf("changes for A after 1 = %+v, want just A:2", changes)
		}
	})

	t.Run("GetMissingChanges", func(t *testing.T) {
		changes := GetMissingChanges(s2, types.Clock{"A": 2})
		if len(changes) != 1 || changes[0].Actor != "B" {
			t.Errorf("missing = %+v, want just B:1", changes)
		}
	})

	t.Run("Merge", func(t *testing.T) {
		merged, patch, err := Merge(s1, s2)
		if err != nil {
			t.Fatalf("Merge failed: %v", err)
		}
		if !merged.clock.Equal(s2.clock) {
			t.Errorf("merged clock = %v, want %v", merged.clock, s2.clock)
		}
		if len(patch.Diffs) == 0 {
			t.Error("merge of diverged histories produced no diffs")
		}
	})

	t.Run("GetHistory", func(t *testing.T) {
		history := GetHistory(s2)
		if len(history) != 3 {
			t.Fatalf("history = %d changes, want 3", len(history))
		}
		if history[0].Actor != "A" || history[0].Seq != 1 {
			t.Errorf("history starts with %s:%d, want A:1", history[0].Actor, history[0].Seq)
		}
	})
}

func TestGetPath(t *testing.T) {
	const mapID = "9e6f1f2a-0000-0000-0000-000000000002"
	s, _ := mustApply(t, Init(Options{}),
		makeListChange(),
		newChange("A", 1, types.Clock{"C": 1},
			types.Op{Action: types.ActionIns, Obj: listID, Key: types.Head, Elem: 1},
			types.Op{Action: types.ActionMakeMap, Obj: mapID},
			types.Op{Action: types.ActionLink, Obj: listID, Key: "A:1", Value: mapID}))

	if path := GetPath(s, types.RootObjectID); len(path) != 0 || path == nil {
		t.Errorf("root path = %v, want empty non-nil", path)
	}
	if path := GetPath(s, listID); len(path) != 1 || path[0] != "list" {
		t.Errorf("list path = %v, want [list]", path)
	}
	if path := GetPath(s, mapID); len(path) != 2 || path[0] != "list" || path[1] != 0 {
		t.Errorf("nested path = %v, want [list 0]", path)
	}
	if path := GetPath(s, "no-such-object"); path != nil {
		t.Errorf("unknown object path = %v, want nil", path)
	}
}
