// pkg/backend/patch.go
package backend

import (
	"github.com/juju/collections/set"

	"opdoc/pkg/types"
)

// materialize walks the document depth-first from the root and emits
// the diff sequence that rebuilds it from nothing: each object's
// create diff first, every referenced child subtree before the
// set/insert diff that links it, map keys in sorted order so two
// converged replicas materialize byte-equal patches.
func materialize(s *State) []types.Diff {
	var diffs []types.Diff
	var walk func(objectID string, path []any)
	walk = func(objectID string, path []any) {
		record := s.objects[objectID]
		if record == nil {
			return
		}
		if objectID != types.RootObjectID {
			diffs = append(diffs, types.Diff{
				Action: types.DiffCreate,
				Type:   record.objType,
				Obj:    objectID,
				Path:   copyPath(path),
			})
		}
		switch record.objType {
		case types.TypeMap, types.TypeTable:
			keys := set.NewStrings()
			for key := range record.fields {
				keys.Add(key)
			}
			for _, key := range keys.SortedValues() {
				ops := record.fields[key]
				if len(ops) == 0 {
					continue
				}
				walkLinks(walk, ops, append(path, key))
				diff := fieldDiff(record, key, ops)
				diff.Path = copyPath(path)
				diffs = append(diffs, diff)
			}
		case types.TypeList, types.TypeText:
			index := 0
			for it := record.elemIDs.Iterator(); ; index++ {
				entry, ok := it.Next()
				if !ok {
					break
				}
				ops := entry.Value.([]fieldOp)
				walkLinks(walk, ops, append(path, index))
				diff := types.Diff{
					Action: types.DiffInsert,
					Type:   record.objType,
					Obj:    objectID,
					Index:  index,
					ElemID: entry.Key,
					Path:   copyPath(path),
				}
				applyWinner(&diff, ops)
				diffs = append(diffs, diff)
			}
		}
	}
	walk(types.RootObjectID, nil)
	return diffs
}

// walkLinks recurses into every object referenced from a field's op
// set. Losing link ops are walked too: the frontend needs conflict
// subtrees materialized to present them.
func walkLinks(walk func(string, []any), ops []fieldOp, path []any) {
	for _, op := range ops {
		if op.Action != types.ActionLink {
			continue
		}
		if target, ok := op.Value.(string); ok {
			walk(target, path)
		}
	}
}

func copyPath(path []any) []any {
	if len(path) == 0 {
		return nil
	}
	return append([]any(nil), path...)
}

// GetPath resolves one arbitrary path from the root to the given
// object, as a sequence of map keys and list indices. It returns nil
// when the object is unknown or not reachable from the root.
func GetPath(s *State, objectID string) []any {
	if objectID == types.RootObjectID {
		return []any{}
	}
	var path []any
	// bounded by the object count to survive a corrupted inbound graph
	for steps := 0; steps <= len(s.objects); steps++ {
		record := s.objects[objectID]
		if record == nil || len(record.inbound) == 0 {
			return nil
		}
		in := record.inbound[0]
		parent := s.objects[in.Obj]
		if parent == nil {
			return nil
		}
		if parent.isSequence() {
			index := parent.elemIDs.IndexOf(in.Key)
			if index < 0 {
				return nil
			}
			path = append([]any{index}, path...)
		} else {
			path = append([]any{in.Key}, path...)
		}
		if in.Obj == types.RootObjectID {
			return path
		}
		objectID = in.Obj
	}
	return nil
}
