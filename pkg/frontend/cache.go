// pkg/frontend/cache.go
package frontend

import (
	"time"

	"github.com/juju/errors"

	"opdoc/pkg/types"
)

// cacheApply interprets a diff sequence against an immutable cache
// and inbound index, returning new maps. Touched objects are cloned
// into a working layer and the clones are propagated up the parent
// chain, so untouched objects keep their identity across snapshots.
func cacheApply(cache map[string]any, inbound map[string]string, diffs []types.Diff) (map[string]any, map[string]string, error) {
	updated := make(map[string]any)
	newInbound := make(map[string]string, len(inbound))
	for child, parent := range inbound {
		newInbound[child] = parent
	}

	get := func(id string) any {
		if obj, ok := updated[id]; ok {
			return obj
		}
		return cache[id]
	}
	touch := func(id string) any {
		if obj, ok := updated[id]; ok {
			return obj
		}
		var obj any
		switch c := cache[id].(type) {
		case *Map:
			obj = c.clone()
		case *Table:
			obj = c.clone()
		case *List:
			obj = c.clone()
		case *Text:
			obj = c.clone()
		default:
			return nil
		}
		updated[id] = obj
		return obj
	}

	for _, diff := range diffs {
		if err := applyDiff(diff, get, touch, updated, newInbound); err != nil {
			return nil, nil, errors.Trace(err)
		}
	}

	// propagate replaced children up to the root so every ancestor of
	// a change is a fresh value
	pending := make([]string, 0, len(updated))
	for id := range updated {
		pending = append(pending, id)
	}
	queued := make(map[string]bool)
	for len(pending) > 0 {
		id := pending[0]
		pending = pending[1:]
		parent, ok := newInbound[id]
		if !ok || parent == "" {
			continue
		}
		pobj := touch(parent)
		if pobj == nil {
			continue
		}
		repoint(pobj, id, updated[id])
		if !queued[parent] {
			queued[parent] = true
			pending = append(pending, parent)
		}
	}

	newCache := make(map[string]any, len(cache)+len(updated))
	for id, obj := range cache {
		newCache[id] = obj
	}
	for id, obj := range updated {
		newCache[id] = obj
	}
	return newCache, newInbound, nil
}

func applyDiff(diff types.Diff, get func(string) any, touch func(string) any,
	updated map[string]any, inbound map[string]string) error {

	if diff.Action == types.DiffCreate {
		switch diff.Type {
		case types.TypeMap:
			updated[diff.Obj] = &Map{objectID: diff.Obj,
				entries: map[string]any{}, conflicts: map[string]map[string]any{}}
		case types.TypeTable:
			updated[diff.Obj] = &Table{objectID: diff.Obj,
				rows: map[string]any{}, conflicts: map[string]map[string]any{}}
		case types.TypeList:
			updated[diff.Obj] = &List{objectID: diff.Obj}
		case types.TypeText:
			updated[diff.Obj] = &Text{List: List{objectID: diff.Obj}}
		default:
			return errors.WithType(
				errors.Errorf("create diff with type %q", diff.Type), types.ErrInvalidRequest)
		}
		return nil
	}

	obj := touch(diff.Obj)
	if obj == nil {
		return errors.WithType(
			errors.Errorf("diff targets unknown object %s", diff.Obj), types.ErrUnknownObject)
	}

	switch target := obj.(type) {
	case *Map:
		return applyFieldDiff(diff, target.entries, target.conflicts, get, inbound, diff.Obj)
	case *Table:
		return applyFieldDiff(diff, target.rows, target.conflicts, get, inbound, diff.Obj)
	case *List:
		return applySeqDiff(diff, target, get, inbound)
	case *Text:
		return applySeqDiff(diff, &target.List, get, inbound)
	}
	return nil
}

// applyFieldDiff handles set/remove on map and table objects.
func applyFieldDiff(diff types.Diff, entries map[string]any, conflicts map[string]map[string]any,
	get func(string) any, inbound map[string]string, parentID string) error {

	switch diff.Action {
	case types.DiffSet:
		if prior, ok := entries[diff.Key]; ok {
			dropInbound(inbound, prior, parentID)
		}
		value, err := resolveValue(diff.Value, diff.Link, diff.Datatype, get, inbound, parentID)
		if err != nil {
			return errors.Trace(err)
		}
		entries[diff.Key] = value
		if len(diff.Conflicts) > 0 {
			resolved, err := resolveConflicts(diff.Conflicts, get)
			if err != nil {
				return errors.Trace(err)
			}
			conflicts[diff.Key] = resolved
		} else {
			delete(conflicts, diff.Key)
		}
		return nil
	case types.DiffRemove:
		if prior, ok := entries[diff.Key]; ok {
			dropInbound(inbound, prior, parentID)
		}
		delete(entries, diff.Key)
		delete(conflicts, diff.Key)
		return nil
	}
	return errors.WithType(
		errors.Errorf("diff action %q on %s object", diff.Action, diff.Type), types.ErrInvalidRequest)
}

// applySeqDiff handles insert/set/remove on list and text objects.
func applySeqDiff(diff types.Diff, list *List, get func(string) any, inbound map[string]string) error {
	switch diff.Action {
	case types.DiffInsert:
		if diff.Index < 0 || diff.Index > len(list.elems) {
			return errors.WithType(
				errors.Errorf("insert at %d of %d in %s", diff.Index, len(list.elems), list.objectID),
				types.ErrInvalidRequest)
		}
		value, err := resolveValue(diff.Value, diff.Link, diff.Datatype, get, inbound, list.objectID)
		if err != nil {
			return errors.Trace(err)
		}
		resolved, err := resolveConflicts(diff.Conflicts, get)
		if err != nil {
			return errors.Trace(err)
		}
		list.elems = insertAt(list.elems, diff.Index, value)
		list.conflicts = insertConflictsAt(list.conflicts, diff.Index, resolved)
		list.elemIDs = insertStringAt(list.elemIDs, diff.Index, diff.ElemID)
		if _, counter, err := types.ParseElemID(diff.ElemID); err == nil && counter > list.maxElem {
			list.maxElem = counter
		}
		return nil
	case types.DiffSet:
		if diff.Index < 0 || diff.Index >= len(list.elems) {
			return errors.WithType(
				errors.Errorf("set at %d of %d in %s", diff.Index, len(list.elems), list.objectID),
				types.ErrInvalidRequest)
		}
		dropInbound(inbound, list.elems[diff.Index], list.objectID)
		value, err := resolveValue(diff.Value, diff.Link, diff.Datatype, get, inbound, list.objectID)
		if err != nil {
			return errors.Trace(err)
		}
		resolved, err := resolveConflicts(diff.Conflicts, get)
		if err != nil {
			return errors.Trace(err)
		}
		list.elems[diff.Index] = value
		list.conflicts[diff.Index] = resolved
		return nil
	case types.DiffRemove:
		if diff.Index < 0 || diff.Index >= len(list.elems) {
			return errors.WithType(
				errors.Errorf("remove at %d of %d in %s", diff.Index, len(list.elems), list.objectID),
				types.ErrInvalidRequest)
		}
		dropInbound(inbound, list.elems[diff.Index], list.objectID)
		list.elems = append(list.elems[:diff.Index], list.elems[diff.Index+1:]...)
		list.conflicts = append(list.conflicts[:diff.Index], list.conflicts[diff.Index+1:]...)
		list.elemIDs = append(list.elemIDs[:diff.Index], list.elemIDs[diff.Index+1:]...)
		return nil
	}
	return errors.WithType(
		errors.Errorf("diff action %q on %s object", diff.Action, diff.Type), types.ErrInvalidRequest)
}

// resolveValue turns a diff payload into a materialized value: the
// referenced container for links, time.Time for timestamps, the raw
// primitive otherwise. Link resolution also maintains the inbound
// index and enforces the single-parent invariant.
func resolveValue(raw any, link bool, datatype string,
	get func(string) any, inbound map[string]string, parentID string) (any, error) {

	if link {
		childID, ok := raw.(string)
		if !ok {
			return nil, errors.WithType(
				errors.Errorf("link value %v is not an object id", raw), types.ErrInvalidRequest)
		}
		child := get(childID)
		if child == nil {
			return nil, errors.WithType(
				errors.Errorf("link to unknown object %s", childID), types.ErrUnknownObject)
		}
		if prior, ok := inbound[childID]; ok && prior != parentID {
			return nil, errors.WithType(
				errors.Errorf("object %s is referenced by both %s and %s", childID, prior, parentID),
				types.ErrMultipleParents)
		}
		inbound[childID] = parentID
		return child, nil
	}
	if datatype == types.DatatypeTimestamp {
		return timestampValue(raw)
	}
	if datatype != "" {
		return nil, errors.WithType(
			errors.Errorf("datatype %q", datatype), types.ErrUnknownDatatype)
	}
	return raw, nil
}

func resolveConflicts(conflicts []types.Conflict, get func(string) any) (map[string]any, error) {
	if len(conflicts) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(conflicts))
	for _, c := range conflicts {
		if c.Link {
			childID, _ := c.Value.(string)
			child := get(childID)
			if child == nil {
				return nil, errors.WithType(
					errors.Errorf("conflicting link to unknown object %s", childID),
					types.ErrUnknownObject)
			}
			out[c.Actor] = child
			continue
		}
		if c.Datatype == types.DatatypeTimestamp {
			v, err := timestampValue(c.Value)
			if err != nil {
				return nil, errors.Trace(err)
			}
			out[c.Actor] = v
			continue
		}
		out[c.Actor] = c.Value
	}
	return out, nil
}

func timestampValue(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case float64:
		return time.UnixMilli(int64(v)).UTC(), nil
	case int64:
		return time.UnixMilli(v).UTC(), nil
	case int:
		return time.UnixMilli(int64(v)).UTC(), nil
	case uint64:
		return time.UnixMilli(int64(v)).UTC(), nil
	}
	return time.Time{}, errors.WithType(
		errors.Errorf("timestamp value %v is not a millisecond count", raw), types.ErrInvalidRequest)
}

// dropInbound clears the parent entry for a value being replaced or
// removed, if the value is a container still recorded under parentID.
func dropInbound(inbound map[string]string, value any, parentID string) {
	if id := objectIDOf(value); id != "" && inbound[id] == parentID {
		delete(inbound, id)
	}
}

// repoint replaces a parent's reference to the old version of a child
// with the freshly cloned one.
func repoint(parent any, childID string, child any) {
	switch p := parent.(type) {
	case *Map:
		for key, v := range p.entries {
			if objectIDOf(v) == childID {
				p.entries[key] = child
			}
		}
		repointConflicts(p.conflicts, childID, child)
	case *Table:
		for id, v := range p.rows {
			if objectIDOf(v) == childID {
				p.rows[id] = child
			}
		}
		repointConflicts(p.conflicts, childID, child)
	case *List:
		repointList(p, childID, child)
	case *Text:
		repointList(&p.List, childID, child)
	}
}

func repointList(l *List, childID string, child any) {
	for i, v := range l.elems {
		if objectIDOf(v) == childID {
			l.elems[i] = child
		}
	}
	for i, byActor := range l.conflicts {
		if replaced := replaceInConflictSet(byActor, childID, child); replaced != nil {
			l.conflicts[i] = replaced
		}
	}
}

func repointConflicts(conflicts map[string]map[string]any, childID string, child any) {
	for key, byActor := range conflicts {
		if replaced := replaceInConflictSet(byActor, childID, child); replaced != nil {
			conflicts[key] = replaced
		}
	}
}

// replaceInConflictSet returns a copy of byActor with references to
// childID repointed, or nil when nothing referenced it. Inner maps
// are shared across snapshots, so they are never written in place.
func replaceInConflictSet(byActor map[string]any, childID string, child any) map[string]any {
	var copied map[string]any
	for actor, v := range byActor {
		if objectIDOf(v) != childID {
			continue
		}
		if copied == nil {
			copied = make(map[string]any, len(byActor))
			for a, w := range byActor {
				copied[a] = w
			}
		}
		copied[actor] = child
	}
	return copied
}

func insertAt(s []any, i int, v any) []any {
	out := make([]any, 0, len(s)+1)
	out = append(out, s[:i]...)
	out = append(out, v)
	return append(out, s[i:]...)
}

func insertConflictsAt(s []map[string]any, i int, v map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(s)+1)
	out = append(out, s[:i]...)
	out = append(out, v)
	return append(out, s[i:]...)
}

func insertStringAt(s []string, i int, v string) []string {
	out := make([]string, 0, len(s)+1)
	out = append(out, s[:i]...)
	out = append(out, v)
	return append(out, s[i:]...)
}
