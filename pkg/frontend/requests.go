// pkg/frontend/requests.go
package frontend

import (
	"github.com/juju/errors"

	"opdoc/pkg/types"
)

// ApplyPatch reconciles an authoritative patch with the pending
// request queue. A patch answering the head pending request retires
// it; any other patch carries remote changes, and the pending
// requests are transformed past it before being replayed. Either way
// the patch is applied to the last authoritative base and the
// surviving requests are reapplied on top, so the returned document
// is authoritative-state-plus-optimistic-tail.
func ApplyPatch(d *Document, patch *types.Patch) (*Document, error) {
	remaining := d.requests
	matched := false
	if len(remaining) > 0 && patch.Actor == d.actor && patch.Seq == remaining[0].request.Seq {
		matched = true
		remaining = remaining[1:]
	}

	base := d
	if len(d.requests) > 0 {
		base = d.requests[0].before
	}
	cache, inbound, err := cacheApply(base.cache, base.inbound, patch.Diffs)
	if err != nil {
		return d, errors.Trace(err)
	}
	nd := &Document{
		actor:   d.actor,
		cache:   cache,
		inbound: inbound,
		seq:     d.seq,
		deps:    patch.Deps.Copy(),
		canUndo: patch.CanUndo,
		canRedo: patch.CanRedo,
		backend: d.backend,
	}

	newRequests := make([]pendingRequest, 0, len(remaining))
	for _, pr := range remaining {
		diffs := pr.diffs
		if !matched {
			// the patch brought remote edits the request has not seen
			diffs = transformDiffs(diffs, patch.Diffs)
		}
		before := nd
		replayedCache, replayedInbound, err := cacheApply(nd.cache, nd.inbound, diffs)
		if err != nil {
			// the transform is approximate; a request that no longer
			// applies stays queued for the backend but is not shown
			logger.Warningf("dropping optimistic view of request %s:%d: %v",
				pr.request.Actor, pr.request.Seq, err)
			newRequests = append(newRequests, pendingRequest{
				request: pr.request, diffs: nil, before: before,
			})
			continue
		}
		nd = &Document{
			actor:   nd.actor,
			cache:   replayedCache,
			inbound: replayedInbound,
			seq:     nd.seq,
			deps:    nd.deps,
			canUndo: nd.canUndo,
			canRedo: nd.canRedo,
			backend: nd.backend,
		}
		newRequests = append(newRequests, pendingRequest{
			request: pr.request, diffs: diffs, before: before,
		})
	}
	nd.requests = newRequests
	return nd, nil
}

// transformDiffs shifts the list indices of locally recorded diffs
// past an incoming remote patch. The transform is deliberately
// approximate and transient: authoritative state always comes from
// the backend replaying the request itself. Concurrent inserts at the
// same index are not reordered by element id, and a local set after a
// remote remove at the same index may land on the wrong element.
func transformDiffs(local, remote []types.Diff) []types.Diff {
	out := make([]types.Diff, 0, len(local))
	for _, diff := range local {
		if diff.Type == types.TypeList || diff.Type == types.TypeText {
			for _, r := range remote {
				if r.Obj != diff.Obj || (r.Type != types.TypeList && r.Type != types.TypeText) {
					continue
				}
				switch r.Action {
				case types.DiffInsert:
					if r.Index <= diff.Index {
						diff.Index++
					}
				case types.DiffRemove:
					if r.Index < diff.Index {
						diff.Index--
					}
				}
			}
		}
		out = append(out, diff)
	}
	return out
}

// filterRedundant drops superseded assignments before a request goes
// on the wire: for each (object, key) only the latest set, del or
// link survives. Creation and insertion ops keep their order.
func filterRedundant(ops []types.Op) []types.Op {
	type objKey struct {
		obj string
		key string
	}
	seen := make(map[objKey]bool)
	keep := make([]bool, len(ops))
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		switch op.Action {
		case types.ActionSet, types.ActionDel, types.ActionLink:
			k := objKey{obj: op.Obj, key: op.Key}
			if seen[k] {
				continue
			}
			seen[k] = true
			keep[i] = true
		default:
			keep[i] = true
		}
	}
	out := make([]types.Op, 0, len(ops))
	for i, op := range ops {
		if keep[i] {
			out = append(out, op)
		}
	}
	return out
}
