// pkg/frontend/doc.go
package frontend

import (
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"opdoc/pkg/backend"
	"opdoc/pkg/types"
)

var logger = loggo.GetLogger("opdoc.frontend")

// Options configures a new document.
type Options struct {
	// ActorID identifies this replica. Leave empty for a fresh UUID.
	ActorID string

	// Backend, when set, wires an engine state directly to the
	// document: changes apply synchronously and authoritatively, and
	// undo/redo become available. Without it the document applies
	// local edits optimistically and queues requests for an external
	// backend.
	Backend *backend.State
}

// pendingRequest is a locally applied but unconfirmed change: the
// request sent to the backend, the optimistic diffs it applied, and
// the document snapshot it was applied to.
type pendingRequest struct {
	request types.Request
	diffs   []types.Diff
	before  *Document
}

// Document is an immutable replica snapshot: the materialized object
// tree, the child-to-parent index, and the local-request pipeline
// state. All update entry points return a new *Document.
type Document struct {
	actor   string
	cache   map[string]any
	inbound map[string]string

	seq      uint64
	deps     types.Clock
	requests []pendingRequest
	canUndo  bool
	canRedo  bool

	backend *backend.State
}

// Init returns an empty document containing only the root map.
func Init(opts Options) *Document {
	actor := opts.ActorID
	if actor == "" {
		actor = uuid.NewString()
	}
	root := &Map{
		objectID:  types.RootObjectID,
		entries:   map[string]any{},
		conflicts: map[string]map[string]any{},
	}
	return &Document{
		actor:   actor,
		cache:   map[string]any{types.RootObjectID: root},
		inbound: map[string]string{},
		deps:    types.NewClock(),
		backend: opts.Backend,
	}
}

// Actor returns this replica's actor id.
func (d *Document) Actor() string { return d.actor }

// Seq returns the sequence number of the newest local change.
func (d *Document) Seq() uint64 { return d.seq }

// Root returns the materialized root map.
func (d *Document) Root() *Map {
	return d.cache[types.RootObjectID].(*Map)
}

// Object returns the materialized container with the given object id.
func (d *Document) Object(objectID string) (any, bool) {
	v, ok := d.cache[objectID]
	return v, ok
}

// CanUndo reports whether the backend has a local change to undo.
func (d *Document) CanUndo() bool { return d.canUndo }

// CanRedo reports whether the backend has an undone change to redo.
func (d *Document) CanRedo() bool { return d.canRedo }

// PendingRequests returns the number of local changes awaiting their
// authoritative patch.
func (d *Document) PendingRequests() int { return len(d.requests) }

// BackendState returns the wired engine state, or nil.
func (d *Document) BackendState() *backend.State { return d.backend }

// ObjectID returns the backend id of a materialized container, or ""
// for a primitive value.
func ObjectID(v any) string { return objectIDOf(v) }

// Change runs a mutation session against the document and emits the
// resulting change request. With a wired backend the change applies
// authoritatively; otherwise the optimistic result is returned and
// the request is queued until ApplyPatch confirms it. A session that
// makes no edits returns the document unchanged and a nil request.
func Change(d *Document, message string, mutate func(*Mutation) error) (*Document, *types.Request, error) {
	mu := &Mutation{cur: d}
	if err := mutate(mu); err != nil {
		return d, nil, errors.Trace(err)
	}
	if len(mu.ops) == 0 {
		return d, nil, nil
	}
	req := types.Request{
		RequestType: types.RequestChange,
		Actor:       d.actor,
		Seq:         d.seq + 1,
		Deps:        d.deps.Without(d.actor),
		Message:     message,
		Undoable:    true,
		Ops:         filterRedundant(mu.ops),
	}

	if d.backend != nil {
		bs, patch, err := backend.ApplyLocalChange(d.backend, req)
		if err != nil {
			return d, nil, errors.Trace(err)
		}
		nd, err := ApplyPatch(d, patch)
		if err != nil {
			return d, nil, errors.Trace(err)
		}
		out := *nd
		out.backend = bs
		out.seq = req.Seq
		return &out, &req, nil
	}

	out := *mu.cur
	out.seq = req.Seq
	out.requests = make([]pendingRequest, len(d.requests), len(d.requests)+1)
	copy(out.requests, d.requests)
	out.requests = append(out.requests, pendingRequest{request: req, diffs: mu.diffs, before: d})
	logger.Debugf("queued local change %s:%d (%d op(s), %d pending)",
		req.Actor, req.Seq, len(req.Ops), len(out.requests))
	return &out, &req, nil
}

// ApplyChanges feeds remote changes through the wired backend and
// applies the resulting patch.
func ApplyChanges(d *Document, changes []types.Change) (*Document, *types.Patch, error) {
	if d.backend == nil {
		return d, nil, errors.NotSupportedf("applying changes without a wired backend")
	}
	bs, patch, err := backend.ApplyChanges(d.backend, changes)
	if err != nil {
		return d, nil, errors.Trace(err)
	}
	nd, err := ApplyPatch(d, patch)
	if err != nil {
		return d, nil, errors.Trace(err)
	}
	out := *nd
	out.backend = bs
	return &out, patch, nil
}

// Undo reverts this replica's newest local change through the wired
// backend.
func Undo(d *Document, message string) (*Document, error) {
	return applyHistoryRequest(d, types.RequestUndo, message)
}

// Redo reapplies the most recently undone local change.
func Redo(d *Document, message string) (*Document, error) {
	return applyHistoryRequest(d, types.RequestRedo, message)
}

func applyHistoryRequest(d *Document, kind types.RequestType, message string) (*Document, error) {
	if d.backend == nil {
		return d, errors.NotSupportedf("%s without a wired backend", kind)
	}
	req := types.Request{
		RequestType: kind,
		Actor:       d.actor,
		Seq:         d.seq + 1,
		Deps:        d.deps.Without(d.actor),
		Message:     message,
	}
	bs, patch, err := backend.ApplyLocalChange(d.backend, req)
	if err != nil {
		return d, errors.Trace(err)
	}
	nd, err := ApplyPatch(d, patch)
	if err != nil {
		return d, errors.Trace(err)
	}
	out := *nd
	out.backend = bs
	out.seq = req.Seq
	return &out, nil
}
