// pkg/types/types.go
// Package types defines the wire-level vocabulary of the document
// engine: operations, changes, patches, diffs, vector clocks and
// element identifiers. Both the backend engine and the frontend cache
// speak exclusively in these types.
package types

// RootObjectID is the identifier of the document root map. It exists
// in every document without a creation operation.
const RootObjectID = "00000000-0000-0000-0000-000000000000"

// Action identifies the kind of a single operation.
type Action string

const (
	// ActionMakeMap creates an empty map object
	ActionMakeMap Action = "makeMap"
	// ActionMakeTable creates an empty keyed table object
	ActionMakeTable Action = "makeTable"
	// ActionMakeList creates an empty ordered list object
	ActionMakeList Action = "makeList"
	// ActionMakeText creates an empty text object
	ActionMakeText Action = "makeText"
	// ActionIns allocates a new list position after an existing one
	ActionIns Action = "ins"
	// ActionSet assigns a primitive value to a map key or list position
	ActionSet Action = "set"
	// ActionDel removes the value at a map key or list position
	ActionDel Action = "del"
	// ActionLink assigns a reference to another object
	ActionLink Action = "link"
)

// ObjectType identifies the shape of a container object.
type ObjectType string

const (
	TypeMap   ObjectType = "map"
	TypeTable ObjectType = "table"
	TypeList  ObjectType = "list"
	TypeText  ObjectType = "text"
)

// DatatypeTimestamp marks a numeric value as milliseconds since the
// Unix epoch. It is the only datatype annotation currently defined.
const DatatypeTimestamp = "timestamp"

// Op is one primitive edit. The populated fields depend on Action:
// creation ops carry only Obj; ins carries Obj, Key (the predecessor
// element id or Head) and Elem (the per-list insertion counter);
// set/del/link carry Obj, Key and optionally Value and Datatype.
type Op struct {
	Action   Action `json:"action"`
	Obj      string `json:"obj"`
	Key      string `json:"key,omitempty"`
	Elem     uint64 `json:"elem,omitempty"`
	Value    any    `json:"value,omitempty"`
	Datatype string `json:"datatype,omitempty"`
}

// Change is a causally-stamped, indivisible unit of user intent.
// (Actor, Seq) uniquely identifies a change; Deps lists the highest
// sequence number per foreign actor the change had observed.
type Change struct {
	Actor   string `json:"actor"`
	Seq     uint64 `json:"seq"`
	Deps    Clock  `json:"deps"`
	Message string `json:"message,omitempty"`
	Ops     []Op   `json:"ops"`
}

// RequestType distinguishes the three kinds of local request a
// frontend can submit to its backend.
type RequestType string

const (
	RequestChange RequestType = "change"
	RequestUndo   RequestType = "undo"
	RequestRedo   RequestType = "redo"
)

// Request is a local change submission. For RequestChange the ops are
// the output of a mutation session; for undo/redo the backend draws
// the ops from its own stacks and the Ops field is ignored.
type Request struct {
	RequestType RequestType `json:"requestType"`
	Actor       string      `json:"actor"`
	Seq         uint64      `json:"seq"`
	Deps        Clock       `json:"deps"`
	Message     string      `json:"message,omitempty"`
	Undoable    bool        `json:"undoable,omitempty"`
	Ops         []Op        `json:"ops,omitempty"`
}

// DiffAction identifies the kind of a single patch diff.
type DiffAction string

const (
	DiffCreate DiffAction = "create"
	DiffSet    DiffAction = "set"
	DiffInsert DiffAction = "insert"
	DiffRemove DiffAction = "remove"
)

// Diff is one step of a patch: create an object, set a key, insert a
// list element, or remove one. Key addresses map/table fields, Index
// and ElemID address list/text positions.
type Diff struct {
	Action    DiffAction `json:"action"`
	Type      ObjectType `json:"type"`
	Obj       string     `json:"obj"`
	Key       string     `json:"key,omitempty"`
	Index     int        `json:"index,omitempty"`
	ElemID    string     `json:"elemId,omitempty"`
	Value     any        `json:"value,omitempty"`
	Link      bool       `json:"link,omitempty"`
	Datatype  string     `json:"datatype,omitempty"`
	Path      []any      `json:"path,omitempty"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// Conflict describes one losing concurrent assignment on a field.
type Conflict struct {
	Actor    string `json:"actor"`
	Value    any    `json:"value,omitempty"`
	Link     bool   `json:"link,omitempty"`
	Datatype string `json:"datatype,omitempty"`
}

// Patch is the ordered diff sequence produced by applying changes,
// together with the clock and dependency frontier after the apply.
// Actor and Seq are set only on patches answering a local request, so
// the frontend can match them against its pending queue.
type Patch struct {
	Actor   string `json:"actor,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
	Clock   Clock  `json:"clock"`
	Deps    Clock  `json:"deps"`
	CanUndo bool   `json:"canUndo"`
	CanRedo bool   `json:"canRedo"`
	Diffs   []Diff `json:"diffs"`
}
