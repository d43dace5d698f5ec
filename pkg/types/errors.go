// pkg/types/errors.go
package types

import (
	"github.com/juju/errors"
)

// Error kinds surfaced by the engine. All are matched with errors.Is;
// call sites attach context with errors.WithType and errors.Errorf so
// an error both matches its kind and explains itself.
const (
	// ErrInvalidRequest - a change or request with an ill-typed
	// actor, sequence number or operation shape
	ErrInvalidRequest = errors.ConstError("invalid request")

	// ErrDuplicateCreate - a make* operation for an object id that
	// already exists
	ErrDuplicateCreate = errors.ConstError("duplicate object creation")

	// ErrUnknownObject - an operation targeting an object id that was
	// never created
	ErrUnknownObject = errors.ConstError("unknown object")

	// ErrDuplicateElem - an ins operation reusing an element id
	ErrDuplicateElem = errors.ConstError("duplicate list element")

	// ErrUnknownPred - an ins or assignment referencing a list
	// element id that was never inserted
	ErrUnknownPred = errors.ConstError("unknown list element")

	// ErrInconsistentReuse - a change reusing an applied (actor, seq)
	// pair with different content
	ErrInconsistentReuse = errors.ConstError("inconsistent sequence number reuse")

	// ErrDivergedClocks - a change-set request between two states
	// where the old state is not an ancestor of the new
	ErrDivergedClocks = errors.ConstError("diverged clocks")

	// ErrEmptyUndo - undo requested with an empty undo stack
	ErrEmptyUndo = errors.ConstError("nothing to undo")

	// ErrEmptyRedo - redo requested with an empty redo stack
	ErrEmptyRedo = errors.ConstError("nothing to redo")

	// ErrMultipleParents - a child object referenced by two live
	// parent links, violating the tree invariant
	ErrMultipleParents = errors.ConstError("object has multiple parents")

	// ErrUnknownDatatype - an operation carrying a datatype tag this
	// version does not understand
	ErrUnknownDatatype = errors.ConstError("unknown datatype")

	// ErrUnknownAction - an operation carrying an action tag this
	// version does not understand
	ErrUnknownAction = errors.ConstError("unknown action")
)
