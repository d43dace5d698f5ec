// pkg/types/validate.go
package types

import (
	"github.com/juju/errors"
)

// Validate checks the structural well-formedness of a change: actor
// and sequence number typing, and the shape of every operation. It
// does not check causal readiness or content against the log; those
// are the engine's concern.
func (ch Change) Validate() error {
	if ch.Actor == "" {
		return errors.WithType(errors.New("change has empty actor"), ErrInvalidRequest)
	}
	if ch.Seq < 1 {
		return errors.WithType(
			errors.Errorf("change by %s has sequence number %d, want >= 1", ch.Actor, ch.Seq),
			ErrInvalidRequest)
	}
	for i, op := range ch.Ops {
		if err := op.Validate(); err != nil {
			return errors.Annotatef(err, "op %d of change %s:%d", i, ch.Actor, ch.Seq)
		}
	}
	return nil
}

// Validate checks a single operation's shape against its action.
func (op Op) Validate() error {
	if op.Obj == "" {
		return errors.WithType(errors.New("op has empty object id"), ErrInvalidRequest)
	}
	switch op.Action {
	case ActionMakeMap, ActionMakeTable, ActionMakeList, ActionMakeText:
		// creation ops carry only the new object id
	case ActionIns:
		if op.Key == "" {
			return errors.WithType(errors.New("ins op has empty key"), ErrInvalidRequest)
		}
		if op.Elem < 1 {
			return errors.WithType(
				errors.Errorf("ins op has element counter %d, want >= 1", op.Elem),
				ErrInvalidRequest)
		}
	case ActionSet, ActionDel, ActionLink:
		if op.Key == "" {
			return errors.WithType(
				errors.Errorf("%s op has empty key", op.Action), ErrInvalidRequest)
		}
		if op.Datatype != "" && op.Datatype != DatatypeTimestamp {
			return errors.WithType(
				errors.Errorf("datatype %q", op.Datatype), ErrUnknownDatatype)
		}
	default:
		return errors.WithType(errors.Errorf("action %q", op.Action), ErrUnknownAction)
	}
	return nil
}

// Validate checks a local request's shape. Undo and redo requests
// carry no ops of their own.
func (r Request) Validate() error {
	switch r.RequestType {
	case RequestChange, RequestUndo, RequestRedo:
	default:
		return errors.WithType(
			errors.Errorf("request type %q", r.RequestType), ErrInvalidRequest)
	}
	if r.Actor == "" {
		return errors.WithType(errors.New("request has empty actor"), ErrInvalidRequest)
	}
	if r.Seq < 1 {
		return errors.WithType(
			errors.Errorf("request by %s has sequence number %d, want >= 1", r.Actor, r.Seq),
			ErrInvalidRequest)
	}
	for i, op := range r.Ops {
		if err := op.Validate(); err != nil {
			return errors.Annotatef(err, "op %d of request %s:%d", i, r.Actor, r.Seq)
		}
	}
	return nil
}
