// pkg/backend/queue.go
package backend

import (
	"reflect"

	"github.com/juju/collections/deque"
	"github.com/juju/errors"

	"opdoc/pkg/types"
)

// causallyReady reports whether every change the given change depends
// on has been applied, counting the change's own predecessor as an
// implicit dependency.
func (m *mut) causallyReady(ch types.Change) bool {
	deps := ch.Deps.With(ch.Actor, ch.Seq-1)
	return deps.LessOrEqual(m.s.clock)
}

// drain repeatedly sweeps the pending queue, applying every causally
// ready change. A full sweep that applies nothing terminates the
// loop; whatever remains stays queued for a later delivery.
func (m *mut) drain() error {
	pending := deque.New()
	for _, ch := range m.s.queue {
		pending.PushBack(ch)
	}
	for {
		applied := 0
		for i, n := 0, pending.Len(); i < n; i++ {
			item, _ := pending.PopFront()
			ch := item.(types.Change)
			if !m.causallyReady(ch) {
				pending.PushBack(ch)
				continue
			}
			if err := m.applyChange(ch); err != nil {
				return errors.Trace(err)
			}
			applied++
		}
		if applied == 0 {
			break
		}
	}
	m.s.queue = m.s.queue[:0]
	for pending.Len() > 0 {
		item, _ := pending.PopFront()
		m.s.queue = append(m.s.queue, item.(types.Change))
	}
	logger.Tracef("drain complete: %d change(s) still pending", len(m.s.queue))
	return nil
}

// applyChange applies one causally ready change: records it in the
// actor history, advances the clock and frontier, and interprets its
// ops in order. Reapplying an already applied change is a no-op;
// reusing an applied (actor, seq) with different content is an error.
func (m *mut) applyChange(ch types.Change) error {
	if ch.Seq <= m.s.clock.Get(ch.Actor) {
		prior := m.s.states[ch.Actor][ch.Seq-1].change
		if !changesEqual(prior, ch) {
			return errors.WithType(
				errors.Errorf("change %s:%d was already applied with different content", ch.Actor, ch.Seq),
				types.ErrInconsistentReuse)
		}
		logger.Tracef("skipping already applied change %s:%d", ch.Actor, ch.Seq)
		return nil
	}

	allDeps := m.transitiveDeps(ch.Deps.With(ch.Actor, ch.Seq-1))
	m.appendHistory(ch.Actor, appliedChange{change: ch, allDeps: allDeps})
	m.s.clock[ch.Actor] = ch.Seq
	m.updateFrontier(ch, allDeps)

	m.created = make(map[string]bool)
	for _, op := range ch.Ops {
		stamped := fieldOp{Op: op, Actor: ch.Actor, Seq: ch.Seq}
		var err error
		switch op.Action {
		case types.ActionMakeMap, types.ActionMakeTable, types.ActionMakeList, types.ActionMakeText:
			err = m.applyMake(stamped)
		case types.ActionIns:
			err = m.applyInsert(stamped)
		case types.ActionSet, types.ActionDel, types.ActionLink:
			err = m.applyAssign(stamped)
		default:
			err = errors.WithType(errors.Errorf("action %q", op.Action), types.ErrUnknownAction)
		}
		if err != nil {
			return errors.Annotatef(err, "applying change %s:%d", ch.Actor, ch.Seq)
		}
	}
	logger.Debugf("applied change %s:%d (%d op(s))", ch.Actor, ch.Seq, len(ch.Ops))
	return nil
}

// changesEqual compares two changes structurally. Values arrive
// through the same JSON decoding path on both sides, so reflective
// equality is sufficient.
func changesEqual(a, b types.Change) bool {
	return a.Actor == b.Actor && a.Seq == b.Seq && a.Message == b.Message &&
		a.Deps.Equal(b.Deps) && reflect.DeepEqual(a.Ops, b.Ops)
}
