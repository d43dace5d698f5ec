// pkg/types/clock.go
package types

// Clock is a vector clock: a mapping from actor id to the highest
// sequence number observed for that actor. A missing actor counts as
// zero. Clocks are compared component-wise.
type Clock map[string]uint64

// NewClock returns an empty clock.
func NewClock() Clock {
	return make(Clock)
}

// Get returns the entry for actor, or zero if absent.
func (c Clock) Get(actor string) uint64 {
	return c[actor]
}

// Copy returns an independent copy of the clock.
func (c Clock) Copy() Clock {
	out := make(Clock, len(c))
	for actor, seq := range c {
		out[actor] = seq
	}
	return out
}

// With returns a copy of the clock with actor set to seq.
func (c Clock) With(actor string, seq uint64) Clock {
	out := c.Copy()
	out[actor] = seq
	return out
}

// Without returns a copy of the clock with actor removed.
func (c Clock) Without(actor string) Clock {
	out := c.Copy()
	delete(out, actor)
	return out
}

// LessOrEqual reports whether every entry of c is covered by other,
// i.e. c[a] <= other[a] for every actor a.
func (c Clock) LessOrEqual(other Clock) bool {
	for actor, seq := range c {
		if seq > other.Get(actor) {
			return false
		}
	}
	return true
}

// Equal reports whether the two clocks have identical entries,
// treating missing and zero entries the same.
func (c Clock) Equal(other Clock) bool {
	return c.LessOrEqual(other) && other.LessOrEqual(c)
}

// Merge returns the component-wise maximum of the two clocks.
func (c Clock) Merge(other Clock) Clock {
	out := c.Copy()
	for actor, seq := range other {
		if seq > out[actor] {
			out[actor] = seq
		}
	}
	return out
}
