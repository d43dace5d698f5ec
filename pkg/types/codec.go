// pkg/types/codec.go
package types

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/juju/errors"
)

// json is the wire codec. Changes and patches are plain JSON; the
// iterator config keeps field ordering and number handling compatible
// with the standard library.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MarshalChange encodes a change for the wire.
func MarshalChange(ch Change) ([]byte, error) {
	data, err := json.Marshal(ch)
	if err != nil {
		return nil, errors.Annotatef(err, "encoding change %s:%d", ch.Actor, ch.Seq)
	}
	return data, nil
}

// UnmarshalChange decodes and validates a change from the wire.
func UnmarshalChange(data []byte) (Change, error) {
	var ch Change
	if err := json.Unmarshal(data, &ch); err != nil {
		return Change{}, errors.WithType(
			errors.Annotate(err, "decoding change"), ErrInvalidRequest)
	}
	if err := ch.Validate(); err != nil {
		return Change{}, errors.Trace(err)
	}
	return ch, nil
}

// MarshalPatch encodes a patch.
func MarshalPatch(p Patch) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Annotate(err, "encoding patch")
	}
	return data, nil
}

// UnmarshalPatch decodes a patch.
func UnmarshalPatch(data []byte) (Patch, error) {
	var p Patch
	if err := json.Unmarshal(data, &p); err != nil {
		return Patch{}, errors.Annotate(err, "decoding patch")
	}
	return p, nil
}
