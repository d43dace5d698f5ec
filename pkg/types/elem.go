// pkg/types/elem.go
package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// Head is the virtual predecessor of the first element of every list
// and text object. It is a valid insertion key but never a valid
// element id.
const Head = "_head"

// MakeElemID formats an element identifier from the originating actor
// and its per-list insertion counter.
func MakeElemID(actor string, counter uint64) string {
	return fmt.Sprintf("%s:%d", actor, counter)
}

// ParseElemID splits an element identifier into actor and counter.
// The counter is everything after the last colon, so actor ids
// containing colons are unambiguous.
func ParseElemID(elemID string) (actor string, counter uint64, err error) {
	i := strings.LastIndex(elemID, ":")
	if i < 1 || i == len(elemID)-1 {
		return "", 0, errors.WithType(
			errors.Errorf("malformed element id %q", elemID), ErrInvalidRequest)
	}
	counter, err = strconv.ParseUint(elemID[i+1:], 10, 64)
	if err != nil {
		return "", 0, errors.WithType(
			errors.Errorf("malformed element counter in %q", elemID), ErrInvalidRequest)
	}
	return elemID[:i], counter, nil
}
