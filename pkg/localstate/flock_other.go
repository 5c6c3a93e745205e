//go:build !unix

package localstate

import (
	"errors"
	"os"
)

var errFlockUnsupported = errors.New("flock unsupported")

// tryFlock has no OS advisory locking on this platform; callers fall back to
// the lock-file mechanism.
func tryFlock(_ *os.File, _ bool) (func(), error) {
	return nil, errFlockUnsupported
}
