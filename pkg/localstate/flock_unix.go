//go:build unix

package localstate

import (
	"errors"
	"os"
	"syscall"
)

// errFlockUnsupported signals that the filesystem rejects flock and the
// lock-file fallback should be used instead.
var errFlockUnsupported = errors.New("flock unsupported")

// tryFlock attempts a non-blocking advisory lock, exclusive for writers and
// shared for readers.
func tryFlock(f *os.File, exclusive bool) (func(), error) {
	how := syscall.LOCK_SH
	if exclusive {
		how = syscall.LOCK_EX
	}
	err := syscall.Flock(int(f.Fd()), how|syscall.LOCK_NB)
	if err == nil {
		return func() { _ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN) }, nil
	}
	if errors.Is(err, syscall.ENOTSUP) || errors.Is(err, syscall.EOPNOTSUPP) || errors.Is(err, syscall.ENOSYS) {
		return nil, errFlockUnsupported
	}
	return nil, err
}
