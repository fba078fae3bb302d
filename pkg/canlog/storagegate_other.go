//go:build !(linux || darwin || freebsd)

package canlog

import "errors"

func freeBytes(path string) (uint64, error) {
	return 0, errors.ErrUnsupported
}
