//go:build !unix && !windows

package platform

import (
	"fmt"
	"runtime"
)

func acquireDeviceLock(_ string) (DeviceLock, error) {
	return nil, fmt.Errorf("%w on %s", ErrDeviceLockUnsupported, runtime.GOOS)
}
