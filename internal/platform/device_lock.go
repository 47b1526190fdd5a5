// Package platform holds OS-specific helpers for the tester host.
package platform

import (
	"errors"
	"strings"
)

// ErrDeviceLocked indicates another host process already owns the fixture.
var ErrDeviceLocked = errors.New("device already in use by another process")

// ErrDeviceLockUnsupported indicates the current platform has no lock backend.
var ErrDeviceLockUnsupported = errors.New("device lock unsupported")

// DeviceLock is held for as long as this process talks to the fixture.
type DeviceLock interface {
	Release() error
}

// AcquireDeviceLock takes a per-user lock keyed by app and USB identity so
// two hosts never open the same fixture at once.
func AcquireDeviceLock(appID, vendorID, productID string) (DeviceLock, error) {
	return acquireDeviceLock(deviceLockName(appID, vendorID, productID))
}

func deviceLockName(appID, vendorID, productID string) string {
	return normalizeLockComponent(appID, "app") + "-" +
		strings.ToLower(normalizeLockComponent(vendorID, "0000")) + "_" +
		strings.ToLower(normalizeLockComponent(productID, "0000"))
}

func normalizeLockComponent(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	normalized := strings.Trim(b.String(), "_-.")
	if normalized == "" {
		return fallback
	}

	return normalized
}
