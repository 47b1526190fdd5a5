//go:build !windows

package usbdev

import "log/slog"

// NewResolver returns the port resolver for the current platform.
func NewResolver(_ *slog.Logger) Resolver {
	return NewEnumeratorResolver()
}
