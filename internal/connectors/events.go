package connectors

import (
	"time"

	"github.com/tailtest/tailtest/internal/diagnostics"
)

// ConnectionState describes the device session lifecycle.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateSearching    ConnectionState = "searching"
	ConnectionStateConnected    ConnectionState = "connected"
)

// Ready reports whether lines may be sent and received in this state.
func (s ConnectionState) Ready() bool {
	return s == ConnectionStateConnected
}

// ConnectionStatus is a bus event snapshot of the device session.
type ConnectionStatus struct {
	State     ConnectionState
	Port      string
	Timestamp time.Time
}

// ScanStarted is published when the first line of a new frame arrives.
type ScanStarted struct {
	At time.Time
}

// ScanResult carries the analysis of one completed frame.
type ScanResult struct {
	Result      diagnostics.Result
	Lines       int
	StartedAt   time.Time
	CompletedAt time.Time
}

// RawLine carries a single line for debug/log views.
type RawLine struct {
	Text string
	Port string
}
