package transport

import "context"

// Transport is a line-oriented link to the fixture.
//
// ReadLine must be called from a single goroutine at a time.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	ReadLine(ctx context.Context) (string, error)
	WriteLine(ctx context.Context, line string) error
}

// Factory creates an unconnected transport for one candidate port.
type Factory func(portName string, baudRate int, parity Parity) Transport
