package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

const defaultSerialReadTimeout = 300 * time.Millisecond

// ErrNotConnected is returned by I/O calls on a transport that is not open.
var ErrNotConnected = errors.New("transport is not connected")

type SerialTransport struct {
	portName string
	baudRate int
	parity   Parity

	mu      sync.Mutex
	port    serial.Port
	writeMu sync.Mutex

	readMu sync.Mutex
	lines  lineBuffer
}

func NewSerialTransport(portName string, baudRate int, parity Parity) *SerialTransport {
	return &SerialTransport{
		portName: portName,
		baudRate: baudRate,
		parity:   parity,
	}
}

// NewSerialFactory returns a Factory producing serial transports.
func NewSerialFactory() Factory {
	return func(portName string, baudRate int, parity Parity) Transport {
		return NewSerialTransport(portName, baudRate, parity)
	}
}

func (t *SerialTransport) Name() string {
	return t.portName
}

func (t *SerialTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

func (t *SerialTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.portName == "" {
		return errors.New("serial port is empty")
	}
	if t.baudRate <= 0 {
		return fmt.Errorf("invalid serial baud rate: %d", t.baudRate)
	}

	port, err := serial.Open(t.portName, &serial.Mode{
		BaudRate: t.baudRate,
		DataBits: 8,
		Parity:   t.parity.serialParity(),
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("open serial port %q: %w", t.portName, err)
	}
	if err := port.SetReadTimeout(defaultSerialReadTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("set serial read timeout: %w", err)
	}
	t.port = port
	portLogger(t.portName).Debug("serial port opened", "baud", t.baudRate, "parity", t.parity)

	return nil
}

func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	portLogger(t.portName).Debug("serial port closed")
	return err
}

// ReadLine blocks until a full line arrives, ctx is done or the port fails.
// The returned line has CR characters removed and may be empty.
func (t *SerialTransport) ReadLine(ctx context.Context) (string, error) {
	port, err := t.currentPort()
	if err != nil {
		return "", err
	}

	t.readMu.Lock()
	defer t.readMu.Unlock()

	buf := make([]byte, 256)
	for {
		line, ok, err := t.lines.next()
		if err != nil {
			return "", fmt.Errorf("read line: %w", err)
		}
		if ok {
			return line, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := port.Read(buf)
		if err != nil {
			return "", fmt.Errorf("read serial port: %w", err)
		}
		if n == 0 {
			continue
		}
		t.lines.feed(buf[:n])
	}
}

func (t *SerialTransport) WriteLine(ctx context.Context, line string) error {
	port, err := t.currentPort()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := writeFull(ctx, port, encodeLine(line)); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	return nil
}

func (t *SerialTransport) currentPort() (serial.Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil, ErrNotConnected
	}
	return t.port, nil
}

func writeFull(ctx context.Context, w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		written += n
	}
	return nil
}
