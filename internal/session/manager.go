// Package session keeps a line-oriented link to the tail tester open across
// USB attach and detach.
//
// The manager moves between Disconnected, Searching and Connected. While
// Searching a single scanner goroutine walks the candidate ports returned by
// the resolver, pausing between passes, until one opens or the device goes
// away. Every transition happens under one mutex and bumps a generation
// counter on detach, so a scanner or reader started for an earlier attach can
// never commit state or deliver lines.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tailtest/tailtest/internal/connectors"
	"github.com/tailtest/tailtest/internal/transport"
	"github.com/tailtest/tailtest/internal/usbdev"
)

const (
	DefaultRetryDelay = 500 * time.Millisecond
	readErrorBackoff  = 100 * time.Millisecond
)

// PresenceMonitor reports whether the fixture is attached.
type PresenceMonitor interface {
	IsPresent() bool
	Events() <-chan usbdev.Event
}

// PortResolver returns candidate port names in priority order.
type PortResolver interface {
	Resolve(ctx context.Context, vendorID, productID string) ([]string, error)
}

// Observer receives session notifications. Methods are invoked with the
// manager lock held and in transition order; they must not call back into
// the Manager.
type Observer interface {
	ConnectionStateChanged(status connectors.ConnectionStatus)
	LineReceived(line string)
}

type Options struct {
	VendorID   string
	ProductID  string
	BaudRate   int
	Parity     transport.Parity
	RetryDelay time.Duration
	// SendInterval is the minimum gap between lines sent to the fixture.
	// The app always sets it from config.SessionConfig, which requires a
	// positive value. A zero Options value leaves sends unpaced.
	SendInterval time.Duration
}

type Manager struct {
	logger       *slog.Logger
	opts         Options
	presence     PresenceMonitor
	resolver     PortResolver
	newTransport transport.Factory
	observer     Observer
	sendLimiter  *rate.Limiter

	mu         sync.Mutex
	ctx        context.Context
	state      connectors.ConnectionState
	generation uint64
	scanning   bool
	active     transport.Transport
	port       string
	stopReader context.CancelFunc
}

func NewManager(logger *slog.Logger, opts Options, presence PresenceMonitor, resolver PortResolver, factory transport.Factory, observer Observer) *Manager {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}

	limit := rate.Inf
	if opts.SendInterval > 0 {
		limit = rate.Every(opts.SendInterval)
	}

	return &Manager{
		logger:       logger,
		opts:         opts,
		presence:     presence,
		resolver:     resolver,
		newTransport: factory,
		observer:     observer,
		sendLimiter:  rate.NewLimiter(limit, 1),
		ctx:          context.Background(),
		state:        connectors.ConnectionStateDisconnected,
	}
}

// Run consumes presence events until ctx is done. If the device is already
// attached a connect attempt starts immediately.
func (m *Manager) Run(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	if m.presence.IsPresent() {
		m.DeviceAttached()
	}

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case ev, ok := <-m.presence.Events():
			if !ok {
				m.shutdown()
				return
			}
			switch ev {
			case usbdev.EventAttached:
				m.DeviceAttached()
			case usbdev.EventDetached:
				m.DeviceDetached()
			}
		}
	}
}

// DeviceAttached starts searching for the device port unless already connected.
func (m *Manager) DeviceAttached() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == connectors.ConnectionStateConnected {
		m.logger.Debug("attach ignored, already connected", "port", m.port)
		return
	}
	m.setStateLocked(connectors.ConnectionStateSearching)
	if !m.scanning {
		m.scanning = true
		go m.scanPorts(m.ctx)
	}
}

// DeviceDetached drops the active session and aborts any attempt in flight.
func (m *Manager) DeviceDetached() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	if m.port != "" {
		m.logger.Info("disconnected", "port", m.port)
	}
	m.releaseLocked()
	m.setStateLocked(connectors.ConnectionStateDisconnected)
}

// Send writes a line to the fixture, paced by SendInterval. It is a no-op
// returning false when the session is not connected or the line is empty;
// write failures are logged.
func (m *Manager) Send(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}

	m.mu.Lock()
	tr := m.active
	ready := m.state.Ready() && tr != nil
	m.mu.Unlock()
	if !ready {
		return false
	}
	if err := m.sendLimiter.Wait(ctx); err != nil {
		return false
	}

	if err := tr.WriteLine(ctx, line); err != nil {
		m.logger.Warn("send line failed", "port", tr.Name(), "error", err)
		return false
	}

	return true
}

// Status returns the current state and active port.
func (m *Manager) Status() connectors.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.statusLocked()
}

func (m *Manager) scanPorts(ctx context.Context) {
	for pass := 1; ; pass++ {
		gen, ok := m.keepScanning(ctx)
		if !ok {
			return
		}

		names, err := m.resolver.Resolve(ctx, m.opts.VendorID, m.opts.ProductID)
		if err != nil {
			m.logger.Warn("resolve candidate ports failed", "pass", pass, "error", err)
		} else if len(names) == 0 {
			m.logger.Debug("no candidate ports", "pass", pass)
		}

		restart := false
		for _, name := range names {
			if g, ok := m.keepScanning(ctx); !ok {
				return
			} else if g != gen {
				restart = true
				break
			}

			tr := m.newTransport(name, m.opts.BaudRate, m.opts.Parity)
			if err := tr.Connect(ctx); err != nil {
				m.logger.Warn("open candidate port failed", "port", name, "pass", pass, "error", err)
				continue
			}
			if m.commit(ctx, gen, name, tr) {
				return
			}
			_ = tr.Close()
			restart = true
			break
		}
		if restart {
			continue
		}

		if !sleepWithContext(ctx, m.opts.RetryDelay) {
			m.mu.Lock()
			m.scanning = false
			m.mu.Unlock()
			return
		}
	}
}

// keepScanning decides, under the lock, whether the scanner goroutine keeps
// running. Clearing scanning in the same critical section guarantees a later
// attach starts a fresh scan.
func (m *Manager) keepScanning(ctx context.Context) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ctx.Err() != nil || m.state != connectors.ConnectionStateSearching {
		m.scanning = false
		return 0, false
	}
	if !m.presence.IsPresent() {
		m.logger.Info("device gone while searching, giving up")
		m.generation++
		m.setStateLocked(connectors.ConnectionStateDisconnected)
		m.scanning = false
		return 0, false
	}

	return m.generation, true
}

func (m *Manager) commit(ctx context.Context, gen uint64, name string, tr transport.Transport) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ctx.Err() != nil || m.generation != gen || m.state != connectors.ConnectionStateSearching || !m.presence.IsPresent() {
		m.logger.Debug("discarding stale connection", "port", name)
		return false
	}

	readerCtx, cancel := context.WithCancel(ctx)
	m.active = tr
	m.port = name
	m.stopReader = cancel
	m.scanning = false
	go m.readLoop(readerCtx, gen, tr)

	m.logger.Info("connected", "port", name, "baud", m.opts.BaudRate, "parity", m.opts.Parity)
	m.setStateLocked(connectors.ConnectionStateConnected)

	return true
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, tr transport.Transport) {
	for {
		line, err := tr.ReadLine(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrNotConnected) {
				return
			}
			m.logger.Warn("read line failed", "port", tr.Name(), "error", err)
			if !sleepWithContext(ctx, readErrorBackoff) {
				return
			}
			continue
		}
		m.deliver(gen, line)
	}
}

func (m *Manager) deliver(gen uint64, line string) {
	line = transport.StripCR(line)
	if line == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen || !m.state.Ready() {
		return
	}
	m.observer.LineReceived(line)
}

func (m *Manager) shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	m.releaseLocked()
	m.setStateLocked(connectors.ConnectionStateDisconnected)
}

func (m *Manager) releaseLocked() {
	if m.stopReader != nil {
		m.stopReader()
		m.stopReader = nil
	}
	if m.active != nil {
		if err := m.active.Close(); err != nil {
			m.logger.Debug("close transport", "port", m.port, "error", err)
		}
		m.active = nil
	}
	m.port = ""
}

func (m *Manager) setStateLocked(state connectors.ConnectionState) {
	if m.state == state {
		return
	}
	m.state = state
	m.observer.ConnectionStateChanged(m.statusLocked())
}

func (m *Manager) statusLocked() connectors.ConnectionStatus {
	return connectors.ConnectionStatus{
		State:     m.state,
		Port:      m.port,
		Timestamp: time.Now(),
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
