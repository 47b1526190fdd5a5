package usbdev

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.bug.st/serial/enumerator"
)

const DefaultPollInterval = time.Second

// Event is an attach or detach notification.
type Event string

const (
	EventAttached Event = "attached"
	EventDetached Event = "detached"
)

// Monitor polls the port enumerator and reports attach/detach transitions of
// one target. Events are emitted only on a change of the cached presence.
type Monitor struct {
	logger   *slog.Logger
	target   Target
	list     ListFunc
	interval time.Duration

	present atomic.Bool
	events  chan Event
}

// NewMonitor creates a monitor and performs the initial presence check.
// target is usually an ID, or a PortName when the port is pinned.
func NewMonitor(logger *slog.Logger, target Target, interval time.Duration) *Monitor {
	return newMonitor(logger, target, interval, enumerator.GetDetailedPortsList)
}

func newMonitor(logger *slog.Logger, target Target, interval time.Duration, list ListFunc) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	m := &Monitor{
		logger:   logger,
		target:   target,
		list:     list,
		interval: interval,
		events:   make(chan Event, 8),
	}
	present, err := m.detect()
	if err != nil {
		logger.Warn("initial presence check failed", "device", target.String(), "error", err)
	}
	m.present.Store(present)

	return m
}

func (m *Monitor) IsPresent() bool {
	return m.present.Load()
}

func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Run polls until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ev, ok := m.poll(); ok {
				select {
				case m.events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (m *Monitor) poll() (Event, bool) {
	present, err := m.detect()
	if err != nil {
		m.logger.Warn("presence check failed", "device", m.target.String(), "error", err)
		return "", false
	}
	if m.present.Swap(present) == present {
		return "", false
	}

	if present {
		m.logger.Info("device attached", "device", m.target.String())
		return EventAttached, true
	}
	m.logger.Info("device detached", "device", m.target.String())

	return EventDetached, true
}

func (m *Monitor) detect() (bool, error) {
	names, err := matchingPorts(m.list, m.target)
	if err != nil {
		return false, err
	}

	return len(names) > 0, nil
}
