package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tailtest/tailtest/internal/config"
	"github.com/tailtest/tailtest/internal/session"
	"github.com/tailtest/tailtest/internal/usbdev"
)

// DeviceID returns the fixture's USB identity.
func DeviceID(cfg config.DeviceConfig) usbdev.ID {
	return usbdev.ID{VendorID: cfg.VendorID, ProductID: cfg.ProductID}
}

// PresenceTarget is what the presence monitor watches. A pinned port is
// watched by name, so non-USB and non-FTDI ports still count as attached.
func PresenceTarget(cfg config.DeviceConfig) usbdev.Target {
	if port := strings.TrimSpace(cfg.SerialPort); port != "" {
		return usbdev.PortName(port)
	}

	return DeviceID(cfg)
}

// NewPortResolver pins the configured port when one is set and otherwise
// resolves candidates by VID/PID.
func NewPortResolver(logger *slog.Logger, cfg config.DeviceConfig) usbdev.Resolver {
	if port := strings.TrimSpace(cfg.SerialPort); port != "" {
		return usbdev.NewStaticResolver(port)
	}

	return usbdev.NewResolver(logger)
}

func SessionOptions(cfg config.AppConfig) session.Options {
	return session.Options{
		VendorID:     cfg.Device.VendorID,
		ProductID:    cfg.Device.ProductID,
		BaudRate:     cfg.Device.BaudRate,
		Parity:       cfg.Device.ParityMode(),
		RetryDelay:   cfg.Session.RetryDelay(),
		SendInterval: cfg.Session.SendInterval(),
	}
}

// PortReport is a one-shot snapshot of the fixture's visibility.
type PortReport struct {
	Present    bool
	Candidates []string
}

// InspectPorts checks presence once and resolves candidate ports without
// opening any of them.
func InspectPorts(ctx context.Context, logger *slog.Logger, cfg config.DeviceConfig) (PortReport, error) {
	monitor := usbdev.NewMonitor(logger, PresenceTarget(cfg), 0)
	report := PortReport{Present: monitor.IsPresent()}

	names, err := NewPortResolver(logger, cfg).Resolve(ctx, cfg.VendorID, cfg.ProductID)
	if err != nil {
		return report, fmt.Errorf("resolve ports for %s: %w", DeviceLabel(cfg), err)
	}
	report.Candidates = names

	return report, nil
}
