package app

import (
	"fmt"
	"strings"

	"github.com/tailtest/tailtest/internal/config"
	"github.com/tailtest/tailtest/internal/connectors"
)

// DeviceLabel names the fixture the way status lines refer to it.
func DeviceLabel(cfg config.DeviceConfig) string {
	if port := strings.TrimSpace(cfg.SerialPort); port != "" {
		return port
	}

	return fmt.Sprintf("VID_%s&PID_%s", strings.ToUpper(cfg.VendorID), strings.ToUpper(cfg.ProductID))
}

// ConnectionStatusText renders a session state for the operator.
func ConnectionStatusText(status connectors.ConnectionStatus) string {
	switch status.State {
	case connectors.ConnectionStateConnected:
		if status.Port != "" {
			return "Device is ready! (" + status.Port + ")"
		}
		return "Device is ready!"
	case connectors.ConnectionStateSearching:
		return "Searching for device..."
	default:
		return "Device disconnected!"
	}
}

func InitialConnectionStatus() connectors.ConnectionStatus {
	return connectors.ConnectionStatus{State: connectors.ConnectionStateDisconnected}
}
