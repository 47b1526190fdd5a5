package transport

import "log/slog"

// portLogger tags records with the serial port they concern. Transports are
// created per connect attempt, so they log through the process default logger.
func portLogger(port string) *slog.Logger {
	return slog.With("component", "transport", "port", port)
}
