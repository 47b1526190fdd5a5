package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tailtest/tailtest/internal/transport"
)

const (
	DefaultVendorID       = "0403"
	DefaultProductID      = "6001"
	DefaultBaudRate       = 14400
	DefaultQuietPeriodMS  = 2000
	DefaultRetryDelayMS   = 500
	DefaultPresencePollMS = 1000
	DefaultSendIntervalMS = 100

	LogFormatText = "text"
	LogFormatJSON = "json"
)

var usbIDPattern = regexp.MustCompile(`^[0-9A-Fa-f]{4}$`)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
	Format    string `json:"format"`
}

// DeviceConfig identifies the fixture and its serial line settings.
// SerialPort pins the port when set: VID/PID resolution is skipped and
// presence tracks that port name instead of the USB identity.
type DeviceConfig struct {
	VendorID   string `json:"vendor_id"`
	ProductID  string `json:"product_id"`
	BaudRate   int    `json:"baud_rate"`
	Parity     string `json:"parity"`
	SerialPort string `json:"serial_port"`
}

// ScanConfig controls how received lines are grouped into scan frames.
type ScanConfig struct {
	QuietPeriodMS int `json:"quiet_period_ms"`
}

// SessionConfig controls reconnect and send pacing. Send pacing cannot be
// switched off: a missing or non-positive send_interval_ms becomes the default.
type SessionConfig struct {
	RetryDelayMS   int `json:"retry_delay_ms"`
	PresencePollMS int `json:"presence_poll_ms"`
	SendIntervalMS int `json:"send_interval_ms"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Device  DeviceConfig  `json:"device"`
	Scan    ScanConfig    `json:"scan"`
	Session SessionConfig `json:"session"`
	Logging LoggingConfig `json:"logging"`
}

func Default() AppConfig {
	return AppConfig{
		Device: DeviceConfig{
			VendorID:  DefaultVendorID,
			ProductID: DefaultProductID,
			BaudRate:  DefaultBaudRate,
			Parity:    string(transport.ParityNone),
		},
		Scan: ScanConfig{
			QuietPeriodMS: DefaultQuietPeriodMS,
		},
		Session: SessionConfig{
			RetryDelayMS:   DefaultRetryDelayMS,
			PresencePollMS: DefaultPresencePollMS,
			SendIntervalMS: DefaultSendIntervalMS,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
			Format:    LogFormatText,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	c.Device.VendorID = strings.TrimSpace(c.Device.VendorID)
	c.Device.ProductID = strings.TrimSpace(c.Device.ProductID)
	c.Device.SerialPort = strings.TrimSpace(c.Device.SerialPort)
	if c.Device.VendorID == "" {
		c.Device.VendorID = DefaultVendorID
	}
	if c.Device.ProductID == "" {
		c.Device.ProductID = DefaultProductID
	}
	if c.Device.BaudRate <= 0 {
		c.Device.BaudRate = DefaultBaudRate
	}
	if strings.TrimSpace(c.Device.Parity) == "" {
		c.Device.Parity = string(transport.ParityNone)
	}
	if c.Scan.QuietPeriodMS <= 0 {
		c.Scan.QuietPeriodMS = DefaultQuietPeriodMS
	}
	if c.Session.RetryDelayMS <= 0 {
		c.Session.RetryDelayMS = DefaultRetryDelayMS
	}
	if c.Session.PresencePollMS <= 0 {
		c.Session.PresencePollMS = DefaultPresencePollMS
	}
	if c.Session.SendIntervalMS <= 0 {
		c.Session.SendIntervalMS = DefaultSendIntervalMS
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = normalizeLogFormat(c.Logging.Format)
}

func normalizeLogFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case LogFormatJSON:
		return LogFormatJSON
	default:
		return LogFormatText
	}
}

func (c AppConfig) Validate() error {
	if !usbIDPattern.MatchString(c.Device.VendorID) {
		return fmt.Errorf("vendor id must be 4 hex digits: %q", c.Device.VendorID)
	}
	if !usbIDPattern.MatchString(c.Device.ProductID) {
		return fmt.Errorf("product id must be 4 hex digits: %q", c.Device.ProductID)
	}
	if c.Device.BaudRate <= 0 {
		return errors.New("serial baud must be positive")
	}
	if _, err := transport.ParseParity(c.Device.Parity); err != nil {
		return err
	}
	if c.Scan.QuietPeriodMS <= 0 {
		return errors.New("quiet period must be positive")
	}
	if c.Session.RetryDelayMS <= 0 {
		return errors.New("retry delay must be positive")
	}
	if c.Session.PresencePollMS <= 0 {
		return errors.New("presence poll interval must be positive")
	}
	if c.Session.SendIntervalMS <= 0 {
		return errors.New("send interval must be positive")
	}

	return nil
}

// ParityMode returns the parsed device parity, falling back to none.
func (c DeviceConfig) ParityMode() transport.Parity {
	p, err := transport.ParseParity(c.Parity)
	if err != nil {
		return transport.ParityNone
	}

	return p
}

func (c ScanConfig) QuietPeriod() time.Duration {
	return time.Duration(c.QuietPeriodMS) * time.Millisecond
}

func (c SessionConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

func (c SessionConfig) PresencePoll() time.Duration {
	return time.Duration(c.PresencePollMS) * time.Millisecond
}

func (c SessionConfig) SendInterval() time.Duration {
	return time.Duration(c.SendIntervalMS) * time.Millisecond
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
