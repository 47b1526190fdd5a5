package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tailtest/tailtest/internal/bus"
	"github.com/tailtest/tailtest/internal/config"
	"github.com/tailtest/tailtest/internal/connectors"
	"github.com/tailtest/tailtest/internal/logging"
	"github.com/tailtest/tailtest/internal/session"
	"github.com/tailtest/tailtest/internal/transport"
	"github.com/tailtest/tailtest/internal/usbdev"
)

// Runtime wires presence, session, frame assembly and analysis together.
type Runtime struct {
	Ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	Paths  Paths
	Config config.AppConfig

	LogManager *logging.Manager
	Bus        *bus.PubSubBus

	Presence *usbdev.Monitor
	Session  *session.Manager
	Pipeline *Pipeline

	connStatusMu    sync.RWMutex
	connStatus      connectors.ConnectionStatus
	connStatusKnown bool
}

// ConfigOverride adjusts loaded config before validation, e.g. from CLI flags.
type ConfigOverride func(*config.AppConfig)

// LoadConfig resolves paths and returns the validated config with overrides applied.
func LoadConfig(overrides ...ConfigOverride) (Paths, config.AppConfig, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return Paths{}, config.AppConfig{}, err
	}
	cfg, err := loadConfigFile(paths.ConfigFile, overrides...)
	if err != nil {
		return Paths{}, config.AppConfig{}, err
	}

	return paths, cfg, nil
}

func loadConfigFile(path string, overrides ...ConfigOverride) (config.AppConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.AppConfig{}, err
	}
	for _, apply := range overrides {
		apply(&cfg)
	}
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return config.AppConfig{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func Initialize(parent context.Context, overrides ...ConfigOverride) (*Runtime, error) {
	paths, cfg, err := LoadConfig(overrides...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:        ctx,
		cancel:     cancel,
		Paths:      paths,
		Config:     cfg,
		connStatus: InitialConnectionStatus(),
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Info("starting tailtest runtime",
		"version", BuildVersion(),
		"build_date", BuildDateYMD(),
		"device", DeviceLabel(cfg.Device),
		"baud", cfg.Device.BaudRate,
		"parity", cfg.Device.ParityMode(),
	)

	rt.Bus = bus.New(logMgr.Logger("bus"))
	rt.Presence = usbdev.NewMonitor(logMgr.Logger("usb"), PresenceTarget(cfg.Device), cfg.Session.PresencePoll())
	rt.Pipeline = NewPipeline(logMgr.Logger("scan"), rt.Bus, cfg.Scan.QuietPeriod())
	rt.Session = session.NewManager(
		logMgr.Logger("session"),
		SessionOptions(cfg),
		rt.Presence,
		NewPortResolver(logMgr.Logger("usb"), cfg.Device),
		transport.NewSerialFactory(),
		rt.Pipeline,
	)

	return rt, nil
}

// Start launches the background workers. Subscribe to the bus before
// calling it to observe the initial connection attempt.
func (r *Runtime) Start() {
	connSub := r.Bus.Subscribe(connectors.TopicConnStatus)
	r.spawn(func(ctx context.Context) {
		bus.Listen(ctx, connSub, func(msg any) {
			if status, ok := msg.(connectors.ConnectionStatus); ok {
				r.setConnStatus(status)
			}
		})
	})
	r.spawn(r.Pipeline.Run)
	r.spawn(r.Presence.Run)
	r.spawn(r.Session.Run)
}

func (r *Runtime) spawn(fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn(r.Ctx)
	}()
}

// Send writes a line to the fixture and echoes it on the raw-out topic.
func (r *Runtime) Send(line string) bool {
	if !r.Session.Send(r.Ctx, line) {
		return false
	}
	r.Bus.Publish(connectors.TopicRawLineOut, connectors.RawLine{Text: line, Port: r.Session.Status().Port})

	return true
}

func (r *Runtime) setConnStatus(status connectors.ConnectionStatus) {
	r.connStatusMu.Lock()
	r.connStatus = status
	r.connStatusKnown = true
	r.connStatusMu.Unlock()
}

func (r *Runtime) CurrentConnStatus() (connectors.ConnectionStatus, bool) {
	r.connStatusMu.RLock()
	status := r.connStatus
	known := r.connStatusKnown
	r.connStatusMu.RUnlock()
	return status, known
}

// Close stops workers, releases the port and flushes the log file.
func (r *Runtime) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.LogManager != nil {
		return r.LogManager.Close()
	}

	return nil
}
