package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tailtest/tailtest/internal/app"
	"github.com/tailtest/tailtest/internal/bus"
	"github.com/tailtest/tailtest/internal/connectors"
	"github.com/tailtest/tailtest/internal/platform"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the fixture and report every scan",
		Long:  "Waits for the fixture, keeps the session open across replugs and prints a report for each scan. Lines typed on stdin are sent to the fixture.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runSession(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), configOverride(v))
		},
	}
}

func runSession(ctx context.Context, stdin io.Reader, stdout io.Writer, override app.ConfigOverride) error {
	rt, err := app.Initialize(ctx, override)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Warn("close runtime", "error", closeErr)
		}
	}()
	logger := rt.LogManager.Logger("cli")

	lock, err := platform.AcquireDeviceLock(app.Name, rt.Config.Device.VendorID, rt.Config.Device.ProductID)
	if errors.Is(err, platform.ErrDeviceLocked) {
		return fmt.Errorf("%s is used by another %s process", app.DeviceLabel(rt.Config.Device), app.Name)
	}
	if err != nil && !errors.Is(err, platform.ErrDeviceLockUnsupported) {
		return fmt.Errorf("acquire device lock: %w", err)
	}
	if lock != nil {
		defer func() {
			if relErr := lock.Release(); relErr != nil {
				logger.Warn("release device lock", "error", relErr)
			}
		}()
	}

	printer := &reportPrinter{w: stdout}
	reports := rt.Bus.Subscribe(connectors.TopicConnStatus, connectors.TopicScanStarted, connectors.TopicScanResult)
	go bus.Listen(ctx, reports, printer.handle)

	rt.Start()
	printer.printf("Waiting for %s\n", app.DeviceLabel(rt.Config.Device))
	go forwardInput(ctx, stdin, rt, logger)

	<-ctx.Done()
	logger.Info("shutting down")

	return nil
}

// forwardInput sends each non-empty stdin line to the fixture.
func forwardInput(ctx context.Context, stdin io.Reader, rt *app.Runtime, logger *slog.Logger) {
	sc := bufio.NewScanner(stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !rt.Send(line) {
			logger.Warn("line not sent, device is not ready", "line", line)
		}
	}
}

type reportPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *reportPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.w, format, args...)
}

func (p *reportPrinter) handle(msg any) {
	switch m := msg.(type) {
	case connectors.ConnectionStatus:
		p.printf("%s\n", app.ConnectionStatusText(m))
	case connectors.ScanStarted:
		p.printf("Scanning...\n")
	case connectors.ScanResult:
		p.mu.Lock()
		defer p.mu.Unlock()
		_ = renderResult(p.w, m.Result)
	}
}
