package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tailtest/tailtest/internal/bus"
	"github.com/tailtest/tailtest/internal/connectors"
	"github.com/tailtest/tailtest/internal/diagnostics"
	"github.com/tailtest/tailtest/internal/frame"
)

// Pipeline carries session output through frame assembly and analysis and
// publishes every stage on the bus. It is the session observer and the
// assembler sink at once.
type Pipeline struct {
	logger    *slog.Logger
	bus       bus.MessageBus
	assembler *frame.Assembler

	mu   sync.Mutex
	port string
}

func NewPipeline(logger *slog.Logger, b bus.MessageBus, quiet time.Duration) *Pipeline {
	p := &Pipeline{
		logger: logger,
		bus:    b,
	}
	p.assembler = frame.NewAssembler(logger.With("stage", "frame"), quiet, p)

	return p
}

// Run drives frame assembly until ctx is done.
func (p *Pipeline) Run(ctx context.Context) {
	p.assembler.Run(ctx)
}

func (p *Pipeline) ConnectionStateChanged(status connectors.ConnectionStatus) {
	p.mu.Lock()
	p.port = status.Port
	p.mu.Unlock()

	if !status.State.Ready() {
		p.assembler.Reset()
	}
	p.bus.Publish(connectors.TopicConnStatus, status)
}

func (p *Pipeline) LineReceived(line string) {
	p.mu.Lock()
	port := p.port
	p.mu.Unlock()

	p.bus.Publish(connectors.TopicRawLineIn, connectors.RawLine{Text: line, Port: port})
	p.assembler.Push(line)
}

func (p *Pipeline) FrameStarted(at time.Time) {
	p.bus.Publish(connectors.TopicScanStarted, connectors.ScanStarted{At: at})
}

func (p *Pipeline) FrameCompleted(f frame.Frame) {
	result := diagnostics.Analyze(f.Lines)
	p.logger.Info("scan analyzed",
		"status", result.Status,
		"faults", len(result.Faults),
		"lines", len(f.Lines),
		"duration", f.CompletedAt.Sub(f.StartedAt),
	)

	p.bus.Publish(connectors.TopicScanResult, connectors.ScanResult{
		Result:      result,
		Lines:       len(f.Lines),
		StartedAt:   f.StartedAt,
		CompletedAt: f.CompletedAt,
	})
}
