// Package frame groups a stream of received lines into scan frames.
//
// A frame starts with the first line after an idle gap and ends when no line
// has arrived for the quiet period. All state is owned by the goroutine
// running Assembler.Run.
package frame

import (
	"context"
	"log/slog"
	"time"
)

const DefaultQuietPeriod = 2 * time.Second

// Frame is one completed burst of lines. Lines must not be modified.
type Frame struct {
	Lines       []string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Sink receives frame notifications from the assembler goroutine, in order.
type Sink interface {
	FrameStarted(at time.Time)
	FrameCompleted(f Frame)
}

// input is either a received line or a reset marker. Both share one queue
// so a reset only affects lines pushed before it.
type input struct {
	line  string
	reset bool
}

type Assembler struct {
	logger *slog.Logger
	quiet  time.Duration
	sink   Sink

	inputs chan input
	done   chan struct{}
}

func NewAssembler(logger *slog.Logger, quiet time.Duration, sink Sink) *Assembler {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}

	return &Assembler{
		logger: logger,
		quiet:  quiet,
		sink:   sink,
		inputs: make(chan input, 128),
		done:   make(chan struct{}),
	}
}

// Push hands a line to the assembler. It is dropped once Run has returned.
func (a *Assembler) Push(line string) {
	a.enqueue(input{line: line})
}

// Reset discards the frame in progress, including lines pushed before it
// that are still queued. Lines pushed after Reset start a new frame.
func (a *Assembler) Reset() {
	a.enqueue(input{reset: true})
}

func (a *Assembler) enqueue(in input) {
	select {
	case a.inputs <- in:
	case <-a.done:
	}
}

func (a *Assembler) Run(ctx context.Context) {
	defer close(a.done)

	timer := time.NewTimer(a.quiet)
	timer.Stop()
	defer timer.Stop()

	var (
		expired <-chan time.Time
		buf     []string
		started time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return
		case in := <-a.inputs:
			if in.reset {
				timer.Stop()
				if expired != nil {
					a.logger.Info("partial frame discarded", "lines", len(buf))
				}
				expired = nil
				buf = nil
				continue
			}
			if expired == nil {
				buf = nil
				started = time.Now()
				a.logger.Debug("frame started")
				a.sink.FrameStarted(started)
			}
			buf = append(buf, in.line)
			timer.Reset(a.quiet)
			expired = timer.C
		case <-expired:
			expired = nil
			if len(buf) == 0 {
				continue
			}
			f := Frame{Lines: buf, StartedAt: started, CompletedAt: time.Now()}
			buf = nil
			a.logger.Debug("frame completed", "lines", len(f.Lines), "duration", f.CompletedAt.Sub(f.StartedAt))
			a.sink.FrameCompleted(f)
		}
	}
}
