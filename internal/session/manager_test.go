package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/tailtest/tailtest/internal/connectors"
	"github.com/tailtest/tailtest/internal/transport"
	"github.com/tailtest/tailtest/internal/usbdev"
)

const waitTimeout = 3 * time.Second

type fakePresence struct {
	present atomic.Bool
	events  chan usbdev.Event
}

func newFakePresence(present bool) *fakePresence {
	p := &fakePresence{events: make(chan usbdev.Event, 8)}
	p.present.Store(present)
	return p
}

func (p *fakePresence) IsPresent() bool             { return p.present.Load() }
func (p *fakePresence) Events() <-chan usbdev.Event { return p.events }

type fakeResolver struct {
	mu    sync.Mutex
	calls int
	// answers are consumed per call; the last one repeats.
	answers [][]string
	hook    func(call int)
}

func (r *fakeResolver) Resolve(_ context.Context, _, _ string) ([]string, error) {
	r.mu.Lock()
	r.calls++
	call := r.calls
	var names []string
	if len(r.answers) > 0 {
		idx := min(call-1, len(r.answers)-1)
		names = r.answers[idx]
	}
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return names, nil
}

func (r *fakeResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeTransport struct {
	name       string
	connectErr error

	// gate, when set, holds Connect until closed; entered is closed first.
	gate    chan struct{}
	entered chan struct{}

	mu      sync.Mutex
	open    bool
	closed  bool
	written []string
	lines   chan string
}

func (t *fakeTransport) Name() string { return t.name }

func (t *fakeTransport) Connect(context.Context) error {
	if t.gate != nil {
		close(t.entered)
		<-t.gate
	}
	if t.connectErr != nil {
		return t.connectErr
	}
	t.mu.Lock()
	t.open = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.open = false
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) ReadLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line := <-t.lines:
		return line, nil
	}
}

func (t *fakeTransport) WriteLine(_ context.Context, line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return transport.ErrNotConnected
	}
	t.written = append(t.written, line)
	return nil
}

type fakePorts struct {
	mu         sync.Mutex
	failing    map[string]bool
	opened     []string
	transports []*fakeTransport
	// holdFirst gates Connect of the first transport built.
	holdFirst  chan struct{}
	firstEnter chan struct{}
}

func (f *fakePorts) factory(name string, _ int, _ transport.Parity) transport.Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr := &fakeTransport{name: name, lines: make(chan string, 16)}
	if f.failing[name] {
		tr.connectErr = errors.New("access denied")
	}
	if len(f.transports) == 0 && f.holdFirst != nil {
		tr.gate = f.holdFirst
		tr.entered = f.firstEnter
	}
	f.opened = append(f.opened, name)
	f.transports = append(f.transports, tr)
	return tr
}

func (f *fakePorts) attempts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.opened)
}

func (f *fakePorts) built(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[i]
}

func (f *fakePorts) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[len(f.transports)-1]
}

type recordingObserver struct {
	states chan connectors.ConnectionStatus
	lines  chan string
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		states: make(chan connectors.ConnectionStatus, 64),
		lines:  make(chan string, 64),
	}
}

func (o *recordingObserver) ConnectionStateChanged(s connectors.ConnectionStatus) { o.states <- s }
func (o *recordingObserver) LineReceived(line string)                          { o.lines <- line }

func (o *recordingObserver) expectState(t *testing.T, want connectors.ConnectionState) connectors.ConnectionStatus {
	t.Helper()
	select {
	case s := <-o.states:
		if s.State != want {
			t.Fatalf("expected state %q, got %q", want, s.State)
		}
		return s
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for state %q", want)
	}
	return connectors.ConnectionStatus{}
}

func (o *recordingObserver) expectNoState(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case s := <-o.states:
		t.Fatalf("expected no state change, got %q", s.State)
	case <-time.After(wait):
	}
}

type harness struct {
	presence *fakePresence
	resolver *fakeResolver
	ports    *fakePorts
	observer *recordingObserver
	manager  *Manager
	cancel   context.CancelFunc
	stopped  chan struct{}
}

func newHarness(t *testing.T, present bool, resolver *fakeResolver, failing ...string) *harness {
	t.Helper()
	h := &harness{
		presence: newFakePresence(present),
		resolver: resolver,
		ports:    &fakePorts{failing: make(map[string]bool)},
		observer: newRecordingObserver(),
		stopped:  make(chan struct{}),
	}
	for _, name := range failing {
		h.ports.failing[name] = true
	}
	h.manager = NewManager(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		Options{VendorID: "0403", ProductID: "6001", BaudRate: 14400, Parity: transport.ParityNone, RetryDelay: 10 * time.Millisecond},
		h.presence, h.resolver, h.ports.factory, h.observer,
	)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.manager.Run(ctx)
		close(h.stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.stopped
	})
}

func TestManagerConnectsToFirstPortThatOpens(t *testing.T) {
	h := newHarness(t, true, &fakeResolver{answers: [][]string{{"COM3", "COM4", "COM5"}}}, "COM3")
	h.start(t)

	h.observer.expectState(t, connectors.ConnectionStateSearching)
	status := h.observer.expectState(t, connectors.ConnectionStateConnected)

	if status.Port != "COM4" {
		t.Fatalf("expected COM4 to be active, got %q", status.Port)
	}
	if got := h.ports.attempts(); !slices.Equal(got, []string{"COM3", "COM4"}) {
		t.Fatalf("unexpected open attempts: %v", got)
	}
	if got := h.manager.Status(); got.State != connectors.ConnectionStateConnected || got.Port != "COM4" {
		t.Fatalf("unexpected status snapshot: %+v", got)
	}
}

func TestManagerStaysDisconnectedWithoutDevice(t *testing.T) {
	h := newHarness(t, false, &fakeResolver{answers: [][]string{{"COM3"}}})
	h.start(t)

	h.observer.expectNoState(t, 100*time.Millisecond)
	if h.resolver.callCount() != 0 {
		t.Fatalf("expected no resolve without device, got %d calls", h.resolver.callCount())
	}
	if h.manager.Status().State != connectors.ConnectionStateDisconnected {
		t.Fatalf("expected disconnected state")
	}
}

func TestManagerRetriesFullPassesUntilPortOpens(t *testing.T) {
	resolver := &fakeResolver{answers: [][]string{nil, {"COM3"}, {"COM3", "COM4"}}}
	h := newHarness(t, true, resolver, "COM3")
	h.start(t)

	h.observer.expectState(t, connectors.ConnectionStateSearching)
	status := h.observer.expectState(t, connectors.ConnectionStateConnected)

	if status.Port != "COM4" {
		t.Fatalf("expected COM4, got %q", status.Port)
	}
	if calls := resolver.callCount(); calls != 3 {
		t.Fatalf("expected 3 resolve passes, got %d", calls)
	}
}

func TestManagerAttachEventStartsSearch(t *testing.T) {
	h := newHarness(t, false, &fakeResolver{answers: [][]string{{"/dev/ttyUSB0"}}})
	h.start(t)

	h.presence.present.Store(true)
	h.presence.events <- usbdev.EventAttached

	h.observer.expectState(t, connectors.ConnectionStateSearching)
	h.observer.expectState(t, connectors.ConnectionStateConnected)
}

func TestManagerDetachWhileSearchingAborts(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	resolver := &fakeResolver{
		answers: [][]string{{"COM3"}},
		hook: func(call int) {
			if call == 1 {
				close(entered)
				<-release
			}
		},
	}
	h := newHarness(t, true, resolver)
	h.start(t)

	h.observer.expectState(t, connectors.ConnectionStateSearching)
	<-entered

	h.presence.present.Store(false)
	h.manager.DeviceDetached()
	close(release)

	h.observer.expectState(t, connectors.ConnectionStateDisconnected)
	h.observer.expectNoState(t, 150*time.Millisecond)
	if got := h.ports.attempts(); len(got) != 0 {
		t.Fatalf("expected no open attempt after detach, got %v", got)
	}
}

func TestManagerReattachDuringConnectDiscardsStaleTransport(t *testing.T) {
	h := newHarness(t, true, &fakeResolver{answers: [][]string{{"COM3"}}})
	h.ports.holdFirst = make(chan struct{})
	h.ports.firstEnter = make(chan struct{})
	h.start(t)

	h.observer.expectState(t, connectors.ConnectionStateSearching)
	select {
	case <-h.ports.firstEnter:
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for connect attempt")
	}

	h.manager.DeviceDetached()
	h.observer.expectState(t, connectors.ConnectionStateDisconnected)
	h.manager.DeviceAttached()
	h.observer.expectState(t, connectors.ConnectionStateSearching)

	close(h.ports.holdFirst)
	status := h.observer.expectState(t, connectors.ConnectionStateConnected)
	h.observer.expectNoState(t, 100*time.Millisecond)

	if status.Port != "COM3" {
		t.Fatalf("expected COM3, got %q", status.Port)
	}
	if got := h.ports.attempts(); !slices.Equal(got, []string{"COM3", "COM3"}) {
		t.Fatalf("expected the port to be reopened once, got %v", got)
	}
	if !h.ports.built(0).isClosed() {
		t.Fatalf("expected transport from the detached attempt to be closed")
	}
	if h.ports.built(1).isClosed() {
		t.Fatalf("expected fresh transport to stay open")
	}

	if !h.manager.Send(context.Background(), "SCAN") {
		t.Fatalf("expected send to go through the fresh transport")
	}
	stale := h.ports.built(0)
	stale.mu.Lock()
	defer stale.mu.Unlock()
	if len(stale.written) != 0 {
		t.Fatalf("expected nothing written to the stale transport, got %v", stale.written)
	}
}

func TestManagerPresenceLossWithoutEventAborts(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	resolver := &fakeResolver{
		answers: [][]string{{"COM3"}},
		hook: func(call int) {
			if call == 1 {
				close(entered)
				<-release
			}
		},
	}
	h := newHarness(t, true, resolver)
	h.start(t)

	h.observer.expectState(t, connectors.ConnectionStateSearching)
	<-entered
	h.presence.present.Store(false)
	close(release)

	h.observer.expectState(t, connectors.ConnectionStateDisconnected)
	h.observer.expectNoState(t, 150*time.Millisecond)
}

func TestManagerIgnoresAttachWhileConnected(t *testing.T) {
	resolver := &fakeResolver{answers: [][]string{{"COM3"}}}
	h := newHarness(t, true, resolver)
	h.start(t)

	h.observer.expectState(t, connectors.ConnectionStateSearching)
	h.observer.expectState(t, connectors.ConnectionStateConnected)

	h.presence.events <- usbdev.EventAttached
	h.observer.expectNoState(t, 100*time.Millisecond)
	if calls := resolver.callCount(); calls != 1 {
		t.Fatalf("expected a single resolve pass, got %d", calls)
	}
}

func TestManagerForwardsCleanLines(t *testing.T) {
	h := newHarness(t, true, &fakeResolver{answers: [][]string{{"COM3"}}})
	h.start(t)
	h.observer.expectState(t, connectors.ConnectionStateSearching)
	h.observer.expectState(t, connectors.ConnectionStateConnected)

	tr := h.ports.last()
	for _, line := range []string{"STARTING SCANING OPERATION...\r", "", "\r", "DISCONNECT: A1"} {
		tr.lines <- line
	}

	var got []string
	for len(got) < 2 {
		select {
		case line := <-h.observer.lines:
			got = append(got, line)
		case <-time.After(waitTimeout):
			t.Fatalf("timed out waiting for lines, got %v", got)
		}
	}
	if !slices.Equal(got, []string{"STARTING SCANING OPERATION...", "DISCONNECT: A1"}) {
		t.Fatalf("unexpected forwarded lines: %v", got)
	}
}

func TestManagerSendRequiresConnection(t *testing.T) {
	h := newHarness(t, false, &fakeResolver{answers: [][]string{{"COM3"}}})
	h.start(t)

	if h.manager.Send(context.Background(), "SCAN") {
		t.Fatalf("expected send to be a no-op while disconnected")
	}

	h.presence.present.Store(true)
	h.manager.DeviceAttached()
	h.observer.expectState(t, connectors.ConnectionStateSearching)
	h.observer.expectState(t, connectors.ConnectionStateConnected)

	if h.manager.Send(context.Background(), "") {
		t.Fatalf("expected empty line to be ignored")
	}
	if !h.manager.Send(context.Background(), "SCAN") {
		t.Fatalf("expected send to succeed while connected")
	}

	tr := h.ports.last()
	tr.mu.Lock()
	written := slices.Clone(tr.written)
	tr.mu.Unlock()
	if !slices.Equal(written, []string{"SCAN"}) {
		t.Fatalf("unexpected written lines: %v", written)
	}
}

func TestManagerSendIsPaced(t *testing.T) {
	const interval = 80 * time.Millisecond
	h := newHarness(t, true, &fakeResolver{answers: [][]string{{"COM3"}}})
	h.manager.sendLimiter = rate.NewLimiter(rate.Every(interval), 1)
	h.start(t)
	h.observer.expectState(t, connectors.ConnectionStateSearching)
	h.observer.expectState(t, connectors.ConnectionStateConnected)

	begin := time.Now()
	for _, line := range []string{"A", "B", "C"} {
		if !h.manager.Send(context.Background(), line) {
			t.Fatalf("send %q failed", line)
		}
	}
	if elapsed := time.Since(begin); elapsed < 2*interval-10*time.Millisecond {
		t.Fatalf("expected sends to be paced, three lines took %v", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if h.manager.Send(ctx, "D") {
		t.Fatalf("expected send with canceled context to fail")
	}
}

func TestNewManagerSendInterval(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	unpaced := NewManager(logger, Options{}, newFakePresence(false), &fakeResolver{}, (&fakePorts{}).factory, newRecordingObserver())
	if unpaced.sendLimiter.Limit() != rate.Inf {
		t.Fatalf("expected unlimited sends by default, got %v", unpaced.sendLimiter.Limit())
	}
	if unpaced.opts.RetryDelay != DefaultRetryDelay {
		t.Fatalf("expected default retry delay, got %v", unpaced.opts.RetryDelay)
	}

	paced := NewManager(logger, Options{SendInterval: 100 * time.Millisecond}, newFakePresence(false), &fakeResolver{}, (&fakePorts{}).factory, newRecordingObserver())
	if paced.sendLimiter.Limit() != rate.Limit(10) {
		t.Fatalf("expected 10 lines per second, got %v", paced.sendLimiter.Limit())
	}
}

func TestManagerDetachReleasesSessionAndReconnects(t *testing.T) {
	h := newHarness(t, true, &fakeResolver{answers: [][]string{{"COM3"}}})
	h.start(t)
	h.observer.expectState(t, connectors.ConnectionStateSearching)
	h.observer.expectState(t, connectors.ConnectionStateConnected)
	first := h.ports.last()

	h.presence.present.Store(false)
	h.presence.events <- usbdev.EventDetached
	status := h.observer.expectState(t, connectors.ConnectionStateDisconnected)

	if status.Port != "" {
		t.Fatalf("expected port to be cleared, got %q", status.Port)
	}
	if !first.isClosed() {
		t.Fatalf("expected transport to be closed on detach")
	}
	if h.manager.Send(context.Background(), "SCAN") {
		t.Fatalf("expected send to be a no-op after detach")
	}

	first.lines <- "stale line"
	select {
	case line := <-h.observer.lines:
		t.Fatalf("expected no lines from detached session, got %q", line)
	case <-time.After(100 * time.Millisecond):
	}

	h.presence.events <- usbdev.EventDetached
	h.observer.expectNoState(t, 50*time.Millisecond)

	h.presence.present.Store(true)
	h.presence.events <- usbdev.EventAttached
	h.observer.expectState(t, connectors.ConnectionStateSearching)
	h.observer.expectState(t, connectors.ConnectionStateConnected)
	if h.ports.last() == first {
		t.Fatalf("expected a fresh transport after reattach")
	}
}

func TestManagerShutdownClosesTransport(t *testing.T) {
	h := newHarness(t, true, &fakeResolver{answers: [][]string{{"COM3"}}})
	h.start(t)
	h.observer.expectState(t, connectors.ConnectionStateSearching)
	h.observer.expectState(t, connectors.ConnectionStateConnected)

	h.cancel()
	<-h.stopped

	h.observer.expectState(t, connectors.ConnectionStateDisconnected)
	if !h.ports.last().isClosed() {
		t.Fatalf("expected transport to be closed on shutdown")
	}
}
