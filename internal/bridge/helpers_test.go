package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	serial "github.com/allbin/multi-serial"
	"github.com/allbin/multi-serial/internal/mqtt"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type published struct {
	Topic   string
	Payload []byte
	QoS     mqtt.QoS
	Retain  bool
}

// fakePublisher records every publish
type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload []byte, qos mqtt.QoS, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, append([]byte(nil), payload...), qos, retain})
	return f.err
}

func (f *fakePublisher) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func (f *fakePublisher) on(topic string) []published {
	var out []published
	for _, m := range f.all() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func decodeStatus(t *testing.T, p published) StatusMessage {
	t.Helper()
	var msg StatusMessage
	require.NoError(t, json.Unmarshal(p.Payload, &msg))
	return msg
}

func decodeData(t *testing.T, p published) DataMessage {
	t.Helper()
	var msg DataMessage
	require.NoError(t, json.Unmarshal(p.Payload, &msg))
	return msg
}

// fakePort delivers lines pushed to it. Closing lines signals end of
// stream. A stubborn port ignores context cancellation, so only Close
// unblocks it.
type fakePort struct {
	lines    chan []byte
	closed   chan struct{}
	once     sync.Once
	stubborn bool

	mu       sync.Mutex
	written  strings.Builder
	writeErr error
	drains   int
	closes   int
}

func newFakePort() *fakePort {
	return &fakePort{
		lines:  make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (p *fakePort) ReadLine(ctx context.Context) ([]byte, error) {
	done := ctx.Done()
	if p.stubborn {
		done = nil
	}
	select {
	case <-done:
		return nil, ctx.Err()
	case <-p.closed:
		return nil, serial.ErrPortClosed
	case line, ok := <-p.lines:
		if !ok {
			return nil, io.EOF
		}
		return line, nil
	}
}

func (p *fakePort) Read([]byte) (int, error) {
	return 0, errors.New("not implemented")
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.written.Write(b)
}

func (p *fakePort) Drain() error {
	p.mu.Lock()
	p.drains++
	p.mu.Unlock()
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *fakePort) drainCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drains
}

func (p *fakePort) writes() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// fakeHost hands out fake ports and lists a configurable set of devices
type fakeHost struct {
	mu      sync.Mutex
	ports   []string
	listErr error
	failing map[string]error
	opened  map[string][]*fakePort
}

func newFakeHost(ports ...string) *fakeHost {
	return &fakeHost{
		ports:   ports,
		failing: make(map[string]error),
		opened:  make(map[string][]*fakePort),
	}
}

func (h *fakeHost) setPorts(ports ...string) {
	h.mu.Lock()
	h.ports = ports
	h.mu.Unlock()
}

func (h *fakeHost) list() ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listErr != nil {
		return nil, h.listErr
	}
	return append([]string(nil), h.ports...), nil
}

func (h *fakeHost) open(device string) (serial.Port, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failing[device]; err != nil {
		h.opened[device] = append(h.opened[device], nil)
		return nil, err
	}
	p := newFakePort()
	h.opened[device] = append(h.opened[device], p)
	return p, nil
}

func (h *fakeHost) opens(device string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.opened[device])
}

// port returns the most recently opened port of device
func (h *fakeHost) port(t *testing.T, device string) *fakePort {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	ports := h.opened[device]
	require.NotEmpty(t, ports, device)
	p := ports[len(ports)-1]
	require.NotNil(t, p, device)
	return p
}
