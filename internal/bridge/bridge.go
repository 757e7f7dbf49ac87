// Package bridge keeps one reader per matching serial device and forwards
// what the devices emit to MQTT.
//
// A Bridge periodically lists the host's serial ports, filters them with
// include and exclude globs and reconciles the result against its managed
// readers: readers for vanished devices are stopped before readers for new
// devices are started. Each Reader publishes a retained status message on
// connect, failure and disconnect, and one data message per line read.
package bridge

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	serial "github.com/allbin/multi-serial"
	"github.com/allbin/multi-serial/internal/mqtt"
	"golang.org/x/sync/errgroup"
)

// Publisher is the bus the bridge publishes to
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos mqtt.QoS, retain bool) error
}

// Lister returns the serial device paths present on the host
type Lister func() ([]string, error)

// Options configures a Bridge
type Options struct {
	Include       []string
	Exclude       []string
	ScanInterval  time.Duration
	RetryTerminal bool

	// List defaults to serial.ListPorts
	List   Lister
	Reader ReaderConfig
}

// Bridge reconciles the managed readers against the host's ports. Tick,
// Run and Shutdown must be called from a single goroutine; States and
// Managed may be called from any goroutine.
type Bridge struct {
	pub    Publisher
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	readers map[string]*Reader
}

// New creates a Bridge with no managed readers
func New(pub Publisher, opts Options, logger *slog.Logger) *Bridge {
	if opts.List == nil {
		opts.List = serial.ListPorts
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = time.Second
	}
	return &Bridge{
		pub:     pub,
		opts:    opts,
		logger:  logger,
		readers: make(map[string]*Reader),
	}
}

// Candidates lists the host's ports and applies the include and exclude
// filters
func (b *Bridge) Candidates() ([]string, error) {
	ports, err := b.opts.List()
	if err != nil {
		return nil, err
	}
	return serial.FilterPorts(ports, b.opts.Include, b.opts.Exclude), nil
}

// Tick performs one reconciliation pass and returns the devices whose
// readers were started and stopped, sorted. If the host ports cannot be
// listed the pass is skipped.
func (b *Bridge) Tick(ctx context.Context) (added, removed []string) {
	candidates, err := b.Candidates()
	if err != nil {
		b.logger.Warn("listing serial ports failed, skipping scan", "error", err)
		return nil, nil
	}

	want := make(map[string]bool, len(candidates))
	for _, dev := range candidates {
		want[dev] = true
	}

	b.mu.RLock()
	var stale []*Reader
	for dev, r := range b.readers {
		if !want[dev] || (b.opts.RetryTerminal && r.State().Terminal()) {
			stale = append(stale, r)
			removed = append(removed, dev)
		}
	}
	b.mu.RUnlock()

	stopReaders(stale)

	b.mu.Lock()
	for _, dev := range removed {
		delete(b.readers, dev)
	}
	for _, dev := range candidates {
		if _, ok := b.readers[dev]; !ok {
			added = append(added, dev)
		}
	}
	b.mu.Unlock()

	started := b.startReaders(ctx, added)

	b.mu.Lock()
	for _, r := range started {
		b.readers[r.Device()] = r
	}
	managed := len(b.readers)
	b.mu.Unlock()

	sort.Strings(added)
	sort.Strings(removed)
	if len(added) > 0 || len(removed) > 0 {
		b.logger.Info("serial devices reconciled", "added", added, "removed", removed, "managed", managed)
	}
	return added, removed
}

func (b *Bridge) startReaders(ctx context.Context, devices []string) []*Reader {
	readers := make([]*Reader, len(devices))
	var g errgroup.Group
	for i, dev := range devices {
		r := NewReader(dev, b.pub, b.opts.Reader, b.logger)
		readers[i] = r
		g.Go(func() error {
			if err := r.Start(ctx); err != nil {
				b.logger.Warn("serial device open failed", "device", dev, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return readers
}

func stopReaders(readers []*Reader) {
	var g errgroup.Group
	for _, r := range readers {
		g.Go(func() error {
			r.Stop()
			return nil
		})
	}
	_ = g.Wait()
}

// Run reconciles immediately and then on every scan interval until ctx is
// cancelled, after which every reader is stopped
func (b *Bridge) Run(ctx context.Context) error {
	defer b.Shutdown()

	b.logger.Info("bridge started",
		"include", b.opts.Include,
		"exclude", b.opts.Exclude,
		"interval", b.opts.ScanInterval,
	)

	ticker := time.NewTicker(b.opts.ScanInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		b.Tick(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Shutdown stops every managed reader and forgets them
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	readers := make([]*Reader, 0, len(b.readers))
	for _, r := range b.readers {
		readers = append(readers, r)
	}
	b.readers = make(map[string]*Reader)
	b.mu.Unlock()

	if len(readers) == 0 {
		return
	}
	b.logger.Info("stopping readers", "count", len(readers))
	stopReaders(readers)
}

// Managed returns the sorted devices that currently have a reader
func (b *Bridge) Managed() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	devices := make([]string, 0, len(b.readers))
	for dev := range b.readers {
		devices = append(devices, dev)
	}
	sort.Strings(devices)
	return devices
}

// States returns a snapshot of every managed reader's state
func (b *Bridge) States() map[string]State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	states := make(map[string]State, len(b.readers))
	for dev, r := range b.readers {
		states[dev] = r.State()
	}
	return states
}
