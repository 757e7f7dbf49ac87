package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	serial "github.com/allbin/multi-serial"
	"github.com/allbin/multi-serial/internal/config"
	"github.com/allbin/multi-serial/internal/mqtt"
)

// State is the lifecycle state of a Reader
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReading
	StateDisconnected
	StateFailed
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReading:
		return "reading"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether a reader in state s will never read again
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateFailed || s == StateStopped
}

// Opener opens a device for line reading
type Opener func(device string) (serial.Port, error)

// OpenSerial opens device at 9600 baud with newline framing
func OpenSerial(device string) (serial.Port, error) {
	return serial.Open(device,
		serial.WithBaudRate(9600),
		serial.WithDelimiter('\n'),
	)
}

// ReaderConfig holds the per-reader settings shared by every reader of a
// bridge
type ReaderConfig struct {
	Open         Opener
	Announcer    *Announcer
	ProbeCommand string
	StopGrace    time.Duration
	Now          func() time.Time
}

// Reader owns the connection to one device. It is started once and
// stopped once; it never restarts itself.
type Reader struct {
	device string
	pub    Publisher
	cfg    ReaderConfig
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	port   serial.Port
	cancel context.CancelFunc
	done   chan struct{}

	stopOnce sync.Once
}

// NewReader creates a reader for device in state Connecting
func NewReader(device string, pub Publisher, cfg ReaderConfig, logger *slog.Logger) *Reader {
	if cfg.Open == nil {
		cfg.Open = OpenSerial
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 2 * time.Second
	}
	return &Reader{
		device: device,
		pub:    pub,
		cfg:    cfg,
		logger: logger.With("device", device),
		state:  StateConnecting,
	}
}

// Device returns the device path the reader owns
func (r *Reader) Device() string {
	return r.device
}

// State returns the current lifecycle state
func (r *Reader) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reader) setState(s State) {
	r.mu.Lock()
	prev := r.state
	r.state = s
	r.mu.Unlock()
	if prev != s {
		r.logger.Debug("reader state changed", "from", prev, "to", s)
	}
}

// Start opens the device and launches the read loop. An open failure is
// published as an error status and returned; the reader is then Failed.
func (r *Reader) Start(ctx context.Context) error {
	pubCtx := context.WithoutCancel(ctx)

	port, err := r.cfg.Open(r.device)
	if err != nil {
		reason := err.Error()
		r.setState(StateFailed)
		r.publishStatus(pubCtx, StatusError, &reason)
		return fmt.Errorf("open %s: %w", r.device, err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.port = port
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	r.setState(StateConnected)
	r.logger.Info("serial device connected")
	r.publishStatus(pubCtx, StatusConnected, nil)

	if r.cfg.ProbeCommand != "" {
		if err := WriteProbe(port, r.cfg.ProbeCommand); err != nil {
			r.logger.Debug("probe write failed, ignoring", "error", err)
		}
	}

	r.setState(StateReading)
	go r.readLoop(readCtx, port)
	return nil
}

// WriteProbe sends command terminated by CRLF and waits until it has been
// transmitted
func WriteProbe(port serial.Port, command string) error {
	if _, err := port.Write([]byte(command + "\r\n")); err != nil {
		return fmt.Errorf("write probe: %w", err)
	}
	if err := port.Drain(); err != nil {
		return fmt.Errorf("drain probe: %w", err)
	}
	return nil
}

func (r *Reader) readLoop(ctx context.Context, port serial.Port) {
	defer close(r.done)
	pubCtx := context.WithoutCancel(ctx)

	for {
		line, err := port.ReadLine(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, serial.ErrPortClosed) {
				return
			}
			reason := ReasonEOF
			if !errors.Is(err, io.EOF) {
				reason = err.Error()
			}
			r.logger.Warn("serial device disconnected", "reason", reason)
			r.publishStatus(pubCtx, StatusDisconnected, &reason)
			r.setState(StateDisconnected)
			return
		}
		if ctx.Err() != nil {
			return
		}
		r.handleLine(pubCtx, line)
	}
}

func (r *Reader) handleLine(ctx context.Context, line []byte) {
	msg := NewDataMessage(r.device, line, r.cfg.Now())
	r.logger.Log(ctx, config.LevelTrace, "line received", "data", msg.Data)

	if err := r.pub.Publish(ctx, DataTopic(r.device), encode(msg), mqtt.AtMostOnce, false); err != nil {
		r.logger.Debug("data publish failed", "error", err)
	}

	if r.cfg.Announcer != nil {
		if err := r.cfg.Announcer.Announce(ctx, r.device); err != nil {
			r.logger.Warn("discovery publish failed", "error", err)
		}
	}
}

func (r *Reader) publishStatus(ctx context.Context, state string, reason *string) {
	msg := newStatus(r.device, state, reason, r.cfg.Now())
	if err := r.pub.Publish(ctx, StatusTopic(r.device), encode(msg), mqtt.AtLeastOnce, true); err != nil {
		r.logger.Warn("status publish failed", "state", state, "error", err)
	}
}

// Stop cancels the read loop, waits for it and releases the port. If the
// loop has not exited within the grace period the port is closed to force
// it out. Stop is idempotent and safe on readers that never started.
func (r *Reader) Stop() {
	r.stopOnce.Do(r.stop)
}

func (r *Reader) stop() {
	r.mu.Lock()
	port, cancel, done := r.port, r.cancel, r.done
	if !r.state.Terminal() {
		r.state = StateStopping
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if done != nil {
		timer := time.NewTimer(r.cfg.StopGrace)
		select {
		case <-done:
			timer.Stop()
		case <-timer.C:
			r.logger.Warn("read loop did not exit within grace period, closing port", "grace", r.cfg.StopGrace)
			if err := closePort(port); err != nil {
				r.logger.Debug("close failed", "error", err)
			}
			<-done
		}
	}

	if err := closePort(port); err != nil {
		r.logger.Debug("close failed", "error", err)
	}
	if r.cfg.Announcer != nil {
		r.cfg.Announcer.Forget(r.device)
	}
	r.setState(StateStopped)
	r.logger.Info("reader stopped")
}

func closePort(port serial.Port) error {
	if port == nil {
		return nil
	}
	if err := port.Close(); err != nil {
		return fmt.Errorf("close port: %w", err)
	}
	return nil
}
