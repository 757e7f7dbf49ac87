package serial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	readChunkSize = 4096
	// maxLineLength caps buffered data without a delimiter; a longer run
	// is handed out as a line of its own.
	maxLineLength = 64 * 1024
)

// Port represents a serial port connection interface
type Port interface {
	Close() error
	Read(buf []byte) (int, error)
	Write(data []byte) (int, error)
	ReadLine(ctx context.Context) ([]byte, error)
	Drain() error
}

// port is the concrete implementation of the Port interface.
//
// Blocking reads wait in poll(2) on the tty and on a self-pipe. Writing a
// byte to the pipe wakes the poller, which then checks whether the port was
// closed or the caller's context ended.
type port struct {
	mu     sync.RWMutex
	fd     int
	config Config
	done   chan struct{}
	pipeR  int

	wakeMu sync.Mutex
	pipeW  int

	readMu  sync.Mutex
	pending []byte

	closeOnce sync.Once
}

// Ensure port implements Port interface at compile time
var _ Port = (*port)(nil)

// getBaudRate converts an integer baud rate to the unix constant
func getBaudRate(rate int) (uint32, error) {
	switch rate {
	case 1200:
		return unix.B1200, nil
	case 2400:
		return unix.B2400, nil
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 460800:
		return unix.B460800, nil
	case 921600:
		return unix.B921600, nil
	default:
		return 0, ErrInvalidBaudRate
	}
}

// Open opens a serial port with the given device path and options
func Open(device string, opts ...Option) (Port, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return nil, err
		}
	}

	// O_NONBLOCK keeps open(2) from waiting on carrier detect; the fd is
	// switched back to blocking once termios is configured.
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, openError(device, err)
	}

	if err := configurePort(fd, config); err != nil {
		unix.Close(fd)
		return nil, err
	}

	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set blocking mode: %w", err)
	}

	pipeFds := make([]int, 2)
	if err := unix.Pipe2(pipeFds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to create wake pipe: %w", err)
	}

	return &port{
		fd:     fd,
		config: config,
		done:   make(chan struct{}),
		pipeR:  pipeFds[0],
		pipeW:  pipeFds[1],
	}, nil
}

// openError maps common open(2) failures onto the package sentinel errors
// while keeping the underlying errno in the chain.
func openError(device string, err error) error {
	switch {
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENXIO), errors.Is(err, unix.ENODEV):
		return fmt.Errorf("failed to open %s: %w: %w", device, ErrDeviceNotFound, err)
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return fmt.Errorf("failed to open %s: %w: %w", device, ErrPermissionDenied, err)
	case errors.Is(err, unix.EBUSY):
		return fmt.Errorf("failed to open %s: %w: %w", device, ErrDeviceInUse, err)
	default:
		return fmt.Errorf("failed to open %s: %w", device, err)
	}
}

// configurePort puts the tty into raw mode with the requested framing
func configurePort(fd int, config Config) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("failed to get termios: %w", err)
	}

	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB
	termios.Cflag |= unix.CREAD | unix.CLOCAL

	switch config.DataBits {
	case 5:
		termios.Cflag |= unix.CS5
	case 6:
		termios.Cflag |= unix.CS6
	case 7:
		termios.Cflag |= unix.CS7
	default:
		termios.Cflag |= unix.CS8
	}

	if config.StopBits == 2 {
		termios.Cflag |= unix.CSTOPB
	}

	switch config.Parity {
	case ParityOdd:
		termios.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		termios.Cflag |= unix.PARENB
	}

	// Block until at least one byte is available; cancellation goes
	// through poll, not VTIME.
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	baudRate, err := getBaudRate(config.BaudRate)
	if err != nil {
		return err
	}
	termios.Cflag = (termios.Cflag &^ unix.CBAUD) | baudRate
	termios.Ispeed = baudRate
	termios.Ospeed = baudRate

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("failed to set termios: %w", err)
	}
	return nil
}

func (p *port) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// wake interrupts any goroutine blocked in waitReadable
func (p *port) wake() {
	p.wakeMu.Lock()
	defer p.wakeMu.Unlock()
	if p.pipeW < 0 {
		return
	}
	unix.Write(p.pipeW, []byte{1})
}

func (p *port) drainWake() {
	var b [16]byte
	for {
		if n, err := unix.Read(p.pipeR, b[:]); n <= 0 || err != nil {
			return
		}
	}
}

// waitReadable blocks until the tty has data, hangs up, the port is closed
// or ctx is done. Callers must hold p.mu for reading.
func (p *port) waitReadable(ctx context.Context) error {
	stop := context.AfterFunc(ctx, p.wake)
	defer stop()

	for {
		pfd := []unix.PollFd{
			{Fd: int32(p.fd), Events: unix.POLLIN},
			{Fd: int32(p.pipeR), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(pfd, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}

		if pfd[1].Revents&unix.POLLIN != 0 {
			p.drainWake()
			if p.isClosed() {
				return ErrPortClosed
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		switch {
		case pfd[0].Revents&unix.POLLIN != 0:
			return nil
		case pfd[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0:
			return io.EOF
		}
	}
}

// isHangup reports read errors that mean the device went away
func isHangup(err error) bool {
	return errors.Is(err, unix.EIO) || errors.Is(err, unix.ENXIO) || errors.Is(err, unix.ENODEV)
}

// Close closes the serial port and unblocks pending reads.
// Safe to call multiple times; subsequent calls return nil.
func (p *port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.wake()

		p.mu.Lock()
		defer p.mu.Unlock()

		err = unix.Close(p.fd)
		unix.Close(p.pipeR)

		p.wakeMu.Lock()
		unix.Close(p.pipeW)
		p.pipeW = -1
		p.wakeMu.Unlock()
	})
	return err
}

// Read reads data from the serial port, blocking until data arrives,
// the device hangs up or the port is closed
func (p *port) Read(buf []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.isClosed() {
		return 0, ErrPortClosed
	}
	if err := p.waitReadable(context.Background()); err != nil {
		return 0, err
	}

	n, err := unix.Read(p.fd, buf)
	switch {
	case err != nil && isHangup(err):
		return 0, io.EOF
	case err != nil:
		return 0, err
	case n == 0 && len(buf) > 0:
		return 0, io.EOF
	}
	return n, nil
}

// ReadLine returns the next line without its delimiter. It blocks until a
// complete line is buffered, the device hangs up (io.EOF), ctx is done
// (ctx.Err()) or the port is closed (ErrPortClosed). A partial line that
// precedes a hang-up is returned before io.EOF.
//
// ReadLine must not be called concurrently with itself.
func (p *port) ReadLine(ctx context.Context) ([]byte, error) {
	p.readMu.Lock()
	defer p.readMu.Unlock()

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.isClosed() {
		return nil, ErrPortClosed
	}

	buf := make([]byte, readChunkSize)
	for {
		if i := bytes.IndexByte(p.pending, p.config.Delimiter); i >= 0 {
			return p.take(i, i+1), nil
		}
		if len(p.pending) >= maxLineLength {
			return p.take(maxLineLength, maxLineLength), nil
		}

		if err := p.waitReadable(ctx); err != nil {
			if errors.Is(err, io.EOF) && len(p.pending) > 0 {
				return p.take(len(p.pending), len(p.pending)), nil
			}
			return nil, err
		}

		n, err := unix.Read(p.fd, buf)
		if err != nil && !isHangup(err) {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return nil, err
		}
		if n <= 0 {
			if len(p.pending) > 0 {
				return p.take(len(p.pending), len(p.pending)), nil
			}
			return nil, io.EOF
		}
		p.pending = append(p.pending, buf[:n]...)
	}
}

// take copies out pending[:end] and drops pending[:skip]
func (p *port) take(end, skip int) []byte {
	line := make([]byte, end)
	copy(line, p.pending[:end])
	p.pending = p.pending[skip:]
	return line
}

// Write writes data to the serial port
func (p *port) Write(data []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.isClosed() {
		return 0, ErrPortClosed
	}

	written := 0
	for written < len(data) {
		n, err := unix.Write(p.fd, data[written:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return written, err
		}
		written += n
	}
	return written, nil
}

// Drain waits until all output written to the port has been transmitted
func (p *port) Drain() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.isClosed() {
		return ErrPortClosed
	}

	return unix.IoctlSetInt(p.fd, unix.TCSBRK, 1)
}
