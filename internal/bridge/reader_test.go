package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	serial "github.com/allbin/multi-serial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "reading", StateReading.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "State(42)", State(42).String())

	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateDisconnected.Terminal())
	assert.True(t, StateStopped.Terminal())
	assert.False(t, StateReading.Terminal())
	assert.False(t, StateStopping.Terminal())
}

func TestStopNeverStarted(t *testing.T) {
	pub := &fakePublisher{}
	r := NewReader("/dev/ttyUSB0", pub, ReaderConfig{}, discardLogger())
	assert.Equal(t, StateConnecting, r.State())

	r.Stop()
	r.Stop()
	assert.Equal(t, StateStopped, r.State())
	assert.Zero(t, pub.count())
}

func TestStopIdempotent(t *testing.T) {
	host := newFakeHost()
	pub := &fakePublisher{}
	r := NewReader("/dev/ttyUSB0", pub, ReaderConfig{Open: host.open}, discardLogger())

	require.NoError(t, r.Start(context.Background()))
	port := host.port(t, "/dev/ttyUSB0")

	r.Stop()
	r.Stop()
	assert.Equal(t, StateStopped, r.State())
	assert.True(t, port.isClosed())
	// only the connected status; stopping publishes nothing
	assert.Equal(t, 1, pub.count())
}

func TestStopAfterFailedOpen(t *testing.T) {
	pub := &fakePublisher{}
	r := NewReader("/dev/ttyUSB9", pub, ReaderConfig{
		Open: func(string) (serial.Port, error) { return nil, serial.ErrDeviceNotFound },
	}, discardLogger())

	err := r.Start(context.Background())
	require.ErrorIs(t, err, serial.ErrDeviceNotFound)
	assert.Equal(t, StateFailed, r.State())

	r.Stop()
	assert.Equal(t, StateStopped, r.State())
	assert.Equal(t, 1, pub.count())
}

func TestStopGracePeriodForcesClose(t *testing.T) {
	port := newFakePort()
	port.stubborn = true
	r := NewReader("/dev/ttyUSB0", &fakePublisher{}, ReaderConfig{
		Open:      func(string) (serial.Port, error) { return port, nil },
		StopGrace: 30 * time.Millisecond,
	}, discardLogger())
	require.NoError(t, r.Start(context.Background()))

	start := time.Now()
	r.Stop()
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.True(t, port.isClosed())
	assert.Equal(t, StateStopped, r.State())
}

func TestProbeCommand(t *testing.T) {
	port := newFakePort()
	r := NewReader("/dev/ttyUSB0", &fakePublisher{}, ReaderConfig{
		Open:         func(string) (serial.Port, error) { return port, nil },
		ProbeCommand: "ID?",
	}, discardLogger())
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)

	assert.Equal(t, "ID?\r\n", port.writes())
	assert.Equal(t, 1, port.drainCount())
}

func TestWriteProbe(t *testing.T) {
	port := newFakePort()
	require.NoError(t, WriteProbe(port, "VER"))
	assert.Equal(t, "VER\r\n", port.writes())
	assert.Equal(t, 1, port.drainCount())

	failing := newFakePort()
	failing.writeErr = errors.New("write: input/output error")
	err := WriteProbe(failing, "VER")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write probe")
	assert.Zero(t, failing.drainCount())
}

func TestProbeWriteFailureIgnored(t *testing.T) {
	port := newFakePort()
	port.writeErr = errors.New("write: input/output error")
	r := NewReader("/dev/ttyUSB0", &fakePublisher{}, ReaderConfig{
		Open:         func(string) (serial.Port, error) { return port, nil },
		ProbeCommand: "ID?",
	}, discardLogger())

	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)
	assert.Equal(t, StateReading, r.State())

	assert.Zero(t, port.drainCount())
}

func TestReaderReadErrorReason(t *testing.T) {
	port := &erroringPort{fakePort: newFakePort(), err: errors.New("read: input/output error")}
	pub := &fakePublisher{}
	r := NewReader("/dev/ttyUSB0", pub, ReaderConfig{
		Open: func(string) (serial.Port, error) { return port, nil },
	}, discardLogger())
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)

	require.Eventually(t, func() bool {
		return r.State() == StateDisconnected
	}, waitFor, tick)

	statuses := pub.on(StatusTopic("/dev/ttyUSB0"))
	require.Len(t, statuses, 2)
	msg := decodeStatus(t, statuses[1])
	require.NotNil(t, msg.Error)
	assert.Equal(t, "read: input/output error", *msg.Error)
}

func TestReaderPublishFailureKeepsReading(t *testing.T) {
	port := newFakePort()
	pub := &fakePublisher{err: errors.New("not connected")}
	r := NewReader("/dev/ttyUSB0", pub, ReaderConfig{
		Open: func(string) (serial.Port, error) { return port, nil },
	}, discardLogger())
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)

	port.lines <- []byte("one")
	port.lines <- []byte("two")
	require.Eventually(t, func() bool {
		return len(pub.on(DataTopic("/dev/ttyUSB0"))) == 2
	}, waitFor, tick)
	assert.Equal(t, StateReading, r.State())
}

func TestReaderTimestampUTC(t *testing.T) {
	port := newFakePort()
	pub := &fakePublisher{}
	fixed := time.Date(2025, 3, 1, 13, 4, 5, 0, time.FixedZone("CET", 3600))
	r := NewReader("/dev/ttyUSB0", pub, ReaderConfig{
		Open: func(string) (serial.Port, error) { return port, nil },
		Now:  func() time.Time { return fixed },
	}, discardLogger())
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)

	status := decodeStatus(t, pub.on(StatusTopic("/dev/ttyUSB0"))[0])
	assert.Equal(t, "2025-03-01T12:04:05.000000Z", status.TS)
}

// erroringPort fails its first read with err
type erroringPort struct {
	*fakePort
	err error
}

func (p *erroringPort) ReadLine(context.Context) ([]byte, error) {
	return nil, p.err
}
