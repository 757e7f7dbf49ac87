package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	serial "github.com/allbin/multi-serial"
	"github.com/allbin/multi-serial/internal/bridge"
	"github.com/allbin/multi-serial/internal/config"
	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagName(t *testing.T) {
	assert.Equal(t, "mqtt-broker", flagName(config.KeyBroker))
	assert.Equal(t, "discovery-every-message", flagName(config.KeyDiscoveryEveryMessage))

	for _, key := range config.Keys {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(flagName(key)), "no flag for %s", key)
	}
}

func TestGetPortType(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"ttyUSB0", "USB Serial"},
		{"ttyACM1", "USB CDC/ACM"},
		{"ttyAMA0", "ARM Serial"},
		{"ttymxc2", "i.MX Serial"},
		{"ttyS0", "Standard Serial"},
		{"rfcomm0", "Serial Port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getPortType(tt.name); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestListExamplePatternsMatchListedPorts(t *testing.T) {
	re := regexp.MustCompile(`--include-patterns '([^']+)'`)
	matches := re.FindAllStringSubmatch(listCmd.Long, -1)
	require.NotEmpty(t, matches)

	// ListPorts only ever yields /dev/<tty name> paths
	listed := []string{"/dev/ttyUSB0", "/dev/ttyACM0", "/dev/ttyAMA0", "/dev/ttyS0"}
	for _, m := range matches {
		pattern := m[1]
		require.NoError(t, serial.ValidatePattern(pattern))
		found := false
		for _, path := range listed {
			if serial.MatchAny(path, []string{pattern}) {
				found = true
			}
		}
		assert.True(t, found, "example pattern %q matches no listed port", pattern)
	}
}

func TestRenderSimple(t *testing.T) {
	var buf bytes.Buffer
	renderSimple(&buf, []string{"/dev/ttyUSB0", "/dev/ttyACM0"})
	assert.Equal(t, "/dev/ttyUSB0\n/dev/ttyACM0\n", buf.String())
}

func TestMQTTConfig(t *testing.T) {
	s := config.Settings{
		Broker:         "mqtt://broker:1883",
		Username:       "user",
		Password:       "secret",
		ClientID:       "bridge-1",
		PublishTimeout: 3 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}

	cfg := mqttConfig(s, true)
	assert.Equal(t, "mqtt://broker:1883", cfg.Broker)
	assert.Equal(t, "user", cfg.Username)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, "bridge-1", cfg.ClientID)
	assert.Equal(t, 3*time.Second, cfg.PublishTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.True(t, cfg.Availability)

	assert.False(t, mqttConfig(s, false).Availability)
}

// syncBuffer is a bytes.Buffer safe for one writer and one polling reader
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunCapture(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	var out, status syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- runCapture(ctx, slave.Name(), "", &out, &status)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(status.String(), "Capturing")
	}, 2*time.Second, 10*time.Millisecond)

	_, err = master.Write([]byte("temp=21.5\r\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "\n")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not stop after cancel")
	}

	var msg bridge.DataMessage
	require.NoError(t, json.Unmarshal([]byte(strings.SplitN(out.String(), "\n", 2)[0]), &msg))
	assert.Equal(t, slave.Name(), msg.Device)
	assert.Equal(t, "temp=21.5", msg.Data)
	assert.Contains(t, status.String(), "Capture complete: 1 line(s)")
}

func TestRunCaptureWritesProbe(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	var out, status syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- runCapture(ctx, slave.Name(), "ID?", &out, &status)
	}()

	received := make(chan string, 1)
	go func() {
		var got []byte
		buf := make([]byte, 64)
		for !bytes.Contains(got, []byte("\r\n")) {
			n, err := master.Read(buf)
			if err != nil {
				break
			}
			got = append(got, buf[:n]...)
		}
		received <- string(got)
	}()

	select {
	case got := <-received:
		assert.Equal(t, "ID?\r\n", got)
	case <-time.After(2 * time.Second):
		t.Fatal("probe command never reached the device")
	}
	assert.NotContains(t, status.String(), "Probe write failed")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not stop after cancel")
	}
}

func TestRunCaptureOpenError(t *testing.T) {
	var out, status bytes.Buffer
	err := runCapture(context.Background(), "/dev/does-not-exist-42", "", &out, &status)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/does-not-exist-42")
	assert.Empty(t, out.String())
}
