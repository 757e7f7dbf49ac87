package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTopics(t *testing.T) {
	assert.Equal(t, "_dev_ttyUSB0", Slug("/dev/ttyUSB0"))
	assert.Equal(t, "COM3", Slug("COM3"))
	assert.Equal(t, "__._COM4", Slug(`\\.\COM4`))

	assert.Equal(t, "multi_serial/_dev_ttyUSB0/status", StatusTopic("/dev/ttyUSB0"))
	assert.Equal(t, "multi_serial/_dev_ttyUSB0/data", DataTopic("/dev/ttyUSB0"))
	assert.Equal(t, "homeassistant/sensor/_dev_serial_by-id_x/last/config",
		DiscoveryTopic("homeassistant", "/dev/serial/by-id/x"))
}

func TestDecodeLine(t *testing.T) {
	tests := []struct {
		name string
		line []byte
		want string
	}{
		{"plain", []byte("temp=21.5"), "temp=21.5"},
		{"trailing cr", []byte("ok\r"), "ok"},
		{"surrounding space", []byte("\t value \r\n"), "value"},
		{"empty", []byte{}, ""},
		{"multibyte", []byte("grön"), "grön"},
		{"invalid", []byte{0xde, 0xad, 0xbe, 0xef}, "deadbeef"},
		{"invalid with cr", []byte{0xff, 'a', '\r'}, "ff61"},
		{"invalid keeps inner space", []byte{' ', 0xc3, ' '}, "20c320"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeLine(tt.line))
		})
	}
}

func TestStatusMessageJSON(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	connected := encode(newStatus("/dev/ttyUSB0", StatusConnected, nil, now))
	assert.JSONEq(t, `{"device":"/dev/ttyUSB0","state":"connected","error":null,"ts":"2025-01-02T03:04:05.000000Z"}`,
		string(connected))

	reason := ReasonEOF
	disconnected := encode(newStatus("/dev/ttyUSB0", StatusDisconnected, &reason, now))
	assert.JSONEq(t, `{"device":"/dev/ttyUSB0","state":"disconnected","error":"eof","ts":"2025-01-02T03:04:05.000000Z"}`,
		string(disconnected))
}

func TestTimestampMicroseconds(t *testing.T) {
	first := time.Date(2025, 1, 2, 3, 4, 5, 123456789, time.UTC)
	second := first.Add(250 * time.Microsecond)

	assert.Equal(t, "2025-01-02T03:04:05.123456Z", timestamp(first))
	assert.Equal(t, "2025-01-02T03:04:05.123706Z", timestamp(second))
	assert.NotEqual(t, timestamp(first), timestamp(second))
}

func TestDataMessageJSON(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	data := encode(NewDataMessage("/dev/ttyACM0", []byte("hello\r"), now))
	assert.JSONEq(t, `{"device":"/dev/ttyACM0","data":"hello","ts":"2025-01-02T03:04:05.000000Z"}`, string(data))
}
