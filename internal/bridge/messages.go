package bridge

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"
)

// TopicRoot is the first level of every per-device topic
const TopicRoot = "multi_serial"

// Values of StatusMessage.State
const (
	StatusConnected    = "connected"
	StatusError        = "error"
	StatusDisconnected = "disconnected"
)

// ReasonEOF is the error text of a status published on end-of-stream
const ReasonEOF = "eof"

var slugReplacer = strings.NewReplacer("/", "_", `\`, "_")

// Slug turns a device path into a single topic level:
// "/dev/ttyUSB0" becomes "_dev_ttyUSB0".
func Slug(device string) string {
	return slugReplacer.Replace(device)
}

// StatusTopic is the retained connection-state topic of device
func StatusTopic(device string) string {
	return TopicRoot + "/" + Slug(device) + "/status"
}

// DataTopic is the per-line topic of device
func DataTopic(device string) string {
	return TopicRoot + "/" + Slug(device) + "/data"
}

// DiscoveryTopic is where the discovery descriptor of device is announced
func DiscoveryTopic(prefix, device string) string {
	return prefix + "/sensor/" + Slug(device) + "/last/config"
}

// StatusMessage reports a reader's connection state. Error is null
// unless the state carries a reason.
type StatusMessage struct {
	Device string  `json:"device"`
	State  string  `json:"state"`
	Error  *string `json:"error"`
	TS     string  `json:"ts"`
}

// DataMessage carries one line read from a device
type DataMessage struct {
	Device string `json:"device"`
	Data   string `json:"data"`
	TS     string `json:"ts"`
}

func newStatus(device, state string, reason *string, now time.Time) StatusMessage {
	return StatusMessage{
		Device: device,
		State:  state,
		Error:  reason,
		TS:     timestamp(now),
	}
}

// NewDataMessage builds the data message of one raw line read at now
func NewDataMessage(device string, line []byte, now time.Time) DataMessage {
	return DataMessage{
		Device: device,
		Data:   DecodeLine(line),
		TS:     timestamp(now),
	}
}

// timestampLayout is RFC 3339 with microsecond resolution
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

func timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// DecodeLine renders a raw line for publishing. Valid UTF-8 is returned
// with surrounding whitespace trimmed; anything else becomes the lowercase
// hex encoding of the line without its line terminator.
func DecodeLine(line []byte) string {
	if utf8.Valid(line) {
		return strings.TrimSpace(string(line))
	}
	return hex.EncodeToString(bytes.TrimRight(line, "\r\n"))
}

func encode(v any) []byte {
	// Only flat structs of strings are encoded here, which cannot fail
	b, _ := json.Marshal(v)
	return b
}
