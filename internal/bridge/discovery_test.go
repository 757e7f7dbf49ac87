package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/allbin/multi-serial/internal/mqtt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptor(t *testing.T) {
	a := NewAnnouncer(&fakePublisher{}, "homeassistant", "1.2.3", false)
	d := a.Descriptor("/dev/ttyUSB0")

	assert.Equal(t, "Serial /dev/ttyUSB0 Last", d.Name)
	assert.Equal(t, "multi_serial__dev_ttyUSB0", d.UniqueID)
	assert.Equal(t, "multi_serial/_dev_ttyUSB0/data", d.StateTopic)
	assert.Equal(t, "{{ value_json.data }}", d.ValueTemplate)
	assert.Equal(t, "multi_serial/_dev_ttyUSB0/status", d.JSONAttributesTopic)
	require.Len(t, d.Availability, 1)
	assert.Equal(t, "multi_serial/_dev_ttyUSB0/status", d.Availability[0].Topic)
	assert.Equal(t, "{{ value_json.state }}", d.Availability[0].ValueTemplate)
	assert.Equal(t, "connected", d.PayloadAvailable)
	assert.Equal(t, "disconnected", d.PayloadNotAvailable)
	assert.Equal(t, []string{"multi_serial__dev_ttyUSB0"}, d.Device.Identifiers)
	assert.Equal(t, "1.2.3", d.Device.SWVersion)
}

func TestDescriptorDeterministic(t *testing.T) {
	a := NewAnnouncer(&fakePublisher{}, "homeassistant", "dev", false)
	first, err := json.Marshal(a.Descriptor("/dev/ttyACM1"))
	require.NoError(t, err)
	second, err := json.Marshal(a.Descriptor("/dev/ttyACM1"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := json.Marshal(NewAnnouncer(&fakePublisher{}, "homeassistant", "dev", true).Descriptor("/dev/ttyACM1"))
	require.NoError(t, err)
	assert.Equal(t, first, other)
}

func TestAnnounceEveryMessage(t *testing.T) {
	pub := &fakePublisher{}
	a := NewAnnouncer(pub, "ha", "", false)
	ctx := context.Background()

	require.NoError(t, a.Announce(ctx, "/dev/ttyUSB0"))
	require.NoError(t, a.Announce(ctx, "/dev/ttyUSB0"))

	msgs := pub.on("ha/sensor/_dev_ttyUSB0/last/config")
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].Retain)
	assert.Equal(t, mqtt.AtLeastOnce, msgs[0].QoS)
	assert.Equal(t, msgs[0].Payload, msgs[1].Payload)
}

func TestAnnounceOnce(t *testing.T) {
	pub := &fakePublisher{}
	a := NewAnnouncer(pub, "ha", "", true)
	ctx := context.Background()

	require.NoError(t, a.Announce(ctx, "/dev/ttyUSB0"))
	require.NoError(t, a.Announce(ctx, "/dev/ttyUSB0"))
	require.NoError(t, a.Announce(ctx, "/dev/ttyUSB1"))
	assert.Equal(t, 2, pub.count())

	a.Forget("/dev/ttyUSB0")
	require.NoError(t, a.Announce(ctx, "/dev/ttyUSB0"))
	assert.Equal(t, 3, pub.count())
}

func TestAnnounceOnceRetriesAfterFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("timeout")}
	a := NewAnnouncer(pub, "ha", "", true)
	ctx := context.Background()

	require.Error(t, a.Announce(ctx, "/dev/ttyUSB0"))

	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()

	require.NoError(t, a.Announce(ctx, "/dev/ttyUSB0"))
	assert.Equal(t, 2, pub.count())
}
