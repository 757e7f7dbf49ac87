package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/allbin/multi-serial/internal/mqtt"
)

// Availability is one entry of a descriptor's availability list
type Availability struct {
	Topic         string `json:"topic"`
	ValueTemplate string `json:"value_template"`
}

// DeviceInfo groups the discovered entity under a device
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// Descriptor is the Home Assistant MQTT discovery payload for the
// "last line" sensor of one device
type Descriptor struct {
	Name                string         `json:"name"`
	UniqueID            string         `json:"unique_id"`
	StateTopic          string         `json:"state_topic"`
	ValueTemplate       string         `json:"value_template"`
	JSONAttributesTopic string         `json:"json_attributes_topic"`
	Availability        []Availability `json:"availability"`
	PayloadAvailable    string         `json:"payload_available"`
	PayloadNotAvailable string         `json:"payload_not_available"`
	Device              DeviceInfo     `json:"device"`
}

// Announcer publishes discovery descriptors. With once set, each device
// is announced a single time until Forget is called for it.
type Announcer struct {
	pub       Publisher
	prefix    string
	swVersion string
	once      bool

	mu        sync.Mutex
	announced map[string]bool
}

// NewAnnouncer returns an Announcer publishing under prefix
func NewAnnouncer(pub Publisher, prefix, swVersion string, once bool) *Announcer {
	return &Announcer{
		pub:       pub,
		prefix:    prefix,
		swVersion: swVersion,
		once:      once,
		announced: make(map[string]bool),
	}
}

// Descriptor builds the descriptor of device. The result depends only on
// device, the prefix and the software version.
func (a *Announcer) Descriptor(device string) Descriptor {
	uniqueID := "multi_serial_" + Slug(device)
	status := StatusTopic(device)
	return Descriptor{
		Name:                fmt.Sprintf("Serial %s Last", device),
		UniqueID:            uniqueID,
		StateTopic:          DataTopic(device),
		ValueTemplate:       "{{ value_json.data }}",
		JSONAttributesTopic: status,
		Availability: []Availability{{
			Topic:         status,
			ValueTemplate: "{{ value_json.state }}",
		}},
		PayloadAvailable:    StatusConnected,
		PayloadNotAvailable: StatusDisconnected,
		Device: DeviceInfo{
			Identifiers:  []string{uniqueID},
			Name:         "Serial " + device,
			Manufacturer: "multi-serial",
			Model:        "Serial device",
			SWVersion:    a.swVersion,
		},
	}
}

// Announce publishes the descriptor of device retained at-least-once,
// unless it was already announced and the announcer runs in once mode
func (a *Announcer) Announce(ctx context.Context, device string) error {
	if a.once {
		a.mu.Lock()
		if a.announced[device] {
			a.mu.Unlock()
			return nil
		}
		a.announced[device] = true
		a.mu.Unlock()
	}

	payload, err := json.Marshal(a.Descriptor(device))
	if err != nil {
		return fmt.Errorf("encode discovery descriptor: %w", err)
	}

	if err := a.pub.Publish(ctx, DiscoveryTopic(a.prefix, device), payload, mqtt.AtLeastOnce, true); err != nil {
		if a.once {
			a.Forget(device)
		}
		return err
	}
	return nil
}

// Forget clears the announced mark of device so the next Announce
// publishes again
func (a *Announcer) Forget(device string) {
	a.mu.Lock()
	delete(a.announced, device)
	a.mu.Unlock()
}
