// Package mqtt is the bus client of multi-serial. It wraps Eclipse Paho
// v2's [autopaho] connection manager, which owns reconnection, and exposes
// the narrow surface the bridge needs: bounded publishes with an explicit
// QoS and retain flag, topic subscriptions that survive reconnects, and a
// graceful disconnect.
//
// With Config.Availability set, a retained will message marks the bridge
// "offline" on [AvailabilityTopic] if the connection drops unexpectedly,
// and every (re-)connect publishes "online" to the same topic.
package mqtt
