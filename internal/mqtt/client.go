package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
)

// QoS is the MQTT delivery guarantee of a publish
type QoS byte

const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
)

// AvailabilityTopic carries the bridge's own online/offline state
const AvailabilityTopic = "multi_serial/bridge/availability"

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
	keepAlive      = 30
)

// ErrNotConnected is returned by operations that need a connection
// manager before Connect has been called
var ErrNotConnected = errors.New("mqtt client not connected")

// Config is the connection configuration of a Client
type Config struct {
	Broker         string
	Username       string
	Password       string
	ClientID       string
	PublishTimeout time.Duration
	ConnectTimeout time.Duration

	// Availability enables the will message and the online/offline
	// announcements on AvailabilityTopic. Only the bridge sets it.
	Availability bool
}

// MessageHandler is called for each message received on a subscribed
// filter. It runs on the client's receive goroutine and must not block.
type MessageHandler func(topic string, payload []byte)

type subscription struct {
	filter string
	qos    QoS
}

// Client manages one broker connection. It is safe for concurrent use.
type Client struct {
	cfg      Config
	clientID string
	logger   *slog.Logger
	router   *paho.StandardRouter

	mu     sync.Mutex
	subs   []subscription
	cm     *autopaho.ConnectionManager
	cancel context.CancelFunc
}

// New creates a Client but does not connect. An empty ClientID is
// replaced by "multi-serial-<uuid>".
func New(cfg Config, logger *slog.Logger) *Client {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "multi-serial-" + uuid.NewString()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	return &Client{
		cfg:      cfg,
		clientID: clientID,
		logger:   logger.With("broker", cfg.Broker),
		router:   paho.NewStandardRouter(),
	}
}

// ClientID returns the MQTT client identifier used on connect
func (c *Client) ClientID() string {
	return c.clientID
}

// Connect starts the connection manager and waits up to the connect
// timeout for the first successful connection. The connection outlives
// ctx; it ends with Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	brokerURL, err := url.Parse(c.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cm, err := autopaho.NewConnection(connCtx, c.clientConfig(connCtx, brokerURL))
	if err != nil {
		cancel()
		return fmt.Errorf("mqtt connect: %w", err)
	}

	c.mu.Lock()
	c.cm = cm
	c.cancel = cancel
	c.mu.Unlock()

	awaitCtx, awaitCancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer awaitCancel()
	if err := cm.AwaitConnection(awaitCtx); err != nil {
		cancel()
		c.mu.Lock()
		c.cm = nil
		c.cancel = nil
		c.mu.Unlock()
		return fmt.Errorf("mqtt connect to %s: %w", c.cfg.Broker, err)
	}
	return nil
}

func (c *Client) clientConfig(ctx context.Context, brokerURL *url.URL) autopaho.ClientConfig {
	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     keepAlive,
		CleanStartOnInitialConnection: true,
		ConnectTimeout:                c.cfg.ConnectTimeout,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.logger.Info("mqtt connected to broker")
			c.onConnectionUp(ctx, cm)
		},
		OnConnectError: func(err error) {
			c.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.clientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.onPublishReceived,
			},
			OnClientError: func(err error) {
				c.logger.Warn("mqtt client error", "error", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				c.logger.Warn("mqtt server requested disconnect", "reason_code", d.ReasonCode)
			},
		},
	}

	if c.cfg.Availability {
		cfg.WillMessage = &paho.WillMessage{
			Topic:   AvailabilityTopic,
			Payload: []byte(payloadOffline),
			QoS:     byte(AtLeastOnce),
			Retain:  true,
		}
	}
	if c.cfg.Username != "" {
		cfg.ConnectUsername = c.cfg.Username
	}
	if c.cfg.Password != "" {
		cfg.ConnectPassword = []byte(c.cfg.Password)
	}

	switch brokerURL.Scheme {
	case "mqtts", "ssl", "tls", "wss":
		cfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}
	return cfg
}

// onConnectionUp announces availability and restores subscriptions; it
// runs on every (re-)connect
func (c *Client) onConnectionUp(ctx context.Context, cm *autopaho.ConnectionManager) {
	pubCtx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
	defer cancel()

	if c.cfg.Availability {
		c.publishAvailability(pubCtx, cm, payloadOnline)
	}

	c.mu.Lock()
	subs := append([]subscription(nil), c.subs...)
	c.mu.Unlock()
	if len(subs) == 0 {
		return
	}
	if _, err := cm.Subscribe(pubCtx, subscribePacket(subs)); err != nil {
		c.logger.Warn("mqtt resubscribe failed", "filters", len(subs), "error", err)
	}
}

func (c *Client) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   AvailabilityTopic,
		Payload: []byte(status),
		QoS:     byte(AtLeastOnce),
		Retain:  true,
	}); err != nil {
		c.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	}
}

// onPublishReceived hands inbound publishes to the router. The router
// requires a properties block, so one is filled in when missing.
func (c *Client) onPublishReceived(pr paho.PublishReceived) (bool, error) {
	if pr.Packet == nil {
		return false, nil
	}
	if pr.Packet.Properties == nil {
		pr.Packet.Properties = &paho.PublishProperties{}
	}
	c.router.Route(pr.Packet.Packet())
	return true, nil
}

func subscribePacket(subs []subscription) *paho.Subscribe {
	opts := make([]paho.SubscribeOptions, len(subs))
	for i, s := range subs {
		opts[i] = paho.SubscribeOptions{Topic: s.filter, QoS: byte(s.qos)}
	}
	return &paho.Subscribe{Subscriptions: opts}
}

func (c *Client) manager() (*autopaho.ConnectionManager, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cm == nil {
		return nil, ErrNotConnected
	}
	return c.cm, nil
}

// Publish sends payload to topic. The call is bounded by the publish
// timeout and is never retried here.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos QoS, retain bool) error {
	cm, err := c.manager()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
	defer cancel()

	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     byte(qos),
		Retain:  retain,
	}); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for each filter (MQTT wildcards allowed).
// Subscriptions are remembered and renewed on every reconnect; if the
// client is connected they are also sent immediately.
func (c *Client) Subscribe(ctx context.Context, filters []string, qos QoS, handler MessageHandler) error {
	route := func(p *paho.Publish) {
		handler(p.Topic, p.Payload)
	}

	c.mu.Lock()
	subs := make([]subscription, 0, len(filters))
	for _, f := range filters {
		c.router.RegisterHandler(f, route)
		subs = append(subs, subscription{filter: f, qos: qos})
	}
	c.subs = append(c.subs, subs...)
	cm := c.cm
	c.mu.Unlock()

	if cm == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
	defer cancel()
	if _, err := cm.Subscribe(ctx, subscribePacket(subs)); err != nil {
		return fmt.Errorf("mqtt subscribe: %w", err)
	}
	return nil
}

// Disconnect publishes "offline" if availability is enabled and closes the
// connection. The context bounds the whole operation. Calling Disconnect without a connection is
// a no-op.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	cm, cancel := c.cm, c.cancel
	c.cm, c.cancel = nil, nil
	c.mu.Unlock()

	if cm == nil {
		return nil
	}
	defer cancel()

	if c.cfg.Availability {
		c.publishAvailability(ctx, cm, payloadOffline)
	}

	if err := cm.Disconnect(ctx); err != nil {
		return fmt.Errorf("mqtt disconnect: %w", err)
	}
	c.logger.Info("mqtt disconnected")
	return nil
}
