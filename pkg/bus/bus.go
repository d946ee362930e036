// Package bus wraps github.com/eclipse/paho.mqtt.golang to provide the
// message bus client described in spec.md §4.1: connect/disconnect,
// publish with QoS and retain, and wildcard subscriptions that persist
// across reconnects.
package bus

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/cuemby/meek/pkg/log"
)

// Handler processes one inbound message. Handlers run on the broker's
// own callback goroutine and MUST NOT block — the only handler in this
// codebase is cmd/meekctl's subscribeBusToQueue callback, which pushes
// onto pkg/queue and returns.
type Handler func(topic string, payload []byte)

// Config configures the bus client.
type Config struct {
	Host       string
	Port       int
	ClientID   string
	Username   string
	Password   string
	QoS        byte
	TopicPrefix string
}

// Client is a thin wrapper over a paho MQTT client that adds the
// online/offline retained-status convention from spec.md §6.
type Client struct {
	cfg Config
	mu  sync.RWMutex

	client mqtt.Client
	subs   map[string]Handler // pattern -> handler, replayed on reconnect
}

// New creates a client. Connect must be called before use.
func New(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		subs: make(map[string]Handler),
	}
}

// connectionTopic is the retained status topic published on connect
// and set as the last-will payload, per spec.md §6's connection row.
func (c *Client) connectionTopic() string {
	return fmt.Sprintf("%s/connection", c.cfg.TopicPrefix)
}

// Connect dials the broker, arms the last-will "offline" message, and
// publishes a retained "online" message once connected. paho's
// AutoReconnect handles the exponential-backoff reconnect loop
// required by spec.md §4.1.
func (c *Client) Connect() error {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", c.cfg.Host, c.cfg.Port)).
		SetClientID(c.cfg.ClientID).
		SetUsername(c.cfg.Username).
		SetPassword(c.cfg.Password).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(60 * time.Second).
		SetConnectRetry(true).
		SetConnectRetryInterval(1 * time.Second).
		SetWill(c.connectionTopic(), offlinePayload(c.cfg.ClientID), c.cfg.QoS, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to broker: %w", token.Error())
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	return nil
}

// Disconnect is idempotent: publishes a non-retained offline message
// (the retained will message covers ungraceful drops) and closes the
// connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return
	}
	client.Publish(c.connectionTopic(), c.cfg.QoS, false, offlinePayload(c.cfg.ClientID))
	client.Disconnect(250)
}

func (c *Client) onConnect(client mqtt.Client) {
	log.WithComponent("bus").Info().Msg("connected to broker")

	token := client.Publish(c.connectionTopic(), c.cfg.QoS, true, onlinePayload(c.cfg.ClientID))
	token.Wait()

	c.mu.RLock()
	subs := make(map[string]Handler, len(c.subs))
	for k, v := range c.subs {
		subs[k] = v
	}
	c.mu.RUnlock()

	for pattern, handler := range subs {
		if err := c.subscribeNow(client, pattern, handler); err != nil {
			log.WithComponent("bus").Error().Err(err).Str("pattern", pattern).Msg("resubscribe failed")
		}
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	log.WithComponent("bus").Warn().Err(err).Msg("connection lost, paho will retry with backoff")
}

// Publish sends payload to topic, waiting up to timeout for broker
// acknowledgment.
func (c *Client) Publish(topic string, payload []byte, retain bool, timeout time.Duration) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil || !client.IsConnected() {
		return fmt.Errorf("publish %s: %w", topic, ErrNotConnected)
	}

	token := client.Publish(topic, c.cfg.QoS, retain, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish %s: %w", topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for pattern (which may contain MQTT
// wildcards `+`/`#`). The subscription is remembered and replayed on
// every reconnect.
func (c *Client) Subscribe(pattern string, handler Handler) error {
	c.mu.Lock()
	c.subs[pattern] = handler
	client := c.client
	c.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return nil // will be applied by onConnect once connected
	}
	return c.subscribeNow(client, pattern, handler)
}

func (c *Client) subscribeNow(client mqtt.Client, pattern string, handler Handler) error {
	token := client.Subscribe(pattern, c.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", pattern, err)
	}
	return nil
}

func onlinePayload(clientID string) []byte {
	return []byte(fmt.Sprintf(`{"status":"online","client_id":%q}`, clientID))
}

func offlinePayload(clientID string) []byte {
	return []byte(fmt.Sprintf(`{"status":"offline","client_id":%q}`, clientID))
}
