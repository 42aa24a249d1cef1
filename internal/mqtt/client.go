// Package mqtt wraps the paho client with per-topic callbacks that survive
// reconnects and a retained availability topic backed by a last will.
package mqtt

import (
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Availability payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

const (
	qos            = 1
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	disconnectWait = 250 // milliseconds
)

// Config describes the broker connection.
type Config struct {
	// Broker is a URL such as tcp://mqtt.local:1883.
	Broker   string
	Username string
	Password string
	// ClientID defaults to tapo-p105-<random>.
	ClientID string
	// AvailabilityTopic receives "online" on connect and "offline" as the
	// last will.
	AvailabilityTopic string
}

// Client is a connected MQTT session.
type Client struct {
	client            paho.Client
	logger            *zap.Logger
	availabilityTopic string

	mu     sync.Mutex
	subs   map[string]map[int]func([]byte)
	nextID int

	connectHooks []func()
}

// Options builds the paho options for cfg.
func Options(cfg Config) (*paho.ClientOptions, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "tapo-p105-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetOrderMatters(false)
	if cfg.AvailabilityTopic != "" {
		opts.SetWill(cfg.AvailabilityTopic, PayloadOffline, qos, true)
	}
	return opts, nil
}

// Connect dials the broker and waits for the first connection.
func Connect(cfg Config, logger *zap.Logger) (*Client, error) {
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		logger:            logger.Named("mqtt"),
		availabilityTopic: cfg.AvailabilityTopic,
		subs:              make(map[string]map[int]func([]byte)),
	}
	opts.SetDefaultPublishHandler(c.dispatch)
	opts.OnConnect = func(_ paho.Client) {
		c.logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
		c.onConnect()
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		c.logger.Warn("MQTT connection lost", zap.Error(err))
	}

	client := paho.NewClient(opts)
	c.client = client

	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("timed out connecting to %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Broker, err)
	}
	return c, nil
}

// OnConnect registers fn to run after every (re)connect.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectHooks = append(c.connectHooks, fn)
}

// Publish sends payload to topic.
func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers cb for topic. The broker subscription is shared by all
// callbacks of a topic and restored after reconnects.
func (c *Client) Subscribe(topic string, cb func([]byte)) (func(), error) {
	c.mu.Lock()
	if c.subs[topic] == nil {
		c.subs[topic] = make(map[int]func([]byte))
	}
	id := c.nextID
	c.nextID++
	c.subs[topic][id] = cb
	needSubscribe := len(c.subs[topic]) == 1
	c.mu.Unlock()

	if needSubscribe {
		if token := c.client.Subscribe(topic, qos, nil); token.Wait() && token.Error() != nil {
			c.mu.Lock()
			delete(c.subs[topic], id)
			if len(c.subs[topic]) == 0 {
				delete(c.subs, topic)
			}
			c.mu.Unlock()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
		}
	}

	return func() {
		c.mu.Lock()
		callbacks := c.subs[topic]
		if callbacks == nil {
			c.mu.Unlock()
			return
		}
		delete(callbacks, id)
		shouldUnsub := len(callbacks) == 0
		if shouldUnsub {
			delete(c.subs, topic)
		}
		c.mu.Unlock()
		if shouldUnsub {
			_ = c.client.Unsubscribe(topic).Wait()
		}
	}, nil
}

// Close marks the bridge offline and disconnects.
func (c *Client) Close() {
	if c.availabilityTopic != "" {
		if err := c.Publish(c.availabilityTopic, true, []byte(PayloadOffline)); err != nil {
			c.logger.Warn("Failed to publish offline availability", zap.Error(err))
		}
	}
	c.client.Disconnect(disconnectWait)
	c.logger.Info("Disconnected from MQTT broker")
}

func (c *Client) dispatch(_ paho.Client, msg paho.Message) {
	c.mu.Lock()
	callbacks := c.subs[msg.Topic()]
	list := make([]func([]byte), 0, len(callbacks))
	for _, cb := range callbacks {
		list = append(list, cb)
	}
	c.mu.Unlock()

	for _, cb := range list {
		cb(msg.Payload())
	}
}

// onConnect restores subscriptions and availability. It runs on paho's
// connection goroutine, so the blocking work happens in a new goroutine.
func (c *Client) onConnect() {
	c.mu.Lock()
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	hooks := append([]func(){}, c.connectHooks...)
	c.mu.Unlock()

	go func() {
		for _, topic := range topics {
			_ = c.client.Subscribe(topic, qos, nil).Wait()
		}
		if c.availabilityTopic != "" {
			if err := c.Publish(c.availabilityTopic, true, []byte(PayloadOnline)); err != nil {
				c.logger.Warn("Failed to publish online availability", zap.Error(err))
			}
		}
		for _, fn := range hooks {
			fn()
		}
	}()
}
