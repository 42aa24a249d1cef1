// Package mqttdiscovery publishes the plug to Home Assistant through MQTT
// discovery: a plug binary sensor and an outlet switch whose command topic
// drives the helper binary.
package mqttdiscovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"tapop105/internal/coordinator"
	"tapop105/internal/entity"
	"tapop105/internal/mqtt"
	"tapop105/internal/platform"

	"go.uber.org/zap"
)

const commandQueueSize = 8

// Manager owns the MQTT topics of one plug.
type Manager struct {
	source    platform.Source
	device    platform.Switcher
	publisher platform.Publisher
	prefix    string
	node      string
	topics    Topics
	sensor    *entity.BinarySensor
	logger    *zap.Logger
	readOnly  bool

	mu        sync.Mutex
	published map[string]string
	unsubs    []func()
	coordSub  coordinator.Subscription
	commands  chan bool
	done      chan struct{}
	cancel    context.CancelFunc
}

// NewManager creates the MQTT bridge for source. The source must already
// hold a valid snapshot.
func NewManager(source platform.Source, device platform.Switcher, publisher platform.Publisher, prefix, node string, logger *zap.Logger, readOnly bool) (*Manager, error) {
	sensor, err := entity.NewBinarySensor(source)
	if err != nil {
		return nil, fmt.Errorf("mqtt: %w", err)
	}
	return &Manager{
		source:    source,
		device:    device,
		publisher: publisher,
		prefix:    prefix,
		node:      node,
		topics:    NewTopics(node),
		sensor:    sensor,
		logger:    logger.Named("mqtt").With(zap.String("node", node)),
		readOnly:  readOnly,
		published: make(map[string]string),
	}, nil
}

// Topics returns the plug's topic layout.
func (m *Manager) Topics() Topics {
	return m.topics
}

// Start announces the plug, listens for commands and Home Assistant
// restarts, and follows coordinator updates.
func (m *Manager) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	commands := make(chan bool, commandQueueSize)
	done := make(chan struct{})

	m.mu.Lock()
	m.cancel = cancel
	m.commands = commands
	m.done = done
	m.mu.Unlock()

	go m.worker(runCtx, commands, done)

	unsubCommand, err := m.publisher.Subscribe(m.topics.Command, m.handleCommand)
	if err != nil {
		m.Stop()
		return fmt.Errorf("failed to subscribe to commands: %w", err)
	}
	unsubStatus, err := m.publisher.Subscribe(StatusTopic(m.prefix), func(payload []byte) {
		if strings.TrimSpace(string(payload)) != mqtt.PayloadOnline {
			return
		}
		m.logger.Info("Home Assistant came online, announcing again")
		go func() {
			if err := m.Announce(); err != nil {
				m.logger.Error("Failed to announce plug", zap.Error(err))
			}
		}()
	})
	if err != nil {
		unsubCommand()
		m.Stop()
		return fmt.Errorf("failed to subscribe to %s: %w", StatusTopic(m.prefix), err)
	}

	coordSub := m.source.Subscribe(func(coordinator.Update) {
		if err := m.publishState(false); err != nil {
			m.logger.Error("Failed to publish state", zap.Error(err))
		}
	})

	m.mu.Lock()
	m.unsubs = []func(){unsubCommand, unsubStatus}
	m.coordSub = coordSub
	m.mu.Unlock()

	if err := m.Announce(); err != nil {
		m.logger.Warn("Initial announce failed", zap.Error(err))
	}

	m.logger.Info("MQTT discovery started",
		zap.String("state_topic", m.topics.State),
		zap.String("command_topic", m.topics.Command))
	return nil
}

// Stop marks the plug offline, unsubscribes and waits for the worker.
func (m *Manager) Stop() {
	m.mu.Lock()
	unsubs, coordSub, cancel, commands, done := m.unsubs, m.coordSub, m.cancel, m.commands, m.done
	m.unsubs, m.coordSub, m.cancel, m.commands, m.done = nil, nil, nil, nil, nil
	if commands != nil {
		close(commands)
	}
	m.mu.Unlock()

	if coordSub != nil {
		coordSub.Unsubscribe()
	}
	for _, unsub := range unsubs {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	if unsubs != nil {
		if err := m.publish(m.topics.Availability, mqtt.PayloadOffline); err != nil {
			m.logger.Warn("Failed to publish offline availability", zap.Error(err))
		}
	}
}

// Announce publishes the discovery payloads and the current state.
func (m *Manager) Announce() error {
	configs := BuildConfigs(m.sensor, m.topics, m.node)

	components := make([]string, 0, len(configs))
	for component := range configs {
		components = append(components, component)
	}
	sort.Strings(components)

	var errs []error
	for _, component := range components {
		payload, err := configs[component].Marshal()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.publish(ConfigTopic(m.prefix, component, m.node), string(payload)); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.publishState(true); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// publishState publishes availability, and while available the relay state
// and attributes. Unchanged payloads are skipped unless force is set.
func (m *Manager) publishState(force bool) error {
	messages := [][2]string{}
	if m.sensor.Available() {
		state := PayloadOff
		if m.sensor.IsOn() {
			state = PayloadOn
		}
		attrs, err := json.Marshal(m.sensor.Attributes())
		if err != nil {
			return fmt.Errorf("failed to encode attributes: %w", err)
		}
		messages = append(messages,
			[2]string{m.topics.State, state},
			[2]string{m.topics.Attributes, string(attrs)},
			[2]string{m.topics.Availability, mqtt.PayloadOnline},
		)
	} else {
		messages = append(messages, [2]string{m.topics.Availability, mqtt.PayloadOffline})
	}

	var errs []error
	for _, msg := range messages {
		topic, payload := msg[0], msg[1]

		m.mu.Lock()
		prev, seen := m.published[topic]
		m.mu.Unlock()
		if seen && prev == payload && !force {
			continue
		}

		if err := m.publish(topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// publish sends a retained message and remembers it.
func (m *Manager) publish(topic, payload string) error {
	if m.readOnly {
		m.logger.Info("READ-ONLY: Would publish",
			zap.String("topic", topic),
			zap.Int("bytes", len(payload)))
		return nil
	}
	if err := m.publisher.Publish(topic, true, []byte(payload)); err != nil {
		return err
	}

	m.mu.Lock()
	m.published[topic] = payload
	m.mu.Unlock()
	return nil
}

func (m *Manager) handleCommand(payload []byte) {
	var on bool
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case PayloadOn:
		on = true
	case PayloadOff:
		on = false
	default:
		m.logger.Warn("Ignoring unknown command", zap.ByteString("payload", payload))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commands == nil {
		return
	}
	select {
	case m.commands <- on:
	default:
		m.logger.Warn("Command queue full, dropping command", zap.Bool("on", on))
	}
}

func (m *Manager) worker(ctx context.Context, commands <-chan bool, done chan<- struct{}) {
	defer close(done)
	for on := range commands {
		m.apply(ctx, on)
	}
}

func (m *Manager) apply(ctx context.Context, on bool) {
	command := "off"
	if on {
		command = "on"
	}

	if m.readOnly {
		m.logger.Info("READ-ONLY: Would switch plug", zap.String("command", command))
		return
	}

	m.logger.Info("Switching plug from MQTT", zap.String("command", command))
	var err error
	if on {
		err = m.device.On(ctx)
	} else {
		err = m.device.Off(ctx)
	}
	if err != nil {
		m.logger.Error("Failed to switch plug", zap.String("command", command), zap.Error(err))
	}

	if err := m.source.Refresh(ctx); err != nil {
		m.logger.Warn("Refresh after switching failed", zap.Error(err))
	}
}
