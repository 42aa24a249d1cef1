// Package plugswitch lets Home Assistant switch the plug through an
// input_boolean helper. The helper follows the plug's polled state, and user
// toggles of the helper are sent to the plug.
package plugswitch

import (
	"context"
	"sync"

	"tapop105/internal/coordinator"
	"tapop105/internal/entity"
	"tapop105/internal/ha"
	"tapop105/internal/platform"

	"go.uber.org/zap"
)

const commandQueueSize = 8

// Manager bridges input_boolean.<object_id>_switch and the plug.
type Manager struct {
	source   platform.Source
	device   platform.Switcher
	haClient ha.HAClient
	entityID string
	objectID string
	logger   *zap.Logger
	readOnly bool

	mu sync.Mutex
	// helper is the last known helper state; nil until learned.
	helper *bool
	// echo is the value we last wrote and expect to see reported back.
	echo *bool

	commands chan bool
	haSub    ha.Subscription
	coordSub coordinator.Subscription
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewManager creates the switch bridge.
func NewManager(source platform.Source, device platform.Switcher, haClient ha.HAClient, objectID string, logger *zap.Logger, readOnly bool) *Manager {
	entityID := "input_boolean." + objectID + "_switch"
	return &Manager{
		source:   source,
		device:   device,
		haClient: haClient,
		entityID: entityID,
		objectID: objectID + "_switch",
		logger:   logger.Named("switch").With(zap.String("entity_id", entityID)),
		readOnly: readOnly,
	}
}

// EntityID returns the helper entity the switch listens to.
func (m *Manager) EntityID() string {
	return m.entityID
}

// Start learns the helper's state, subscribes to it and to the coordinator,
// and starts the command worker.
func (m *Manager) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	commands := make(chan bool, commandQueueSize)
	done := make(chan struct{})

	m.mu.Lock()
	m.cancel = cancel
	m.commands = commands
	m.done = done
	m.mu.Unlock()

	if state, err := m.haClient.GetState(ctx, m.entityID); err != nil {
		m.logger.Warn("Switch helper not found; create it in Home Assistant", zap.Error(err))
	} else if on, ok := parseState(state); ok {
		m.setHelper(on)
	}

	go m.worker(runCtx, commands, done)

	haSub, err := m.haClient.SubscribeStateChanges(m.entityID, m.handleHelperChange)
	if err != nil {
		m.Stop()
		return err
	}
	coordSub := m.source.Subscribe(func(coordinator.Update) {
		if err := m.syncHelper(runCtx); err != nil {
			m.logger.Error("Failed to sync switch helper", zap.Error(err))
		}
	})

	m.mu.Lock()
	m.haSub = haSub
	m.coordSub = coordSub
	m.mu.Unlock()

	if err := m.syncHelper(ctx); err != nil {
		m.logger.Warn("Initial switch sync failed", zap.Error(err))
	}

	m.logger.Info("Switch started")
	return nil
}

// Stop unsubscribes and waits for the command worker to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	haSub, coordSub, cancel, commands, done := m.haSub, m.coordSub, m.cancel, m.commands, m.done
	m.haSub, m.coordSub, m.cancel, m.commands, m.done = nil, nil, nil, nil, nil
	if commands != nil {
		close(commands)
	}
	m.mu.Unlock()

	if haSub != nil {
		haSub.Unsubscribe()
	}
	if coordSub != nil {
		coordSub.Unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Resync forgets the helper state and writes the plug's state again.
func (m *Manager) Resync(ctx context.Context) error {
	m.mu.Lock()
	m.helper = nil
	m.echo = nil
	m.mu.Unlock()
	return m.syncHelper(ctx)
}

func (m *Manager) handleHelperChange(_ string, oldState, newState *ha.State) {
	on, ok := parseState(newState)
	if !ok {
		return
	}
	old, known := parseState(oldState)

	m.mu.Lock()
	defer m.mu.Unlock()

	isEcho := m.echo != nil && *m.echo == on
	m.echo = nil
	m.helper = &on
	if isEcho || m.commands == nil || (known && old == on) {
		return
	}

	select {
	case m.commands <- on:
	default:
		m.logger.Warn("Switch command queue full, dropping command", zap.Bool("on", on))
	}
}

// worker sends queued commands to the plug and refreshes afterwards. It runs
// outside the HA event and coordinator callbacks so neither blocks on the
// helper binary.
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

	m.logger.Info("Switching plug", zap.String("command", command))
	var err error
	if on {
		err = m.device.On(ctx)
	} else {
		err = m.device.Off(ctx)
	}
	if err != nil {
		m.logger.Error("Failed to switch plug", zap.String("command", command), zap.Error(err))
	}

	// The helper gives no confirmation, so poll for the resulting state.
	if err := m.source.Refresh(ctx); err != nil {
		m.logger.Warn("Refresh after switching failed", zap.Error(err))
	}
}

// syncHelper makes the helper show the plug's relay state if they differ.
func (m *Manager) syncHelper(ctx context.Context) error {
	if !m.source.Available() {
		return nil
	}
	status, ok := m.source.Data()
	if !ok {
		return nil
	}
	on := status.IsOn()

	m.mu.Lock()
	inStep := m.helper != nil && *m.helper == on
	if !inStep && !m.readOnly {
		m.echo = &on
	}
	m.mu.Unlock()

	if inStep {
		return nil
	}
	if m.readOnly {
		m.logger.Info("READ-ONLY: Would set switch helper", zap.Bool("value", on))
		return nil
	}

	if err := m.haClient.SetInputBoolean(ctx, m.objectID, on); err != nil {
		m.mu.Lock()
		m.echo = nil
		m.mu.Unlock()
		return err
	}
	m.setHelper(on)
	return nil
}

func (m *Manager) setHelper(on bool) {
	m.mu.Lock()
	m.helper = &on
	m.mu.Unlock()
}

func parseState(state *ha.State) (bool, bool) {
	if state == nil {
		return false, false
	}
	switch state.State {
	case entity.StateOn:
		return true, true
	case entity.StateOff:
		return false, true
	default:
		return false, false
	}
}
