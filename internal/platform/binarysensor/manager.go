// Package binarysensor exposes the plug as a binary sensor of device class
// plug, mirrored into a Home Assistant input_boolean helper.
package binarysensor

import (
	"context"
	"fmt"
	"sync"

	"tapop105/internal/coordinator"
	"tapop105/internal/entity"
	"tapop105/internal/ha"

	"go.uber.org/zap"
)

// Manager keeps input_boolean.<object_id> in step with the plug.
type Manager struct {
	source   entity.Source
	haClient ha.HAClient
	sensor   *entity.BinarySensor
	objectID string
	logger   *zap.Logger
	readOnly bool

	mu       sync.Mutex
	mirrored *bool
	sub      coordinator.Subscription
	cancel   context.CancelFunc
}

// NewManager creates the binary sensor for source. The source must already
// hold a valid snapshot.
func NewManager(source entity.Source, haClient ha.HAClient, objectID string, logger *zap.Logger, readOnly bool) (*Manager, error) {
	sensor, err := entity.NewBinarySensor(source)
	if err != nil {
		return nil, fmt.Errorf("binary sensor: %w", err)
	}
	return &Manager{
		source:   source,
		haClient: haClient,
		sensor:   sensor,
		objectID: objectID,
		logger:   logger.Named("binary_sensor").With(zap.String("entity_id", entityID(objectID))),
		readOnly: readOnly,
	}, nil
}

func entityID(objectID string) string {
	return "input_boolean." + objectID
}

// Sensor returns the entity this manager mirrors.
func (m *Manager) Sensor() *entity.BinarySensor {
	return m.sensor
}

// Start mirrors the current state and follows coordinator updates.
func (m *Manager) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	if err := m.Sync(ctx, true); err != nil {
		m.logger.Warn("Initial mirror failed", zap.Error(err))
	}

	sub := entity.Listen(m.source, m.sensor, func(entity.Entity) {
		if err := m.Sync(runCtx, false); err != nil {
			m.logger.Error("Failed to mirror binary sensor", zap.Error(err))
		}
	})

	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()

	m.logger.Info("Binary sensor started", zap.String("name", m.sensor.Name()))
	return nil
}

// Stop unsubscribes from the coordinator.
func (m *Manager) Stop() {
	m.mu.Lock()
	sub, cancel := m.sub, m.cancel
	m.sub, m.cancel = nil, nil
	m.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
}

// Sync writes the relay state to Home Assistant. Unless force is set, an
// unchanged state is not written again. Nothing is written while the plug
// is unavailable.
func (m *Manager) Sync(ctx context.Context, force bool) error {
	if !m.sensor.Available() {
		m.logger.Debug("Plug unavailable, keeping mirrored state")
		return nil
	}
	on := m.sensor.IsOn()

	m.mu.Lock()
	unchanged := m.mirrored != nil && *m.mirrored == on
	m.mu.Unlock()
	if unchanged && !force {
		return nil
	}

	if m.readOnly {
		m.logger.Info("READ-ONLY: Would set input_boolean", zap.Bool("value", on))
		return nil
	}

	if err := m.haClient.SetInputBoolean(ctx, m.objectID, on); err != nil {
		return err
	}

	m.mu.Lock()
	m.mirrored = &on
	m.mu.Unlock()

	m.logger.Debug("Mirrored binary sensor", zap.String("state", m.sensor.State()))
	return nil
}
