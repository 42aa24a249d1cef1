// Package sensor exposes the plug's state string and device metadata as
// Home Assistant input_text helpers.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"tapop105/internal/coordinator"
	"tapop105/internal/entity"
	"tapop105/internal/ha"

	"go.uber.org/zap"
)

// Helper suffixes appended to the object id.
const (
	SuffixState    = "_state"
	SuffixName     = "_name"
	SuffixModel    = "_model"
	SuffixFirmware = "_firmware"
	SuffixHardware = "_hardware"
	SuffixMAC      = "_mac"
)

// Manager keeps the input_text.<object_id>_* helpers in step with the plug.
type Manager struct {
	source   entity.Source
	haClient ha.HAClient
	sensor   *entity.Sensor
	objectID string
	logger   *zap.Logger
	readOnly bool

	mu       sync.Mutex
	mirrored map[string]string
	sub      coordinator.Subscription
	cancel   context.CancelFunc
}

// NewManager creates the sensor for source. The source must already hold a
// valid snapshot.
func NewManager(source entity.Source, haClient ha.HAClient, objectID string, logger *zap.Logger, readOnly bool) (*Manager, error) {
	sensor, err := entity.NewSensor(source)
	if err != nil {
		return nil, fmt.Errorf("sensor: %w", err)
	}
	return &Manager{
		source:   source,
		haClient: haClient,
		sensor:   sensor,
		objectID: objectID,
		logger:   logger.Named("sensor").With(zap.String("object_id", objectID)),
		readOnly: readOnly,
		mirrored: make(map[string]string),
	}, nil
}

// Sensor returns the entity this manager mirrors.
func (m *Manager) Sensor() *entity.Sensor {
	return m.sensor
}

// Values returns the helper values for the current snapshot, keyed by the
// helper's object id.
func (m *Manager) Values() map[string]string {
	attrs := m.sensor.Attributes()
	str := func(key string) string {
		v, _ := attrs[key].(string)
		return v
	}

	values := map[string]string{
		m.objectID + SuffixState: m.sensor.State(),
		m.objectID + SuffixName:  m.sensor.Name(),
	}
	optional := map[string]string{
		SuffixModel:    str("model"),
		SuffixFirmware: str("sw_version"),
		SuffixHardware: str("hw_version"),
		SuffixMAC:      str("mac"),
	}
	for suffix, v := range optional {
		if v != "" {
			values[m.objectID+suffix] = v
		}
	}
	return values
}

// Start mirrors the current values and follows coordinator updates.
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
			m.logger.Error("Failed to mirror sensor", zap.Error(err))
		}
	})

	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()

	m.logger.Info("Sensor started", zap.String("name", m.sensor.Name()))
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

// Sync writes changed helper values, or all of them when force is set.
// The state helper reads "unavailable" while polls fail.
func (m *Manager) Sync(ctx context.Context, force bool) error {
	values := m.Values()

	ids := make([]string, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		value := values[id]

		m.mu.Lock()
		prev, seen := m.mirrored[id]
		m.mu.Unlock()
		if seen && prev == value && !force {
			continue
		}

		if m.readOnly {
			m.logger.Info("READ-ONLY: Would set input_text",
				zap.String("entity_id", "input_text."+id),
				zap.String("value", value))
			continue
		}

		if err := m.haClient.SetInputText(ctx, id, value); err != nil {
			errs = append(errs, err)
			continue
		}

		m.mu.Lock()
		m.mirrored[id] = value
		m.mu.Unlock()
	}
	return errors.Join(errs...)
}
