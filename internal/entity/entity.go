package entity

import (
	"fmt"

	"tapop105/internal/coordinator"
	"tapop105/internal/tapocli"
)

// Device classes and states as Home Assistant names them.
const (
	DeviceClassPlug = "plug"

	StateOn          = "on"
	StateOff         = "off"
	StateUnavailable = "unavailable"
)

// Source is the coordinator surface entities read from.
type Source interface {
	Data() (tapocli.DeviceStatus, bool)
	Available() bool
	Subscribe(listener coordinator.Listener) coordinator.Subscription
}

// Entity is one display binding of a plug.
type Entity interface {
	UniqueID() string
	Name() string
	State() string
	Attributes() map[string]interface{}
	Available() bool
	DeviceInfo() DeviceInfo
}

// base holds what every plug entity shares: the coordinator and the
// device metadata captured when the entity was created.
type base struct {
	source     Source
	deviceInfo DeviceInfo
	name       string
}

func newBase(source Source) (base, error) {
	status, ok := source.Data()
	if !ok {
		return base{}, fmt.Errorf("no device data available yet")
	}
	if err := status.Validate(); err != nil {
		return base{}, fmt.Errorf("invalid device data: %w", err)
	}
	return base{
		source:     source,
		deviceInfo: NewDeviceInfo(status),
		name:       DisplayName(status.Nickname()),
	}, nil
}

func (b *base) current() tapocli.DeviceStatus {
	status, _ := b.source.Data()
	return status
}

// UniqueID is read live from the latest snapshot.
func (b *base) UniqueID() string {
	return b.current().DeviceID()
}

func (b *base) Name() string {
	return b.name
}

func (b *base) Available() bool {
	return b.source.Available()
}

func (b *base) DeviceInfo() DeviceInfo {
	return b.deviceInfo
}

func (b *base) isOn() bool {
	return b.current().IsOn()
}

func (b *base) deviceAttributes() map[string]interface{} {
	attrs := map[string]interface{}{
		"friendly_name": b.name,
		"manufacturer":  b.deviceInfo.Manufacturer,
	}
	if b.deviceInfo.Model != "" {
		attrs["model"] = b.deviceInfo.Model
	}
	if b.deviceInfo.SWVersion != "" {
		attrs["sw_version"] = b.deviceInfo.SWVersion
	}
	if b.deviceInfo.HWVersion != "" {
		attrs["hw_version"] = b.deviceInfo.HWVersion
	}
	for _, conn := range b.deviceInfo.Connections {
		if conn.Type == ConnectionNetworkMAC {
			attrs["mac"] = conn.Value
		}
	}
	return attrs
}

// BinarySensor reports whether the plug's relay is on.
type BinarySensor struct {
	base
}

// NewBinarySensor creates the binary sensor. The source must already hold
// a valid snapshot.
func NewBinarySensor(source Source) (*BinarySensor, error) {
	b, err := newBase(source)
	if err != nil {
		return nil, err
	}
	return &BinarySensor{base: b}, nil
}

// DeviceClass is always plug.
func (s *BinarySensor) DeviceClass() string {
	return DeviceClassPlug
}

// IsOn returns the relay state from the latest snapshot.
func (s *BinarySensor) IsOn() bool {
	return s.isOn()
}

func (s *BinarySensor) State() string {
	if !s.Available() {
		return StateUnavailable
	}
	if s.IsOn() {
		return StateOn
	}
	return StateOff
}

func (s *BinarySensor) Attributes() map[string]interface{} {
	attrs := s.deviceAttributes()
	attrs["device_class"] = DeviceClassPlug
	return attrs
}

// Sensor exposes the plug as a plain sensor whose attributes carry the
// device metadata.
type Sensor struct {
	base
}

// NewSensor creates the metadata sensor.
func NewSensor(source Source) (*Sensor, error) {
	b, err := newBase(source)
	if err != nil {
		return nil, err
	}
	return &Sensor{base: b}, nil
}

func (s *Sensor) State() string {
	if !s.Available() {
		return StateUnavailable
	}
	if s.isOn() {
		return StateOn
	}
	return StateOff
}

func (s *Sensor) Attributes() map[string]interface{} {
	attrs := s.deviceAttributes()
	attrs["device_id"] = s.UniqueID()
	return attrs
}

// Listen calls fn with e after every coordinator update.
func Listen(source Source, e Entity, fn func(Entity)) coordinator.Subscription {
	return source.Subscribe(func(coordinator.Update) {
		fn(e)
	})
}
