// Package platform provides the registry through which the entity platforms
// of a configured plug are built. Platforms register themselves with the
// global registry from init() functions; the binary only needs to import
// them for side effects.
package platform

import (
	"context"
	"errors"

	"tapop105/internal/config"
	"tapop105/internal/coordinator"
	"tapop105/internal/entity"
	"tapop105/internal/ha"

	"go.uber.org/zap"
)

// ErrNotApplicable is returned by a factory whose platform cannot run with
// the given context, e.g. the MQTT platform without a broker. CreateAll skips
// such platforms.
var ErrNotApplicable = errors.New("platform not applicable")

// Platform exposes one kind of entity for a configured plug.
type Platform interface {
	// Name returns the platform name used for registration and logging.
	Name() string

	// Start subscribes to the coordinator and any outside command source.
	Start(ctx context.Context) error

	// Stop releases every subscription.
	Stop()
}

// Resyncable is implemented by platforms that mirror state elsewhere and can
// push the current state again, e.g. after Home Assistant reconnects.
type Resyncable interface {
	Resync(ctx context.Context) error
}

// Factory creates a platform for the plug described by ctx.
type Factory func(ctx *Context) (Platform, error)

// Source is the polling coordinator as seen by platforms.
type Source interface {
	entity.Source
	Name() string
	Refresh(ctx context.Context) error
}

// Switcher drives the plug's relay.
type Switcher interface {
	On(ctx context.Context) error
	Off(ctx context.Context) error
}

// Publisher is the MQTT surface platforms use.
type Publisher interface {
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, handler func(payload []byte)) (unsubscribe func(), err error)
}

var _ Source = (*coordinator.Coordinator)(nil)

// Context carries what a platform needs for one config entry.
type Context struct {
	// Entry is the config entry the platform serves.
	Entry config.Entry

	// Coordinator holds the latest device status.
	Coordinator Source

	// Device switches the plug.
	Device Switcher

	// HAClient is nil when no Home Assistant connection is configured.
	HAClient ha.HAClient

	// MQTT is nil when no broker is configured.
	MQTT Publisher

	// DiscoveryPrefix is the MQTT discovery root, usually "homeassistant".
	DiscoveryPrefix string

	Logger *zap.Logger

	// ReadOnly platforms log what they would write instead of writing.
	ReadOnly bool
}

// ObjectID returns the slug platforms derive their entity ids from.
func (c *Context) ObjectID() string {
	return c.Entry.Slug()
}
