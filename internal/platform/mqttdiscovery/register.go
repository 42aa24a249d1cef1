package mqttdiscovery

import (
	"context"
	"fmt"

	"tapop105/internal/platform"
)

// Name is the platform name.
const Name = "mqtt"

func init() {
	platform.MustRegister(platform.Info{
		Name:        Name,
		Description: "Publishes the plug through Home Assistant MQTT discovery",
		Order:       40,
		Factory:     createPlatform,
	})
}

func createPlatform(ctx *platform.Context) (platform.Platform, error) {
	if ctx.MQTT == nil {
		return nil, fmt.Errorf("%w: no MQTT broker", platform.ErrNotApplicable)
	}
	if ctx.Device == nil {
		return nil, fmt.Errorf("mqtt platform requires a device")
	}

	prefix := ctx.DiscoveryPrefix
	if prefix == "" {
		prefix = "homeassistant"
	}

	manager, err := NewManager(ctx.Coordinator, ctx.Device, ctx.MQTT, prefix, ctx.ObjectID(), ctx.Logger, ctx.ReadOnly)
	if err != nil {
		return nil, err
	}
	return &platformAdapter{manager: manager}, nil
}

type platformAdapter struct {
	manager *Manager
}

func (p *platformAdapter) Name() string {
	return Name
}

func (p *platformAdapter) Start(ctx context.Context) error {
	return p.manager.Start(ctx)
}

func (p *platformAdapter) Stop() {
	p.manager.Stop()
}

func (p *platformAdapter) Resync(ctx context.Context) error {
	return p.manager.Announce()
}
