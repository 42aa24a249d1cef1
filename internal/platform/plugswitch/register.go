package plugswitch

import (
	"context"
	"fmt"

	"tapop105/internal/platform"
)

// Name is the platform name.
const Name = "switch"

func init() {
	platform.MustRegister(platform.Info{
		Name:        Name,
		Description: "Switches the plug from input_boolean.<object_id>_switch",
		Order:       30,
		Factory:     createPlatform,
	})
}

func createPlatform(ctx *platform.Context) (platform.Platform, error) {
	if ctx.HAClient == nil {
		return nil, fmt.Errorf("%w: no Home Assistant connection", platform.ErrNotApplicable)
	}
	if ctx.Device == nil {
		return nil, fmt.Errorf("switch platform requires a device")
	}

	manager := NewManager(ctx.Coordinator, ctx.Device, ctx.HAClient, ctx.ObjectID(), ctx.Logger, ctx.ReadOnly)
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
	return p.manager.Resync(ctx)
}
