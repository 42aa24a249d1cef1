package binarysensor

import (
	"context"
	"fmt"

	"tapop105/internal/platform"
)

// Name is the platform name.
const Name = "binary_sensor"

func init() {
	platform.MustRegister(platform.Info{
		Name:        Name,
		Description: "Mirrors the plug's relay state into input_boolean.<object_id>",
		Order:       10,
		Factory:     createPlatform,
	})
}

func createPlatform(ctx *platform.Context) (platform.Platform, error) {
	if ctx.HAClient == nil {
		return nil, fmt.Errorf("%w: no Home Assistant connection", platform.ErrNotApplicable)
	}

	manager, err := NewManager(ctx.Coordinator, ctx.HAClient, ctx.ObjectID(), ctx.Logger, ctx.ReadOnly)
	if err != nil {
		return nil, err
	}
	return &platformAdapter{manager: manager}, nil
}

// platformAdapter wraps the Manager to implement platform.Platform.
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

// Implement platform.Resyncable
func (p *platformAdapter) Resync(ctx context.Context) error {
	return p.manager.Sync(ctx, true)
}
