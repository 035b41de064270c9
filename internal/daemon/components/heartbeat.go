package components

import (
	"context"

	"github.com/valeworks/valet/internal/daemon"
	"github.com/valeworks/valet/internal/heartbeat"
)

// HeartbeatComponent adapts the heartbeat scheduler to the daemon lifecycle.
type HeartbeatComponent struct {
	scheduler *heartbeat.Scheduler
}

func NewHeartbeatComponent(scheduler *heartbeat.Scheduler) *HeartbeatComponent {
	return &HeartbeatComponent{scheduler: scheduler}
}

func (c *HeartbeatComponent) Name() string {
	return "Heartbeat"
}

func (c *HeartbeatComponent) Dependencies() []string {
	return []string{"SkillRegistry"}
}

func (c *HeartbeatComponent) Init(ctx context.Context) error {
	return c.scheduler.Init(ctx)
}

func (c *HeartbeatComponent) Start(ctx context.Context) error {
	return c.scheduler.Start(ctx)
}

func (c *HeartbeatComponent) Stop(ctx context.Context) error {
	return c.scheduler.Stop(ctx)
}

func (c *HeartbeatComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	health := &daemon.ComponentHealth{Name: c.Name(), Healthy: true}
	if err := c.scheduler.Health(ctx); err != nil {
		health.Healthy = false
		health.Error = err
		return health, err
	}
	return health, nil
}
