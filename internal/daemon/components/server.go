package components

import (
	"context"

	"github.com/valeworks/valet/internal/daemon"
	"github.com/valeworks/valet/internal/rpc"
)

// ServerComponent adapts the skills RPC server to the daemon lifecycle.
type ServerComponent struct {
	server *rpc.Server
}

func NewServerComponent(server *rpc.Server) *ServerComponent {
	return &ServerComponent{server: server}
}

func (c *ServerComponent) Name() string {
	return "SkillsServer"
}

func (c *ServerComponent) Dependencies() []string {
	return []string{"SkillRegistry"}
}

func (c *ServerComponent) Init(ctx context.Context) error {
	return c.server.Init(ctx)
}

func (c *ServerComponent) Start(ctx context.Context) error {
	return c.server.Start(ctx)
}

func (c *ServerComponent) Stop(ctx context.Context) error {
	return c.server.Stop(ctx)
}

func (c *ServerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	health := &daemon.ComponentHealth{Name: c.Name(), Healthy: true}
	if err := c.server.Health(ctx); err != nil {
		health.Healthy = false
		health.Error = err
		return health, err
	}
	return health, nil
}
