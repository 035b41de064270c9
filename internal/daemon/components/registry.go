// Package components adapts the skill host's subsystems to the daemon's
// component lifecycle.
package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/valeworks/valet/internal/daemon"
	"github.com/valeworks/valet/internal/skill"
)

// RegistryComponent owns skill initialization. Individual skill failures
// are recorded, not fatal; the daemon only degrades when every registered
// skill failed to come up.
type RegistryComponent struct {
	registry *skill.Registry

	mu      sync.RWMutex
	results map[string]bool
}

func NewRegistryComponent(registry *skill.Registry) *RegistryComponent {
	return &RegistryComponent{registry: registry}
}

func (c *RegistryComponent) Name() string {
	return "SkillRegistry"
}

func (c *RegistryComponent) Dependencies() []string {
	return nil
}

func (c *RegistryComponent) Init(ctx context.Context) error {
	results := c.registry.InitializeAll(ctx)

	c.mu.Lock()
	c.results = results
	c.mu.Unlock()

	summary := c.registry.Status()
	slog.Info("Skill registry initialized",
		"total", summary.TotalSkills, "ready", summary.ReadyCount, "errors", summary.ErrorCount)
	return nil
}

func (c *RegistryComponent) Start(ctx context.Context) error {
	return nil
}

func (c *RegistryComponent) Stop(ctx context.Context) error {
	return nil
}

func (c *RegistryComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	summary := c.registry.Status()
	health := &daemon.ComponentHealth{
		Name:    c.Name(),
		Healthy: summary.TotalSkills == 0 || summary.ReadyCount > 0,
	}
	if !health.Healthy {
		health.Error = fmt.Errorf("no ready skills (%d registered, %d errored)", summary.TotalSkills, summary.ErrorCount)
		return health, health.Error
	}
	return health, nil
}

// Registry exposes the wrapped registry for wiring.
func (c *RegistryComponent) Registry() *skill.Registry {
	return c.registry
}
