package components

import (
	"context"
	"io"

	"github.com/valeworks/valet/internal/daemon"
	"github.com/valeworks/valet/internal/trust"
)

// TrustStoreComponent owns the lifetime of the policy storage backend so
// file locks and database handles are released on shutdown.
type TrustStoreComponent struct {
	store  trust.PersonalStorage
	closer io.Closer
}

func NewTrustStoreComponent(store trust.PersonalStorage) *TrustStoreComponent {
	c := &TrustStoreComponent{store: store}
	if closer, ok := store.(io.Closer); ok {
		c.closer = closer
	}
	return c
}

func (c *TrustStoreComponent) Name() string {
	return "TrustStore"
}

func (c *TrustStoreComponent) Dependencies() []string {
	return nil
}

func (c *TrustStoreComponent) Init(ctx context.Context) error {
	return nil
}

func (c *TrustStoreComponent) Start(ctx context.Context) error {
	return nil
}

func (c *TrustStoreComponent) Stop(ctx context.Context) error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

func (c *TrustStoreComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	return &daemon.ComponentHealth{Name: c.Name(), Healthy: true}, nil
}

// Store exposes the wrapped storage for wiring.
func (c *TrustStoreComponent) Store() trust.PersonalStorage {
	return c.store
}
