package catalog

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/colebrumley/amitrigger/internal/ami"
	"github.com/colebrumley/amitrigger/internal/telemetry"
)

// Factory builds a catalog for a config. It exists so tests can avoid AWS.
type Factory func(ctx context.Context, cfg Config) (ami.Catalog, error)

// Pool shares one instrumented client per profile, region and endpoint.
// Scheduled polls and ad-hoc filter previews go through the same pool.
type Pool struct {
	mu      sync.Mutex
	clients map[string]ami.Catalog
	factory Factory
}

// NewPool returns a pool backed by EC2 clients.
func NewPool(logger *slog.Logger) *Pool {
	return NewPoolWithFactory(func(ctx context.Context, cfg Config) (ami.Catalog, error) {
		return New(ctx, cfg, logger.With("region", cfg.Region, "profile", cfg.Profile))
	})
}

func NewPoolWithFactory(f Factory) *Pool {
	return &Pool{clients: make(map[string]ami.Catalog), factory: f}
}

// Get returns the cached client for cfg, creating it on first use.
func (p *Pool) Get(ctx context.Context, cfg Config) (ami.Catalog, error) {
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	key := cfg.Key()

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[key]; ok {
		return c, nil
	}
	c, err := p.factory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c = telemetry.WrapCatalog(c,
		attribute.String("aws.region", cfg.Region),
		attribute.String("aws.profile", cfg.Profile),
	)
	p.clients[key] = c
	return c, nil
}

// Len returns the number of cached clients.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Reset drops every cached client, e.g. after credentials changed on reload.
func (p *Pool) Reset() {
	p.mu.Lock()
	p.clients = make(map[string]ami.Catalog)
	p.mu.Unlock()
}
