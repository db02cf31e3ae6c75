// Package di wires the engine's components together for typical
// deployments: sturdyc fast tier, bun durable tier, HTTP transport and
// the load orchestrator.
package di

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/beyondseo/rcengine/cache"
	"github.com/beyondseo/rcengine/internal/cacheinfra"
	"github.com/beyondseo/rcengine/rcbatch"
	"github.com/beyondseo/rcengine/rcload"
	"github.com/beyondseo/rcengine/rcshadow"
)

// Config aggregates the per-component configurations.
type Config struct {
	Cache        cache.Config
	Fast         cacheinfra.FastConfig
	Transport    rcbatch.HTTPConfig
	Orchestrator rcload.Config

	// DurableDSN is the sqlite DSN backing the durable tier. Use
	// NewContainerWithBackends for a postgres or custom backend.
	DurableDSN string
}

// DefaultConfig returns a Config populated with per-component defaults.
// Cache.Salt, Transport.BaseURL and DurableDSN must be supplied by the
// caller.
func DefaultConfig() Config {
	return Config{
		Cache:        cache.DefaultConfig(),
		Fast:         cacheinfra.DefaultFastConfig(),
		Transport:    rcbatch.DefaultHTTPConfig(),
		Orchestrator: rcload.DefaultConfig(),
	}
}

// Container manages singleton instances of the engine components.
type Container struct {
	store        cache.Store
	transport    rcbatch.Transport
	orchestrator *rcload.Orchestrator
	converter    *rcshadow.Converter
	observer     *rcbatch.RecordingObserver
	metrics      *rcbatch.Metrics
	config       Config
}

// Option customizes container construction.
type Option func(*options)

type options struct {
	log        *slog.Logger
	registerer prometheus.Registerer
}

// WithLogger sets the logger handed to every component.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithRegisterer registers the engine metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// NewContainer builds the full stack: sturdyc fast tier, bun/sqlite
// durable tier, HTTP transport and orchestrator.
func NewContainer(ctx context.Context, cfg Config, opts ...Option) (*Container, error) {
	durable, err := cacheinfra.NewSQLiteBackend(ctx, cfg.DurableDSN)
	if err != nil {
		return nil, err
	}
	return NewContainerWithBackends(ctx, cfg, durable, opts...)
}

// NewContainerWithBackends builds the stack over a caller-provided
// durable backend (postgres, or a fake in tests).
func NewContainerWithBackends(ctx context.Context, cfg Config, durable cache.Backend, opts ...Option) (*Container, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}

	fast, err := cacheinfra.NewSturdycBackend(cfg.Fast)
	if err != nil {
		return nil, err
	}

	store, err := cache.NewStore(fast, durable, cfg.Cache, cache.WithLogger(o.log))
	if err != nil {
		return nil, err
	}

	transport, err := rcbatch.NewHTTPTransport(cfg.Transport, rcbatch.WithHTTPLogger(o.log))
	if err != nil {
		return nil, err
	}

	observer := rcbatch.NewRecordingObserver()
	metrics := rcbatch.NewMetrics()
	if o.registerer != nil {
		if err := metrics.Register(o.registerer); err != nil {
			return nil, err
		}
	}

	orchestrator, err := rcload.New(store, transport, cfg.Orchestrator,
		rcload.WithLogger(o.log),
		rcload.WithObserver(observer),
		rcload.WithMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}

	return &Container{
		store:        store,
		transport:    transport,
		orchestrator: orchestrator,
		converter:    rcshadow.NewConverter(),
		observer:     observer,
		metrics:      metrics,
		config:       cfg,
	}, nil
}

// Store returns the singleton tiered cache store.
func (c *Container) Store() cache.Store { return c.store }

// Transport returns the singleton HTTP transport.
func (c *Container) Transport() rcbatch.Transport { return c.transport }

// Orchestrator returns the singleton load orchestrator.
func (c *Container) Orchestrator() *rcload.Orchestrator { return c.orchestrator }

// Converter returns the singleton entity/shadow converter.
func (c *Container) Converter() *rcshadow.Converter { return c.converter }

// Observer returns the executed-call observer.
func (c *Container) Observer() *rcbatch.RecordingObserver { return c.observer }

// Metrics returns the engine metrics collectors.
func (c *Container) Metrics() *rcbatch.Metrics { return c.metrics }

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() Config { return c.config }
