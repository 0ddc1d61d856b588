// Package provider implements the configuration sources: each provider
// emits a stream of ProxyConfig snapshots and, where the backend supports
// it, per-kind resource operations for the control plane.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/wudi/apigate/internal/config"
	"github.com/wudi/apigate/internal/listener"
	"github.com/wudi/apigate/internal/plugin"
	"github.com/wudi/apigate/internal/tagged"
)

// ErrNotSupported is returned by providers that cannot serve resource
// operations (e.g. the file provider).
var ErrNotSupported = errors.New("not supported")

// ServiceNotFoundError reports a route referencing an absent service.
type ServiceNotFoundError struct {
	Name string
}

func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("service `%s` not found", e.Name)
}

// Resource pairs a backend-assigned id with its value.
type Resource[T any] struct {
	ID    string
	Value T
}

// ResourcesOperation is the abstract CRUD collection the admin surfaces
// consume. Implementations must be safe to call while the data-plane is
// serving; they mutate the source, which produces a new snapshot
// downstream — they never trigger recompilation themselves.
type ResourcesOperation[T any] interface {
	GetAll(ctx context.Context) ([]Resource[T], error)
	Get(ctx context.Context, id string) (*T, error)
	Create(ctx context.Context, value T) (string, error)
	Update(ctx context.Context, id string, value T) error
	Delete(ctx context.Context, id string) (bool, error)
}

// Provider is a configuration source.
type Provider interface {
	// Watch emits configuration snapshots until ctx is done. The first
	// snapshot is the current state of the source.
	Watch(ctx context.Context) (<-chan config.ProxyConfig, error)

	Listeners() (ResourcesOperation[listener.Spec], error)
	Consumers() (ResourcesOperation[config.ConsumerConfig], error)
	Routes() (ResourcesOperation[config.RouteConfig], error)
	Services() (ResourcesOperation[config.ServiceConfig], error)
	GlobalPlugins() (ResourcesOperation[plugin.Spec], error)
}

// Config builds a Provider. configRoot is the directory of the root
// configuration file; relative paths resolve against it.
type Config interface {
	Create(configRoot string) (Provider, error)
}

var registry = tagged.NewRegistry[Config]("provider")

// Register adds a provider config variant under its `type` tag.
func Register(name string, factory func() Config) {
	registry.Register(name, factory)
}

// Build decodes a tagged provider fragment and creates the provider.
func Build(f tagged.Fragment, configRoot string) (Provider, error) {
	cfg, err := tagged.Build(registry, f)
	if err != nil {
		return nil, err
	}
	return cfg.Create(configRoot)
}

// unsupported is embedded by providers without a control plane.
type unsupported struct{}

func (unsupported) Listeners() (ResourcesOperation[listener.Spec], error) {
	return nil, ErrNotSupported
}

func (unsupported) Consumers() (ResourcesOperation[config.ConsumerConfig], error) {
	return nil, ErrNotSupported
}

func (unsupported) Routes() (ResourcesOperation[config.RouteConfig], error) {
	return nil, ErrNotSupported
}

func (unsupported) Services() (ResourcesOperation[config.ServiceConfig], error) {
	return nil, ErrNotSupported
}

func (unsupported) GlobalPlugins() (ResourcesOperation[plugin.Spec], error) {
	return nil, ErrNotSupported
}
