// Package endpoint implements the terminal targets a route can forward
// to: the echo responder, the load-balanced upstream (HTTP and WebSocket)
// and the prometheus exporter.
package endpoint

import (
	"net/http"

	"github.com/wudi/apigate/internal/tagged"
)

// Endpoint is a compiled service target. Close releases any background
// work the endpoint owns (health check probers); it is called when the
// data-plane that owns the endpoint is torn down.
type Endpoint interface {
	http.Handler
	Close() error
}

// Config builds an Endpoint from its decoded configuration.
type Config interface {
	Create() (Endpoint, error)
}

var registry = tagged.NewRegistry[Config]("endpoint")

// Register adds an endpoint config variant under its `type` tag.
func Register(name string, factory func() Config) {
	registry.Register(name, factory)
}

// Spec is a tagged endpoint configuration fragment.
type Spec struct {
	tagged.Fragment
}

// Build decodes the fragment and instantiates the endpoint.
func (s Spec) Build() (Endpoint, error) {
	cfg, err := tagged.Build(registry, s.Fragment)
	if err != nil {
		return nil, err
	}
	return cfg.Create()
}

// nopCloser is embedded by endpoints with no background work.
type nopCloser struct{}

func (nopCloser) Close() error { return nil }
