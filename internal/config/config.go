// Package config defines the configuration graph: the root gateway
// config, the ProxyConfig snapshot (the unit of reload) and the entity
// configs it contains. Pluggable fragments stay tagged-and-raw until the
// compiler builds them.
//
// JSON is the canonical representation; YAML documents are bridged
// through YAMLToJSON before decoding, so both formats accept the same
// shapes and snapshots round-trip their raw bytes.
package config

import (
	"encoding/json"
	"fmt"

	"github.com/goccy/go-yaml"

	"github.com/wudi/apigate/internal/consumerfilter"
	"github.com/wudi/apigate/internal/endpoint"
	"github.com/wudi/apigate/internal/listener"
	"github.com/wudi/apigate/internal/plugin"
	"github.com/wudi/apigate/internal/tagged"
)

// GatewayConfig is the root configuration file: a configuration-source
// provider plus the statically served admin plane.
type GatewayConfig struct {
	Provider tagged.Fragment `json:"provider"`
	Admin    ProxyConfig     `json:"admin"`
}

// ProxyConfig is an immutable configuration snapshot.
type ProxyConfig struct {
	AllowAnonymous *bool            `json:"allowAnonymous,omitempty"`
	Listeners      []listener.Spec  `json:"listeners,omitempty"`
	Consumers      []ConsumerConfig `json:"consumers,omitempty"`
	Routes         []RouteConfig    `json:"routes,omitempty"`
	Services       []ServiceConfig  `json:"services,omitempty"`
	GlobalPlugins  []plugin.Spec    `json:"globalPlugins,omitempty"`
}

// AnonymousAllowed reports whether the compiler appends the anonymous
// handler (default true).
func (c *ProxyConfig) AnonymousAllowed() bool {
	return c.AllowAnonymous == nil || *c.AllowAnonymous
}

// ConsumerConfig is a named principal: an optional auth plugin deciding
// whether a request belongs to it, AND-composed filters, and per-consumer
// plugins.
type ConsumerConfig struct {
	Name    string                `json:"name,omitempty"`
	Filters []consumerfilter.Spec `json:"filters,omitempty"`
	Auth    *plugin.AuthSpec      `json:"auth,omitempty"`
	Plugins []plugin.Spec         `json:"plugins,omitempty"`
}

// ServiceConfig is a backend target plus service-level plugins. Name is
// filled from the resource id by reference-style providers.
type ServiceConfig struct {
	Name    string        `json:"name,omitempty"`
	Target  endpoint.Spec `json:"target"`
	Plugins []plugin.Spec `json:"plugins,omitempty"`
}

// RouteConfig is one routing rule.
type RouteConfig struct {
	Path    string        `json:"path"`
	Strip   *bool         `json:"strip,omitempty"`
	Host    string        `json:"host,omitempty"`
	Plugins []plugin.Spec `json:"plugins,omitempty"`
	Service ServiceRef    `json:"service"`
}

// StripEnabled reports whether the matched prefix is removed before
// forwarding (default true).
func (r *RouteConfig) StripEnabled() bool {
	return r.Strip == nil || *r.Strip
}

// ServiceRef is either a reference to a named service or an inline
// service definition. On the wire it is a plain string or a service
// object.
type ServiceRef struct {
	Reference string
	Inline    *ServiceConfig
}

// IsReference reports whether the ref names a service.
func (s ServiceRef) IsReference() bool {
	return s.Inline == nil
}

func (s *ServiceRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		s.Reference = name
		s.Inline = nil
		return nil
	}
	var svc ServiceConfig
	if err := json.Unmarshal(data, &svc); err != nil {
		return fmt.Errorf("route service must be a name or an inline service: %w", err)
	}
	s.Reference = ""
	s.Inline = &svc
	return nil
}

func (s ServiceRef) MarshalJSON() ([]byte, error) {
	if s.Inline != nil {
		return json.Marshal(s.Inline)
	}
	return json.Marshal(s.Reference)
}

// ParseGatewayConfig decodes a root configuration document. YAML and JSON
// are both accepted.
func ParseGatewayConfig(data []byte) (*GatewayConfig, error) {
	j, err := toJSON(data)
	if err != nil {
		return nil, err
	}
	var cfg GatewayConfig
	if err := json.Unmarshal(j, &cfg); err != nil {
		return nil, fmt.Errorf("invalid gateway configuration: %w", err)
	}
	if cfg.Provider.IsZero() {
		return nil, fmt.Errorf("gateway configuration requires a provider")
	}
	return &cfg, nil
}

// ParseProxyConfig decodes one snapshot document (YAML or JSON).
func ParseProxyConfig(data []byte) (*ProxyConfig, error) {
	j, err := toJSON(data)
	if err != nil {
		return nil, err
	}
	var cfg ProxyConfig
	if err := json.Unmarshal(j, &cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration snapshot: %w", err)
	}
	return &cfg, nil
}

// toJSON bridges YAML documents to JSON; JSON documents pass through.
func toJSON(data []byte) ([]byte, error) {
	if json.Valid(data) {
		return data, nil
	}
	j, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration document: %w", err)
	}
	return j, nil
}
