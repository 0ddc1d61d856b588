package plugin

import "github.com/wudi/apigate/internal/tagged"

// Config builds a Plugin from its decoded configuration.
type Config interface {
	Create() (Plugin, error)
}

// AuthConfig builds an AuthPlugin from its decoded configuration.
type AuthConfig interface {
	Create() (AuthPlugin, error)
}

var (
	registry     = tagged.NewRegistry[Config]("plugin")
	authRegistry = tagged.NewRegistry[AuthConfig]("auth plugin")
)

// Register adds a plugin config variant under its `type` tag.
// Catalog packages call this from init.
func Register(name string, factory func() Config) {
	registry.Register(name, factory)
}

// RegisterAuth adds an auth plugin config variant under its `type` tag.
func RegisterAuth(name string, factory func() AuthConfig) {
	authRegistry.Register(name, factory)
}

// Spec is a tagged plugin configuration fragment.
type Spec struct {
	tagged.Fragment
}

// Build decodes the fragment and instantiates the plugin.
func (s Spec) Build() (Plugin, error) {
	cfg, err := tagged.Build(registry, s.Fragment)
	if err != nil {
		return nil, err
	}
	return cfg.Create()
}

// AuthSpec is a tagged auth plugin configuration fragment.
type AuthSpec struct {
	tagged.Fragment
}

// Build decodes the fragment and instantiates the auth plugin.
func (s AuthSpec) Build() (AuthPlugin, error) {
	cfg, err := tagged.Build(authRegistry, s.Fragment)
	if err != nil {
		return nil, err
	}
	return cfg.Create()
}
