// Package gateway turns configuration snapshots into serving data-planes:
// the compiler builds a routing tree from a snapshot, the controller
// watches the debounced snapshot stream and swaps servers atomically.
package gateway

import (
	"fmt"

	"github.com/wudi/apigate/internal/config"
	"github.com/wudi/apigate/internal/consumerfilter"
	"github.com/wudi/apigate/internal/dispatch"
	"github.com/wudi/apigate/internal/endpoint"
	"github.com/wudi/apigate/internal/plugin"
	"github.com/wudi/apigate/internal/router"
)

// Compiled is a snapshot compiled into a servable routing tree plus the
// endpoints it owns. The tree is immutable; a new snapshot compiles a new
// Compiled and the controller swaps them.
type Compiled struct {
	Tree      *router.Tree
	endpoints []endpoint.Endpoint
}

// Close releases the background work owned by the compiled endpoints
// (health check probers). Called once the owning data-plane terminated.
func (c *Compiled) Close() {
	for _, ep := range c.endpoints {
		ep.Close()
	}
}

// compiledConsumer is one consumer's instantiated runtime objects.
type compiledConsumer struct {
	name    string
	auth    plugin.AuthPlugin
	filters []consumerfilter.Filter
	plugins []plugin.Plugin
}

// compiledService is a service's endpoint plus service-level plugins.
type compiledService struct {
	ep      endpoint.Endpoint
	plugins []plugin.Plugin
}

// Compile builds the routing tree for a snapshot: global plugins first,
// then consumers, then services by name, then the routes. It is
// side-effect free with respect to the running server; a failed compile
// leaves nothing behind except endpoints, which Close releases.
func Compile(cfg *config.ProxyConfig) (*Compiled, error) {
	compiled := &Compiled{Tree: router.New()}
	done := false
	defer func() {
		if !done {
			compiled.Close()
		}
	}()

	globalPlugins, err := buildPlugins(cfg.GlobalPlugins)
	if err != nil {
		return nil, fmt.Errorf("global plugins: %w", err)
	}

	consumers := make([]compiledConsumer, 0, len(cfg.Consumers))
	for _, consumerCfg := range cfg.Consumers {
		consumer, err := buildConsumer(consumerCfg)
		if err != nil {
			return nil, fmt.Errorf("consumer `%s`: %w", consumerCfg.Name, err)
		}
		consumers = append(consumers, consumer)
	}

	services := make(map[string]compiledService, len(cfg.Services))
	for _, serviceCfg := range cfg.Services {
		if _, dup := services[serviceCfg.Name]; dup {
			return nil, fmt.Errorf("service `%s` is defined twice", serviceCfg.Name)
		}
		service, err := compiled.buildService(serviceCfg)
		if err != nil {
			return nil, fmt.Errorf("service `%s`: %w", serviceCfg.Name, err)
		}
		services[serviceCfg.Name] = service
	}

	for _, routeCfg := range cfg.Routes {
		var service compiledService
		if routeCfg.Service.IsReference() {
			var ok bool
			service, ok = services[routeCfg.Service.Reference]
			if !ok {
				return nil, fmt.Errorf("service `%s` is not defined", routeCfg.Service.Reference)
			}
		} else {
			inline, err := compiled.buildService(*routeCfg.Service.Inline)
			if err != nil {
				return nil, fmt.Errorf("route `%s` inline service: %w", routeCfg.Path, err)
			}
			service = inline
		}

		routePlugins, err := buildPlugins(routeCfg.Plugins)
		if err != nil {
			return nil, fmt.Errorf("route `%s`: %w", routeCfg.Path, err)
		}

		handlers := buildHandlers(consumers, service.plugins, routePlugins, globalPlugins, cfg.AnonymousAllowed())

		compiled.Tree.Add(routeCfg.Host, routeCfg.Path, routeCfg.StripEnabled(), &dispatch.RouteEndpoint{
			Handlers: handlers,
			Upstream: service.ep,
		})
	}

	compiled.Tree.Finalize()
	done = true
	return compiled, nil
}

func buildPlugins(specs []plugin.Spec) ([]plugin.Plugin, error) {
	plugins := make([]plugin.Plugin, 0, len(specs))
	for _, spec := range specs {
		p, err := spec.Build()
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}

func buildConsumer(cfg config.ConsumerConfig) (compiledConsumer, error) {
	consumer := compiledConsumer{name: cfg.Name}

	if cfg.Auth != nil {
		auth, err := cfg.Auth.Build()
		if err != nil {
			return compiledConsumer{}, err
		}
		consumer.auth = auth
	}

	for _, filterSpec := range cfg.Filters {
		filter, err := filterSpec.Build()
		if err != nil {
			return compiledConsumer{}, err
		}
		consumer.filters = append(consumer.filters, filter)
	}

	plugins, err := buildPlugins(cfg.Plugins)
	if err != nil {
		return compiledConsumer{}, err
	}
	consumer.plugins = plugins

	return consumer, nil
}

func (c *Compiled) buildService(cfg config.ServiceConfig) (compiledService, error) {
	ep, err := cfg.Target.Build()
	if err != nil {
		return compiledService{}, err
	}
	c.endpoints = append(c.endpoints, ep)

	plugins, err := buildPlugins(cfg.Plugins)
	if err != nil {
		return compiledService{}, err
	}

	return compiledService{ep: ep, plugins: plugins}, nil
}

// buildHandlers produces the route's handler set: one entry per consumer
// in declaration order, each with the service ++ route ++ consumer ++
// global plugin concatenation stably sorted by priority descending, plus
// the anonymous entry last (unless anonymous access is disabled).
func buildHandlers(consumers []compiledConsumer, servicePlugins, routePlugins, globalPlugins []plugin.Plugin, allowAnonymous bool) []dispatch.Handler {
	concat := func(consumerPlugins []plugin.Plugin) []plugin.Plugin {
		chain := make([]plugin.Plugin, 0, len(servicePlugins)+len(routePlugins)+len(consumerPlugins)+len(globalPlugins))
		chain = append(chain, servicePlugins...)
		chain = append(chain, routePlugins...)
		chain = append(chain, consumerPlugins...)
		chain = append(chain, globalPlugins...)
		plugin.SortByPriority(chain)
		return chain
	}

	handlers := make([]dispatch.Handler, 0, len(consumers)+1)
	for _, consumer := range consumers {
		handlers = append(handlers, dispatch.Handler{
			Name:    consumer.name,
			Auth:    consumer.auth,
			Filters: consumer.filters,
			Chain:   concat(consumer.plugins),
		})
	}

	if allowAnonymous {
		handlers = append(handlers, dispatch.Handler{Chain: concat(nil)})
	}

	return handlers
}
