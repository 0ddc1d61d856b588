// Package consumerfilter implements per-request predicates that gate
// whether a request may be attributed to a consumer. Filters compose by
// logical AND.
package consumerfilter

import (
	"net/http"

	"github.com/wudi/apigate/internal/tagged"
)

// Filter is a synchronous per-request predicate.
type Filter interface {
	Check(r *http.Request) bool
}

// Config builds a Filter from its decoded configuration.
type Config interface {
	Create() (Filter, error)
}

var registry = tagged.NewRegistry[Config]("consumer filter")

// Register adds a filter config variant under its `type` tag.
func Register(name string, factory func() Config) {
	registry.Register(name, factory)
}

// Spec is a tagged consumer filter configuration fragment.
type Spec struct {
	tagged.Fragment
}

// Build decodes the fragment and instantiates the filter.
func (s Spec) Build() (Filter, error) {
	cfg, err := tagged.Build(registry, s.Fragment)
	if err != nil {
		return nil, err
	}
	return cfg.Create()
}

// CheckAll reports whether every filter accepts the request.
func CheckAll(filters []Filter, r *http.Request) bool {
	for _, f := range filters {
		if !f.Check(r) {
			return false
		}
	}
	return true
}
