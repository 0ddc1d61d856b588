// Package dispatch implements the per-route endpoint: for a matched
// request it selects the first eligible handler and drives that handler's
// plugin chain with the route's upstream as the terminal step.
package dispatch

import (
	"net/http"

	"github.com/wudi/apigate/internal/consumerfilter"
	"github.com/wudi/apigate/internal/errors"
	"github.com/wudi/apigate/internal/plugin"
)

// Handler is one compiled (consumer?, auth?, filters, plugins) entry of a
// route. The anonymous handler has an empty Name, no auth and no filters.
type Handler struct {
	Name    string
	Auth    plugin.AuthPlugin
	Filters []consumerfilter.Filter
	Chain   []plugin.Plugin
}

// RouteEndpoint drives the handler list of one route, in compiler order.
type RouteEndpoint struct {
	Handlers []Handler
	Upstream http.Handler
}

// ServeHTTP selects the first handler whose auth accepts and whose filters
// all pass. An auth plugin that accepts is still subject to the filters;
// a filter failure falls through to the next handler. If no handler
// matches, the dispatcher answers 401.
func (e *RouteEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for i := range e.Handlers {
		h := &e.Handlers[i]

		if h.Auth != nil && !h.Auth.Auth(r) {
			continue
		}
		if !consumerfilter.CheckAll(h.Filters, r) {
			continue
		}

		ctx := plugin.NewContext(r)
		if h.Name != "" {
			ctx.SetConsumer(h.Name)
		}
		plugin.NewNext(h.Chain, e.Upstream).Call(w, r, ctx)
		return
	}

	errors.ErrUnauthorized.WriteJSON(w)
}
