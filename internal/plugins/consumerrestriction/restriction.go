// Package consumerrestriction rejects requests based on the matched
// consumer name: a non-empty whitelist admits only listed names, otherwise
// a non-empty blacklist rejects listed names.
package consumerrestriction

import (
	"fmt"
	"net/http"

	"github.com/wudi/apigate/internal/errors"
	"github.com/wudi/apigate/internal/plugin"
)

func init() {
	plugin.Register("consumerRestriction", func() plugin.Config { return new(RestrictionConfig) })
}

// RestrictionConfig configures the white/blacklist and the reject status.
type RestrictionConfig struct {
	Whitelist    []string `json:"whitelist,omitempty"`
	Blacklist    []string `json:"blacklist,omitempty"`
	RejectedCode int      `json:"rejectedCode,omitempty"`
}

// Create builds the restriction plugin. Whitelist wins when both are set;
// with neither, an empty whitelist rejects every request.
func (c *RestrictionConfig) Create() (plugin.Plugin, error) {
	rejectedCode := c.RejectedCode
	if rejectedCode == 0 {
		rejectedCode = http.StatusForbidden
	}
	if rejectedCode < 100 || rejectedCode > 599 {
		return nil, fmt.Errorf("invalid rejected code %d", c.RejectedCode)
	}

	p := &restriction{rejectedCode: rejectedCode, names: make(map[string]bool)}
	switch {
	case len(c.Whitelist) > 0:
		p.whitelist = true
		for _, name := range c.Whitelist {
			p.names[name] = true
		}
	case len(c.Blacklist) > 0:
		for _, name := range c.Blacklist {
			p.names[name] = true
		}
	default:
		p.whitelist = true
	}
	return p, nil
}

type restriction struct {
	whitelist    bool
	names        map[string]bool
	rejectedCode int
}

func (p *restriction) Priority() int { return 1000 }

func (p *restriction) allowed(ctx *plugin.Context) bool {
	name := ctx.ConsumerName
	if p.whitelist {
		return name != "" && p.names[name]
	}
	return name == "" || !p.names[name]
}

func (p *restriction) Call(w http.ResponseWriter, r *http.Request, ctx *plugin.Context, next plugin.Next) {
	if !p.allowed(ctx) {
		errors.New(p.rejectedCode, http.StatusText(p.rejectedCode)).WriteJSON(w)
		return
	}
	next.Call(w, r, ctx)
}
