// Package requestid stamps every request with a fresh UUID.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/wudi/apigate/internal/plugin"
)

func init() {
	plugin.Register("requestId", func() plugin.Config { return new(RequestIDConfig) })
}

// RequestIDConfig configures the header carrying the id and whether the
// response echoes it.
type RequestIDConfig struct {
	HeaderName        string `json:"headerName,omitempty"`
	IncludeInResponse bool   `json:"includeInResponse,omitempty"`
}

// Create builds the request id plugin.
func (c *RequestIDConfig) Create() (plugin.Plugin, error) {
	headerName := c.HeaderName
	if headerName == "" {
		headerName = "X-Request-Id"
	}
	return &requestID{
		headerName:        headerName,
		includeInResponse: c.IncludeInResponse,
	}, nil
}

type requestID struct {
	headerName        string
	includeInResponse bool
}

func (p *requestID) Priority() int { return 1000 }

func (p *requestID) Call(w http.ResponseWriter, r *http.Request, ctx *plugin.Context, next plugin.Next) {
	id := uuid.NewString()
	r.Header.Set(p.headerName, id)
	ctx.Set("req_id", id)

	if p.includeInResponse {
		w.Header().Set(p.headerName, id)
	}
	next.Call(w, r, ctx)
}
