// Package cors validates the Origin header, answers preflights and
// decorates responses with the configured Access-Control headers.
package cors

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/wudi/apigate/internal/errors"
	"github.com/wudi/apigate/internal/plugin"
)

func init() {
	plugin.Register("cors", func() plugin.Config { return new(CORSConfig) })
}

// CORSConfig configures the allow-lists. Empty lists are permissive: any
// origin is accepted (with Vary: Origin on the response), methods default
// to the full set, headers to "*".
type CORSConfig struct {
	AllowOrigins     []string `json:"allowOrigins,omitempty"`
	AllowMethods     []string `json:"allowMethods,omitempty"`
	AllowHeaders     []string `json:"allowHeaders,omitempty"`
	ExposeHeaders    []string `json:"exposeHeaders,omitempty"`
	MaxAge           int      `json:"maxAge,omitempty"`
	AllowCredentials bool     `json:"allowCredentials,omitempty"`
}

const defaultAllowMethods = "GET, POST, PUT, DELETE, HEAD, OPTIONS, CONNECT, PATCH, TRACE"

// Create builds the CORS plugin.
func (c *CORSConfig) Create() (plugin.Plugin, error) {
	p := &cors{
		allowOrigins:     make(map[string]bool, len(c.AllowOrigins)),
		allowMethods:     make(map[string]bool, len(c.AllowMethods)),
		allowHeaders:     make(map[string]bool, len(c.AllowHeaders)),
		maxAge:           strconv.Itoa(c.MaxAge),
		allowCredentials: c.AllowCredentials,
	}
	for _, o := range c.AllowOrigins {
		p.allowOrigins[o] = true
	}
	for _, m := range c.AllowMethods {
		p.allowMethods[strings.ToUpper(m)] = true
	}
	for _, h := range c.AllowHeaders {
		p.allowHeaders[http.CanonicalHeaderKey(h)] = true
	}

	if len(c.AllowMethods) > 0 {
		p.allowMethodsHeader = strings.Join(c.AllowMethods, ", ")
	} else {
		p.allowMethodsHeader = defaultAllowMethods
	}
	if len(c.AllowHeaders) > 0 {
		p.allowHeadersHeader = strings.Join(c.AllowHeaders, ", ")
	} else {
		p.allowHeadersHeader = "*"
	}
	p.exposeHeadersHeader = strings.Join(c.ExposeHeaders, ", ")

	return p, nil
}

type cors struct {
	allowOrigins        map[string]bool
	allowMethods        map[string]bool
	allowHeaders        map[string]bool
	allowMethodsHeader  string
	allowHeadersHeader  string
	exposeHeadersHeader string
	maxAge              string
	allowCredentials    bool
}

func (p *cors) Priority() int { return 2000 }

// isValidOrigin reports whether the origin passes and whether it passed
// only because the allow-list is empty (wildcard ⇒ Vary: Origin).
func (p *cors) isValidOrigin(origin string) (allowed, wildcard bool) {
	if p.allowOrigins[origin] {
		return true, false
	}
	return len(p.allowOrigins) == 0, true
}

func (p *cors) Call(w http.ResponseWriter, r *http.Request, ctx *plugin.Context, next plugin.Next) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Not a CORS request
		next.Call(w, r, ctx)
		return
	}

	allowed, wildcard := p.isValidOrigin(origin)
	if !allowed {
		errors.ErrUnauthorized.WriteJSON(w)
		return
	}

	if r.Method == http.MethodOptions {
		p.handlePreflight(w, r, origin)
		return
	}

	header := w.Header()
	header.Set("Access-Control-Allow-Origin", origin)
	if p.allowCredentials {
		header.Set("Access-Control-Allow-Credentials", "true")
	}
	if p.exposeHeadersHeader != "" {
		header.Set("Access-Control-Expose-Headers", p.exposeHeadersHeader)
	}
	if wildcard {
		header.Set("Vary", "Origin")
	}
	next.Call(w, r, ctx)
}

func (p *cors) handlePreflight(w http.ResponseWriter, r *http.Request, origin string) {
	reqMethod := strings.ToUpper(r.Header.Get("Access-Control-Request-Method"))
	if reqMethod == "" {
		errors.ErrUnauthorized.WriteJSON(w)
		return
	}
	if len(p.allowMethods) > 0 && !p.allowMethods[reqMethod] {
		errors.ErrUnauthorized.WriteJSON(w)
		return
	}

	if len(p.allowHeaders) > 0 {
		if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
			ok := false
			for _, h := range strings.Split(reqHeaders, ",") {
				if p.allowHeaders[http.CanonicalHeaderKey(strings.TrimSpace(h))] {
					ok = true
					break
				}
			}
			if !ok {
				errors.ErrUnauthorized.WriteJSON(w)
				return
			}
		}
	}

	header := w.Header()
	header.Set("Access-Control-Allow-Origin", origin)
	header.Set("Access-Control-Allow-Methods", p.allowMethodsHeader)
	header.Set("Access-Control-Allow-Headers", p.allowHeadersHeader)
	if p.exposeHeadersHeader != "" {
		header.Set("Access-Control-Expose-Headers", p.exposeHeadersHeader)
	}
	header.Set("Access-Control-Max-Age", p.maxAge)
	if p.allowCredentials {
		header.Set("Access-Control-Allow-Credentials", "true")
	}
	w.WriteHeader(http.StatusOK)
}
