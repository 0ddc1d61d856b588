package endpoint

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/apigate/internal/errors"
	"github.com/wudi/apigate/internal/loadbalancer"
	"github.com/wudi/apigate/internal/logging"
)

func init() {
	Register("upstream", func() Config { return new(UpstreamConfig) })
}

// UpstreamConfig forwards requests to a load-balanced set of authorities.
// Either Host (single authority) or Nodes must be set; Host wins when both
// are. LB, when set, must be "roundrobin".
type UpstreamConfig struct {
	LB        string        `json:"lb,omitempty"`
	Scheme    string        `json:"scheme"`
	Host      string        `json:"host,omitempty"`
	Nodes     []string      `json:"nodes,omitempty"`
	Websocket bool          `json:"websocket,omitempty"`
	Health    *HealthConfig `json:"health,omitempty"`
}

// sharedClient is the HTTPS-capable client used for all upstream traffic.
// No overall timeout: bodies stream; connection setup is bounded instead.
var sharedClient = &http.Client{
	Transport: &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	},
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

// Create validates the node set and builds the upstream endpoint.
func (c *UpstreamConfig) Create() (Endpoint, error) {
	switch c.Scheme {
	case "http", "https":
	default:
		return nil, fmt.Errorf("invalid upstream scheme %q", c.Scheme)
	}

	var authorities []string
	switch {
	case c.Host != "":
		authorities = []string{c.Host}
	case len(c.Nodes) > 0:
		authorities = append(authorities, c.Nodes...)
	default:
		return nil, fmt.Errorf("upstream requires either `host` or `nodes`")
	}
	for _, a := range authorities {
		if _, err := url.Parse(c.Scheme + "://" + a + "/"); err != nil || a == "" {
			return nil, fmt.Errorf("failed to parse node %q", a)
		}
	}

	if c.LB != "" && c.LB != "roundrobin" {
		return nil, fmt.Errorf("unknown load balancer %q", c.LB)
	}

	var nodes Nodes
	if c.Health != nil {
		nodes = newHealthCheckedNodes(sharedClient, c.Scheme, authorities, *c.Health)
	} else {
		nodes = fixedNodes{nodes: authorities}
	}

	return &upstreamEndpoint{
		scheme:    c.Scheme,
		websocket: c.Websocket,
		nodes:     nodes,
		lb:        loadbalancer.NewRoundRobin(),
		client:    sharedClient,
	}, nil
}

type upstreamEndpoint struct {
	scheme    string
	websocket bool
	nodes     Nodes
	lb        loadbalancer.Balancer
	client    *http.Client
}

func (e *upstreamEndpoint) Close() error {
	return e.nodes.Close()
}

func (e *upstreamEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	authority, ok := e.lb.Next(e.nodes.Get())
	if !ok {
		errors.ErrServiceUnavailable.WriteJSON(w)
		return
	}

	if e.websocket && isUpgradeRequest(r) {
		e.serveWebSocket(w, r, authority)
		return
	}

	proxyReq := e.createProxyRequest(r, authority)

	resp, err := e.client.Do(proxyReq)
	if err != nil {
		logging.Error("upstream error",
			zap.String("authority", authority),
			zap.Error(err),
		)
		errors.ErrServiceUnavailable.WithDetails(err.Error()).WriteJSON(w)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// createProxyRequest builds the outgoing request: scheme from config,
// authority from selection, proxy headers injected, hop-by-hop removed.
func (e *upstreamEndpoint) createProxyRequest(r *http.Request, authority string) *http.Request {
	targetURL := *r.URL
	targetURL.Scheme = e.scheme
	targetURL.Host = authority

	proxyReq := (&http.Request{
		Method:        r.Method,
		URL:           &targetURL,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          r.Body,
		ContentLength: r.ContentLength,
		Host:          authority,
	}).WithContext(r.Context())

	proxyReq.Header = make(http.Header, len(r.Header)+2)
	for k, vv := range r.Header {
		proxyReq.Header[k] = vv
	}

	addProxyHeaders(proxyReq.Header, r)
	removeHopHeaders(proxyReq.Header)

	return proxyReq
}

// addProxyHeaders injects X-Forwarded-For (appending when present) and
// X-Real-IP from the client's socket address.
func addProxyHeaders(header http.Header, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return
	}

	if prior := header.Get("X-Forwarded-For"); prior != "" {
		header.Set("X-Forwarded-For", prior+", "+host)
	} else {
		header.Set("X-Forwarded-For", host)
	}
	header.Set("X-Real-Ip", host)
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append(dst[k][:0:0], vv...)
	}
	removeHopHeaders(dst)
}

// Hop-by-hop headers that must not be forwarded
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(header http.Header) {
	for _, h := range hopHeaders {
		header.Del(h)
	}
}

// isUpgradeRequest checks if the request asks for a WebSocket upgrade.
func isUpgradeRequest(r *http.Request) bool {
	connection := strings.ToLower(r.Header.Get("Connection"))
	upgrade := strings.ToLower(r.Header.Get("Upgrade"))
	return strings.Contains(connection, "upgrade") && upgrade == "websocket"
}
