// Package listener implements the ingress acceptors a data-plane binds.
package listener

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/wudi/apigate/internal/tagged"
)

// Config builds a net.Listener from its decoded configuration.
type Config interface {
	Create() (net.Listener, error)
}

var registry = tagged.NewRegistry[Config]("acceptor")

// Register adds an acceptor config variant under its `type` tag.
func Register(name string, factory func() Config) {
	registry.Register(name, factory)
}

// Spec is a tagged acceptor configuration fragment.
type Spec struct {
	tagged.Fragment
}

// Build decodes the fragment and binds the listener.
func (s Spec) Build() (net.Listener, error) {
	cfg, err := tagged.Build(registry, s.Fragment)
	if err != nil {
		return nil, err
	}
	return cfg.Create()
}

func init() {
	Register("tcp", func() Config { return new(TCPConfig) })
}

// TLSConfig carries a PEM-encoded certificate and key.
type TLSConfig struct {
	Cert string `json:"cert"`
	Key  string `json:"key"`
}

// TCPConfig binds a TCP acceptor, optionally wrapped in TLS.
type TCPConfig struct {
	Bind string     `json:"bind,omitempty"`
	TLS  *TLSConfig `json:"tls,omitempty"`
}

// Create binds the acceptor.
func (c *TCPConfig) Create() (net.Listener, error) {
	bind := c.Bind
	if bind == "" {
		bind = "127.0.0.1:8080"
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", bind, err)
	}

	if c.TLS != nil {
		cert, err := tls.X509KeyPair([]byte(c.TLS.Cert), []byte(c.TLS.Key))
		if err != nil {
			ln.Close()
			return nil, fmt.Errorf("invalid TLS certificate for %s: %w", bind, err)
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}})
	}

	return ln, nil
}
