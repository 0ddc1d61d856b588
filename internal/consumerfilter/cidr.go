package consumerfilter

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
)

func init() {
	Register("cidr", func() Config { return new(CIDRConfig) })
}

// CIDRConfig accepts requests whose remote socket IP falls inside any of
// the configured blocks.
type CIDRConfig struct {
	IP []string `json:"ip"`
}

// Create parses the blocks and builds the filter.
func (c *CIDRConfig) Create() (Filter, error) {
	prefixes := make([]netip.Prefix, 0, len(c.IP))
	for _, s := range c.IP {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR block %q: %w", s, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return &cidrFilter{prefixes: prefixes}, nil
}

type cidrFilter struct {
	prefixes []netip.Prefix
}

// Check returns true iff the remote peer is an IP address contained in any
// configured block. Non-IP peers fail the filter.
func (f *cidrFilter) Check(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range f.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
