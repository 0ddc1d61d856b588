package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/wudi/apigate/internal/plugin"
)

func init() {
	plugin.RegisterAuth("keyAuth", func() plugin.AuthConfig { return new(KeyConfig) })
}

// KeyConfig accepts requests carrying the configured secret in a header or
// query parameter named KeyName.
type KeyConfig struct {
	Key     string `json:"key"`
	KeyName string `json:"keyName,omitempty"`
	In      string `json:"in"` // "header" or "query"
}

// Create builds the key auth plugin.
func (c *KeyConfig) Create() (plugin.AuthPlugin, error) {
	keyName := c.KeyName
	if keyName == "" {
		keyName = "apikey"
	}
	switch c.In {
	case "header", "query":
	default:
		return nil, fmt.Errorf("keyAuth `in` must be \"header\" or \"query\", got %q", c.In)
	}
	return &keyAuth{key: c.Key, keyName: keyName, in: c.In}, nil
}

type keyAuth struct {
	key     string
	keyName string
	in      string
}

func (a *keyAuth) Auth(r *http.Request) bool {
	var got string
	switch a.in {
	case "header":
		got = r.Header.Get(a.keyName)
	case "query":
		got = r.URL.Query().Get(a.keyName)
	}
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(a.key)) == 1
}
