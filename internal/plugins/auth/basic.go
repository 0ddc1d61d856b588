// Package auth implements the consumer authentication plugins: HTTP Basic
// and API key (header or query).
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/wudi/apigate/internal/plugin"
)

func init() {
	plugin.RegisterAuth("basic", func() plugin.AuthConfig { return new(BasicConfig) })
}

// BasicConfig accepts requests whose Authorization header decodes to the
// configured username:password pair.
type BasicConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Create builds the basic auth plugin.
func (c *BasicConfig) Create() (plugin.AuthPlugin, error) {
	return &basicAuth{username: c.Username, password: c.Password}, nil
}

type basicAuth struct {
	username string
	password string
}

func (a *basicAuth) Auth(r *http.Request) bool {
	username, password, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passMatch := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	return userMatch && passMatch
}
