package endpoint

import (
	"io"
	"net/http"
)

func init() {
	Register("echo", func() Config { return new(EchoConfig) })
}

// EchoConfig answers every request with its own body.
type EchoConfig struct{}

// Create builds the echo endpoint.
func (c *EchoConfig) Create() (Endpoint, error) {
	return echoEndpoint{}, nil
}

type echoEndpoint struct {
	nopCloser
}

func (echoEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(http.StatusOK)
	if r.Body != nil {
		io.Copy(w, r.Body)
	}
}
