package gateway

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/apigate/internal/logging"
)

// DataPlane is one running server: a compiled routing tree serving the
// combined acceptors of a snapshot's listeners. With zero listeners it
// runs but accepts nothing.
type DataPlane struct {
	compiled  *Compiled
	listeners []net.Listener
	server    *http.Server
}

// NewDataPlane assembles a data-plane over already-bound acceptors.
func NewDataPlane(compiled *Compiled, listeners []net.Listener) *DataPlane {
	return &DataPlane{
		compiled:  compiled,
		listeners: listeners,
		server:    &http.Server{Handler: compiled.Tree},
	}
}

// Start begins serving on every acceptor. It returns immediately; serve
// loops run until Shutdown.
func (dp *DataPlane) Start() {
	g := &errgroup.Group{}
	for _, ln := range dp.listeners {
		ln := ln
		logging.Info("listening", zap.String("addr", ln.Addr().String()))
		g.Go(func() error {
			if err := dp.server.Serve(ln); err != nil && err != http.ErrServerClosed {
				logging.Error("server error", zap.Error(err))
			}
			return nil
		})
	}
	go g.Wait()
}

// Shutdown closes the acceptors, waits up to drain for in-flight requests
// and then aborts whatever remains. The compiled tree's endpoints are
// released afterwards; in-flight requests completed on it by then.
func (dp *DataPlane) Shutdown(drain time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()

	if err := dp.server.Shutdown(ctx); err != nil {
		dp.server.Close()
	}
	dp.compiled.Close()
}
