package gateway

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/apigate/internal/config"
	"github.com/wudi/apigate/internal/logging"
	"github.com/wudi/apigate/internal/provider"
)

// Controller owns the live data-plane. It watches the provider's
// debounced snapshot stream and, per emitted snapshot, compiles, takes
// the previous server down with a short drain and spawns the new one.
// Compile and bind failures are logged, never fatal.
type Controller struct {
	// DebounceWait collapses snapshot bursts (default 2s).
	DebounceWait time.Duration
	// DrainWait is how long existing connections get to finish before
	// the old server is aborted (default 1s).
	DrainWait time.Duration

	provider provider.Provider
	current  *DataPlane
}

// NewController creates a reload controller over a configuration source.
func NewController(p provider.Provider) *Controller {
	return &Controller{
		DebounceWait: 2 * time.Second,
		DrainWait:    time.Second,
		provider:     p,
	}
}

// Run watches until ctx is done or the snapshot stream ends. The serving
// data-plane (if any) is taken down on exit.
func (c *Controller) Run(ctx context.Context) error {
	stream, err := c.provider.Watch(ctx)
	if err != nil {
		return err
	}
	snapshots := Debounce(stream, c.DebounceWait)

	for {
		select {
		case <-ctx.Done():
			c.stop()
			return nil
		case cfg, ok := <-snapshots:
			if !ok {
				c.stop()
				return nil
			}
			c.reload(&cfg)
		}
	}
}

// reload swaps the data-plane to a new snapshot. The snapshot is compiled
// before the old server is touched, so an invalid snapshot retains the
// previous data-plane untouched. Bind failures lose the old server (its
// addresses may overlap the new listeners) but never the controller.
func (c *Controller) reload(cfg *config.ProxyConfig) {
	compiled, err := Compile(cfg)
	if err != nil {
		logging.Error("failed to compile the configuration", zap.Error(err))
		return
	}

	c.stop()

	listeners, err := bindListeners(cfg)
	if err != nil {
		logging.Error("failed to bind listeners", zap.Error(err))
		closeListeners(listeners)
		compiled.Close()
		return
	}

	dp := NewDataPlane(compiled, listeners)
	dp.Start()
	c.current = dp

	logging.Info("configuration applied",
		zap.Int("listeners", len(listeners)),
		zap.Int("routes", len(cfg.Routes)),
	)
}

// stop takes the current server down, draining briefly first. New
// connections stop being accepted immediately; in-flight requests get
// DrainWait to complete on their original routing tree.
func (c *Controller) stop() {
	if c.current == nil {
		return
	}
	logging.Info("stopping the previous server")
	c.current.Shutdown(c.DrainWait)
	c.current = nil
}

func bindListeners(cfg *config.ProxyConfig) ([]net.Listener, error) {
	listeners := make([]net.Listener, 0, len(cfg.Listeners))
	for _, spec := range cfg.Listeners {
		ln, err := spec.Build()
		if err != nil {
			return listeners, err
		}
		listeners = append(listeners, ln)
	}
	return listeners, nil
}

func closeListeners(listeners []net.Listener) {
	for _, ln := range listeners {
		ln.Close()
	}
}
