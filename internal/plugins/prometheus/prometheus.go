// Package prometheus records per-request counters and a duration
// histogram into the gateway's metrics registry.
package prometheus

import (
	"net/http"
	"time"

	"github.com/wudi/apigate/internal/metrics"
	"github.com/wudi/apigate/internal/plugin"
)

func init() {
	plugin.Register("prometheus", func() plugin.Config { return new(PrometheusConfig) })
}

// PrometheusConfig has no options; the metric set is fixed.
type PrometheusConfig struct{}

// Create builds the metrics plugin.
func (c *PrometheusConfig) Create() (plugin.Plugin, error) {
	return prometheusPlugin{}, nil
}

type prometheusPlugin struct{}

func (prometheusPlugin) Priority() int { return 0 }

func (prometheusPlugin) Call(w http.ResponseWriter, r *http.Request, ctx *plugin.Context, next plugin.Next) {
	method := r.Method
	path := r.URL.Path

	sw := &plugin.StatusWriter{ResponseWriter: w}
	start := time.Now()
	next.Call(sw, r, ctx)
	elapsed := time.Since(start)

	status := sw.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	metrics.RecordRequest(method, path, status, elapsed)
}
