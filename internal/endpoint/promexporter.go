package endpoint

import (
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/protobuf/proto"

	"github.com/wudi/apigate/internal/metrics"
)

func init() {
	Register("prometheusExporter", func() Config { return new(PrometheusExporterConfig) })
}

// PrometheusExporterConfig serves the gateway's metrics registry in
// exposition format, appending the configured constant labels to every
// sample.
type PrometheusExporterConfig struct {
	Labels map[string]string `json:"labels,omitempty"`
}

// Create builds the exporter endpoint.
func (c *PrometheusExporterConfig) Create() (Endpoint, error) {
	var gatherer prometheus.Gatherer = metrics.Registry()
	if len(c.Labels) > 0 {
		gatherer = &labeledGatherer{base: gatherer, labels: buildLabelPairs(c.Labels)}
	}

	handler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	return promEndpoint{handler: handler}, nil
}

type promEndpoint struct {
	nopCloser
	handler http.Handler
}

func (e promEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.handler.ServeHTTP(w, r)
}

// labeledGatherer appends constant label pairs to every gathered metric.
type labeledGatherer struct {
	base   prometheus.Gatherer
	labels []*dto.LabelPair
}

func (g *labeledGatherer) Gather() ([]*dto.MetricFamily, error) {
	families, err := g.base.Gather()
	if err != nil {
		return nil, err
	}
	for _, mf := range families {
		for _, m := range mf.Metric {
			m.Label = append(m.Label, g.labels...)
		}
	}
	return families, nil
}

func buildLabelPairs(labels map[string]string) []*dto.LabelPair {
	pairs := make([]*dto.LabelPair, 0, len(labels))
	for name, value := range labels {
		pairs = append(pairs, &dto.LabelPair{
			Name:  proto.String(name),
			Value: proto.String(value),
		})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].GetName() < pairs[j].GetName()
	})
	return pairs
}
