package endpoint

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/apigate/internal/logging"
)

// Nodes yields the authorities currently eligible for load balancing.
type Nodes interface {
	Get() []string
	Close() error
}

// fixedNodes is a static authority list.
type fixedNodes struct {
	nodes []string
}

func (n fixedNodes) Get() []string { return n.nodes }
func (n fixedNodes) Close() error  { return nil }

// HealthConfig configures the background checker filtering an upstream's
// node list.
type HealthConfig struct {
	Path     string `json:"path"`
	Interval int    `json:"interval"` // seconds
	Status   []int  `json:"status"`
}

// healthCheckedNodes filters a static list by periodic GET probes. The
// prober goroutine is owned by the instance and stops on Close; the alive
// set is read under a short critical section per request.
type healthCheckedNodes struct {
	mu     sync.Mutex
	alive  []string
	cancel context.CancelFunc
}

func newHealthCheckedNodes(client *http.Client, scheme string, nodes []string, cfg HealthConfig) *healthCheckedNodes {
	interval := time.Duration(cfg.Interval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	statuses := cfg.Status
	if len(statuses) == 0 {
		statuses = []int{http.StatusOK}
	}
	path := cfg.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	ctx, cancel := context.WithCancel(context.Background())
	hn := &healthCheckedNodes{cancel: cancel}

	go hn.checkLoop(ctx, client, scheme, nodes, path, interval, statuses)

	return hn
}

func (hn *healthCheckedNodes) Get() []string {
	hn.mu.Lock()
	defer hn.mu.Unlock()
	return hn.alive
}

func (hn *healthCheckedNodes) Close() error {
	hn.cancel()
	return nil
}

func (hn *healthCheckedNodes) checkLoop(ctx context.Context, client *http.Client, scheme string, nodes []string, path string, interval time.Duration, statuses []int) {
	for {
		alive := probeAll(ctx, client, scheme, nodes, path, statuses)

		hn.mu.Lock()
		hn.alive = alive
		hn.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// probeAll checks every node concurrently and returns the alive subset in
// node-list order.
func probeAll(ctx context.Context, client *http.Client, scheme string, nodes []string, path string, statuses []int) []string {
	results := make([]bool, len(nodes))
	g, ctx := errgroup.WithContext(ctx)

	for i, node := range nodes {
		i, node := i, node
		g.Go(func() error {
			url := fmt.Sprintf("%s://%s%s", scheme, node, path)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil
			}
			resp, err := client.Do(req)
			if err != nil {
				logging.Debug("health probe failed",
					zap.String("node", node),
					zap.Error(err),
				)
				return nil
			}
			resp.Body.Close()
			for _, s := range statuses {
				if resp.StatusCode == s {
					results[i] = true
					break
				}
			}
			return nil
		})
	}
	g.Wait()

	alive := make([]string, 0, len(nodes))
	for i, ok := range results {
		if ok {
			alive = append(alive, nodes[i])
		}
	}
	return alive
}
