// Package circuitbreaker wraps the downstream call: after a run of
// consecutive failures it opens for an exponentially growing window and
// replays the last recorded error response without touching the upstream.
package circuitbreaker

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/wudi/apigate/internal/plugin"
)

func init() {
	plugin.Register("circuitBreaker", func() plugin.Config { return new(BreakerConfig) })
}

// StatusCodes classifies responses as failures: `in` matches the listed
// codes, `notIn` matches everything else.
type StatusCodes struct {
	In    []int `json:"in,omitempty"`
	NotIn []int `json:"notIn,omitempty"`
}

// BreakerConfig configures the trip threshold and the open-window bounds.
type BreakerConfig struct {
	BreakStatusCodes StatusCodes `json:"breakStatusCodes"`
	StartBreakerSec  uint64      `json:"startBreakerSec,omitempty"`
	MaxBreakerSec    uint64      `json:"maxBreakerSec,omitempty"`
	Failures         int         `json:"failures,omitempty"`
}

// Create builds the circuit breaker plugin.
func (c *BreakerConfig) Create() (plugin.Plugin, error) {
	start := c.StartBreakerSec
	if start == 0 {
		start = 2
	}
	max := c.MaxBreakerSec
	if max == 0 {
		max = 60
	}
	failures := c.Failures
	if failures == 0 {
		failures = 3
	}

	if len(c.BreakStatusCodes.In) > 0 && len(c.BreakStatusCodes.NotIn) > 0 {
		return nil, fmt.Errorf("breakStatusCodes: `in` and `notIn` are mutually exclusive")
	}
	isFailure, err := buildPredicate(c.BreakStatusCodes)
	if err != nil {
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(start) * time.Second
	bo.MaxInterval = time.Duration(max) * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &Breaker{
		failures:  failures,
		isFailure: isFailure,
		bo:        bo,
	}, nil
}

func buildPredicate(codes StatusCodes) (func(int) bool, error) {
	set := make(map[int]bool)
	for _, code := range append(append([]int(nil), codes.In...), codes.NotIn...) {
		if code < 100 || code > 599 {
			return nil, fmt.Errorf("invalid break status code %d", code)
		}
		set[code] = true
	}
	if len(codes.NotIn) > 0 {
		return func(status int) bool { return !set[status] }, nil
	}
	return func(status int) bool { return set[status] }, nil
}

// recordedResponse is the last failure snapshot replayed while open.
type recordedResponse struct {
	status int
	header http.Header
	body   []byte
}

// Breaker is the compiled circuit breaker. Its trip state sits behind a
// mutex taken briefly on every call; the replay snapshot has its own
// reader-writer lock, written on every recorded result and read-locked
// when replaying.
type Breaker struct {
	failures  int
	isFailure func(status int) bool

	mu          sync.Mutex
	consecutive int
	openUntil   time.Time
	bo          *backoff.ExponentialBackOff

	lastErrMu sync.RWMutex
	lastErr   *recordedResponse

	bypassed atomic.Int64
}

func (b *Breaker) Priority() int { return 100 }

// Bypassed reports how many requests were answered from the replay
// snapshot without reaching the downstream.
func (b *Breaker) Bypassed() int64 {
	return b.bypassed.Load()
}

func (b *Breaker) Call(w http.ResponseWriter, r *http.Request, ctx *plugin.Context, next plugin.Next) {
	b.mu.Lock()
	open := !b.openUntil.IsZero() && time.Now().Before(b.openUntil)
	b.mu.Unlock()

	if open {
		b.replay(w)
		return
	}

	rec := plugin.NewRecorder()
	next.Call(rec, r, ctx)

	status := rec.Status()
	if status == 0 {
		status = http.StatusOK
	}

	if b.isFailure(status) {
		b.recordFailure(rec, status)
	} else {
		b.recordSuccess()
	}

	rec.WriteTo(w)
}

// replay answers from the last recorded error response. The open state is
// only ever entered after a failure, so the snapshot is always present.
func (b *Breaker) replay(w http.ResponseWriter) {
	b.bypassed.Add(1)

	b.lastErrMu.RLock()
	last := b.lastErr
	b.lastErrMu.RUnlock()

	dst := w.Header()
	for k, vv := range last.header {
		dst[k] = append(dst[k][:0:0], vv...)
	}
	w.WriteHeader(last.status)
	w.Write(last.body)
}

func (b *Breaker) recordFailure(rec *plugin.ResponseRecorder, status int) {
	header := make(http.Header, len(rec.Header()))
	for k, vv := range rec.Header() {
		header[k] = append(header[k][:0:0], vv...)
	}
	body := append([]byte(nil), rec.Body()...)

	b.lastErrMu.Lock()
	b.lastErr = &recordedResponse{status: status, header: header, body: body}
	b.lastErrMu.Unlock()

	b.mu.Lock()
	if !b.openUntil.IsZero() {
		// The half-open trial failed: reopen with a longer window.
		b.openUntil = time.Now().Add(b.bo.NextBackOff())
	} else {
		b.consecutive++
		if b.consecutive >= b.failures {
			b.openUntil = time.Now().Add(b.bo.NextBackOff())
			b.consecutive = 0
		}
	}
	b.mu.Unlock()
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	b.consecutive = 0
	b.openUntil = time.Time{}
	b.bo.Reset()
	b.mu.Unlock()

	b.lastErrMu.Lock()
	b.lastErr = nil
	b.lastErrMu.Unlock()
}
