// Package limitcount implements the request rate limit plugin: a per-key
// token count refilled every interval, backed by pluggable storage
// (in-memory or Redis).
package limitcount

import (
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/wudi/apigate/internal/errors"
	"github.com/wudi/apigate/internal/logging"
	"github.com/wudi/apigate/internal/plugin"
	"github.com/wudi/apigate/internal/tagged"
)

func init() {
	plugin.Register("limitCount", func() plugin.Config { return new(LimitCountConfig) })
	RegisterStorage("memory", func() StorageConfig { return new(MemoryStorageConfig) })
	RegisterStorage("redis", func() StorageConfig { return new(RedisStorageConfig) })
}

// Storage tracks remaining tokens per key. Check consumes one token and
// reports whether the request is allowed plus the tokens left.
type Storage interface {
	Check(r *http.Request, key string) (allowed bool, remaining int, err error)
}

// StorageConfig builds a Storage for a given interval/refill pair.
type StorageConfig interface {
	CreateStorage(intervalSec uint64, refill int) (Storage, error)
}

var storageRegistry = tagged.NewRegistry[StorageConfig]("rate limit storage")

// RegisterStorage adds a storage config variant under its `type` tag.
func RegisterStorage(name string, factory func() StorageConfig) {
	storageRegistry.Register(name, factory)
}

// StorageSpec is a tagged storage configuration fragment.
type StorageSpec struct {
	tagged.Fragment
}

// LimitCountConfig configures the rate limit plugin.
type LimitCountConfig struct {
	Interval             uint64       `json:"interval,omitempty"`
	Refill               *int         `json:"refill,omitempty"`
	Key                  string       `json:"key,omitempty"`
	RejectedCode         int          `json:"rejectedCode,omitempty"`
	RejectedMsg          string       `json:"rejectedMsg,omitempty"`
	ShowLimitQuotaHeader *bool        `json:"showLimitQuotaHeader,omitempty"`
	Storage              *StorageSpec `json:"storage,omitempty"`
}

// Create builds the rate limit plugin.
func (c *LimitCountConfig) Create() (plugin.Plugin, error) {
	interval := c.Interval
	if interval == 0 {
		interval = 1
	}
	// refill: 0 is a legal value (reject everything); only absence
	// defaults to 1.
	refill := 1
	if c.Refill != nil {
		refill = *c.Refill
	}
	if refill < 0 {
		return nil, fmt.Errorf("invalid refill %d", refill)
	}

	key := c.Key
	if key == "" {
		key = "remoteIp"
	}
	keyFn, err := buildKeyFunc(key)
	if err != nil {
		return nil, err
	}

	rejectedCode := c.RejectedCode
	if rejectedCode == 0 {
		rejectedCode = http.StatusServiceUnavailable
	}
	if rejectedCode < 100 || rejectedCode > 599 {
		return nil, fmt.Errorf("invalid rejected code %d", c.RejectedCode)
	}

	showHeader := true
	if c.ShowLimitQuotaHeader != nil {
		showHeader = *c.ShowLimitQuotaHeader
	}

	var storageCfg StorageConfig
	if c.Storage != nil {
		storageCfg, err = tagged.Build(storageRegistry, c.Storage.Fragment)
		if err != nil {
			return nil, err
		}
	} else {
		storageCfg = new(MemoryStorageConfig)
	}
	storage, err := storageCfg.CreateStorage(interval, refill)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage for `limitCount` plugin: %w", err)
	}

	return &limitCount{
		refillHeader: strconv.Itoa(refill),
		keyFn:        keyFn,
		rejectedCode: rejectedCode,
		rejectedMsg:  c.RejectedMsg,
		showHeader:   showHeader,
		storage:      storage,
	}, nil
}

// buildKeyFunc returns the per-request key extraction strategy. The
// consumerName strategy needs the plugin context, so key functions take
// both.
func buildKeyFunc(key string) (func(r *http.Request, ctx *plugin.Context) string, error) {
	switch key {
	case "remoteIp":
		return func(r *http.Request, _ *plugin.Context) string {
			return remoteIP(r)
		}, nil
	case "xRealIp":
		return func(r *http.Request, _ *plugin.Context) string {
			return r.Header.Get("X-Real-Ip")
		}, nil
	case "xForwardedFor":
		return func(r *http.Request, _ *plugin.Context) string {
			return r.Header.Get("X-Forwarded-For")
		}, nil
	case "consumerName":
		return func(_ *http.Request, ctx *plugin.Context) string {
			return ctx.ConsumerName
		}, nil
	}
	return nil, fmt.Errorf("unknown rate limit key %q", key)
}

func remoteIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := lastColon(host); i >= 0 {
		return host[:i]
	}
	return host
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

type limitCount struct {
	refillHeader string
	keyFn        func(r *http.Request, ctx *plugin.Context) string
	rejectedCode int
	rejectedMsg  string
	showHeader   bool
	storage      Storage
}

func (p *limitCount) Priority() int { return 1000 }

func (p *limitCount) addQuotaHeaders(w http.ResponseWriter, remaining int) {
	if !p.showHeader {
		return
	}
	w.Header().Set("X-RateLimit-Limit", p.refillHeader)
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
}

func (p *limitCount) Call(w http.ResponseWriter, r *http.Request, ctx *plugin.Context, next plugin.Next) {
	key := p.keyFn(r, ctx)

	allowed, remaining, err := p.storage.Check(r, key)
	if err != nil {
		logging.Error("failed to check the limit count", zap.Error(err))
		errors.ErrInternalServer.WriteJSON(w)
		return
	}

	if !allowed {
		p.addQuotaHeaders(w, 0)
		w.WriteHeader(p.rejectedCode)
		if p.rejectedMsg != "" {
			w.Write([]byte(p.rejectedMsg))
		}
		return
	}

	p.addQuotaHeaders(w, remaining)
	next.Call(w, r, ctx)
}
