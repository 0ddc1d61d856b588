package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/wudi/apigate/internal/config"
	"github.com/wudi/apigate/internal/listener"
	"github.com/wudi/apigate/internal/logging"
	"github.com/wudi/apigate/internal/plugin"
)

func init() {
	Register("etcd", func() Config { return new(EtcdConfig) })
}

// EtcdConfig reads snapshots from an etcd prefix. Each resource lives at
// {prefix}/resources/{kind}/{id}; ids come from {prefix}/auto_increment_id.
type EtcdConfig struct {
	Endpoints []string `json:"endpoints"`
	Prefix    string   `json:"prefix,omitempty"`
}

// Create connects the etcd client and builds the provider.
func (c *EtcdConfig) Create(_ string) (Provider, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   c.Endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return &etcdProvider{client: client, prefix: c.Prefix}, nil
}

type etcdProvider struct {
	client *clientv3.Client
	prefix string
}

// Watch reads the full resource set once at a revision, emits the
// assembled snapshot, then follows the watch stream from the next
// revision, re-emitting after every change batch.
func (p *etcdProvider) Watch(ctx context.Context) (<-chan config.ProxyConfig, error) {
	resourcesPrefix := p.prefix + "/resources"

	resp, err := p.client.Get(ctx, resourcesPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration from etcd: %w", err)
	}

	values := newConfigValues(p.prefix)
	for _, kv := range resp.Kvs {
		values.add(string(kv.Key), kv.Value)
	}
	revision := resp.Header.Revision

	logging.Info("watch the configuration from etcd",
		zap.Strings("endpoints", p.client.Endpoints()),
	)

	out := make(chan config.ProxyConfig)
	go func() {
		defer close(out)

		emit := func() {
			cfg, err := values.generateConfig()
			if err != nil {
				logging.Error("invalid configuration in etcd", zap.Error(err))
				return
			}
			select {
			case out <- *cfg:
			case <-ctx.Done():
			}
		}

		emit()

		watchCh := p.client.Watch(ctx, resourcesPrefix,
			clientv3.WithPrefix(),
			clientv3.WithRev(revision+1),
		)
		for wresp := range watchCh {
			if wresp.Err() != nil {
				logging.Error("etcd watch error", zap.Error(wresp.Err()))
				return
			}
			for _, event := range wresp.Events {
				switch event.Type {
				case clientv3.EventTypePut:
					values.add(string(event.Kv.Key), event.Kv.Value)
				case clientv3.EventTypeDelete:
					values.remove(string(event.Kv.Key))
				}
			}
			logging.Info("configuration changed")
			emit()
		}
	}()

	return out, nil
}

func (p *etcdProvider) Listeners() (ResourcesOperation[listener.Spec], error) {
	return newEtcdOperation[listener.Spec](p, "listeners"), nil
}

func (p *etcdProvider) Consumers() (ResourcesOperation[config.ConsumerConfig], error) {
	return newEtcdOperation[config.ConsumerConfig](p, "consumers"), nil
}

func (p *etcdProvider) Routes() (ResourcesOperation[config.RouteConfig], error) {
	return &routeOperation{
		etcdOperation: newEtcdOperation[config.RouteConfig](p, "routes"),
	}, nil
}

func (p *etcdProvider) Services() (ResourcesOperation[config.ServiceConfig], error) {
	return newEtcdOperation[config.ServiceConfig](p, "services"), nil
}

func (p *etcdProvider) GlobalPlugins() (ResourcesOperation[plugin.Spec], error) {
	return newEtcdOperation[plugin.Spec](p, "globalPlugins"), nil
}

// configValues is the assembled key/value state per resource kind.
type configValues struct {
	prefix string
	kinds  map[string]map[string][]byte
}

func newConfigValues(prefix string) *configValues {
	return &configValues{
		prefix: prefix,
		kinds: map[string]map[string][]byte{
			"listeners":     {},
			"consumers":     {},
			"routes":        {},
			"services":      {},
			"globalPlugins": {},
		},
	}
}

// split resolves a full etcd key into (kind, id).
func (v *configValues) split(key string) (string, string, bool) {
	rest, ok := strings.CutPrefix(key, v.prefix+"/resources/")
	if !ok {
		return "", "", false
	}
	kind, id, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		return "", "", false
	}
	if _, known := v.kinds[kind]; !known {
		return "", "", false
	}
	return kind, id, true
}

func (v *configValues) add(key string, value []byte) {
	if kind, id, ok := v.split(key); ok {
		v.kinds[kind][id] = append([]byte(nil), value...)
	}
}

func (v *configValues) remove(key string) {
	if kind, id, ok := v.split(key); ok {
		delete(v.kinds[kind], id)
	}
}

// sortedIDs yields a kind's ids in stable numeric-then-lexical order so
// generated snapshots are deterministic.
func (v *configValues) sortedIDs(kind string) []string {
	ids := make([]string, 0, len(v.kinds[kind]))
	for id := range v.kinds[kind] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ni, erri := strconv.ParseUint(ids[i], 10, 64)
		nj, errj := strconv.ParseUint(ids[j], 10, 64)
		if erri == nil && errj == nil {
			return ni < nj
		}
		return ids[i] < ids[j]
	})
	return ids
}

func (v *configValues) generateConfig() (*config.ProxyConfig, error) {
	cfg := &config.ProxyConfig{}

	for _, id := range v.sortedIDs("listeners") {
		var spec listener.Spec
		if err := json.Unmarshal(v.kinds["listeners"][id], &spec); err != nil {
			return nil, fmt.Errorf("listener %s: %w", id, err)
		}
		cfg.Listeners = append(cfg.Listeners, spec)
	}

	for _, id := range v.sortedIDs("consumers") {
		var consumer config.ConsumerConfig
		if err := json.Unmarshal(v.kinds["consumers"][id], &consumer); err != nil {
			return nil, fmt.Errorf("consumer %s: %w", id, err)
		}
		cfg.Consumers = append(cfg.Consumers, consumer)
	}

	for _, id := range v.sortedIDs("routes") {
		var route config.RouteConfig
		if err := json.Unmarshal(v.kinds["routes"][id], &route); err != nil {
			return nil, fmt.Errorf("route %s: %w", id, err)
		}
		cfg.Routes = append(cfg.Routes, route)
	}

	for _, id := range v.sortedIDs("services") {
		var service config.ServiceConfig
		if err := json.Unmarshal(v.kinds["services"][id], &service); err != nil {
			return nil, fmt.Errorf("service %s: %w", id, err)
		}
		// Reference-style sources name services by resource id
		service.Name = id
		cfg.Services = append(cfg.Services, service)
	}

	for _, id := range v.sortedIDs("globalPlugins") {
		var spec plugin.Spec
		if err := json.Unmarshal(v.kinds["globalPlugins"][id], &spec); err != nil {
			return nil, fmt.Errorf("global plugin %s: %w", id, err)
		}
		cfg.GlobalPlugins = append(cfg.GlobalPlugins, spec)
	}

	return cfg, nil
}

// takeID allocates the next auto-increment id with a compare-and-swap
// loop on {prefix}/auto_increment_id.
func takeID(ctx context.Context, client *clientv3.Client, prefix string) (string, error) {
	key := prefix + "/auto_increment_id"

	for {
		resp, err := client.Get(ctx, key)
		if err != nil {
			return "", err
		}

		if len(resp.Kvs) == 0 {
			txn, err := client.Txn(ctx).
				If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
				Then(clientv3.OpPut(key, "1")).
				Commit()
			if err != nil {
				return "", err
			}
			if txn.Succeeded {
				return "1", nil
			}
		} else {
			version := resp.Kvs[0].Version
			prev, err := strconv.ParseUint(string(resp.Kvs[0].Value), 10, 64)
			if err != nil {
				return "", fmt.Errorf("corrupt auto_increment_id: %w", err)
			}
			next := strconv.FormatUint(prev+1, 10)

			txn, err := client.Txn(ctx).
				If(clientv3.Compare(clientv3.Version(key), "=", version)).
				Then(clientv3.OpPut(key, next)).
				Commit()
			if err != nil {
				return "", err
			}
			if txn.Succeeded {
				return next, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// etcdOperation is the generic CRUD collection over one resource kind.
type etcdOperation[T any] struct {
	client         *clientv3.Client
	prefix         string
	resourcePrefix string
}

func newEtcdOperation[T any](p *etcdProvider, kind string) *etcdOperation[T] {
	return &etcdOperation[T]{
		client:         p.client,
		prefix:         p.prefix,
		resourcePrefix: fmt.Sprintf("%s/resources/%s/", p.prefix, kind),
	}
}

func (op *etcdOperation[T]) GetAll(ctx context.Context) ([]Resource[T], error) {
	resp, err := op.client.Get(ctx, op.resourcePrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	items := make([]Resource[T], 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := strings.TrimPrefix(string(kv.Key), op.resourcePrefix)
		var value T
		if err := json.Unmarshal(kv.Value, &value); err != nil {
			return nil, fmt.Errorf("resource %s: %w", id, err)
		}
		items = append(items, Resource[T]{ID: id, Value: value})
	}
	return items, nil
}

func (op *etcdOperation[T]) Get(ctx context.Context, id string) (*T, error) {
	resp, err := op.client.Get(ctx, op.resourcePrefix+id)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	var value T
	if err := json.Unmarshal(resp.Kvs[0].Value, &value); err != nil {
		return nil, err
	}
	return &value, nil
}

func (op *etcdOperation[T]) Create(ctx context.Context, value T) (string, error) {
	id, err := takeID(ctx, op.client, op.prefix)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	if _, err := op.client.Put(ctx, op.resourcePrefix+id, string(data)); err != nil {
		return "", err
	}
	return id, nil
}

func (op *etcdOperation[T]) Update(ctx context.Context, id string, value T) error {
	key := op.resourcePrefix + id
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	txn, err := op.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Version(key), ">", 0)).
		Then(clientv3.OpPut(key, string(data))).
		Commit()
	if err != nil {
		return err
	}
	if !txn.Succeeded {
		return fmt.Errorf("resource `%s` is not found", id)
	}
	return nil
}

func (op *etcdOperation[T]) Delete(ctx context.Context, id string) (bool, error) {
	resp, err := op.client.Delete(ctx, op.resourcePrefix+id)
	if err != nil {
		return false, err
	}
	return resp.Deleted > 0, nil
}

// routeOperation guards route creation: a reference-style route may only
// be created when the referenced service exists, checked in the same
// transaction that writes the route. Inline services are not accepted
// through the control plane.
type routeOperation struct {
	*etcdOperation[config.RouteConfig]
}

func (op *routeOperation) Create(ctx context.Context, route config.RouteConfig) (string, error) {
	if !route.Service.IsReference() {
		return "", fmt.Errorf("route service must be a reference")
	}

	serviceID := route.Service.Reference
	serviceKey := fmt.Sprintf("%s/resources/services/%s", op.prefix, serviceID)

	id, err := takeID(ctx, op.client, op.prefix)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(route)
	if err != nil {
		return "", err
	}

	txn, err := op.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Version(serviceKey), ">", 0)).
		Then(clientv3.OpPut(op.resourcePrefix+id, string(data))).
		Commit()
	if err != nil {
		return "", err
	}
	if !txn.Succeeded {
		return "", &ServiceNotFoundError{Name: serviceID}
	}
	return id, nil
}
