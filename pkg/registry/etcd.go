package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const DefaultPrefix = "/geopost/nodes/"

func NewClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
}

// Etcd stores bindings as <prefix><name> -> endpoint. Each binding is attached
// to a lease kept alive by this process, so a crashed node disappears from
// the listing once its lease runs out.
type Etcd struct {
	cli    *clientv3.Client
	prefix string
	ttl    int64
	log    *zap.Logger

	mu    sync.Mutex
	owned map[string]ownedBinding
}

type ownedBinding struct {
	lease  clientv3.LeaseID
	cancel context.CancelFunc
}

func NewEtcd(cli *clientv3.Client, prefix string, leaseTTL time.Duration, log *zap.Logger) *Etcd {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	ttl := int64(leaseTTL / time.Second)
	if ttl < 1 {
		ttl = 10
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Etcd{
		cli:    cli,
		prefix: prefix,
		ttl:    ttl,
		log:    log,
		owned:  make(map[string]ownedBinding),
	}
}

func (e *Etcd) key(name string) string { return e.prefix + name }

func (e *Etcd) Bind(ctx context.Context, name, endpoint string) error {
	lease, err := e.cli.Grant(ctx, e.ttl)
	if err != nil {
		return fmt.Errorf("bind %q: grant lease: %w", name, err)
	}
	key := e.key(name)
	resp, err := e.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, endpoint, clientv3.WithLease(lease.ID))).
		Commit()
	if err != nil {
		_, _ = e.cli.Revoke(context.WithoutCancel(ctx), lease.ID)
		return fmt.Errorf("bind %q: %w", name, err)
	}
	if !resp.Succeeded {
		_, _ = e.cli.Revoke(context.WithoutCancel(ctx), lease.ID)
		return fmt.Errorf("bind %q: %w", name, ErrAlreadyBound)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ka, err := e.cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		_, _ = e.cli.Revoke(context.WithoutCancel(ctx), lease.ID)
		return fmt.Errorf("bind %q: keepalive: %w", name, err)
	}
	go func() {
		for range ka {
		}
		e.log.Debug("lease keepalive stopped", zap.String("name", name))
	}()

	e.mu.Lock()
	e.owned[name] = ownedBinding{lease: lease.ID, cancel: cancel}
	e.mu.Unlock()
	e.log.Info("bound", zap.String("name", name), zap.String("endpoint", endpoint), zap.Int64("lease_ttl_s", e.ttl))
	return nil
}

// Unbind revokes the lease of a name bound by this process, or deletes the
// key outright for a name bound elsewhere.
func (e *Etcd) Unbind(ctx context.Context, name string) error {
	e.mu.Lock()
	b, ok := e.owned[name]
	delete(e.owned, name)
	e.mu.Unlock()

	if ok {
		b.cancel()
		if _, err := e.cli.Revoke(ctx, b.lease); err != nil {
			return fmt.Errorf("unbind %q: %w", name, err)
		}
		return nil
	}
	resp, err := e.cli.Delete(ctx, e.key(name))
	if err != nil {
		return fmt.Errorf("unbind %q: %w", name, err)
	}
	if resp.Deleted == 0 {
		return fmt.Errorf("unbind %q: %w", name, ErrNotFound)
	}
	return nil
}

func (e *Etcd) Lookup(ctx context.Context, name string) (string, error) {
	resp, err := e.cli.Get(ctx, e.key(name))
	if err != nil {
		return "", fmt.Errorf("lookup %q: %w", name, err)
	}
	if len(resp.Kvs) == 0 {
		return "", fmt.Errorf("lookup %q: %w", name, ErrNotFound)
	}
	return string(resp.Kvs[0].Value), nil
}

func (e *Etcd) List(ctx context.Context) ([]string, error) {
	resp, err := e.cli.Get(ctx, e.prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	names := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		names = append(names, strings.TrimPrefix(string(kv.Key), e.prefix))
	}
	return names, nil
}

func (e *Etcd) Watch(ctx context.Context, fn func(Change)) error {
	resp, err := e.cli.Get(ctx, e.prefix, clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	for _, kv := range resp.Kvs {
		fn(Change{Kind: Bound, Name: strings.TrimPrefix(string(kv.Key), e.prefix), Endpoint: string(kv.Value)})
	}

	wch := e.cli.Watch(ctx, e.prefix, clientv3.WithPrefix(), clientv3.WithRev(resp.Header.Revision+1))
	for resp := range wch {
		if err := resp.Err(); err != nil {
			return fmt.Errorf("watch: %w", err)
		}
		for _, ev := range resp.Events {
			name := strings.TrimPrefix(string(ev.Kv.Key), e.prefix)
			switch ev.Type {
			case mvccpb.PUT:
				fn(Change{Kind: Bound, Name: name, Endpoint: string(ev.Kv.Value)})
			case mvccpb.DELETE:
				fn(Change{Kind: Unbound, Name: name})
			}
		}
	}
	return ctx.Err()
}

// Close stops keepalives and revokes every lease this process holds.
func (e *Etcd) Close(ctx context.Context) error {
	e.mu.Lock()
	owned := e.owned
	e.owned = make(map[string]ownedBinding)
	e.mu.Unlock()

	var firstErr error
	for name, b := range owned {
		b.cancel()
		if _, err := e.cli.Revoke(ctx, b.lease); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("revoke %q: %w", name, err)
		}
	}
	return firstErr
}
