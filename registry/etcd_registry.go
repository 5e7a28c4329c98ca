package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	clientv3 "go.etcd.io/etcd/client/v3"

	"tiny-rpc/logging"
)

// KeyPrefix is the root of all tiny-rpc keys in etcd.
const KeyPrefix = "/tiny-rpc/"

var log = logging.GetLogger("registry")

// EtcdRegistry implements Registry on top of etcd v3. It stores one key per running server:
//
//	Key:   /tiny-rpc/{ServiceName}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// Every key is attached to its own TTL lease that is kept alive in the background. If the
// server dies the lease expires and the entry disappears.
type EtcdRegistry struct {
	client *clientv3.Client
	// leases maps instance keys to their lease so Deregister can revoke it.
	leases *xsync.MapOf[string, clientv3.LeaseID]
	// keepAlive outlives the Register call; cancelled by Close.
	keepAlive context.Context
	cancel    context.CancelFunc
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration) (*EtcdRegistry, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("registry: no etcd endpoints configured")
	}
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect to etcd")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdRegistry{
		client:    c,
		leases:    xsync.NewMapOf[string, clientv3.LeaseID](),
		keepAlive: ctx,
		cancel:    cancel,
	}, nil
}

// InstanceKey returns the etcd key of one instance.
func InstanceKey(serviceName, addr string) string {
	return ServicePrefix(serviceName) + addr
}

// ServicePrefix returns the key prefix shared by all instances of a service.
func ServicePrefix(serviceName string) string {
	return KeyPrefix + serviceName + "/"
}

// Register grants a lease of ttl seconds, stores the instance under it and keeps the lease
// alive until Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	if instance.Addr == "" {
		return errors.New("registry: instance address must not be empty")
	}
	key := InstanceKey(serviceName, instance.Addr)

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.Wrapf(err, "grant lease for %s", key)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return errors.Wrap(err, "encode instance")
	}

	if _, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return errors.Wrapf(err, "put %s", key)
	}

	ch, err := r.client.KeepAlive(r.keepAlive, lease.ID)
	if err != nil {
		return errors.Wrapf(err, "keep alive %s", key)
	}
	if old, loaded := r.leases.LoadAndStore(key, lease.ID); loaded {
		_, _ = r.client.Revoke(ctx, old)
	}

	// the channel must be drained or the client logs warnings once its buffer is full
	go func() {
		for range ch {
		}
		log.Debugf("keep alive for %s stopped", key)
	}()
	log.Infof("registered %s (ttl %ds)", key, ttl)
	return nil
}

// Deregister deletes the instance key and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	key := InstanceKey(serviceName, addr)
	if _, err := r.client.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "delete %s", key)
	}
	if id, ok := r.leases.LoadAndDelete(key); ok {
		if _, err := r.client.Revoke(ctx, id); err != nil {
			return errors.Wrapf(err, "revoke lease of %s", key)
		}
	}
	log.Infof("deregistered %s", key)
	return nil
}

// Discover returns all instances currently stored under the service prefix.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, ServicePrefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrapf(err, "discover %s", serviceName)
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			log.Warningf("skipping malformed entry %s: %v", kv.Key, err)
			continue
		}
		instances = append(instances, instance)
	}
	sortInstances(instances)
	return instances, nil
}

// Close stops all keep-alives and closes the etcd client. Registered keys expire with their
// leases.
func (r *EtcdRegistry) Close() error {
	r.cancel()
	return r.client.Close()
}
