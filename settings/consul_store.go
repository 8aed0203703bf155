package settings

import (
	"context"
	"fmt"
	"strings"

	consul "github.com/hashicorp/consul/api"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Consul allows at most this many operations in one transaction.
const consulMaxTxnOps = 64

// ConsulStore keeps each entry as a key under a common prefix.
type ConsulStore struct {
	kv     *consul.KV
	prefix string
}

// NewConsulStore creates a store using the Consul agent at address, or the default address
// (from the environment, or localhost:8500) if address is empty.
func NewConsulStore(address, prefix string) (*ConsulStore, error) {
	config := consul.DefaultConfig()
	if address != "" {
		config.Address = address
	}
	client, err := consul.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Consul client: %w", err)
	}
	return &ConsulStore{kv: client.KV(), prefix: strings.TrimSuffix(prefix, "/")}, nil
}

func (c *ConsulStore) Load(ctx context.Context) (Settings, error) {
	pairs, _, err := c.kv.List(c.prefix+"/", (&consul.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return Settings{}, fmt.Errorf("list failed for %s: %w", c.prefix, err)
	}
	var s Settings
	for _, pair := range pairs {
		s.Set(strings.TrimPrefix(pair.Key, c.prefix+"/"), string(pair.Value))
	}
	return s, nil
}

func (c *ConsulStore) Save(ctx context.Context, s Settings) error {
	pairs, _, err := c.kv.List(c.prefix+"/", (&consul.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to get existing settings: %w", err)
	}
	existing := make([]string, 0, len(pairs))
	for _, p := range pairs {
		existing = append(existing, p.Key)
	}
	return consulBatches(ctx, c.kv, consulOps(c.prefix, s, existing))
}

// consulOps sets every entry and deletes the existing keys that are not in the bag.
func consulOps(prefix string, s Settings, existingKeys []string) consul.KVTxnOps {
	oldKeys := make(map[string]struct{}, len(existingKeys))
	for _, k := range existingKeys {
		oldKeys[k] = struct{}{}
	}
	ops := make(consul.KVTxnOps, 0, s.Len()+len(existingKeys))
	for _, k := range s.Keys() {
		v, _ := s.Get(k)
		key := prefix + "/" + k
		ops = append(ops, &consul.KVTxnOp{Verb: consul.KVSet, Key: key, Value: []byte(v)})
		delete(oldKeys, key)
	}
	stale := maps.Keys(oldKeys)
	slices.Sort(stale)
	for _, k := range stale {
		ops = append(ops, &consul.KVTxnOp{Verb: consul.KVDelete, Key: k})
	}
	return ops
}

func consulBatches(ctx context.Context, kv *consul.KV, ops consul.KVTxnOps) error {
	for _, batch := range splitBatches(ops, consulMaxTxnOps) {
		ok, resp, _, err := kv.Txn(batch, (&consul.QueryOptions{}).WithContext(ctx))
		if err != nil {
			return err
		}
		if !ok {
			errs := make([]string, 0, len(resp.Errors))
			for _, te := range resp.Errors {
				errs = append(errs, te.What)
			}
			return fmt.Errorf("consul transaction failed: %s", strings.Join(errs, ", "))
		}
	}
	return nil
}

func splitBatches[T any](items []T, size int) [][]T {
	var ret [][]T
	for len(items) > 0 {
		n := size
		if n > len(items) {
			n = len(items)
		}
		ret = append(ret, items[:n])
		items = items[n:]
	}
	return ret
}
