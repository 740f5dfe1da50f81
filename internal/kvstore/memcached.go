package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const (
	memcachedKeyPrefix = "weatherdash:"
	// memcachedIndexKey holds the JSON list of logical keys, since memcached
	// cannot enumerate its contents.
	memcachedIndexKey = memcachedKeyPrefix + "__index"
	indexCASAttempts  = 5
)

// Memcached implements Store using memcached. Items are stored without
// expiration; TTL handling belongs to the cache layer above.
type Memcached struct {
	client *memcache.Client
}

// NewMemcached creates a Memcached store. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcached(addrs string, timeout time.Duration, maxIdleConns int) *Memcached {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &Memcached{client: client}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (m *Memcached) key(k string) string {
	return memcachedKeyPrefix + k
}

func (m *Memcached) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	item, err := m.client.Get(m.key(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(item.Value), true, nil
}

func (m *Memcached) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := m.client.Set(&memcache.Item{Key: m.key(key), Value: []byte(value)})
	if errors.Is(err, memcache.ErrNotStored) {
		return ErrQuotaExceeded
	}
	if err != nil {
		return err
	}
	return m.updateIndex(func(keys map[string]struct{}) bool {
		if _, ok := keys[key]; ok {
			return false
		}
		keys[key] = struct{}{}
		return true
	})
}

func (m *Memcached) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.client.Delete(m.key(key)); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return err
	}
	return m.updateIndex(func(keys map[string]struct{}) bool {
		if _, ok := keys[key]; !ok {
			return false
		}
		delete(keys, key)
		return true
	})
}

func (m *Memcached) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys, _, err := m.readIndex()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// readIndex returns the key set and the index item (nil when no index exists yet).
func (m *Memcached) readIndex() (map[string]struct{}, *memcache.Item, error) {
	keys := make(map[string]struct{})
	item, err := m.client.Get(memcachedIndexKey)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return keys, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var list []string
	if err := json.Unmarshal(item.Value, &list); err != nil {
		// A corrupt index is rebuilt from subsequent writes.
		return keys, item, nil
	}
	for _, k := range list {
		keys[k] = struct{}{}
	}
	return keys, item, nil
}

// updateIndex applies mutate to the key index with compare-and-swap, retrying
// on concurrent writers. mutate reports whether it changed the set.
func (m *Memcached) updateIndex(mutate func(map[string]struct{}) bool) error {
	for attempt := 0; attempt < indexCASAttempts; attempt++ {
		keys, item, err := m.readIndex()
		if err != nil {
			return fmt.Errorf("read index: %w", err)
		}
		if !mutate(keys) {
			return nil
		}
		list := make([]string, 0, len(keys))
		for k := range keys {
			list = append(list, k)
		}
		sort.Strings(list)
		raw, err := json.Marshal(list)
		if err != nil {
			return err
		}
		if item == nil {
			err = m.client.Add(&memcache.Item{Key: memcachedIndexKey, Value: raw})
		} else {
			item.Value = raw
			err = m.client.CompareAndSwap(item)
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, memcache.ErrNotStored), errors.Is(err, memcache.ErrCASConflict):
			continue
		default:
			return fmt.Errorf("write index: %w", err)
		}
	}
	return fmt.Errorf("write index: too much contention after %d attempts", indexCASAttempts)
}

// Ping checks if memcached is reachable. Used for health checks.
func (m *Memcached) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (m *Memcached) Close() error {
	return m.client.Close()
}
