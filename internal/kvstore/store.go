// Package kvstore provides the string key/value backends that the cache and
// location store persist through. Backends are chosen explicitly at wiring
// time; the Unavailable backend stands in where no persistence exists.
package kvstore

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned by every operation of a backend that cannot persist.
	ErrUnavailable = errors.New("kvstore: storage unavailable")
	// ErrQuotaExceeded is returned when a write would exceed the backend capacity.
	ErrQuotaExceeded = errors.New("kvstore: quota exceeded")
)

// Store is a synchronous string-keyed, string-valued store.
// Get returns ("", false, nil) when the key is absent.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	// Keys returns every stored key that starts with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Unavailable is the no-op backend used where nothing can be persisted.
type Unavailable struct{}

func (Unavailable) Get(context.Context, string) (string, bool, error) {
	return "", false, ErrUnavailable
}

func (Unavailable) Set(context.Context, string, string) error { return ErrUnavailable }

func (Unavailable) Remove(context.Context, string) error { return ErrUnavailable }

func (Unavailable) Keys(context.Context, string) ([]string, error) { return nil, ErrUnavailable }
