package session

import "context"

// Store is a namespaced string key-value store holding one session.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string) error
	// SetMany writes values and deletes remove in one atomic step.
	SetMany(ctx context.Context, values map[string]string, remove ...string) error
	Delete(ctx context.Context, keys ...string) error
	// Clear removes every key in the namespace.
	Clear(ctx context.Context) error
}

// StoreFactory returns the Store for a namespace (device id or gateway session id).
type StoreFactory func(namespace string) Store
