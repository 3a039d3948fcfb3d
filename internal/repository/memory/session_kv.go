package memory

import (
	"context"
	"sync"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/session"
)

// KV is an in-process key-value space shared by many namespaces.
type KV struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

func NewKV() *KV {
	return &KV{data: make(map[string]map[string]string)}
}

// Namespace returns the session.Store view of one namespace.
func (kv *KV) Namespace(namespace string) session.Store {
	return &sessionStore{kv: kv, namespace: namespace}
}

// Factory adapts the KV to session.StoreFactory.
func (kv *KV) Factory() session.StoreFactory {
	return kv.Namespace
}

type sessionStore struct {
	kv        *KV
	namespace string
}

func (s *sessionStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.kv.mu.RLock()
	defer s.kv.mu.RUnlock()
	v, ok := s.kv.data[s.namespace][key]
	return v, ok, nil
}

func (s *sessionStore) Set(ctx context.Context, key string, value string) error {
	s.kv.mu.Lock()
	defer s.kv.mu.Unlock()
	if s.kv.data[s.namespace] == nil {
		s.kv.data[s.namespace] = make(map[string]string)
	}
	s.kv.data[s.namespace][key] = value
	return nil
}

func (s *sessionStore) SetMany(ctx context.Context, values map[string]string, remove ...string) error {
	s.kv.mu.Lock()
	defer s.kv.mu.Unlock()
	ns := s.kv.data[s.namespace]
	if ns == nil {
		ns = make(map[string]string)
	}
	for _, k := range remove {
		delete(ns, k)
	}
	for k, v := range values {
		ns[k] = v
	}
	if len(ns) == 0 {
		delete(s.kv.data, s.namespace)
		return nil
	}
	s.kv.data[s.namespace] = ns
	return nil
}

func (s *sessionStore) Delete(ctx context.Context, keys ...string) error {
	s.kv.mu.Lock()
	defer s.kv.mu.Unlock()
	for _, k := range keys {
		delete(s.kv.data[s.namespace], k)
	}
	if len(s.kv.data[s.namespace]) == 0 {
		delete(s.kv.data, s.namespace)
	}
	return nil
}

func (s *sessionStore) Clear(ctx context.Context) error {
	s.kv.mu.Lock()
	defer s.kv.mu.Unlock()
	delete(s.kv.data, s.namespace)
	return nil
}
