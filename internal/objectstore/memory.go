package objectstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/afterdarksys/mockfactory/internal/fault"
)

// MemStore is an in-memory Store for tests and single-binary dev mode.
type MemStore struct {
	mu         sync.RWMutex
	namespaces map[string]map[string][]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{namespaces: make(map[string]map[string][]byte)}
}

func (m *MemStore) CreateNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.namespaces[namespace]; !ok {
		m.namespaces[namespace] = make(map[string][]byte)
	}
	return nil
}

func (m *MemStore) DeleteNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces, namespace)
	return nil
}

func (m *MemStore) NamespaceExists(_ context.Context, namespace string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.namespaces[namespace]
	return ok, nil
}

func (m *MemStore) Put(_ context.Context, namespace, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		return fault.NotFoundf("namespace %s", namespace)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	ns[key] = cp
	return nil
}

func (m *MemStore) Get(_ context.Context, namespace, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		return nil, fault.NotFoundf("namespace %s", namespace)
	}
	data, ok := ns[key]
	if !ok {
		return nil, fault.NotFoundf("object %s/%s", namespace, key)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *MemStore) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		return fault.NotFoundf("namespace %s", namespace)
	}
	delete(ns, key)
	return nil
}

func (m *MemStore) List(_ context.Context, namespace, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		return nil, fault.NotFoundf("namespace %s", namespace)
	}
	var out []ObjectInfo
	for k, v := range ns {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
