package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

// ProxyStore keeps validated proxies keyed by ip:port in first-insert order.
type ProxyStore struct {
	mu      sync.RWMutex
	records map[string]proxy.Record
	order   []string
}

// NewProxyStore creates an empty store.
func NewProxyStore() *ProxyStore {
	return &ProxyStore{records: make(map[string]proxy.Record)}
}

// Upsert inserts rec or overwrites the existing row with the same key.
func (s *ProxyStore) Upsert(_ context.Context, rec proxy.Record) error {
	key := rec.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		s.order = append(s.order, key)
	}
	s.records[key] = rec
	return nil
}

// All returns every stored proxy.
func (s *ProxyStore) All(context.Context) ([]proxy.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]proxy.Record, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.records[key])
	}
	return out, nil
}

// Close is a no-op.
func (s *ProxyStore) Close() error {
	return nil
}
