package credstore

import "sync"

type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]map[string]string{}}
}

func (s *MemoryStore) Get(service, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[service][key]
	return value, ok, nil
}

func (s *MemoryStore) Set(service, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[service] == nil {
		s.values[service] = map[string]string{}
	}
	s.values[service][key] = value
	return nil
}

func (s *MemoryStore) Delete(service, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values[service], key)
	if len(s.values[service]) == 0 {
		delete(s.values, service)
	}
	return nil
}
