package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process provider backed by a map.
type Memory struct {
	mutex *sync.RWMutex
	db    map[string]Entry
}

func NewMemory() Memory {
	return Memory{
		mutex: &sync.RWMutex{},
		db:    make(map[string]Entry),
	}
}

func (m Memory) All(_ context.Context, prefix string) ([]Entry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	now := time.Now()
	entries := make([]Entry, 0)
	for key, entry := range m.db {
		if strings.HasPrefix(key, prefix) && !entry.Expired(now) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (m Memory) Get(_ context.Context, key string) (Entry, error) {
	m.mutex.RLock()
	entry, ok := m.db[key]
	m.mutex.RUnlock()
	if !ok {
		return Entry{}, ErrNotFound
	}
	if entry.Expired(time.Now()) {
		m.mutex.Lock()
		delete(m.db, key)
		m.mutex.Unlock()
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (m Memory) Put(_ context.Context, entry Entry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[entry.Key] = entry
	return nil
}

func (m Memory) Purge(_ context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, key)
	return nil
}
