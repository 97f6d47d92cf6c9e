package client

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MemoryStorage keeps uploaded assets in process. Used when R2 is not
// configured and by tests.
type MemoryStorage struct {
	baseURL string

	mu      sync.RWMutex
	objects map[string]StoredObject
}

// StoredObject is one uploaded asset.
type StoredObject struct {
	ContentType string
	Data        []byte
}

func NewMemoryStorage(baseURL string) *MemoryStorage {
	return &MemoryStorage{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]StoredObject),
	}
}

func (m *MemoryStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read upload body: %w", err)
	}
	m.mu.Lock()
	m.objects[key] = StoredObject{ContentType: contentType, Data: data}
	m.mu.Unlock()
	return m.baseURL + "/" + key, nil
}

// Get returns a stored object.
func (m *MemoryStorage) Get(key string) (StoredObject, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}
