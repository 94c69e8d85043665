package archive

import (
	"context"
	"sort"
	"sync"
)

// Object is one stored archive object
type Object struct {
	Body            []byte
	ContentType     string
	ContentEncoding string
}

// MemoryBackend keeps objects in memory
type MemoryBackend struct {
	mu      sync.Mutex
	objects map[string]Object
	err     error
}

// NewMemoryBackend creates an empty backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string]Object)}
}

// FailWith makes every later Put return err
func (m *MemoryBackend) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Put stores a copy of body
func (m *MemoryBackend) Put(_ context.Context, name string, body []byte, contentType, contentEncoding string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.objects[name] = Object{
		Body:            append([]byte(nil), body...),
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
	}
	return nil
}

// Object returns a stored object
func (m *MemoryBackend) Object(name string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[name]
	return o, ok
}

// Names returns the stored object names, sorted
func (m *MemoryBackend) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.objects))
	for n := range m.objects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close does nothing
func (m *MemoryBackend) Close() error { return nil }
