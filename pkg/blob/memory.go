package blob

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
)

// Memory is an in-memory Client for tests.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

// NewMemory creates an empty in-memory blob store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func memKey(bucket, key string) string {
	return bucket + "/" + key
}

func (m *Memory) EnsureBucket(ctx context.Context, bucket string) error {
	return nil
}

func (m *Memory) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return eris.Wrap(err, "blob: memory put")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[memKey(bucket, key)] = data
	m.puts++
	return nil
}

func (m *Memory) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[memKey(bucket, key)]
	if !ok {
		return nil, eris.Errorf("blob: not found: %s/%s", bucket, key)
	}
	return data, nil
}

func (m *Memory) Exists(ctx context.Context, bucket, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[memKey(bucket, key)]
	return ok, nil
}

func (m *Memory) FetchToFile(ctx context.Context, bucket, key, dir string) (string, error) {
	data, err := m.Get(ctx, bucket, key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "blob: memory fetch")
	}
	dest := filepath.Join(dir, filepath.Base(key))
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", eris.Wrap(err, "blob: memory fetch write")
	}
	return dest, nil
}

// PutCount returns how many Put calls have been made.
func (m *Memory) PutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Len returns how many objects are stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
