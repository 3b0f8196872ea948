package blob

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/joseph-ayodele/requirements-intake/internal/common"
)

const memScheme = "mem://"

// Memory is an in-process Store for tests. SignFail and FetchFail make the
// corresponding call fail for a given bucket/path.
type Memory struct {
	mu        sync.Mutex
	objects   map[string][]byte
	signFail  map[string]error
	fetchFail map[string]error
	fetches   int
}

func NewMemory() *Memory {
	return &Memory{
		objects:   map[string][]byte{},
		signFail:  map[string]error{},
		fetchFail: map[string]error{},
	}
}

func memKey(bucket, path string) string { return bucket + "/" + path }

func (m *Memory) Put(bucket, path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[memKey(bucket, path)] = data
}

func (m *Memory) SignFail(bucket, path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signFail[memKey(bucket, path)] = err
}

func (m *Memory) FetchFail(bucket, path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchFail[memKey(bucket, path)] = err
}

// Fetches reports how many Fetch calls were made.
func (m *Memory) Fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

func (m *Memory) get(key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, common.NotFoundError("object " + key)
	}
	return data, nil
}

func (m *Memory) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(memKey(bucket, path))
}

func (m *Memory) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey(bucket, path)
	if err := m.signFail[key]; err != nil {
		return "", err
	}
	return memScheme + key, nil
}

func (m *Memory) Fetch(ctx context.Context, url string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	key, ok := strings.CutPrefix(url, memScheme)
	if !ok {
		return nil, errors.New("memory store: unsupported url " + url)
	}
	if err := m.fetchFail[key]; err != nil {
		return nil, err
	}
	return m.get(key)
}

func (m *Memory) Close() error { return nil }
