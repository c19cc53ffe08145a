package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/plaudern/plaudern/internal/chat"
)

// MemoryStore implements Store in memory. It serializes like BadgerStore so
// round trips behave the same, and can be told to fail for tests.
type MemoryStore struct {
	mu       sync.Mutex
	data     []byte
	putErr   error
	getErr   error
	puts     int
	gets     int
	lastSave time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Put replaces the stored snapshot.
func (m *MemoryStore) Put(ctx context.Context, msgs []chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.putErr != nil {
		return fmt.Errorf("%w: put: %v", ErrCacheIO, m.putErr)
	}
	m.lastSave = time.Now()
	data, err := encodeSnapshot(msgs, m.lastSave)
	if err != nil {
		return err
	}
	m.data = data
	return nil
}

// Get returns the stored snapshot.
func (m *MemoryStore) Get(ctx context.Context) ([]chat.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, false, fmt.Errorf("%w: get: %v", ErrCacheIO, m.getErr)
	}
	if m.data == nil {
		return nil, false, nil
	}
	msgs, err := decodeSnapshot(m.data)
	if err != nil {
		return nil, false, err
	}
	return msgs, true, nil
}

// --- Test helpers ---

// SetPutError makes subsequent Put calls fail with err (nil clears it).
func (m *MemoryStore) SetPutError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putErr = err
}

// SetGetError makes subsequent Get calls fail with err (nil clears it).
func (m *MemoryStore) SetGetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}

// PutCount returns how many times Put was called.
func (m *MemoryStore) PutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// GetCount returns how many times Get was called.
func (m *MemoryStore) GetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}
