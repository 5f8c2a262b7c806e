package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNoImage = errors.New("no image in session")

// Store persists session state. Update must apply fn atomically with
// respect to other updates of the same session.
type Store interface {
	Get(ctx context.Context, id string) (State, error)
	Update(ctx context.Context, id string, fn func(*State)) (State, error)
	// Images are kept per generation so a superseded upload never replaces
	// the image of the result on screen.
	PutImage(ctx context.Context, id string, gen uint64, img Image) error
	Image(ctx context.Context, id string, gen uint64) (*Image, error)
	DeleteImage(ctx context.Context, id string, gen uint64) error
	Close() error
}

type memoryEntry struct {
	state      State
	images     map[uint64]Image
	lastAccess time.Time
}

// MemoryStore keeps sessions in process. Entries idle for longer than ttl
// are dropped; when full, the least recently used session is evicted.
type MemoryStore struct {
	ttl     time.Duration
	maxSize int
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

func NewMemoryStore(ttl time.Duration, maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemoryStore{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]*memoryEntry),
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(id)
	if e == nil {
		return State{}, nil
	}
	return e.state.clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn func(*State)) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookupOrCreate(id)
	fn(&e.state)
	e.state.UpdatedAt = time.Now()
	return e.state.clone(), nil
}

func (m *MemoryStore) PutImage(_ context.Context, id string, gen uint64, img Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookupOrCreate(id)
	if e.images == nil {
		e.images = make(map[uint64]Image)
	}
	e.images[gen] = img
	return nil
}

func (m *MemoryStore) Image(_ context.Context, id string, gen uint64) (*Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(id)
	if e == nil {
		return nil, ErrNoImage
	}
	img, ok := e.images[gen]
	if !ok {
		return nil, ErrNoImage
	}
	return &img, nil
}

func (m *MemoryStore) DeleteImage(_ context.Context, id string, gen uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.lookup(id); e != nil {
		delete(e.images, gen)
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// Len reports live sessions, mostly for tests.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryStore) lookup(id string) *memoryEntry {
	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	if m.ttl > 0 && time.Since(e.lastAccess) > m.ttl {
		delete(m.entries, id)
		return nil
	}
	e.lastAccess = time.Now()
	return e
}

func (m *MemoryStore) lookupOrCreate(id string) *memoryEntry {
	if e := m.lookup(id); e != nil {
		return e
	}
	if len(m.entries) >= m.maxSize {
		var oldestKey string
		var oldest time.Time
		for k, v := range m.entries {
			if oldestKey == "" || v.lastAccess.Before(oldest) {
				oldestKey = k
				oldest = v.lastAccess
			}
		}
		delete(m.entries, oldestKey)
	}
	e := &memoryEntry{lastAccess: time.Now()}
	m.entries[id] = e
	return e
}
