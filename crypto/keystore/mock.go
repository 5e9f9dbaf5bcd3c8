package keystore

import (
	"errors"
	"fmt"
	"sync"
)

// MockKeystore is an in-memory Keystore for tests. Exported so tests in
// other packages can build identities without touching the OS
// credential store.
type MockKeystore struct {
	mu         sync.RWMutex
	identities map[string]*Identity
}

// NewMockKeystore creates an empty in-memory keystore.
func NewMockKeystore() *MockKeystore {
	return &MockKeystore{
		identities: make(map[string]*Identity),
	}
}

func (m *MockKeystore) SaveIdentity(id *Identity) error {
	if id == nil {
		return errors.New("identity cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[id.Handle]; ok {
		return fmt.Errorf("%w: %s", ErrExists, id.Handle)
	}
	m.identities[id.Handle] = id
	return nil
}

func (m *MockKeystore) LoadIdentity(handle string) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.identities[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	return id, nil
}

func (m *MockKeystore) DeleteIdentity(handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[handle]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	delete(m.identities, handle)
	return nil
}

func (m *MockKeystore) ListHandles() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	handles := make([]string, 0, len(m.identities))
	for handle := range m.identities {
		handles = append(handles, handle)
	}
	return handles, nil
}
