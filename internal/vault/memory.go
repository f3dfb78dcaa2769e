package vault

import (
	"context"
	"sync"
)

// MemoryVault is a process-lifetime Key Vault backed by a guarded map.
// It never touches disk; an ephemeral reset or process restart loses
// all stored identity material. Grounded on the teacher's cache.LRU
// locking discipline, without eviction or TTL — a Key Vault entry must
// survive for the life of the process, not expire.
type MemoryVault struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryVault creates an empty in-memory Key Vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{items: make(map[string][]byte)}
}

// Get implements Vault.
// Complexity: O(1)
func (v *MemoryVault) Get(ctx context.Context, name string) ([]byte, bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	val, ok := v.items[name]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}

// Set implements Vault.
// Complexity: O(1)
func (v *MemoryVault) Set(ctx context.Context, name string, value []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	v.items[name] = stored
	return nil
}

// Delete implements Vault.
// Complexity: O(1)
func (v *MemoryVault) Delete(ctx context.Context, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.items, name)
	return nil
}

// Clear implements Vault.
// Complexity: O(n)
func (v *MemoryVault) Clear(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.items = make(map[string][]byte)
	return nil
}

// Ping always succeeds for the in-memory backend.
func (v *MemoryVault) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory backend.
func (v *MemoryVault) Close() error {
	return nil
}
