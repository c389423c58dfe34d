package project

import "sync"

// CollisionTable maps projected destination paths to the content hash that
// claimed them. One table covers one projection pass; seed it with the
// destinations already persisted before projecting new records.
type CollisionTable struct {
	mu     sync.Mutex
	claims map[string]string
}

// NewCollisionTable creates an empty table
func NewCollisionTable() *CollisionTable {
	return &CollisionTable{claims: make(map[string]string)}
}

// Claim records that path is owned by contentHash, replacing any previous owner
func (t *CollisionTable) Claim(path, contentHash string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.claims[path] = contentHash
}

// Owner returns the hash that claimed path, if any
func (t *CollisionTable) Owner(path string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.claims[path]
	return h, ok
}

// Len returns the number of claimed paths
func (t *CollisionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.claims)
}

// resolve picks the final path for contentHash and claims it atomically.
// candidate(i) yields the i-th alternative; the first one that is free or
// already owned by contentHash wins.
func (t *CollisionTable) resolve(path, contentHash string, candidate func(i int) string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	final := path
	for i := 0; ; i++ {
		owner, ok := t.claims[final]
		if !ok || owner == contentHash {
			break
		}
		final = candidate(i)
	}

	t.claims[final] = contentHash
	return final
}
